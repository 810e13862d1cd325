// Package premade ships ready made descriptors for packages most stages end
// up declaring. Servers resolve them through the stage's package resolver;
// browser stages map them through the import map or the CDN.
//
//	stage.PutAll(premade.Basic())
//	report, err := stage.Install(ctx)
package premade

import (
	"context"
	"fmt"
	"slices"

	"github.com/goliatone/go-staging"
)

// B4AExports are the buffer helpers a b4a module must export.
var B4AExports = []string{
	"alloc", "allocUnsafe", "allocUnsafeSlow", "byteLength", "compare", "concat",
	"copy", "equals", "fill", "from", "includes", "indexOf", "isBuffer",
	"isEncoding", "lastIndexOf", "readDoubleLE", "readFloatLE", "readInt32LE", "readUInt32LE",
	"swap16", "swap32", "swap64", "toBuffer", "toString", "write", "writeDoubleLE", "writeFloatLE",
	"writeInt32LE", "writeUInt32LE",
}

// CompactEncodingExports are the codecs a compact-encoding module must export.
var CompactEncodingExports = []string{
	"array", "ascii", "base64", "binary", "bool", "decode", "encode", "fixed32", "fixed64",
	"float32", "float32array", "float64", "float64array", "frame", "hex", "int", "int16",
	"int16array", "int24", "int32", "int32array", "int40", "int48", "int56", "int64", "int8", "int8array",
	"json", "lexint", "ndjson", "none", "state", "ucs2",
}

// B4A declares the b4a buffer package.
func B4A() staging.Descriptor {
	return staging.Descriptor{
		Name:      "b4a",
		Package:   "b4a",
		Validator: RequireExports(B4AExports...),
	}
}

// CompactEncoding declares the compact-encoding package.
func CompactEncoding() staging.Descriptor {
	return staging.Descriptor{
		Name:      "compact-encoding",
		Package:   "compact-encoding",
		Validator: RequireExports(CompactEncodingExports...),
	}
}

// Basic returns b4a and compact-encoding, in that order.
func Basic() []staging.Descriptor {
	return []staging.Descriptor{B4A(), CompactEncoding()}
}

// All returns every premade descriptor.
func All() []staging.Descriptor {
	return Basic()
}

// RequireExports builds a native validator accepting modules that are maps
// holding every key in keys. Extra keys are allowed.
func RequireExports(keys ...string) staging.Validator {
	keys = slices.Clone(keys)
	return staging.NativeValidator(func(_ context.Context, rc staging.RuleContext) (bool, error) {
		missing, err := MissingExports(rc.Module(), keys...)
		if err != nil {
			return false, err
		}
		return len(missing) == 0, nil
	})
}

// MissingExports lists the keys of keys that module does not export.
func MissingExports(module any, keys ...string) ([]string, error) {
	present, err := staging.ExportKeys(module)
	if err != nil {
		return nil, fmt.Errorf("premade: %w", err)
	}
	var missing []string
	for _, key := range keys {
		if _, found := slices.BinarySearch(present, key); !found {
			missing = append(missing, key)
		}
	}
	return missing, nil
}
