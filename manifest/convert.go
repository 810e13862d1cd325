package manifest

import (
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/goliatone/go-staging/loader"
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/gocty"
)

// evalContext exposes data_uri(content[, mime]) so inline modules can be
// declared as URIs.
func evalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Functions: map[string]function.Function{
			"data_uri": dataURIFunc,
		},
	}
}

var dataURIFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "content", Type: cty.String},
	},
	VarParam: &function.Parameter{Name: "mime", Type: cty.String},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		if len(args) > 2 {
			return cty.NilVal, fmt.Errorf("data_uri takes at most a content and a mime type")
		}
		var opts []loader.DataURIOption
		if len(args) == 2 {
			opts = append(opts, loader.DataURIMIME(args[1].AsString()))
		}
		return cty.StringVal(loader.DataURI(args[0].AsString(), opts...)), nil
	},
})

// ctyToNative converts v to plain Go values. Whole numbers become int64 and
// other numbers float64.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i, nil
			}
		}
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := ctyToNative(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}

func sortedKeys(values map[string]any) []string {
	return slices.Sorted(maps.Keys(values))
}
