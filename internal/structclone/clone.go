// Package structclone deep-copies plain Go values and reports values that
// cannot be carried across a process boundary (funcs, channels, unsafe
// pointers). Shared references and cycles are preserved in the copy.
package structclone

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNotCloneable marks values holding a kind that cannot be cloned.
var ErrNotCloneable = errors.New("structclone: value is not cloneable")

// Clone returns a deep copy of value.
func Clone[T any](value T) (T, error) {
	var zero T
	src := reflect.ValueOf(&value).Elem()
	c := cloner{seen: map[visit]reflect.Value{}}
	out, err := c.clone(src, "$")
	if err != nil {
		return zero, err
	}
	if !out.IsValid() || (out.Kind() == reflect.Interface && out.IsNil()) {
		return zero, nil
	}
	return out.Interface().(T), nil
}

// Check reports whether value could be cloned without copying it.
func Check(value any) error {
	c := cloner{seen: map[visit]reflect.Value{}, dryRun: true}
	_, err := c.clone(reflect.ValueOf(value), "$")
	return err
}

type visit struct {
	ptr uintptr
	typ reflect.Type
}

type cloner struct {
	seen   map[visit]reflect.Value
	dryRun bool
}

func (c *cloner) clone(v reflect.Value, path string) (reflect.Value, error) {
	if !v.IsValid() {
		return v, nil
	}

	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		return reflect.Value{}, fmt.Errorf("%w: %s holds a %s", ErrNotCloneable, path, v.Kind())
	case reflect.Pointer:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if prior, ok := c.seen[key]; ok {
			return prior, nil
		}
		out := reflect.New(v.Type().Elem())
		c.seen[key] = out
		elem, err := c.clone(v.Elem(), path)
		if err != nil {
			return reflect.Value{}, err
		}
		if !c.dryRun {
			out.Elem().Set(elem)
		}
		return out, nil
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		elem, err := c.clone(v.Elem(), path)
		if err != nil || c.dryRun {
			return elem, err
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(elem)
		return out, nil
	case reflect.Struct:
		// Unexported fields are carried over as they are.
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			if !out.Field(i).CanSet() {
				continue
			}
			field, err := c.clone(v.Field(i), path+"."+v.Type().Field(i).Name)
			if err != nil {
				return reflect.Value{}, err
			}
			if !c.dryRun {
				out.Field(i).Set(field)
			}
		}
		return out, nil
	case reflect.Map:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		key := visit{ptr: v.Pointer(), typ: v.Type()}
		if prior, ok := c.seen[key]; ok {
			return prior, nil
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		c.seen[key] = out
		iter := v.MapRange()
		for iter.Next() {
			k, err := c.clone(iter.Key(), path)
			if err != nil {
				return reflect.Value{}, err
			}
			elem, err := c.clone(iter.Value(), fmt.Sprintf("%s[%v]", path, iter.Key().Interface()))
			if err != nil {
				return reflect.Value{}, err
			}
			if !c.dryRun {
				out.SetMapIndex(k, elem)
			}
		}
		return out, nil
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type()), nil
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := c.clone(v.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			if !c.dryRun {
				out.Index(i).Set(elem)
			}
		}
		return out, nil
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			elem, err := c.clone(v.Index(i), fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return reflect.Value{}, err
			}
			if !c.dryRun {
				out.Index(i).Set(elem)
			}
		}
		return out, nil
	default:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		return out, nil
	}
}
