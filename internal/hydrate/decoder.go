package hydrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Context names the payload being decoded, for hooks and error messages.
type Context struct {
	Kind    string
	Subject string
}

func (c Context) String() string {
	switch {
	case c.Kind == "" && c.Subject == "":
		return "payload"
	case c.Subject == "":
		return c.Kind
	case c.Kind == "":
		return fmt.Sprintf("%q", c.Subject)
	default:
		return fmt.Sprintf("%s %q", c.Kind, c.Subject)
	}
}

// PreHook lets callers mutate or normalise the payload before decoding.
type PreHook func(Context, map[string]any) (map[string]any, error)

// PostHook lets callers adjust or validate the hydrated value after decoding.
type PostHook[T any] func(Context, *T) error

// CustomDecoder replaces the default JSON decoding when provided.
type CustomDecoder[T any] func(Context, map[string]any) (T, error)

// DecoderOption configures a Decoder instance.
type DecoderOption[T any] func(*Decoder[T])

// Decoder converts loosely typed payloads, such as snapshots that crossed a
// JSON boundary, into typed values.
type Decoder[T any] struct {
	preHooks     []PreHook
	postHooks    []PostHook[T]
	configureDec []func(*json.Decoder)
	custom       CustomDecoder[T]
}

// WithPreHook runs hook on the copied payload before decoding. Hooks run in
// registration order.
func WithPreHook[T any](hook PreHook) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.preHooks = append(d.preHooks, hook)
	}
}

// WithPostHook applies hook after decoding completes.
func WithPostHook[T any](hook PostHook[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.postHooks = append(d.postHooks, hook)
	}
}

// WithUseNumber enables json.Decoder.UseNumber during decoding.
func WithUseNumber[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, (*json.Decoder).UseNumber)
	}
}

// WithDisallowUnknownFields invokes json.Decoder.DisallowUnknownFields.
func WithDisallowUnknownFields[T any]() DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.configureDec = append(d.configureDec, (*json.Decoder).DisallowUnknownFields)
	}
}

// WithCustomDecoder replaces the default JSON decoding path.
func WithCustomDecoder[T any](decoder CustomDecoder[T]) DecoderOption[T] {
	return func(d *Decoder[T]) {
		d.custom = decoder
	}
}

// NewDecoder builds a Decoder from opts.
func NewDecoder[T any](opts ...DecoderOption[T]) *Decoder[T] {
	d := &Decoder[T]{}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Decode converts payload into T: the payload is deep copied, passed through
// the pre-hooks, decoded and handed to the post-hooks. The caller's map is
// never mutated.
func (d *Decoder[T]) Decode(ctx Context, payload map[string]any) (T, error) {
	var zero T
	if payload == nil {
		return zero, fmt.Errorf("hydrate: %s is nil", ctx)
	}
	prepared, err := d.prepare(ctx, payload)
	if err != nil {
		return zero, err
	}
	result, err := d.decode(ctx, prepared)
	if err != nil {
		return zero, err
	}
	for _, hook := range d.postHooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, &result); err != nil {
			return zero, fmt.Errorf("hydrate: post-hook for %s failed: %w", ctx, err)
		}
	}
	return result, nil
}

func (d *Decoder[T]) prepare(ctx Context, payload map[string]any) (map[string]any, error) {
	current, err := clonePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("hydrate: clone %s: %w", ctx, err)
	}
	for _, hook := range d.preHooks {
		if hook == nil {
			continue
		}
		next, err := hook(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("hydrate: pre-hook for %s failed: %w", ctx, err)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

func (d *Decoder[T]) decode(ctx Context, payload map[string]any) (T, error) {
	var result T
	if d.custom != nil {
		result, err := d.custom(ctx, payload)
		if err != nil {
			return result, fmt.Errorf("hydrate: custom decoder for %s failed: %w", ctx, err)
		}
		return result, nil
	}
	buffer, err := json.Marshal(payload)
	if err != nil {
		return result, fmt.Errorf("hydrate: marshal %s: %w", ctx, err)
	}
	dec := json.NewDecoder(bytes.NewReader(buffer))
	for _, configure := range d.configureDec {
		configure(dec)
	}
	if err := dec.Decode(&result); err != nil {
		return result, fmt.Errorf("hydrate: decode %s: %w", ctx, err)
	}
	return result, nil
}

// Rename moves legacy keys to their current names. A key already holding a
// value under its new name is left alone.
func Rename(renames map[string]string) PreHook {
	return func(_ Context, payload map[string]any) (map[string]any, error) {
		for from, to := range renames {
			value, ok := payload[from]
			if !ok {
				continue
			}
			delete(payload, from)
			if _, taken := payload[to]; !taken {
				payload[to] = value
			}
		}
		return payload, nil
	}
}

// Collect gathers every top-level key outside known into the map under
// into. Values already present under into win.
func Collect(into string, known ...string) PreHook {
	return func(_ Context, payload map[string]any) (map[string]any, error) {
		target, _ := payload[into].(map[string]any)
		for key, value := range payload {
			if key == into || slices.Contains(known, key) {
				continue
			}
			delete(payload, key)
			if target == nil {
				target = map[string]any{}
			}
			if _, taken := target[key]; !taken {
				target[key] = value
			}
		}
		if target != nil {
			payload[into] = target
		}
		return payload, nil
	}
}

// Each applies hook to every map held in the map under key, using the entry
// name as subject.
func Each(key, kind string, hook PreHook) PreHook {
	return func(_ Context, payload map[string]any) (map[string]any, error) {
		entries, ok := payload[key].(map[string]any)
		if !ok {
			return payload, nil
		}
		for name, entry := range entries {
			inner, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			next, err := hook(Context{Kind: kind, Subject: name}, inner)
			if err != nil {
				return nil, err
			}
			if next != nil {
				entries[name] = next
			}
		}
		return payload, nil
	}
}

func clonePayload(payload map[string]any) (map[string]any, error) {
	buffer, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(buffer, &out); err != nil {
		return nil, err
	}
	return out, nil
}
