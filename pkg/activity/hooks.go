package activity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// Event describes a staging lifecycle occurrence fanned out to hooks.
// IDs stay strings so callers are not tied to a UUID type.
type Event struct {
	Verb       string
	ActorID    string
	TenantID   string
	ObjectType string
	ObjectID   string
	Channel    string
	StageID    string
	RootID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivityHook receives normalized activity events.
type ActivityHook interface {
	Notify(ctx context.Context, event Event) error
}

// HookFunc allows plain functions to satisfy ActivityHook.
type HookFunc func(ctx context.Context, event Event) error

// Notify dispatches to the underlying function.
func (fn HookFunc) Notify(ctx context.Context, event Event) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, event)
}

// Hooks fans out events to zero or more hooks.
type Hooks []ActivityHook

func (h Hooks) Enabled() bool {
	return len(h) > 0
}

// Compact drops nil hooks. It returns nil when nothing is left.
func (h Hooks) Compact() Hooks {
	out := slices.DeleteFunc(slices.Clone(h), func(hook ActivityHook) bool { return hook == nil })
	if len(out) == 0 {
		return nil
	}
	return out
}

// Notify delivers the normalized event to every hook in order and joins
// their errors. Events missing a verb, object type or object id are dropped.
func (h Hooks) Notify(ctx context.Context, event Event) error {
	if len(h) == 0 {
		return nil
	}
	event = NormalizeEvent(event)
	if !event.Valid() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var errs []error
	for i, hook := range h {
		if hook == nil {
			continue
		}
		if err := hook.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("activity hook %d (%s): %w", i, event.Verb, err))
		}
	}
	return errors.Join(errs...)
}

// Filter wraps hook so it only sees events accepted by keep.
func Filter(hook ActivityHook, keep func(Event) bool) ActivityHook {
	if hook == nil || keep == nil {
		return hook
	}
	return HookFunc(func(ctx context.Context, event Event) error {
		if !keep(event) {
			return nil
		}
		return hook.Notify(ctx, event)
	})
}

// ForVerbs wraps hook so it only sees the listed verbs.
func ForVerbs(hook ActivityHook, verbs ...string) ActivityHook {
	return Filter(hook, func(event Event) bool {
		return slices.Contains(verbs, event.Verb)
	})
}

// ForTree wraps hook so it only sees events of stages rooted at rootID.
func ForTree(hook ActivityHook, rootID string) ActivityHook {
	return Filter(hook, func(event Event) bool {
		return event.RootID == rootID
	})
}

// Valid reports whether the event carries the fields sinks key on.
func (e Event) Valid() bool {
	return e.Verb != "" && e.ObjectType != "" && e.ObjectID != ""
}

// IsDependency reports whether the event concerns a dependency record.
func (e Event) IsDependency() bool {
	return e.ObjectType == ObjectDependency
}

// IsStage reports whether the event concerns a stage.
func (e Event) IsStage() bool {
	return e.ObjectType == ObjectStage
}

// NormalizeEvent trims identifiers, clones metadata and stamps OccurredAt in
// UTC.
func NormalizeEvent(event Event) Event {
	out := event
	for _, field := range []*string{
		&out.Verb, &out.ActorID, &out.TenantID, &out.ObjectType,
		&out.ObjectID, &out.Channel, &out.StageID, &out.RootID,
	} {
		*field = strings.TrimSpace(*field)
	}
	out.Metadata = cloneMap(event.Metadata)
	if out.OccurredAt.IsZero() {
		out.OccurredAt = time.Now().UTC()
	}
	return out
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
