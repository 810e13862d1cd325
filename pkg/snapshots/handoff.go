package snapshots

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-staging"
	"github.com/goliatone/go-staging/internal/structclone"
	"github.com/google/uuid"
)

// Handoff publishes stage snapshots to a Store and restores stages from them.
type Handoff struct {
	Store  Store[staging.StageSnapshot]
	Logger *slog.Logger

	mu sync.Mutex
}

// Publish snapshots stage and saves it under ref. When meta.ETag is set it
// must match the tag of the snapshot being replaced. The saved snapshot gets
// a fresh SnapshotID and ETag.
func (h *Handoff) Publish(ctx context.Context, ref Ref, stage *staging.Stage, meta Meta) (Meta, error) {
	if stage == nil {
		return Meta{}, fmt.Errorf("snapshots: stage is required")
	}
	snap, err := stage.Snapshot()
	if err != nil {
		return Meta{}, err
	}
	return h.save(ctx, ref, meta, func(*staging.StageSnapshot, bool) (staging.StageSnapshot, error) {
		return snap, nil
	})
}

// Restore forks parent from the snapshot published under ref. The restored
// records keep their ids and start uninstalled.
func (h *Handoff) Restore(ctx context.Context, ref Ref, parent *staging.Stage, opts ...staging.Option) (*staging.Stage, Meta, error) {
	if err := h.ready(); err != nil {
		return nil, Meta{}, err
	}
	if parent == nil {
		return nil, Meta{}, fmt.Errorf("snapshots: parent stage is required")
	}
	snap, meta, ok, err := h.Store.Load(ctx, ref)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("snapshots: load %s/%s: %w", ref.Domain, ref.Name, err)
	}
	if !ok {
		return nil, Meta{}, fmt.Errorf("%w: %s/%s", ErrNotFound, ref.Domain, ref.Name)
	}
	stage, err := parent.ForkFromSnapshot(snap, opts...)
	if err != nil {
		return nil, meta, err
	}
	h.logger().Debug("snapshot restored", "domain", ref.Domain, "name", ref.Name, "snapshot", meta.SnapshotID, "stage", stage.ID())
	return stage, meta, nil
}

// Mutate loads the snapshot under ref, applies fn and saves the result.
// Records left without a name are rejected before saving.
func (h *Handoff) Mutate(ctx context.Context, ref Ref, meta Meta, fn Mutator[staging.StageSnapshot]) (staging.StageSnapshot, Meta, error) {
	if fn == nil {
		return staging.StageSnapshot{}, Meta{}, fmt.Errorf("snapshots: mutator is required")
	}
	var result staging.StageSnapshot
	saved, err := h.save(ctx, ref, meta, func(current *staging.StageSnapshot, ok bool) (staging.StageSnapshot, error) {
		var snap staging.StageSnapshot
		if ok {
			copied, err := structclone.Clone(*current)
			if err != nil {
				return staging.StageSnapshot{}, fmt.Errorf("snapshots: copy %s/%s: %w", ref.Domain, ref.Name, err)
			}
			snap = copied
		}
		if err := fn(&snap); err != nil {
			return staging.StageSnapshot{}, err
		}
		for name, rec := range snap.Dependencies {
			if name == "" {
				return staging.StageSnapshot{}, fmt.Errorf("snapshots: dependency without a name")
			}
			if rec.Name != "" && rec.Name != name {
				return staging.StageSnapshot{}, fmt.Errorf("snapshots: dependency %q is stored under %q", rec.Name, name)
			}
		}
		result = snap
		return snap, nil
	})
	if err != nil {
		return staging.StageSnapshot{}, saved, err
	}
	return result, saved, nil
}

func (h *Handoff) save(ctx context.Context, ref Ref, meta Meta, build func(*staging.StageSnapshot, bool) (staging.StageSnapshot, error)) (Meta, error) {
	if err := h.ready(); err != nil {
		return Meta{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	current, loadedMeta, ok, err := h.Store.Load(ctx, ref)
	if err != nil {
		return Meta{}, fmt.Errorf("snapshots: load %s/%s: %w", ref.Domain, ref.Name, err)
	}
	if !ok {
		loadedMeta = Meta{}
	}
	if err := checkETag(meta, loadedMeta); err != nil {
		return loadedMeta, err
	}

	snap, err := build(&current, ok)
	if err != nil {
		return loadedMeta, err
	}

	next := mergeMeta(loadedMeta, meta)
	next.SnapshotID = uuid.NewString()
	next.ETag = uuid.NewString()
	next.UpdatedAt = time.Now().UTC()
	saved, err := h.Store.Save(ctx, ref, snap, next)
	if err != nil {
		return loadedMeta, fmt.Errorf("snapshots: save %s/%s: %w", ref.Domain, ref.Name, err)
	}
	h.logger().Debug("snapshot saved", "domain", ref.Domain, "name", ref.Name, "snapshot", saved.SnapshotID, "dependencies", len(snap.Dependencies))
	return saved, nil
}

func (h *Handoff) ready() error {
	if h == nil || h.Store == nil {
		return fmt.Errorf("snapshots: store is required")
	}
	return nil
}

func (h *Handoff) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return h.Logger
}
