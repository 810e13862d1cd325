package snapshots_test

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-staging"
	"github.com/goliatone/go-staging/pkg/snapshots"
)

type failingStore struct {
	snapshots.Store[staging.StageSnapshot]
	saveErr error
}

func (s failingStore) Save(context.Context, snapshots.Ref, staging.StageSnapshot, snapshots.Meta) (snapshots.Meta, error) {
	return snapshots.Meta{}, s.saveErr
}

func newHandoff() *snapshots.Handoff {
	return &snapshots.Handoff{Store: snapshots.NewMemoryStore[staging.StageSnapshot]()}
}

func TestPublishAndRestore(t *testing.T) {
	ctx := context.Background()
	handoff := newHandoff()
	ref := snapshots.Ref{Domain: "workers", Name: "pool"}

	source := staging.NewRoot(staging.WithRequireValidation(false))
	source.Set("region", "eu")
	dep, _ := source.Put(staging.Descriptor{Name: "fun", Code: "export default 'balloons'"})

	meta, err := handoff.Publish(ctx, ref, source, snapshots.Meta{Extra: map[string]string{"by": "test"}})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if meta.SnapshotID == "" || meta.ETag == "" || meta.UpdatedAt.IsZero() || meta.Extra["by"] != "test" {
		t.Fatalf("unexpected meta %+v", meta)
	}

	target := staging.NewRoot(staging.WithRequireValidation(false))
	restored, restoredMeta, err := handoff.Restore(ctx, ref, target)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restoredMeta.ETag != meta.ETag {
		t.Fatalf("expected meta %+v, got %+v", meta, restoredMeta)
	}
	if restored.Parent() != target || restored.Get("fun").ID() != dep.ID() {
		t.Fatalf("unexpected restored stage")
	}
	if _, err := restored.Install(ctx); err != nil {
		t.Fatalf("install restored: %v", err)
	}
	if v, _ := restored.Execute("fun"); v != "balloons" {
		t.Fatalf("expected balloons, got %#v", v)
	}
	if v, _ := restored.Value("region"); v != "eu" {
		t.Fatalf("expected region value, got %#v", v)
	}
}

func TestPublishRejectsStaleETag(t *testing.T) {
	ctx := context.Background()
	handoff := newHandoff()
	ref := snapshots.Ref{Domain: "workers", Name: "pool"}
	stage := staging.NewRoot()
	stage.Put(staging.Descriptor{Name: "a", Code: "export default 1"})

	first, err := handoff.Publish(ctx, ref, stage, snapshots.Meta{})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := handoff.Publish(ctx, ref, stage, snapshots.Meta{ETag: first.ETag}); err != nil {
		t.Fatalf("publish with current etag: %v", err)
	}
	if _, err := handoff.Publish(ctx, ref, stage, snapshots.Meta{ETag: first.ETag}); !errors.Is(err, snapshots.ErrETagMismatch) {
		t.Fatalf("expected ErrETagMismatch, got %v", err)
	}
}

func TestPublishRequiresSerializableStage(t *testing.T) {
	stage := staging.NewRoot()
	stage.Put(staging.Descriptor{Name: "direct", Module: 1})

	_, err := newHandoff().Publish(context.Background(), snapshots.Ref{Domain: "d", Name: "n"}, stage, snapshots.Meta{})
	if !errors.Is(err, staging.ErrNotSerializable) {
		t.Fatalf("expected ErrNotSerializable, got %v", err)
	}
}

func TestRestoreMissingSnapshot(t *testing.T) {
	_, _, err := newHandoff().Restore(context.Background(), snapshots.Ref{Domain: "d", Name: "n"}, staging.NewRoot())
	if !errors.Is(err, snapshots.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutate(t *testing.T) {
	ctx := context.Background()
	handoff := newHandoff()
	ref := snapshots.Ref{Domain: "workers", Name: "pool"}

	snap, meta, err := handoff.Mutate(ctx, ref, snapshots.Meta{}, func(s *staging.StageSnapshot) error {
		s.Dependencies = map[string]staging.RecordSnapshot{
			"answer": {Name: "answer", Code: "export default 42", Exports: []string{}},
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if len(snap.Dependencies) != 1 || meta.ETag == "" {
		t.Fatalf("unexpected mutate result %+v %+v", snap, meta)
	}

	_, _, err = handoff.Mutate(ctx, ref, snapshots.Meta{}, func(s *staging.StageSnapshot) error {
		s.Dependencies["alias"] = staging.RecordSnapshot{Name: "other"}
		return nil
	})
	if err == nil {
		t.Fatalf("expected mismatched name error")
	}

	boom := errors.New("boom")
	if _, _, err := handoff.Mutate(ctx, ref, snapshots.Meta{}, func(*staging.StageSnapshot) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	stored, current, ok, _ := handoff.Store.Load(ctx, ref)
	if !ok || current.ETag != meta.ETag {
		t.Fatalf("failed mutations must not save, got %+v", current)
	}
	if _, leaked := stored.Dependencies["alias"]; leaked {
		t.Fatalf("failed mutation leaked into the stored snapshot")
	}
}

func TestFailedMutateKeepsNestedState(t *testing.T) {
	ctx := context.Background()
	handoff := newHandoff()
	ref := snapshots.Ref{Domain: "workers", Name: "pool"}

	_, meta, err := handoff.Mutate(ctx, ref, snapshots.Meta{}, func(s *staging.StageSnapshot) error {
		s.Dependencies = map[string]staging.RecordSnapshot{
			"codec": {Name: "codec", Code: "export default 1", Exports: []string{"encode"}, Extra: map[string]any{"tier": "gold"}},
		}
		s.Values = map[string]any{"limits": map[string]any{"daily": 10}}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	boom := errors.New("boom")
	_, _, err = handoff.Mutate(ctx, ref, snapshots.Meta{}, func(s *staging.StageSnapshot) error {
		rec := s.Dependencies["codec"]
		rec.Exports[0] = "decode"
		rec.Extra["tier"] = "bronze"
		s.Values["limits"].(map[string]any)["daily"] = 0
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	stored, current, ok, err := handoff.Store.Load(ctx, ref)
	if err != nil || !ok || current.ETag != meta.ETag {
		t.Fatalf("expected untouched snapshot, got %+v ok=%v err=%v", current, ok, err)
	}
	rec := stored.Dependencies["codec"]
	if rec.Exports[0] != "encode" || rec.Extra["tier"] != "gold" {
		t.Fatalf("failed mutation leaked into the stored record %+v", rec)
	}
	if daily := stored.Values["limits"].(map[string]any)["daily"]; daily != 10 {
		t.Fatalf("failed mutation leaked into stored values, got %v", daily)
	}
}

func TestSaveErrorsAreWrapped(t *testing.T) {
	saveErr := errors.New("disk full")
	handoff := &snapshots.Handoff{Store: failingStore{Store: snapshots.NewMemoryStore[staging.StageSnapshot](), saveErr: saveErr}}
	stage := staging.NewRoot()
	stage.Put(staging.Descriptor{Name: "a", Code: "export default 1"})

	_, err := handoff.Publish(context.Background(), snapshots.Ref{Domain: "d", Name: "n"}, stage, snapshots.Meta{})
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
}
