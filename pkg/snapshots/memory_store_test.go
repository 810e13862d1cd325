package snapshots_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-staging/pkg/snapshots"
)

func TestRefIdentifier(t *testing.T) {
	cases := []struct {
		name    string
		ref     snapshots.Ref
		want    string
		wantErr bool
	}{
		{name: "valid", ref: snapshots.Ref{Domain: "workers", Name: "pool-a"}, want: "workers/pool-a"},
		{name: "trimmed", ref: snapshots.Ref{Domain: " workers ", Name: " b "}, want: "workers/b"},
		{name: "missing domain", ref: snapshots.Ref{Name: "x"}, wantErr: true},
		{name: "missing name", ref: snapshots.Ref{Domain: "x"}, wantErr: true},
		{name: "slash in domain", ref: snapshots.Ref{Domain: "a/b", Name: "x"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.ref.Identifier()
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil || got != tc.want {
				t.Fatalf("expected %q, got %q %v", tc.want, got, err)
			}
		})
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := snapshots.NewMemoryStore[map[string]int]()
	ref := snapshots.Ref{Domain: "d", Name: "n"}
	ctx := context.Background()

	if _, _, ok, err := store.Load(ctx, ref); ok || err != nil {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	extra := map[string]string{"owner": "a"}
	saved := map[string]int{"x": 1}
	if _, err := store.Save(ctx, ref, saved, snapshots.Meta{ETag: "v1", Extra: extra}); err != nil {
		t.Fatalf("save: %v", err)
	}
	extra["owner"] = "mutated"
	saved["x"] = 2

	value, meta, ok, err := store.Load(ctx, ref)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if value["x"] != 1 || meta.ETag != "v1" || meta.Extra["owner"] != "a" {
		t.Fatalf("unexpected record %v %+v", value, meta)
	}
	if store.Len() != 1 {
		t.Fatalf("expected one record, got %d", store.Len())
	}
	value["x"] = 3
	if again, _, _, _ := store.Load(ctx, ref); again["x"] != 1 {
		t.Fatalf("loaded values must not alias the store, got %v", again)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store after delete")
	}
}

func TestMemoryStoreRejectsInvalidRef(t *testing.T) {
	store := snapshots.NewMemoryStore[int]()
	if _, err := store.Save(context.Background(), snapshots.Ref{}, 1, snapshots.Meta{}); err == nil {
		t.Fatalf("expected invalid ref error")
	}
}

func TestMemoryStoreRejectsFuncs(t *testing.T) {
	store := snapshots.NewMemoryStore[map[string]any]()
	_, err := store.Save(context.Background(), snapshots.Ref{Domain: "d", Name: "n"}, map[string]any{"fn": func() {}}, snapshots.Meta{})
	if err == nil {
		t.Fatalf("expected funcs to be rejected")
	}
	if store.Len() != 0 {
		t.Fatalf("rejected snapshot must not be stored")
	}
}
