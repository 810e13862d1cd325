package staging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRecordSnapshotRoundTrip(t *testing.T) {
	source := NewRoot(WithRequireValidation(false))
	dep, _ := source.Put(Descriptor{Name: "fun", Code: "export default 'balloons'"})

	snap, err := dep.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ID != dep.ID() || snap.Name != "fun" || snap.Code == "" || snap.Exports == nil || len(snap.Exports) != 0 || snap.Optional {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	target := NewRoot(WithRequireValidation(false))
	rehydrated, err := target.Put(snap.Descriptor())
	if err != nil {
		t.Fatalf("put snapshot: %v", err)
	}
	if _, err := target.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}
	if rehydrated.ID() != dep.ID() {
		t.Fatalf("expected id %s, got %s", dep.ID(), rehydrated.ID())
	}
	if rehydrated.Module() != "balloons" {
		t.Fatalf("expected balloons, got %#v", rehydrated.Module())
	}
}

func TestSnapshotKeepsSourceValidatorAndExtras(t *testing.T) {
	stage := NewRoot()
	dep, _ := stage.Put(Descriptor{
		Name:      "sauce",
		Code:      "export default 'hot sauce'",
		Validator: SourceValidator("module === eq"),
		Extra: map[string]any{
			"eq":     "hot sauce",
			"notify": func() {},
		},
	})

	snap, err := dep.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Validator != "module === eq" {
		t.Fatalf("expected validator text, got %q", snap.Validator)
	}
	if snap.Extra["eq"] != "hot sauce" {
		t.Fatalf("expected cloneable extra kept, got %v", snap.Extra)
	}
	if _, ok := snap.Extra["notify"]; ok {
		t.Fatalf("functions must be left out of snapshots")
	}

	native, _ := stage.Put(Descriptor{
		Name:      "native",
		Code:      "export default 1",
		Validator: NativeValidator(func(context.Context, RuleContext) (bool, error) { return true, nil }),
	})
	nativeSnap, err := native.Snapshot()
	if err != nil {
		t.Fatalf("snapshot native: %v", err)
	}
	if nativeSnap.Validator != "" {
		t.Fatalf("native validators are not carried, got %q", nativeSnap.Validator)
	}
}

func TestNonSerializableDetection(t *testing.T) {
	stage := NewRoot(WithRequireValidation(false))
	stage.Put(Descriptor{Name: "code", Code: "export default 1"})
	direct, _ := stage.Put(Descriptor{Name: "direct", Module: map[string]any{"v": 1}})
	if _, err := stage.Install(context.Background()); err != nil {
		t.Fatalf("install: %v", err)
	}

	if direct.IsSerializable() {
		t.Fatalf("a direct module is never serializable")
	}
	if stage.IsSerializable() {
		t.Fatalf("stage with a direct module is not serializable")
	}
	_, err := stage.Snapshot()
	var depErr *DependencyError
	if !errors.As(err, &depErr) || depErr.Name != "direct" || !errors.Is(err, ErrNotSerializable) {
		t.Fatalf("expected not serializable error naming direct, got %v", err)
	}

	stage.Put(Descriptor{Name: "func", Sources: []Source{FuncSource(func(context.Context) (any, error) { return 1, nil })}})
	_, err = stage.Snapshot()
	var multi *MultipleErrors
	if !errors.As(err, &multi) || len(multi.Errs) != 2 {
		t.Fatalf("expected two failures, got %v", err)
	}
	if !strings.Contains(err.Error(), `"direct"`) || !strings.Contains(err.Error(), `"func"`) {
		t.Fatalf("expected both names in %q", err)
	}
}

func TestStageSnapshotThroughJSON(t *testing.T) {
	stage := NewRoot(WithRequireValidation(false))
	stage.Set("region", "eu")
	stage.Put(Descriptor{Name: "b", Code: "export default 'b'"})
	stage.Put(Descriptor{Name: "a", URI: "data:text/javascript,export%20default%20'a'", Exports: []string{"default"}})

	snap, err := stage.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	decoded, err := DecodeStageSnapshot(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != stage.ID() || len(decoded.Dependencies) != 2 {
		t.Fatalf("unexpected decoded snapshot %+v", decoded)
	}

	fork, err := NewRoot(WithRequireValidation(false)).ForkFromSnapshot(decoded)
	if err != nil {
		t.Fatalf("fork from snapshot: %v", err)
	}
	if got := fork.Names(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("expected snapshot order, got %v", got)
	}
	if v, err := fork.Value("region"); err != nil || v != "eu" {
		t.Fatalf("expected scoped value rehydrated, got %v %v", v, err)
	}
	if _, err := fork.Install(context.Background()); err != nil {
		t.Fatalf("install fork: %v", err)
	}
	if fork.Get("a").Module() != "a" || fork.Get("a").ID() != stage.Get("a").ID() {
		t.Fatalf("unexpected rehydrated record")
	}
	if stage.Get("a").Installed() {
		t.Fatalf("rehydrated records are fresh, the source stays untouched")
	}
}

func TestForkFromSnapshotReplacesInheritedRecords(t *testing.T) {
	parent := NewRoot()
	inherited, _ := parent.Put(Descriptor{Name: "x", Code: "export default 1"})
	snap := StageSnapshot{Dependencies: map[string]RecordSnapshot{
		"x": {ID: "fixed-id", Code: "export default 2"},
	}}

	fork, err := parent.ForkFromSnapshot(snap)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if fork.Get("x") == inherited || fork.Get("x").ID() != "fixed-id" {
		t.Fatalf("snapshot records must replace inherited ones")
	}
	if parent.Get("x") != inherited || parent.Get("x").Code() != "export default 1" {
		t.Fatalf("parent must be untouched")
	}
}

func TestDecodeRecordSnapshotDefaults(t *testing.T) {
	rec, err := DecodeRecordSnapshot(map[string]any{"name": "fun", "code": "export default 1"})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Exports == nil {
		t.Fatalf("exports must never be nil")
	}
}

func TestDecodeLegacyStageSnapshot(t *testing.T) {
	payload := map[string]any{
		"region": "eu",
		"dependencies": map[string]any{
			"b4a": map[string]any{"id": "dep-1", "npmSpecifier": "b4a", "exports": []any{}},
		},
		"values": map[string]any{"region": "us"},
	}

	snap, err := DecodeStageSnapshot(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec := snap.Dependencies["b4a"]
	if rec.Name != "b4a" || rec.Package != "b4a" || rec.ID != "dep-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if snap.Values["region"] != "us" {
		t.Fatalf("explicit values must win over top-level ones, got %v", snap.Values)
	}
	if payload["region"] != "eu" || len(payload["values"].(map[string]any)) != 1 {
		t.Fatalf("decode must not mutate the payload")
	}
}
