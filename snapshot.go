package staging

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/goliatone/go-staging/internal/hydrate"
	"github.com/goliatone/go-staging/internal/structclone"
)

// RecordSnapshot is the plain-data form of a dependency record. It carries
// identity and declaration only; installation state is never captured.
type RecordSnapshot struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Code      string         `json:"code,omitempty"`
	URI       string         `json:"uri,omitempty"`
	Package   string         `json:"package,omitempty"`
	Sources   []Source       `json:"sources,omitempty"`
	Exports   []string       `json:"exports"`
	DefaultAs string         `json:"defaultAs,omitempty"`
	Optional  bool           `json:"optional"`
	Validator string         `json:"validator,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Descriptor turns the snapshot back into a declaration with the same id.
func (r RecordSnapshot) Descriptor() Descriptor {
	return Descriptor{
		ID:        r.ID,
		Name:      r.Name,
		Code:      r.Code,
		URI:       r.URI,
		Package:   r.Package,
		Sources:   slices.Clone(r.Sources),
		Exports:   slices.Clone(r.Exports),
		DefaultAs: r.DefaultAs,
		Optional:  r.Optional,
		Validator: SourceValidator(r.Validator),
		Extra:     maps.Clone(r.Extra),
	}
}

// StageSnapshot is the plain-data form of a stage's own records and its
// cloneable scoped values.
type StageSnapshot struct {
	ID                string                    `json:"id"`
	RootID            string                    `json:"rootId"`
	Depth             int                       `json:"depth"`
	RequireValidation bool                      `json:"requireValidation"`
	Order             []string                  `json:"order,omitempty"`
	Dependencies      map[string]RecordSnapshot `json:"dependencies"`
	Values            map[string]any            `json:"values,omitempty"`
}

// Descriptors returns the recorded declarations in stage order.
func (s StageSnapshot) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(s.Dependencies))
	for _, name := range s.names() {
		rec := s.Dependencies[name]
		if rec.Name == "" {
			rec.Name = name
		}
		out = append(out, rec.Descriptor())
	}
	return out
}

// names returns Order filtered to recorded names, followed by any recorded
// name Order misses, sorted.
func (s StageSnapshot) names() []string {
	seen := make(map[string]struct{}, len(s.Dependencies))
	out := make([]string, 0, len(s.Dependencies))
	for _, name := range s.Order {
		if _, ok := s.Dependencies[name]; !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, name := range slices.Sorted(maps.Keys(s.Dependencies)) {
		if _, ok := seen[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// IsSerializable reports whether every record declared in the stage itself
// can be snapshotted.
func (s *Stage) IsSerializable() bool {
	for _, dep := range s.Dependencies() {
		if !dep.IsSerializable() {
			return false
		}
	}
	return true
}

// Snapshot captures the stage's own records, forks excluded. When records
// cannot be captured the error names each of them.
func (s *Stage) Snapshot() (StageSnapshot, error) {
	deps := s.Dependencies()
	snap := StageSnapshot{
		ID:                s.id,
		RootID:            s.rootID,
		Depth:             s.depth,
		RequireValidation: s.cfg.requireValidation,
		Order:             make([]string, 0, len(deps)),
		Dependencies:      make(map[string]RecordSnapshot, len(deps)),
	}

	var errs []error
	for _, dep := range deps {
		rec, err := dep.Snapshot()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snap.Order = append(snap.Order, rec.Name)
		snap.Dependencies[rec.Name] = rec
	}
	if err := aggregate("snapshot of stage "+s.id, errs); err != nil {
		return StageSnapshot{}, err
	}

	values, err := s.snapshotValues()
	if err != nil {
		return StageSnapshot{}, err
	}
	snap.Values = values

	s.cfg.logger.Debug("stage snapshotted", "stage", s.id, "dependencies", len(snap.Order), "values", len(values))
	s.cfg.emitStage(context.Background(), stageSnapshotted, s, "", map[string]int{"dependencies": len(snap.Order)})
	return snap, nil
}

// snapshotValues keeps the scoped values visible from the stage that survive
// a structural clone.
func (s *Stage) snapshotValues() (map[string]any, error) {
	cradle, err := s.container.Cradle()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	for _, name := range slices.Sorted(maps.Keys(cradle)) {
		value, err := structclone.Clone(cradle[name])
		if err != nil {
			if errors.Is(err, structclone.ErrNotCloneable) {
				s.cfg.logger.Debug("scoped value left out of snapshot", "stage", s.id, "value", name, "error", err)
				continue
			}
			return nil, err
		}
		if out == nil {
			out = map[string]any{}
		}
		out[name] = value
	}
	return out, nil
}

// legacyRecordKeys maps older descriptor keys to the current snapshot keys.
var legacyRecordKeys = map[string]string{
	"npmSpecifier": "package",
	"default_as":   "defaultAs",
}

var (
	// Older stage snapshots kept their scoped values at the top level.
	stageSnapshotDecoder = hydrate.NewDecoder[StageSnapshot](
		hydrate.WithPreHook[StageSnapshot](hydrate.Collect("values", "id", "rootId", "depth", "requireValidation", "order", "dependencies")),
		hydrate.WithPreHook[StageSnapshot](hydrate.Each("dependencies", "dependency", hydrate.Rename(legacyRecordKeys))),
	)
	recordSnapshotDecoder = hydrate.NewDecoder[RecordSnapshot](
		hydrate.WithPreHook[RecordSnapshot](hydrate.Rename(legacyRecordKeys)),
		hydrate.WithPostHook[RecordSnapshot](recordDefaults),
	)
)

// DecodeStageSnapshot rebuilds a StageSnapshot from loosely typed data, such
// as a snapshot that went through JSON.
func DecodeStageSnapshot(payload map[string]any) (StageSnapshot, error) {
	id, _ := payload["id"].(string)
	snap, err := stageSnapshotDecoder.Decode(hydrate.Context{Kind: "stage", Subject: id}, payload)
	if err != nil {
		return StageSnapshot{}, err
	}
	for name, rec := range snap.Dependencies {
		if err := recordDefaults(hydrate.Context{Kind: "dependency", Subject: name}, &rec); err != nil {
			return StageSnapshot{}, err
		}
		snap.Dependencies[name] = rec
	}
	return snap, nil
}

// DecodeRecordSnapshot rebuilds a RecordSnapshot from loosely typed data.
func DecodeRecordSnapshot(payload map[string]any) (RecordSnapshot, error) {
	name, _ := payload["name"].(string)
	return recordSnapshotDecoder.Decode(hydrate.Context{Kind: "dependency", Subject: name}, payload)
}

func recordDefaults(ctx hydrate.Context, rec *RecordSnapshot) error {
	if rec.Name == "" {
		rec.Name = ctx.Subject
	}
	if rec.Exports == nil {
		rec.Exports = []string{}
	}
	return nil
}
