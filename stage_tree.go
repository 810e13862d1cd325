package staging

import (
	"context"
	"maps"
	"slices"

	"github.com/google/uuid"
)

// Fork derives a child stage one level deeper. The child starts with a copy
// of the parent's mapping that shares the records, an empty fork list and the
// parent's configuration with opts applied on top. Scoped values set on the
// parent are visible from the child until overridden.
func (s *Stage) Fork(opts ...Option) *Stage {
	s.mu.Lock()
	child := &Stage{
		id:        uuid.NewString(),
		rootID:    s.rootID,
		depth:     s.depth + 1,
		parent:    s,
		deps:      s.deps.clone(),
		cfg:       s.cfg.derive(opts),
		container: s.container.CreateScope(),
	}
	s.forks = append(s.forks, child)
	s.mu.Unlock()

	child.cfg.logger.Debug("stage forked", "stage", child.id, "parent", s.id, "depth", child.depth, "dependencies", child.Len())
	child.cfg.emitStage(context.Background(), stageForked, child, s.id, map[string]int{"dependencies": child.Len()})
	return child
}

// ForkFromSnapshot forks and then rehydrates snap into the child: every
// recorded dependency is put as a fresh record keeping its id, and the
// snapshot values become the child's scoped values.
func (s *Stage) ForkFromSnapshot(snap StageSnapshot, opts ...Option) (*Stage, error) {
	child := s.Fork(opts...)

	var errs []error
	for _, name := range snap.names() {
		rec := snap.Dependencies[name]
		if rec.Name == "" {
			rec.Name = name
		}
		if _, err := child.Put(rec.Descriptor(), Reinstall()); err != nil {
			errs = append(errs, err)
		}
	}
	for _, key := range slices.Sorted(maps.Keys(snap.Values)) {
		child.Set(key, snap.Values[key])
	}
	if err := aggregate("stage "+child.id+" rehydrate", errs); err != nil {
		return child, err
	}
	return child, nil
}

// Merge copies into s every record of other whose name s does not hold yet.
// Existing entries are never overwritten and forks of s are not updated.
// Absorbing a shallower stage of the same tree fails with *MergeError.
func (s *Stage) Merge(other *Stage) error {
	if other == nil || other == s {
		return nil
	}
	if other.rootID == s.rootID && other.depth < s.depth {
		return &MergeError{
			Receiver: s.id,
			Other:    other.id,
			Reason:   "an ancestor cannot be merged into its descendant",
		}
	}

	other.mu.RLock()
	incoming := other.deps.clone()
	other.mu.RUnlock()

	added := 0
	s.mu.Lock()
	for _, name := range incoming.names {
		if s.deps.has(name) {
			continue
		}
		dep, _ := incoming.get(name)
		s.deps.set(name, dep)
		added++
	}
	s.mu.Unlock()

	s.cfg.logger.Debug("stage merged", "stage", s.id, "other", other.id, "added", added, "alien", other.rootID != s.rootID)
	s.cfg.emitStage(context.Background(), stageMerged, s, other.id, map[string]int{"added": added})
	return nil
}
