package staging

import (
	"context"
	"time"

	"github.com/goliatone/go-staging/pkg/activity"
)

type dependencyEventKind int

const (
	dependencyDeclared dependencyEventKind = iota
	dependencyInstalled
	dependencyRejected
	dependencyDisposed
)

type stageEventKind int

const (
	stageForked stageEventKind = iota
	stageMerged
	stageInstalled
	stageSnapshotted
	stageDisposed
)

func (cfg *stageConfig) emitDependency(ctx context.Context, kind dependencyEventKind, d *Dependency, reason string, err error) {
	if cfg == nil || !cfg.emitter.Enabled() || d == nil {
		return
	}
	d.mu.RLock()
	input := activity.DependencyEventInput{
		DependencyID: d.decl.ID,
		Name:         d.decl.Name,
		StageID:      d.stageID,
		RootID:       d.rootID,
		Depth:        d.depth,
		Optional:     d.decl.Optional,
		Reason:       reason,
		Err:          err,
		OccurredAt:   time.Now().UTC(),
	}
	d.mu.RUnlock()

	var event activity.Event
	switch kind {
	case dependencyDeclared:
		event = activity.BuildDependencyDeclaredEvent(input)
	case dependencyInstalled:
		event = activity.BuildDependencyInstalledEvent(input)
	case dependencyRejected:
		event = activity.BuildDependencyRejectedEvent(input)
	case dependencyDisposed:
		event = activity.BuildDependencyDisposedEvent(input)
	default:
		return
	}
	cfg.emit(ctx, event)
}

func (cfg *stageConfig) emitStage(ctx context.Context, kind stageEventKind, s *Stage, otherID string, counts map[string]int) {
	if cfg == nil || !cfg.emitter.Enabled() || s == nil {
		return
	}
	input := activity.StageEventInput{
		StageID:    s.id,
		RootID:     s.rootID,
		Depth:      s.depth,
		OtherID:    otherID,
		Counts:     counts,
		OccurredAt: time.Now().UTC(),
	}

	var event activity.Event
	switch kind {
	case stageForked:
		event = activity.BuildStageForkedEvent(input)
	case stageMerged:
		event = activity.BuildStageMergedEvent(input)
	case stageInstalled:
		event = activity.BuildStageInstalledEvent(input)
	case stageSnapshotted:
		event = activity.BuildStageSnapshottedEvent(input)
	case stageDisposed:
		event = activity.BuildStageDisposedEvent(input)
	default:
		return
	}
	cfg.emit(ctx, event)
}

func (cfg *stageConfig) emit(ctx context.Context, event activity.Event) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := cfg.emitter.Emit(context.WithoutCancel(ctx), event); err != nil {
		cfg.logger.Warn("activity hook failed", "verb", event.Verb, "object", event.ObjectID, "error", err)
	}
}
