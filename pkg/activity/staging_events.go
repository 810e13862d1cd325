package activity

import (
	"strings"
	"time"
)

// Verbs emitted by stages.
const (
	VerbDependencyDeclared  = "dependency.declared"
	VerbDependencyInstalled = "dependency.installed"
	VerbDependencyRejected  = "dependency.rejected"
	VerbDependencyDisposed  = "dependency.disposed"
	VerbStageForked         = "stage.forked"
	VerbStageMerged         = "stage.merged"
	VerbStageInstalled      = "stage.installed"
	VerbStageSnapshotted    = "stage.snapshotted"
	VerbStageDisposed       = "stage.disposed"
)

// Object types carried by staging events.
const (
	ObjectDependency = "dependency"
	ObjectStage      = "stage"
)

// DependencyEventInput describes a dependency record lifecycle change.
type DependencyEventInput struct {
	DependencyID string
	Name         string
	StageID      string
	RootID       string
	Depth        int
	Optional     bool
	Reason       string
	Err          error
	Metadata     map[string]any
	OccurredAt   time.Time
}

// StageEventInput describes a stage lifecycle change.
type StageEventInput struct {
	StageID    string
	RootID     string
	Depth      int
	OtherID    string
	Counts     map[string]int
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildDependencyDeclaredEvent reports a put.
func BuildDependencyDeclaredEvent(input DependencyEventInput) Event {
	return buildDependencyEvent(VerbDependencyDeclared, input)
}

// BuildDependencyInstalledEvent reports a successful install.
func BuildDependencyInstalledEvent(input DependencyEventInput) Event {
	return buildDependencyEvent(VerbDependencyInstalled, input)
}

// BuildDependencyRejectedEvent reports a failed install.
func BuildDependencyRejectedEvent(input DependencyEventInput) Event {
	return buildDependencyEvent(VerbDependencyRejected, input)
}

// BuildDependencyDisposedEvent reports a record reset.
func BuildDependencyDisposedEvent(input DependencyEventInput) Event {
	return buildDependencyEvent(VerbDependencyDisposed, input)
}

// BuildStageForkedEvent reports a new child stage. OtherID is the parent.
func BuildStageForkedEvent(input StageEventInput) Event {
	return buildStageEvent(VerbStageForked, input)
}

// BuildStageMergedEvent reports a merge. OtherID is the absorbed stage.
func BuildStageMergedEvent(input StageEventInput) Event {
	return buildStageEvent(VerbStageMerged, input)
}

// BuildStageInstalledEvent reports the outcome of a batch install.
func BuildStageInstalledEvent(input StageEventInput) Event {
	return buildStageEvent(VerbStageInstalled, input)
}

// BuildStageSnapshottedEvent reports a snapshot capture.
func BuildStageSnapshottedEvent(input StageEventInput) Event {
	return buildStageEvent(VerbStageSnapshotted, input)
}

// BuildStageDisposedEvent reports a stage disposal.
func BuildStageDisposedEvent(input StageEventInput) Event {
	return buildStageEvent(VerbStageDisposed, input)
}

func buildDependencyEvent(verb string, input DependencyEventInput) Event {
	metadata := ensureMetadata(cloneMap(input.Metadata))
	metadata["name"] = strings.TrimSpace(input.Name)
	metadata["depth"] = input.Depth
	if input.Optional {
		metadata["optional"] = true
	}
	if input.Reason != "" {
		metadata["reason"] = input.Reason
	}
	if input.Err != nil {
		metadata["error"] = input.Err.Error()
	}

	objectID := strings.TrimSpace(input.DependencyID)
	if objectID == "" {
		objectID = strings.TrimSpace(input.Name)
	}

	return Event{
		Verb:       verb,
		ObjectType: ObjectDependency,
		ObjectID:   objectID,
		StageID:    strings.TrimSpace(input.StageID),
		RootID:     strings.TrimSpace(input.RootID),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func buildStageEvent(verb string, input StageEventInput) Event {
	metadata := ensureMetadata(cloneMap(input.Metadata))
	metadata["depth"] = input.Depth
	if input.OtherID != "" {
		metadata["other_id"] = input.OtherID
	}
	for key, count := range input.Counts {
		metadata[key] = count
	}

	return Event{
		Verb:       verb,
		ObjectType: ObjectStage,
		ObjectID:   strings.TrimSpace(input.StageID),
		StageID:    strings.TrimSpace(input.StageID),
		RootID:     strings.TrimSpace(input.RootID),
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
