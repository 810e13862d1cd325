// Package usersink forwards staging activity into a go-users ActivitySink.
package usersink

import (
	"context"
	"maps"
	"strings"

	"github.com/goliatone/go-staging/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook adapts activity events to a go-users ActivitySink. Stage lineage
// travels in the record data under stage_id and root_id.
type Hook struct {
	Sink usertypes.ActivitySink
	// DefaultActor is recorded when an event carries no parseable actor id.
	DefaultActor uuid.UUID
}

func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil {
		return nil
	}
	event = activity.NormalizeEvent(event)
	if !event.Valid() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return h.Sink.Log(ctx, h.record(event))
}

func (h Hook) record(event activity.Event) usertypes.ActivityRecord {
	actor := parseUUID(event.ActorID)
	if actor == uuid.Nil {
		actor = h.DefaultActor
	}
	return usertypes.ActivityRecord{
		ActorID:    actor,
		UserID:     actor,
		TenantID:   parseUUID(event.TenantID),
		Verb:       event.Verb,
		ObjectType: event.ObjectType,
		ObjectID:   event.ObjectID,
		Channel:    event.Channel,
		Data:       recordData(event),
		OccurredAt: event.OccurredAt,
	}
}

func recordData(event activity.Event) map[string]any {
	data := maps.Clone(event.Metadata)
	for key, value := range map[string]string{"stage_id": event.StageID, "root_id": event.RootID} {
		if value == "" {
			continue
		}
		if data == nil {
			data = map[string]any{}
		}
		data[key] = value
	}
	return data
}

func parseUUID(input string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil {
		return uuid.Nil
	}
	return id
}
