// Package usersink records form engine activity through a go-users
// ActivitySink.
package usersink

import (
	"context"
	"strings"

	"github.com/goliatone/go-fieldsync/pkg/activity"
	usertypes "github.com/goliatone/go-users/pkg/types"
	"github.com/google/uuid"
)

// Hook turns form events into go-users activity records.
type Hook struct {
	Sink usertypes.ActivitySink
}

// Notify logs event on the sink. Events without a verb or object are dropped.
// Field scoped events always carry the field key in the record data.
func (h Hook) Notify(ctx context.Context, event activity.Event) error {
	if h.Sink == nil || !event.Routable() {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	normalized := activity.NormalizeEvent(event)
	return h.Sink.Log(ctx, usertypes.ActivityRecord{
		ActorID:    parseUUID(normalized.ActorID),
		UserID:     parseUUID(normalized.UserID),
		TenantID:   parseUUID(normalized.TenantID),
		Verb:       normalized.Verb,
		ObjectType: normalized.ObjectType,
		ObjectID:   normalized.ObjectID,
		Channel:    normalized.Channel,
		Data:       recordData(normalized),
		OccurredAt: normalized.OccurredAt,
	})
}

func recordData(event activity.Event) map[string]any {
	data := activity.CloneMetadata(event.Metadata)
	set := func(key string, value any) {
		if data == nil {
			data = map[string]any{}
		}
		data[key] = value
	}
	if field := event.Field(); field != "" {
		if _, ok := data["field"]; !ok {
			set("field", field)
		}
	}
	if event.DefinitionCode != "" {
		set("definition_code", event.DefinitionCode)
	}
	if len(event.Recipients) > 0 {
		set("recipients", append([]string{}, event.Recipients...))
	}
	return data
}

// parseUUID maps engine and user identifiers that are not UUIDs to uuid.Nil.
func parseUUID(input string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(input))
	if err != nil {
		return uuid.Nil
	}
	return id
}
