package activity

import (
	"strconv"
	"strings"
	"time"
)

// Verbs emitted by the form engine.
const (
	VerbSelection     = "fieldsync.selection"
	VerbBatch         = "fieldsync.batch"
	VerbCatalogLoaded = "fieldsync.catalog.loaded"
	VerbCatalogFailed = "fieldsync.catalog.failed"
	VerbConfigRebuilt = "fieldsync.config.rebuilt"
)

const (
	// ObjectTypeField is used for events scoped to a single form field.
	ObjectTypeField = "form_field"
	// ObjectTypeForm is used for events scoped to a whole engine instance.
	ObjectTypeForm = "form"
)

// FieldEventInput describes the common fields for form synchronization events.
type FieldEventInput struct {
	ActorID        string
	UserID         string
	TenantID       string
	EngineID       string
	Field          string
	Generation     uint64
	Channel        string
	DefinitionCode string
	Recipients     []string
	Keys           []string
	Metadata       map[string]any
	Err            error
	OccurredAt     time.Time
}

// BuildSelectionEvent constructs an event for a choice selected on a field.
func BuildSelectionEvent(input FieldEventInput) Event {
	return buildFieldEvent(VerbSelection, ObjectTypeField, input)
}

// BuildBatchEvent constructs an event for a batch of values written to the form.
func BuildBatchEvent(input FieldEventInput) Event {
	return buildFieldEvent(VerbBatch, ObjectTypeForm, input)
}

// BuildCatalogLoadedEvent constructs an event for a deferred catalog that settled.
func BuildCatalogLoadedEvent(input FieldEventInput) Event {
	return buildFieldEvent(VerbCatalogLoaded, ObjectTypeField, input)
}

// BuildCatalogFailedEvent constructs an event for a catalog that failed to load.
func BuildCatalogFailedEvent(input FieldEventInput) Event {
	return buildFieldEvent(VerbCatalogFailed, ObjectTypeField, input)
}

// BuildConfigRebuiltEvent constructs an event for a rebuilt working configuration.
func BuildConfigRebuiltEvent(input FieldEventInput) Event {
	return buildFieldEvent(VerbConfigRebuilt, ObjectTypeForm, input)
}

func buildFieldEvent(verb, objectType string, input FieldEventInput) Event {
	metadata := CloneMetadata(input.Metadata)
	if input.EngineID != "" {
		metadata = ensureMetadata(metadata)
		metadata["engine_id"] = input.EngineID
	}
	if input.Field != "" {
		metadata = ensureMetadata(metadata)
		metadata["field"] = input.Field
	}
	if input.Generation > 0 {
		metadata = ensureMetadata(metadata)
		metadata["generation"] = input.Generation
	}
	if len(input.Keys) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["keys"] = append([]string{}, input.Keys...)
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}

	recipients := input.Recipients
	if len(recipients) > 0 {
		recipients = append([]string{}, input.Recipients...)
	}

	objectID := ""
	if objectType == ObjectTypeField {
		objectID = strings.TrimSpace(input.Field)
	}
	if objectID == "" {
		objectID = strings.TrimSpace(input.EngineID)
	}
	if objectID == "" && input.Generation > 0 {
		objectID = "generation-" + strconv.FormatUint(input.Generation, 10)
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:           verb,
		ActorID:        strings.TrimSpace(input.ActorID),
		UserID:         strings.TrimSpace(input.UserID),
		TenantID:       strings.TrimSpace(input.TenantID),
		ObjectType:     objectType,
		ObjectID:       objectID,
		Channel:        strings.TrimSpace(input.Channel),
		DefinitionCode: strings.TrimSpace(input.DefinitionCode),
		Recipients:     recipients,
		Metadata:       metadata,
		OccurredAt:     input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
