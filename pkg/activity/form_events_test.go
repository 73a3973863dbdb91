package activity

import (
	"errors"
	"testing"
)

func TestBuildSelectionEventIncludesFieldMetadata(t *testing.T) {
	meta := map[string]any{"custom": "value"}
	input := FieldEventInput{
		ActorID:        " actor ",
		UserID:         " user ",
		TenantID:       " tenant ",
		EngineID:       "engine-1",
		Field:          " city ",
		Generation:     3,
		Keys:           []string{"city", "region"},
		Metadata:       meta,
		DefinitionCode: "fieldsync:selection",
		Recipients:     []string{"user@example.com"},
		Channel:        "forms",
	}

	event := BuildSelectionEvent(input)

	if event.Verb != "fieldsync.selection" {
		t.Fatalf("expected verb fieldsync.selection got %s", event.Verb)
	}
	if event.ObjectType != ObjectTypeField || event.ObjectID != "city" {
		t.Fatalf("unexpected object fields: %+v", event)
	}
	if event.ActorID != "actor" || event.UserID != "user" || event.TenantID != "tenant" {
		t.Fatalf("unexpected identity fields: %+v", event)
	}
	if event.Metadata["engine_id"] != "engine-1" || event.Metadata["generation"] != uint64(3) {
		t.Fatalf("expected engine metadata, got %+v", event.Metadata)
	}
	keys, ok := event.Metadata["keys"].([]string)
	if !ok || len(keys) != 2 || keys[1] != "region" {
		t.Fatalf("expected keys metadata, got %v", event.Metadata["keys"])
	}
	keys[0] = "changed"
	if input.Keys[0] != "city" {
		t.Fatalf("expected input keys untouched, got %v", input.Keys)
	}
	event.Recipients[0] = "changed"
	if input.Recipients[0] != "user@example.com" {
		t.Fatalf("expected input recipients untouched, got %v", input.Recipients)
	}
	if meta["custom"] != "value" || len(meta) != 1 {
		t.Fatalf("expected input metadata untouched, got %v", meta)
	}
}

func TestBuildCatalogFailedEventRecordsError(t *testing.T) {
	event := BuildCatalogFailedEvent(FieldEventInput{Field: "city", Err: errors.New("timeout")})
	if event.Verb != "fieldsync.catalog.failed" {
		t.Fatalf("unexpected verb %s", event.Verb)
	}
	if event.Metadata["error"] != "timeout" {
		t.Fatalf("expected error metadata, got %v", event.Metadata["error"])
	}
}

func TestBuildBatchEventUsesEngineAsObject(t *testing.T) {
	event := BuildBatchEvent(FieldEventInput{EngineID: "engine-1", Field: "ignored"})
	if event.ObjectType != ObjectTypeForm || event.ObjectID != "engine-1" {
		t.Fatalf("expected form scoped object, got %+v", event)
	}
}

func TestBuildConfigRebuiltEventFallbackObjectID(t *testing.T) {
	event := BuildConfigRebuiltEvent(FieldEventInput{Generation: 2})
	if event.ObjectID != "generation-2" {
		t.Fatalf("expected generation fallback, got %q", event.ObjectID)
	}
	event = BuildConfigRebuiltEvent(FieldEventInput{})
	if event.ObjectID != ObjectTypeForm {
		t.Fatalf("expected object type fallback, got %q", event.ObjectID)
	}
	if event.Metadata != nil {
		t.Fatalf("expected nil metadata, got %v", event.Metadata)
	}
}

func TestBuildCatalogLoadedEventFallsBackToEngine(t *testing.T) {
	event := BuildCatalogLoadedEvent(FieldEventInput{EngineID: "engine-9"})
	if event.ObjectID != "engine-9" {
		t.Fatalf("expected engine fallback, got %q", event.ObjectID)
	}
}
