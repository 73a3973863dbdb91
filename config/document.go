// Package config reads field configuration documents in JSON, YAML or HCL
// and binds them to engine sources.
//
// A document is either a list of fields or an object holding the list under
// "columns" (alias "fields"). Each field accepts:
//
//	key        field key (required)
//	set_key    mapping applied with the selected choice (alias setKey)
//	value_key  choice attribute holding the value (alias valueKey)
//	columns    static catalog, a list of objects
//	producer   name of a registered producer, replaces columns
//	filter     expression narrowing the offered choices
//	compute    target key to expression
//	default    initial value when the form has none
//
// Unknown attributes, at the top level or on a field, are rejected.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goliatone/go-fieldsync/internal/hydrate"
	"gopkg.in/yaml.v3"
)

// Format names a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// FieldSpec is the document form of a field.
type FieldSpec struct {
	Key      string            `json:"key"`
	SetKey   string            `json:"set_key,omitempty"`
	ValueKey string            `json:"value_key,omitempty"`
	Columns  []map[string]any  `json:"columns,omitempty"`
	Producer string            `json:"producer,omitempty"`
	Filter   string            `json:"filter,omitempty"`
	Compute  map[string]string `json:"compute,omitempty"`
	Default  any               `json:"default,omitempty"`
}

// Document is a parsed configuration document.
type Document struct {
	Source string
	Format Format
	// Wrapped is true when fields were nested under columns.
	Wrapped bool
	Fields  []FieldSpec
}

type documentBody struct {
	Columns []FieldSpec `json:"columns"`
}

var fieldAliases = map[string]string{
	"setKey":   "set_key",
	"valueKey": "value_key",
}

// Load reads path and parses it according to its extension.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, format, path)
}

// FormatFromPath maps a file extension to a Format.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	default:
		return "", fmt.Errorf("config: %w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Parse decodes data in the given format. source names the document in
// errors.
func Parse(data []byte, format Format, source string) (*Document, error) {
	switch format {
	case FormatJSON:
		return ParseJSON(data, source)
	case FormatYAML:
		return ParseYAML(data, source)
	case FormatHCL:
		return ParseHCL(data, source)
	default:
		return nil, fmt.Errorf("config: %w: %q", ErrUnsupportedFormat, format)
	}
}

// ParseJSON decodes a JSON document.
func ParseJSON(data []byte, source string) (*Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse json %s: %w", source, err)
	}
	return decodeDocument(raw, FormatJSON, source)
}

// ParseYAML decodes a YAML document.
func ParseYAML(data []byte, source string) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: parse yaml %s: %w", source, err)
	}
	return decodeDocument(raw, FormatYAML, source)
}

func decodeDocument(raw any, format Format, source string) (*Document, error) {
	doc := &Document{Source: source, Format: format}

	var payload map[string]any
	switch value := raw.(type) {
	case nil:
		return doc, nil
	case []any:
		payload = map[string]any{"columns": value}
	case map[string]any:
		doc.Wrapped = true
		payload = value
	default:
		return nil, fmt.Errorf("config: %w: %s has top level %T", ErrInvalidShape, source, raw)
	}

	decoder := hydrate.NewDecoder[documentBody](
		hydrate.WithPreHook[documentBody](normalizePayload),
		hydrate.WithDisallowUnknownFields[documentBody](),
		hydrate.WithPostHook[documentBody](func(ctx hydrate.Context, body *documentBody) error {
			return checkFields(ctx.Source, body.Columns)
		}),
	)
	body, err := decoder.Decode(hydrate.Context{Source: source, Format: string(format)}, payload)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	doc.Fields = body.Columns
	return doc, nil
}

// checkFields trims field keys in place and rejects missing or repeated ones.
func checkFields(source string, fields []FieldSpec) error {
	seen := make(map[string]struct{}, len(fields))
	for i := range fields {
		key := strings.TrimSpace(fields[i].Key)
		if key == "" {
			return fmt.Errorf("field %d in %s: %w", i, source, ErrMissingKey)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("field %q in %s: %w", key, source, ErrDuplicateKey)
		}
		seen[key] = struct{}{}
		fields[i].Key = key
	}
	return nil
}

// normalizePayload resolves the fields alias and camelCase field keys.
func normalizePayload(ctx hydrate.Context, payload map[string]any) (map[string]any, error) {
	if _, ok := payload["columns"]; !ok {
		if fields, ok := payload["fields"]; ok {
			payload["columns"] = fields
		}
	}
	delete(payload, "fields")

	columns, ok := payload["columns"]
	if !ok || columns == nil {
		return payload, nil
	}
	list, ok := columns.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: columns in %s must be a list", ErrInvalidShape, ctx.Source)
	}
	for i, item := range list {
		field, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: field %d in %s must be an object", ErrInvalidShape, i, ctx.Source)
		}
		for alias, canonical := range fieldAliases {
			value, ok := field[alias]
			if !ok {
				continue
			}
			if _, exists := field[canonical]; !exists {
				field[canonical] = value
			}
			delete(field, alias)
		}
	}
	return payload, nil
}
