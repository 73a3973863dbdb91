package config

import (
	"encoding/json"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

type hclDocument struct {
	Fields []hclField `hcl:"field,block"`
}

type hclField struct {
	Key      string            `hcl:"key,label"`
	SetKey   *string           `hcl:"set_key,optional"`
	ValueKey *string           `hcl:"value_key,optional"`
	Producer *string           `hcl:"producer,optional"`
	Filter   *string           `hcl:"filter,optional"`
	Compute  map[string]string `hcl:"compute,optional"`
	Columns  *cty.Value        `hcl:"columns,optional"`
	Default  *cty.Value        `hcl:"default,optional"`
}

// ParseHCL decodes an HCL document made of field blocks:
//
//	field "city" {
//	  set_key = "region|r"
//	  columns = [{ value = "SH", r = "East" }]
//	}
//
// Attribute values must be literals.
func ParseHCL(data []byte, source string) (*Document, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, source)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: parse hcl %s: %s", source, diags.Error())
	}

	var parsed hclDocument
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("config: decode hcl %s: %s", source, diags.Error())
	}

	list := make([]any, 0, len(parsed.Fields))
	for _, field := range parsed.Fields {
		payload, err := field.payload()
		if err != nil {
			return nil, fmt.Errorf("config: field %q in %s: %w", field.Key, source, err)
		}
		list = append(list, payload)
	}
	return decodeDocument(list, FormatHCL, source)
}

func (f hclField) payload() (map[string]any, error) {
	payload := map[string]any{"key": f.Key}
	setString(payload, "set_key", f.SetKey)
	setString(payload, "value_key", f.ValueKey)
	setString(payload, "producer", f.Producer)
	setString(payload, "filter", f.Filter)
	if len(f.Compute) > 0 {
		compute := make(map[string]any, len(f.Compute))
		for target, expr := range f.Compute {
			compute[target] = expr
		}
		payload["compute"] = compute
	}

	columns, err := ctyToNative(f.Columns)
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	if columns != nil {
		payload["columns"] = columns
	}
	def, err := ctyToNative(f.Default)
	if err != nil {
		return nil, fmt.Errorf("default: %w", err)
	}
	if def != nil {
		payload["default"] = def
	}
	return payload, nil
}

func setString(payload map[string]any, key string, value *string) {
	if value != nil && *value != "" {
		payload[key] = *value
	}
}

// ctyToNative converts a literal cty value through its JSON form.
func ctyToNative(value *cty.Value) (any, error) {
	if value == nil || value.IsNull() {
		return nil, nil
	}
	if !value.IsWhollyKnown() {
		return nil, &hcl.Diagnostic{Severity: hcl.DiagError, Summary: "value must be a literal"}
	}
	data, err := ctyjson.SimpleJSONValue{Value: *value}.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
