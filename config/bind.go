package config

import (
	"fmt"
	"strings"

	fieldsync "github.com/goliatone/go-fieldsync"
)

// Bind converts the document into an engine Source, resolving producer names
// through registry. A document read from an object with columns yields
// fieldsync.Wrapped, a top level list yields fieldsync.List.
func (d *Document) Bind(registry *fieldsync.ProducerRegistry) (fieldsync.Source, error) {
	if d == nil {
		return nil, nil
	}

	specs := append([]FieldSpec(nil), d.Fields...)
	if err := checkFields(d.Source, specs); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	fields := make([]fieldsync.Field, 0, len(specs))
	for _, spec := range specs {
		field, err := spec.field(registry)
		if err != nil {
			return nil, fmt.Errorf("config: field %q in %s: %w", spec.Key, d.Source, err)
		}
		fields = append(fields, field)
	}

	if d.Wrapped {
		return fieldsync.Wrapped{Columns: fields}, nil
	}
	return fieldsync.List(fields), nil
}

func (s FieldSpec) field(registry *fieldsync.ProducerRegistry) (fieldsync.Field, error) {
	field := fieldsync.Field{
		Key:      s.Key,
		SetKey:   s.SetKey,
		ValueKey: s.ValueKey,
		Filter:   s.Filter,
		Default:  s.Default,
	}
	if len(s.Compute) > 0 {
		field.Compute = make(map[string]string, len(s.Compute))
		for target, expr := range s.Compute {
			field.Compute[target] = expr
		}
	}

	if name := strings.TrimSpace(s.Producer); name != "" {
		producer, ok := registry.Lookup(name)
		if !ok {
			return fieldsync.Field{}, fmt.Errorf("%w: %q", ErrUnknownProducer, name)
		}
		field.Columns = fieldsync.Produced(producer)
		return field, nil
	}

	choices := make([]fieldsync.Choice, 0, len(s.Columns))
	for _, column := range s.Columns {
		choices = append(choices, fieldsync.Choice(column))
	}
	field.Columns = fieldsync.Static(choices...)
	return field, nil
}

// LoadSource reads path and binds it in one step.
func LoadSource(path string, registry *fieldsync.ProducerRegistry) (fieldsync.Source, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return doc.Bind(registry)
}
