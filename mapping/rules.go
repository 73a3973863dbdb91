// Package mapping parses and applies set-key specifications: comma separated
// clauses that copy attributes from a selected choice into form state.
//
// Grammar:
//
//	spec   := clause (',' clause)*
//	clause := target '=' literal   // fixed assignment
//	        | target '|' source    // copy source[source] into target
//	        | target '|'           // copy source[target] into target
//	        | target               // copy source[target] into target
//
// A source segment ends at the next '|'.
//
// Whitespace anywhere in the spec is ignored.
package mapping

import (
	"errors"
	"strings"
	"unicode"
)

// Kind identifies how a clause produces its value.
type Kind int

const (
	// KindCopy copies an attribute from the source record.
	KindCopy Kind = iota
	// KindFixed assigns a literal string.
	KindFixed
)

func (k Kind) String() string {
	switch k {
	case KindCopy:
		return "copy"
	case KindFixed:
		return "fixed"
	default:
		return "unknown"
	}
}

// Clause is a single parsed assignment.
type Clause struct {
	Target string
	Kind   Kind
	// Source is the attribute read from the source record for KindCopy.
	Source string
	// Value is the literal assigned for KindFixed.
	Value string
}

// Rules is an ordered set of clauses.
type Rules []Clause

// Parse converts spec into Rules. Malformed clauses are left out of the
// result and reported through a joined error of *ClauseError values, so the
// returned Rules are always safe to apply.
func Parse(spec string) (Rules, error) {
	compact := stripSpace(spec)
	if compact == "" {
		return nil, nil
	}

	parts := strings.Split(compact, ",")
	rules := make(Rules, 0, len(parts))
	var errs []error
	for i, part := range parts {
		clause, err := parseClause(i, part)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, clause)
	}
	return rules, errors.Join(errs...)
}

func parseClause(index int, raw string) (Clause, error) {
	if raw == "" {
		return Clause{}, &ClauseError{Index: index, Clause: raw, Reason: "empty clause"}
	}
	if target, literal, ok := strings.Cut(raw, "="); ok {
		if target == "" {
			return Clause{}, &ClauseError{Index: index, Clause: raw, Reason: "missing target key"}
		}
		return Clause{Target: target, Kind: KindFixed, Value: literal}, nil
	}
	target, rest, _ := strings.Cut(raw, "|")
	if target == "" {
		return Clause{}, &ClauseError{Index: index, Clause: raw, Reason: "missing target key"}
	}
	// Only the segment after the first pipe names the source; an empty one
	// copies the target key itself.
	source, _, _ := strings.Cut(rest, "|")
	if source == "" {
		source = target
	}
	return Clause{Target: target, Kind: KindCopy, Source: source}, nil
}

// Apply assigns every clause into target in order. Fixed clauses always
// apply; copy clauses need a non-nil source and copy nil for attributes the
// source does not carry.
func (r Rules) Apply(target, source map[string]any) {
	if target == nil {
		return
	}
	for _, clause := range r {
		switch clause.Kind {
		case KindFixed:
			target[clause.Target] = clause.Value
		case KindCopy:
			if source == nil {
				continue
			}
			target[clause.Target] = source[clause.Source]
		}
	}
}

// Targets lists the keys written by the rules, in clause order.
func (r Rules) Targets() []string {
	if len(r) == 0 {
		return nil
	}
	out := make([]string, 0, len(r))
	for _, clause := range r {
		out = append(out, clause.Target)
	}
	return out
}

// Apply parses spec and applies the well formed clauses to target. It is a
// no-op when target is nil or spec is blank.
func Apply(spec string, target, source map[string]any) {
	var resolver Resolver
	resolver.Apply(spec, target, source)
}

func stripSpace(value string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, value)
}
