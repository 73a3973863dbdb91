package fieldsync

import "github.com/goliatone/go-fieldsync/layering"

// applyDefaultsLocked fills Field.Default values for keys that are absent or
// nil in the form state.
func (e *Engine) applyDefaultsLocked() []string {
	defaults := State{}
	for _, ent := range e.entries {
		if ent.field.Default == nil {
			continue
		}
		if _, seen := defaults[ent.field.Key]; seen {
			continue
		}
		defaults[ent.field.Key] = ent.field.Default
	}
	return layering.Fill(e.state, defaults)
}
