package mapping

import "fmt"

// ClauseError reports a clause that could not be parsed.
type ClauseError struct {
	Index  int
	Clause string
	Reason string
}

func (e *ClauseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("mapping: clause %d %q: %s", e.Index, e.Clause, e.Reason)
}
