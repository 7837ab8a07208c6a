// Package sqlguard gates every raw SQL statement before execution. Values
// must travel as ? placeholders; any query text carrying interpolation
// markers is rejected with a security-classified error. This is a hard
// gate, not a lint: repositories issuing raw SQL call Check first and
// refuse to execute on failure.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafeQuery marks a query rejected by the gate. Callers surface it as
// a security failure, never as a transient error.
type ErrUnsafeQuery struct {
	Marker string
}

func (e *ErrUnsafeQuery) Error() string {
	return fmt.Sprintf("unsafe query rejected: interpolation marker %q in SQL text", e.Marker)
}

// Printf-style verbs that indicate the query text was (or is about to be)
// assembled with fmt instead of placeholders.
var verbPattern = regexp.MustCompile(`%[sdvqxftb]`)

// Check returns an *ErrUnsafeQuery if the SQL text contains interpolation
// markers instead of placeholders. Literal values in the text are not
// detected; the gate targets the assembly patterns that cause injection.
func Check(sql string) error {
	if m := verbPattern.FindString(sql); m != "" {
		return &ErrUnsafeQuery{Marker: m}
	}
	for _, marker := range []string{"${", "#{", "{{", "' + ", "\" + ", " || '"} {
		if strings.Contains(sql, marker) {
			return &ErrUnsafeQuery{Marker: marker}
		}
	}
	return nil
}
