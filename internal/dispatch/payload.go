package dispatch

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/stridecampus/internal/model"
)

// Limits are in characters (runes), not bytes.
const (
	MaxTitleLen = 100
	MaxBodyLen  = 500
)

// Payload is what callers hand the dispatcher. Sender may equal the
// recipient for system notices.
type Payload struct {
	Title    string
	Body     string
	Kind     model.NotificationKind
	SenderID string
	Data     map[string]string
}

// ValidationError carries every violated rule, not just the first one.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "dispatch: invalid payload: " + strings.Join(e.Violations, "; ")
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the payload before any I/O. Validation failures are never
// retried.
func (p *Payload) Validate() error {
	var violations []string
	if strings.TrimSpace(p.Title) == "" {
		violations = append(violations, "title must not be empty")
	} else if utf8.RuneCountInString(p.Title) > MaxTitleLen {
		violations = append(violations, fmt.Sprintf("title exceeds %d characters", MaxTitleLen))
	}
	if strings.TrimSpace(p.Body) == "" {
		violations = append(violations, "body must not be empty")
	} else if utf8.RuneCountInString(p.Body) > MaxBodyLen {
		violations = append(violations, fmt.Sprintf("body exceeds %d characters", MaxBodyLen))
	}
	if p.Kind == "" {
		violations = append(violations, "kind must be set")
	}
	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}
