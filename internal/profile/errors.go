package profile

import (
	"errors"
	"fmt"
)

// ErrInvalidAnswer is matched by every InvalidAnswerError via errors.Is.
var ErrInvalidAnswer = errors.New("profile: invalid answer")

// InvalidAnswerError reports a questionnaire answer outside its question's
// option domain. Question is the JSON field name ("q1", "q3_period", ...).
type InvalidAnswerError struct {
	Question string
	Value    int
	Reason   string
}

func (e *InvalidAnswerError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("profile: invalid answer for %s: %s", e.Question, e.Reason)
	}
	return fmt.Sprintf("profile: invalid answer for %s: option %d is not allowed", e.Question, e.Value)
}

// Is lets errors.Is(err, ErrInvalidAnswer) match.
func (e *InvalidAnswerError) Is(target error) bool {
	return target == ErrInvalidAnswer
}

func invalidOption(question string, value int) *InvalidAnswerError {
	return &InvalidAnswerError{Question: question, Value: value}
}
