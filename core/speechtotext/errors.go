package speechtotext

import (
	"errors"
	"fmt"
)

var ErrNotStarted = errors.New("recognition stream not started")

// RecognitionTransientError marks a recognizer failure that is expected to
// go away by reopening the stream, such as a timeout waiting for speech.
type RecognitionTransientError struct {
	Reason string
	Err    error
}

func (e *RecognitionTransientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transient recognition error: %s", e.Reason)
	}
	return fmt.Sprintf("transient recognition error: %s: %v", e.Reason, e.Err)
}

func (e *RecognitionTransientError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var transient *RecognitionTransientError
	return errors.As(err, &transient)
}
