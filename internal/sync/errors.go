package sync

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mschirtzinger/tasksync/internal/storage"
)

// ClearConfirmToken must be passed verbatim to Clear.
const ClearConfirmToken = "CLEAR_SYNC_DATA"

// ValidationError rejects a whole request before any record is processed.
//
// Check with IsValidation or errors.As:
//
//	var verr *sync.ValidationError
//	if errors.As(err, &verr) {
//	    // respond 400
//	}
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// RecordError describes why a single pushed record was not applied.
type RecordError struct {
	TaskID string
	Err    error
}

func (e *RecordError) Error() string {
	if e.TaskID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("task %s: %v", e.TaskID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the error as {"taskId": ..., "error": ...}.
func (e RecordError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		TaskID string `json:"taskId"`
		Error  string `json:"error"`
	}{e.TaskID, msg})
}

// IsValidation reports whether err rejects the request as a whole.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// IsFatal reports whether err means the backend could not serve the
// operation at all, as opposed to a per-record problem.
func IsFatal(err error) bool {
	return errors.Is(err, storage.ErrUnavailable)
}
