// Package schema provides the data structures exchanged between sync clients
// and the authoritative task store.
package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// Status is the workflow state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Priority is the user-assigned urgency of a task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Source identifies a client population, not an individual device.
type Source string

const (
	SourceVault     Source = "vault"
	SourceExtension Source = "extension"
	SourceServer    Source = "server"
)

// Sources lists every known source tag.
var Sources = []Source{SourceVault, SourceExtension, SourceServer}

// ParseSource converts a raw tag into a Source.
func ParseSource(s string) (Source, error) {
	src := Source(strings.TrimSpace(s))
	if !src.Valid() {
		return "", fmt.Errorf("unknown source %q (expected one of vault, extension, server)", s)
	}
	return src, nil
}

// Valid reports whether s is a known source tag.
func (s Source) Valid() bool {
	switch s {
	case SourceVault, SourceExtension, SourceServer:
		return true
	}
	return false
}

// TaskRecord is a single task as replicated between clients and the store.
// The ID is the reconciliation key and UpdatedAt is the last-write-wins clock.
type TaskRecord struct {
	// ===== Identification =====
	ID string `json:"id" yaml:"id" toml:"id" validate:"required,max=255"`

	// ===== Content (copied verbatim from the winning write) =====
	Title       string `json:"title" yaml:"title" toml:"title" validate:"required,max=500"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`

	// ===== Workflow =====
	Status   Status   `json:"status" yaml:"status" toml:"status" validate:"required,oneof=pending in_progress completed"`
	Priority Priority `json:"priority" yaml:"priority" toml:"priority" validate:"required,oneof=low medium high urgent"`

	// ===== Estimates =====
	EstimatedMinutes float64 `json:"estimatedMinutes" yaml:"estimatedMinutes" toml:"estimatedMinutes" validate:"finite,gte=0"`
	ActualMinutes    float64 `json:"actualMinutes" yaml:"actualMinutes" toml:"actualMinutes" validate:"finite,gte=0"`

	// ===== Timestamps (conflict resolution) =====
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt" toml:"createdAt" validate:"required"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt" toml:"updatedAt" validate:"required"`

	// ===== Replication =====
	Source     Source     `json:"source" yaml:"source" toml:"source" validate:"omitempty,oneof=vault extension server"`
	SyncStatus SyncStatus `json:"syncStatus,omitempty" yaml:"syncStatus,omitempty" toml:"syncStatus,omitempty" validate:"omitempty,oneof=local pending synced conflict"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			f := fl.Field().Float()
			return !math.IsInf(f, 0) && !math.IsNaN(f)
		})
		// Report JSON field names rather than Go field names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks if the TaskRecord has valid field values.
func (r *TaskRecord) Validate() error {
	if err := validatorInstance().Struct(r); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError converts validator errors to short "<field> <problem>" messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be %s characters or less", field, fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s] (got %q)", field, fe.Param(), fmt.Sprint(fe.Value())))
		case "finite":
			msgs = append(msgs, fmt.Sprintf("%s must be a finite number (got %v)", field, fe.Value()))
		case "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be non-negative (got %v)", field, fe.Value()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", field, fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// SetDefaults fills optional fields that clients commonly omit.
// UpdatedAt is never defaulted: a missing clock must not win a conflict.
func (r *TaskRecord) SetDefaults() {
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.CreatedAt.IsZero() && !r.UpdatedAt.IsZero() {
		r.CreatedAt = r.UpdatedAt
	}
}

// Normalize truncates timestamps to UTC milliseconds so that every backend
// stores and compares the same instant.
func (r *TaskRecord) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.CreatedAt = NormalizeTime(r.CreatedAt)
	r.UpdatedAt = NormalizeTime(r.UpdatedAt)
}

// NormalizeTime truncates t to millisecond precision in UTC.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC().Truncate(time.Millisecond)
}

// Clone returns a copy of the record.
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// SameContent reports whether two records carry identical replicated state.
// SyncStatus is client-local and ignored.
func (r *TaskRecord) SameContent(other *TaskRecord) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.ID == other.ID &&
		r.Title == other.Title &&
		r.Description == other.Description &&
		r.Status == other.Status &&
		r.Priority == other.Priority &&
		r.EstimatedMinutes == other.EstimatedMinutes &&
		r.ActualMinutes == other.ActualMinutes &&
		r.CreatedAt.Equal(other.CreatedAt) &&
		r.UpdatedAt.Equal(other.UpdatedAt) &&
		r.Source == other.Source
}
