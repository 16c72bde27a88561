// Package buspass is the application workflow: draft validation, photo
// staging, the submission sequence and the read paths that render a pass.
package buspass

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusApproved is the only status this service writes.
const StatusApproved = "approved"

// Record is a persisted application. JSON names follow the students table.
type Record struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	RegNo             string    `json:"regno"`
	College           string    `json:"college"`
	Address           string    `json:"address"`
	DestinationFrom   string    `json:"destination_from"`
	DestinationTo     string    `json:"destination_to"`
	Via1              string    `json:"via_1,omitempty"`
	Via2              string    `json:"via_2,omitempty"`
	PhotoURL          string    `json:"photo_url,omitempty"`
	QRCode            string    `json:"qr_code"`
	ApplicationStatus string    `json:"application_status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Vias lists the waypoints that are set, in order.
func (r Record) Vias() []string {
	var out []string
	for _, v := range []string{r.Via1, r.Via2} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Store is the relational store holding records.
type Store interface {
	Insert(ctx context.Context, rec Record) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	// GetByUser returns the user's most recent record.
	GetByUser(ctx context.Context, userID string) (Record, error)
}

var (
	// ErrNotFound is the store's "no row" signal.
	ErrNotFound = errors.New("no pass record found")
	// ErrSubmissionInProgress rejects a second submission while one is running.
	ErrSubmissionInProgress = errors.New("a submission is already in progress")
)

// Step names a stage of the submission sequence.
type Step string

const (
	StepUpload    Step = "upload"
	StepQRPayload Step = "qr_payload"
	StepInsert    Step = "insert"
)

// StepError reports which submission step failed.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	switch e.Step {
	case StepUpload:
		return fmt.Sprintf("Failed to upload photo: %v", e.Err)
	case StepInsert:
		return fmt.Sprintf("Failed to save application: %v", e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
}

func (e *StepError) Unwrap() error { return e.Err }
