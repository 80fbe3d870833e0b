// Package job implements the ConvHub job lifecycle: the canonical job store,
// the application workflow state machine, role-scoped listing queries, and
// push notification of job changes to interested observers.
package job

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/convhub/convhub/errors"
)

// Status represents the lifecycle state of a job.
// Jobs move untaken → taken → finished; finished is terminal.
type Status string

const (
	StatusUntaken  Status = "untaken"
	StatusTaken    Status = "taken"
	StatusFinished Status = "finished"
)

// IsValidStatus returns true if the status string is a valid Status.
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusUntaken, StatusTaken, StatusFinished:
		return true
	default:
		return false
	}
}

// ApplicantStatus represents the state of a single application.
type ApplicantStatus string

const (
	ApplicantPending  ApplicantStatus = "pending"
	ApplicantAccepted ApplicantStatus = "accepted"
)

// Applicant records a user's bid to take a job.
// Created on apply, removed on unapply, mutated to accepted on acceptance.
// Exactly one applicant may become accepted per job.
type Applicant struct {
	UserID string          `json:"user_id"`
	Status ApplicantStatus `json:"status"`
}

// Job is a postable task with a price, location, and lifecycle status.
//
// Invariants:
//   - Status ∈ {taken, finished} ⟺ Taker != ""
//   - a user identity appears at most once among Applicants
//
// Version is the optimistic-concurrency token: every confirmed write
// increments it, and conditional updates fail with ErrConflict when the
// stored version no longer matches the one read.
type Job struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	Address         string      `json:"address"`
	Description     string      `json:"description"`
	Price           int         `json:"price"`
	Categories      []string    `json:"categories"`
	ImageRefs       []string    `json:"image_refs"`
	Lister          string      `json:"lister"`
	Taker           string      `json:"taker,omitempty"`
	Status          Status      `json:"status"`
	PostedAt        time.Time   `json:"posted_at"`
	TakenAt         *time.Time  `json:"taken_at,omitempty"`
	PaymentProofRef string      `json:"payment_proof_ref,omitempty"`
	Rating          float64     `json:"rating,omitempty"`
	Applicants      []Applicant `json:"applicants"`
	Version         int64       `json:"version"`
}

// NewJob constructs a validated job record ready for Store.Create.
// Required fields are checked up front so no invalid record ever
// reaches the store.
func NewJob(title, address, description string, price int, categories []string, lister string) (*Job, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("job title cannot be empty")
	}
	if strings.TrimSpace(lister) == "" {
		return nil, errors.New("job lister cannot be empty")
	}
	if price <= 0 {
		return nil, errors.Newf("job price must be positive, got %d", price)
	}

	return &Job{
		ID:          uuid.NewString(),
		Title:       title,
		Address:     address,
		Description: description,
		Price:       price,
		Categories:  categories,
		ImageRefs:   []string{},
		Lister:      lister,
		Status:      StatusUntaken,
		PostedAt:    time.Now(),
		Applicants:  []Applicant{},
	}, nil
}

// ApplicantFor returns the applicant entry for userID, if present.
func (j *Job) ApplicantFor(userID string) (Applicant, bool) {
	for _, a := range j.Applicants {
		if a.UserID == userID {
			return a, true
		}
	}
	return Applicant{}, false
}

// HasApplicant reports whether userID already appears among the applicants.
func (j *Job) HasApplicant(userID string) bool {
	_, ok := j.ApplicantFor(userID)
	return ok
}

// HasCategoryIn reports whether the job's category tags intersect fields.
// An empty fields list matches everything.
func (j *Job) HasCategoryIn(fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, c := range j.Categories {
		for _, f := range fields {
			if c == f {
				return true
			}
		}
	}
	return false
}

// CheckIntegrity verifies the taker invariant: a taken or finished job must
// have a non-empty taker, and an untaken job must not. A violation is a
// data-integrity error to be logged by the caller, never silently corrected.
func (j *Job) CheckIntegrity() error {
	assigned := j.Taker != ""
	switch j.Status {
	case StatusTaken, StatusFinished:
		if !assigned {
			return errors.AssertionFailedf("job %s has status %s but no taker", j.ID, j.Status)
		}
	case StatusUntaken:
		if assigned {
			return errors.AssertionFailedf("job %s is untaken but has taker %s", j.ID, j.Taker)
		}
	}
	seen := make(map[string]bool, len(j.Applicants))
	for _, a := range j.Applicants {
		if seen[a.UserID] {
			return errors.AssertionFailedf("job %s lists applicant %s twice", j.ID, a.UserID)
		}
		seen[a.UserID] = true
	}
	return nil
}

// Identity supplies the current actor's opaque identity for authorization
// checks. Implementations are provided by the transport layer; this package
// only consumes the interface.
type Identity interface {
	CurrentActor(ctx context.Context) (string, error)
}
