package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/convhub/convhub/errors"
)

// Workflow decides legal job lifecycle transitions and applies them through
// the store's conditional update. Transitions race: two applicants may apply
// at once, or a lister may accept while a taker unapplies. The store
// serializes them by failing the stale write with ErrConflict, and the
// workflow retries exactly once by re-reading and re-validating before
// surfacing the conflict to the caller.
type Workflow struct {
	store    *Store
	notifier *Notifier
	logger   *zap.SugaredLogger
}

// NewWorkflow wires the workflow to its collaborators. The notifier may be
// nil when nothing observes job changes (e.g. in CLI one-shot commands).
func NewWorkflow(store *Store, notifier *Notifier, logger *zap.SugaredLogger) *Workflow {
	return &Workflow{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Apply appends a pending applicant for userID.
//
// Legal only if the job is untaken, has no taker, userID is not the lister,
// and userID has not already applied. A duplicate apply is rejected with
// ErrInvalidTransition rather than silently duplicating the entry.
// Self-application by the lister is disallowed.
func (w *Workflow) Apply(ctx context.Context, jobID, userID string) (*Job, error) {
	return w.transition(ctx, jobID, func(j *Job) error {
		if j.Status != StatusUntaken || j.Taker != "" {
			return errors.NewInvalidTransition("job %s is not open for applications (status: %s)", j.ID, j.Status)
		}
		if userID == j.Lister {
			return errors.NewInvalidTransition("lister %s cannot apply to their own job", userID)
		}
		if j.HasApplicant(userID) {
			return errors.NewInvalidTransition("user %s already applied to job %s", userID, j.ID)
		}
		j.Applicants = append(j.Applicants, Applicant{UserID: userID, Status: ApplicantPending})
		return nil
	})
}

// Unapply removes userID's pending application. Fails with ErrNotFound,
// leaving the applicant list unchanged, if no pending entry exists.
func (w *Workflow) Unapply(ctx context.Context, jobID, userID string) (*Job, error) {
	return w.transition(ctx, jobID, func(j *Job) error {
		for i, a := range j.Applicants {
			if a.UserID == userID && a.Status == ApplicantPending {
				j.Applicants = append(j.Applicants[:i], j.Applicants[i+1:]...)
				return nil
			}
		}
		return errors.NewNotFound("applicant %s on job %s", userID, j.ID)
	})
}

// Accept marks applicantID's entry accepted and assigns them as the job's
// taker, moving the job to taken. Legal only while the job is untaken.
// Other pending applicants are left untouched to preserve history; they are
// no longer actionable once the status leaves untaken.
func (w *Workflow) Accept(ctx context.Context, jobID, applicantID, actor string) (*Job, error) {
	return w.transition(ctx, jobID, func(j *Job) error {
		if actor != j.Lister {
			return errors.NewInvalidTransition("only the lister may accept applicants for job %s", j.ID)
		}
		if j.Status != StatusUntaken {
			return errors.NewInvalidTransition("job %s cannot accept applicants (status: %s)", j.ID, j.Status)
		}
		idx := -1
		for i, a := range j.Applicants {
			if a.UserID == applicantID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return errors.NewNotFound("applicant %s on job %s", applicantID, j.ID)
		}
		now := time.Now()
		j.Applicants[idx].Status = ApplicantAccepted
		j.Taker = applicantID
		j.Status = StatusTaken
		j.TakenAt = &now
		return nil
	})
}

// Finish records the payment proof reference and moves the job to finished.
// Legal only while the job is taken.
func (w *Workflow) Finish(ctx context.Context, jobID, paymentProofRef, actor string) (*Job, error) {
	return w.transition(ctx, jobID, func(j *Job) error {
		if actor != j.Lister {
			return errors.NewInvalidTransition("only the lister may finish job %s", j.ID)
		}
		if j.Status != StatusTaken {
			return errors.NewInvalidTransition("job %s cannot be finished (status: %s)", j.ID, j.Status)
		}
		j.PaymentProofRef = paymentProofRef
		j.Status = StatusFinished
		return nil
	})
}

// Rate records a rating on a finished job.
func (w *Workflow) Rate(ctx context.Context, jobID string, rating float64, actor string) (*Job, error) {
	return w.transition(ctx, jobID, func(j *Job) error {
		if actor != j.Lister {
			return errors.NewInvalidTransition("only the lister may rate job %s", j.ID)
		}
		if j.Status != StatusFinished {
			return errors.NewInvalidTransition("job %s cannot be rated (status: %s)", j.ID, j.Status)
		}
		if rating < 0 || rating > 5 {
			return errors.Newf("rating must be between 0 and 5, got %.1f", rating)
		}
		j.Rating = rating
		return nil
	})
}

// transition applies a single atomic read-validate-write cycle against the
// store. On ErrConflict the cycle is retried once with a fresh read; the
// mutation re-validates against the new state, so a transition that became
// illegal after the race is reported as such instead of blindly re-applied.
func (w *Workflow) transition(ctx context.Context, jobID string, mutate func(*Job) error) (*Job, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		j, err := w.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if err := j.CheckIntegrity(); err != nil {
			w.logger.Errorw("Job record violates taker invariant",
				"job_id", j.ID,
				"status", j.Status,
				"taker", j.Taker,
				"error", err,
			)
		}

		expected := j.Version
		if err := mutate(j); err != nil {
			return nil, err
		}

		err = w.store.UpdateIf(ctx, j, expected)
		if err == nil {
			w.publish(j)
			return j, nil
		}
		if !errors.IsConflict(err) {
			return nil, err
		}

		lastErr = err
		w.logger.Debugw("Transition lost a write race, retrying once",
			"job_id", jobID,
			"expected_version", expected,
			"attempt", attempt+1,
		)
	}
	return nil, lastErr
}

// publish pushes the refreshed job to subscribers after a confirmed write.
func (w *Workflow) publish(j *Job) {
	if w.notifier == nil {
		return
	}
	w.notifier.Publish(j)
}
