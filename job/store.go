package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/convhub/convhub/errors"
)

// Store owns the canonical job records. It is the only writer of job state:
// all applicant and lifecycle mutations flow through UpdateIf, which applies
// a conditional write keyed on the record's version so concurrent actors
// cannot silently overwrite each other.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const jobColumns = `id, title, address, description, price, categories, image_refs,
	lister, taker, status, posted_at, taken_at, payment_proof_ref, rating,
	applicants, version`

// Create inserts a new job record and returns its id.
func (s *Store) Create(ctx context.Context, j *Job) (string, error) {
	categories, imageRefs, applicants, err := marshalDocFields(j)
	if err != nil {
		return "", err
	}

	query := `
		INSERT INTO jobs (` + jobColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, CURRENT_TIMESTAMP)
	`

	_, err = s.db.ExecContext(ctx, query,
		j.ID,
		j.Title,
		j.Address,
		j.Description,
		j.Price,
		categories,
		imageRefs,
		j.Lister,
		j.Taker,
		j.Status,
		j.PostedAt.UTC(),
		nullableTime(j.TakenAt),
		j.PaymentProofRef,
		j.Rating,
		applicants,
	)
	if err != nil {
		return "", backendErrorf(err, "failed to create job")
	}

	j.Version = 1
	return j.ID, nil
}

// Get retrieves a job by id. Returns ErrNotFound if no such record exists.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

	j, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFound("job %s", id)
	}
	if err != nil {
		return nil, backendErrorf(err, "failed to get job %s", id)
	}
	return j, nil
}

// UpdateIf writes the mutated job back only if the stored version still
// matches expectedVersion. On success the job's version is incremented.
// Fails with ErrConflict if the stored record changed since it was read,
// and with ErrNotFound if the record vanished.
func (s *Store) UpdateIf(ctx context.Context, j *Job, expectedVersion int64) error {
	categories, imageRefs, applicants, err := marshalDocFields(j)
	if err != nil {
		return err
	}

	query := `
		UPDATE jobs
		SET title = ?,
		    address = ?,
		    description = ?,
		    price = ?,
		    categories = ?,
		    image_refs = ?,
		    taker = ?,
		    status = ?,
		    taken_at = ?,
		    payment_proof_ref = ?,
		    rating = ?,
		    applicants = ?,
		    version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		j.Title,
		j.Address,
		j.Description,
		j.Price,
		categories,
		imageRefs,
		j.Taker,
		j.Status,
		nullableTime(j.TakenAt),
		j.PaymentProofRef,
		j.Rating,
		applicants,
		j.ID,
		expectedVersion,
	)
	if err != nil {
		return backendErrorf(err, "failed to update job %s", j.ID)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read update result")
	}
	if affected == 0 {
		// Distinguish a lost race from a vanished record.
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM jobs WHERE id = ?", j.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return errors.NewNotFound("job %s", j.ID)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to check job %s after conflicting update", j.ID)
		}
		return errors.Wrapf(errors.ErrConflict, "job %s changed since version %d was read", j.ID, expectedVersion)
	}

	j.Version = expectedVersion + 1
	return nil
}

// Delete removes a job record. Returns ErrNotFound if absent.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return backendErrorf(err, "failed to delete job %s", id)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read delete result")
	}
	if affected == 0 {
		return errors.NewNotFound("job %s", id)
	}
	return nil
}

// AvailableJobs returns the lister's jobs that are still untaken.
func (s *Store) AvailableJobs(ctx context.Context, listerID string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE lister = ? AND status = ? ORDER BY posted_at DESC`
	return s.queryJobs(ctx, query, listerID, StatusUntaken)
}

// TakenJobs returns the jobs the taker has been accepted for, including
// finished ones.
func (s *Store) TakenJobs(ctx context.Context, takerID string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE taker = ? AND status IN (?, ?) ORDER BY posted_at DESC`
	return s.queryJobs(ctx, query, takerID, StatusTaken, StatusFinished)
}

// PreviousJobs returns the lister's jobs that have been taken or finished.
func (s *Store) PreviousJobs(ctx context.Context, listerID string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE lister = ? AND status IN (?, ?) ORDER BY posted_at DESC`
	return s.queryJobs(ctx, query, listerID, StatusTaken, StatusFinished)
}

// JobsByDateAndTaker returns the taker's jobs whose taken timestamp falls
// within the calendar day of date, inclusive on both boundaries. Day
// boundaries are computed in date's location (the caller's local calendar).
func (s *Store) JobsByDateAndTaker(ctx context.Context, date time.Time, takerID string) ([]*Job, error) {
	startOfDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	endOfDay := startOfDay.Add(24*time.Hour - time.Millisecond)

	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE taker = ? AND taken_at >= ? AND taken_at <= ? ORDER BY taken_at ASC`
	return s.queryJobs(ctx, query, takerID, startOfDay.UTC(), endOfDay.UTC())
}

// JobsByPreferredFields returns all jobs whose category tags intersect
// fields. An empty fields list matches every job. Filtering happens after
// the read since tags are part of the job document, not a relational column.
func (s *Store) JobsByPreferredFields(ctx context.Context, fields []string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY posted_at DESC`
	jobs, err := s.queryJobs(ctx, query)
	if err != nil {
		return nil, err
	}

	matched := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		if j.HasCategoryIn(fields) {
			matched = append(matched, j)
		}
	}
	return matched, nil
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backendErrorf(err, "failed to query jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job row")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate job rows")
	}
	return jobs, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j          Job
		categories string
		imageRefs  string
		applicants string
		takenAt    sql.NullTime
	)

	err := row.Scan(
		&j.ID,
		&j.Title,
		&j.Address,
		&j.Description,
		&j.Price,
		&categories,
		&imageRefs,
		&j.Lister,
		&j.Taker,
		&j.Status,
		&j.PostedAt,
		&takenAt,
		&j.PaymentProofRef,
		&j.Rating,
		&applicants,
		&j.Version,
	)
	if err != nil {
		return nil, err
	}

	if takenAt.Valid {
		t := takenAt.Time
		j.TakenAt = &t
	}
	if err := json.Unmarshal([]byte(categories), &j.Categories); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal categories for job %s", j.ID)
	}
	if err := json.Unmarshal([]byte(imageRefs), &j.ImageRefs); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal image refs for job %s", j.ID)
	}
	if err := json.Unmarshal([]byte(applicants), &j.Applicants); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal applicants for job %s", j.ID)
	}

	return &j, nil
}

func marshalDocFields(j *Job) (categories, imageRefs, applicants string, err error) {
	c, err := json.Marshal(emptyIfNil(j.Categories))
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal categories")
	}
	i, err := json.Marshal(emptyIfNil(j.ImageRefs))
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal image refs")
	}
	a, err := json.Marshal(j.Applicants)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal applicants")
	}
	if j.Applicants == nil {
		a = []byte("[]")
	}
	return string(c), string(i), string(a), nil
}

// backendErrorf marks a storage failure as backend-unavailable while
// preserving the underlying cause for logs.
func backendErrorf(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errors.ErrBackendUnavailable)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
