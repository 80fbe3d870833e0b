package job

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/convhub/convhub/db"
)

// Queries is the read side of the job store: role- and status-scoped
// projections used for listings. Results are advisory, so a backend failure
// degrades to an empty listing instead of propagating. The failure is still
// logged so "backend down" stays distinguishable from "legitimately empty";
// mutating operations never get this treatment.
type Queries struct {
	store  *Store
	logger *zap.SugaredLogger
}

// NewQueries creates the listing query layer over the store.
func NewQueries(store *Store, logger *zap.SugaredLogger) *Queries {
	return &Queries{store: store, logger: logger}
}

// AvailableJobs lists the lister's jobs still open for applications.
func (q *Queries) AvailableJobs(ctx context.Context, listerID string) []*Job {
	jobs, err := q.store.AvailableJobs(ctx, listerID)
	return q.softFail("available_jobs", jobs, err, "lister", listerID)
}

// TakenJobs lists jobs the taker was accepted for, including finished ones.
func (q *Queries) TakenJobs(ctx context.Context, takerID string) []*Job {
	jobs, err := q.store.TakenJobs(ctx, takerID)
	return q.softFail("taken_jobs", jobs, err, "taker", takerID)
}

// PreviousJobs lists the lister's jobs that have been taken or finished.
func (q *Queries) PreviousJobs(ctx context.Context, listerID string) []*Job {
	jobs, err := q.store.PreviousJobs(ctx, listerID)
	return q.softFail("previous_jobs", jobs, err, "lister", listerID)
}

// JobsByDateAndTaker lists the taker's jobs taken within the calendar day
// of date, using the caller's local day boundaries inclusive.
func (q *Queries) JobsByDateAndTaker(ctx context.Context, date time.Time, takerID string) []*Job {
	jobs, err := q.store.JobsByDateAndTaker(ctx, date, takerID)
	return q.softFail("jobs_by_date", jobs, err, "taker", takerID)
}

// JobsByPreferredFields lists jobs whose category tags intersect fields.
// Empty fields matches everything.
func (q *Queries) JobsByPreferredFields(ctx context.Context, fields []string) []*Job {
	jobs, err := q.store.JobsByPreferredFields(ctx, fields)
	return q.softFail("jobs_by_preferred_fields", jobs, err, "fields", fields)
}

func (q *Queries) softFail(query string, jobs []*Job, err error, keysAndValues ...interface{}) []*Job {
	if err != nil {
		fields := append([]interface{}{"query", query, "error", err}, keysAndValues...)
		if db.IsDatabaseClosed(err) {
			// Expected during shutdown, not a backend outage
			q.logger.Warnw("Listing query hit closed database, returning empty result", fields...)
		} else {
			q.logger.Errorw("Listing query failed, returning empty result", fields...)
		}
		return []*Job{}
	}
	for _, j := range jobs {
		if ierr := j.CheckIntegrity(); ierr != nil {
			q.logger.Errorw("Job record violates taker invariant",
				"query", query,
				"job_id", j.ID,
				"error", ierr,
			)
		}
	}
	if jobs == nil {
		return []*Job{}
	}
	return jobs
}
