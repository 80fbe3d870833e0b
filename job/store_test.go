package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convhub/convhub/errors"
	convtest "github.com/convhub/convhub/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(convtest.CreateTestDB(t))
}

func mustCreate(t *testing.T, store *Store, title, lister string, categories ...string) *Job {
	t.Helper()
	j, err := NewJob(title, "Jl. Anggrek 7", "details", 200, categories, lister)
	require.NoError(t, err)
	_, err = store.Create(context.Background(), j)
	require.NoError(t, err)
	return j
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created := mustCreate(t, store, "Walk my dog", "lister-1", "Pets")
	created.Applicants = []Applicant{{UserID: "U1", Status: ApplicantPending}}
	require.NoError(t, store.UpdateIf(ctx, created, 1))

	got, err := store.Get(ctx, created.ID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Walk my dog", got.Title)
	assert.Equal(t, []string{"Pets"}, got.Categories)
	assert.Equal(t, StatusUntaken, got.Status)
	assert.Equal(t, []Applicant{{UserID: "U1", Status: ApplicantPending}}, got.Applicants)
	assert.Equal(t, int64(2), got.Version)
}

func TestStoreGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no-such-job")
	assert.True(t, errors.IsNotFound(err), "expected not-found, got: %v", err)
}

func TestStoreReportsBackendUnavailable(t *testing.T) {
	conn := convtest.CreateTestDB(t)
	store := NewStore(conn)
	require.NoError(t, conn.Close())

	j, err := NewJob("Walk my dog", "Jl. Anggrek 7", "details", 200, nil, "lister-1")
	require.NoError(t, err)

	_, err = store.Create(context.Background(), j)
	assert.True(t, errors.IsBackendUnavailable(err), "expected backend-unavailable, got: %v", err)
}

func TestStoreConditionalUpdateRejectsStaleVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Paint the fence", "lister-1")

	// Two actors read the same version.
	first, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	second, err := store.Get(ctx, j.ID)
	require.NoError(t, err)

	first.Applicants = []Applicant{{UserID: "U1", Status: ApplicantPending}}
	require.NoError(t, store.UpdateIf(ctx, first, first.Version))

	// The second write was based on a state that no longer exists.
	second.Applicants = []Applicant{{UserID: "U2", Status: ApplicantPending}}
	err = store.UpdateIf(ctx, second, second.Version)
	assert.True(t, errors.IsConflict(err), "expected conflict, got: %v", err)

	// The first outcome is intact.
	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, []Applicant{{UserID: "U1", Status: ApplicantPending}}, got.Applicants)
}

func TestStoreConditionalUpdateOnVanishedRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Mow the lawn", "lister-1")
	read, err := store.Get(ctx, j.ID)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, j.ID))

	err = store.UpdateIf(ctx, read, read.Version)
	assert.True(t, errors.IsNotFound(err), "expected not-found, got: %v", err)
}

func TestStoreDeleteMissing(t *testing.T) {
	store := newTestStore(t)

	err := store.Delete(context.Background(), "no-such-job")
	assert.True(t, errors.IsNotFound(err), "expected not-found, got: %v", err)
}

func TestStoreRoleScopedListings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	open := mustCreate(t, store, "Open job", "lister-1")
	taken := mustCreate(t, store, "Taken job", "lister-1")
	finished := mustCreate(t, store, "Finished job", "lister-1")
	mustCreate(t, store, "Other lister", "lister-2")

	now := time.Now()
	taken.Status = StatusTaken
	taken.Taker = "taker-1"
	taken.TakenAt = &now
	require.NoError(t, store.UpdateIf(ctx, taken, 1))

	finished.Status = StatusFinished
	finished.Taker = "taker-1"
	finished.TakenAt = &now
	finished.PaymentProofRef = "/files/payment_proof/x.jpg"
	require.NoError(t, store.UpdateIf(ctx, finished, 1))

	available, err := store.AvailableJobs(ctx, "lister-1")
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, open.ID, available[0].ID)

	takerJobs, err := store.TakenJobs(ctx, "taker-1")
	require.NoError(t, err)
	assert.Len(t, takerJobs, 2)

	previous, err := store.PreviousJobs(ctx, "lister-1")
	require.NoError(t, err)
	assert.Len(t, previous, 2)

	none, err := store.TakenJobs(ctx, "taker-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStoreJobsByDateBoundaries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	day := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	lastMoment := time.Date(2024, 5, 1, 23, 59, 59, 999_000_000, time.UTC)
	inside := mustCreate(t, store, "Inside the day", "lister-1")
	inside.Status = StatusTaken
	inside.Taker = "taker-1"
	inside.TakenAt = &lastMoment
	require.NoError(t, store.UpdateIf(ctx, inside, 1))

	nextMidnight := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	outside := mustCreate(t, store, "Next day", "lister-1")
	outside.Status = StatusTaken
	outside.Taker = "taker-1"
	outside.TakenAt = &nextMidnight
	require.NoError(t, store.UpdateIf(ctx, outside, 1))

	jobs, err := store.JobsByDateAndTaker(ctx, day, "taker-1")
	require.NoError(t, err)
	require.Len(t, jobs, 1, "23:59:59.999 is inside the day, next midnight is not")
	assert.Equal(t, inside.ID, jobs[0].ID)
}

func TestStoreJobsByPreferredFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tech := mustCreate(t, store, "Fix laptop", "lister-1", "Tech")
	mustCreate(t, store, "Clean house", "lister-1", "Cleaning")
	both := mustCreate(t, store, "Install smart lock", "lister-2", "Tech", "Home")

	all, err := store.JobsByPreferredFields(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3, "empty fields matches the full job set")

	techOnly, err := store.JobsByPreferredFields(ctx, []string{"Tech"})
	require.NoError(t, err)
	require.Len(t, techOnly, 2)
	ids := []string{techOnly[0].ID, techOnly[1].ID}
	assert.Contains(t, ids, tech.ID)
	assert.Contains(t, ids, both.ID)

	nothing, err := store.JobsByPreferredFields(ctx, []string{"Gardening"})
	require.NoError(t, err)
	assert.Empty(t, nothing)
}
