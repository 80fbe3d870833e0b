package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	convtest "github.com/convhub/convhub/internal/testing"
)

func TestQueriesSoftFailOnBackendError(t *testing.T) {
	conn := convtest.CreateTestDB(t)
	store := NewStore(conn)
	q := NewQueries(store, zap.NewNop().Sugar())

	// Simulate the backend going away mid-session.
	conn.Close()

	assert.Empty(t, q.AvailableJobs(context.Background(), "lister-1"))
	assert.Empty(t, q.TakenJobs(context.Background(), "taker-1"))
	assert.Empty(t, q.PreviousJobs(context.Background(), "lister-1"))
	assert.Empty(t, q.JobsByPreferredFields(context.Background(), nil))
	assert.Empty(t, q.JobsByDateAndTaker(context.Background(), time.Now(), "taker-1"))
}

func TestQueriesReturnEmptySliceNotNil(t *testing.T) {
	store := newTestStore(t)
	q := NewQueries(store, zap.NewNop().Sugar())

	jobs := q.AvailableJobs(context.Background(), "nobody")
	assert.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

func TestQueriesListAvailable(t *testing.T) {
	store := newTestStore(t)
	q := NewQueries(store, zap.NewNop().Sugar())
	ctx := context.Background()

	j := mustCreate(t, store, "Open job", "lister-1")

	jobs := q.AvailableJobs(ctx, "lister-1")
	require.Len(t, jobs, 1)
	assert.Equal(t, j.ID, jobs[0].ID)
}
