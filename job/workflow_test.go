package job

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/convhub/convhub/errors"
	convtest "github.com/convhub/convhub/internal/testing"
)

func newTestWorkflow(t *testing.T) (*Workflow, *Store, *Notifier) {
	t.Helper()
	store := NewStore(convtest.CreateTestDB(t))
	notifier := NewNotifier()
	return NewWorkflow(store, notifier, zap.NewNop().Sugar()), store, notifier
}

func TestApplyAppendsPendingApplicant(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")

	updated, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, []Applicant{{UserID: "U1", Status: ApplicantPending}}, updated.Applicants)
	assert.Equal(t, StatusUntaken, updated.Status)
}

func TestApplyTwiceIsRejected(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")

	_, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)

	_, err = wf.Apply(ctx, j.ID, "U1")
	assert.True(t, errors.IsInvalidTransition(err), "duplicate apply must be rejected, got: %v", err)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Len(t, got.Applicants, 1, "exactly one applicant entry for the user")
}

func TestApplyToOwnJobIsRejected(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)

	j := mustCreate(t, store, "Assemble shelf", "lister-1")

	_, err := wf.Apply(context.Background(), j.ID, "lister-1")
	assert.True(t, errors.IsInvalidTransition(err), "self-application must be rejected, got: %v", err)
}

func TestApplyToMissingJob(t *testing.T) {
	wf, _, _ := newTestWorkflow(t)

	_, err := wf.Apply(context.Background(), "no-such-job", "U1")
	assert.True(t, errors.IsNotFound(err))
}

func TestConcurrentAppliesBothLand(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")

	// One of the two racing applies loses the conditional write and must
	// succeed on its automatic retry.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"U1", "U2"} {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			_, errs[i] = wf.Apply(ctx, j.ID, user)
		}(i, user)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Len(t, got.Applicants, 2)
}

func TestTransitionSurfacesConflictWhenRacesPersist(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")

	// A rival write lands between every read and its conditional update, so
	// both the first attempt and the single retry lose; the conflict must
	// reach the caller instead of looping forever.
	_, err := wf.transition(ctx, j.ID, func(fresh *Job) error {
		rival, err := store.Get(ctx, j.ID)
		if err != nil {
			return err
		}
		rival.Description = "changed out-of-band"
		if err := store.UpdateIf(ctx, rival, rival.Version); err != nil {
			return err
		}
		fresh.Price++
		return nil
	})
	assert.True(t, errors.IsConflict(err), "expected conflict after exhausted retry, got: %v", err)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "changed out-of-band", got.Description, "only the rival writes landed")
	assert.Equal(t, 200, got.Price)
}

func TestUnapplyRemovesPendingApplicant(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")
	_, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)

	updated, err := wf.Unapply(ctx, j.ID, "U1")
	require.NoError(t, err)
	assert.Empty(t, updated.Applicants)
}

func TestUnapplyWithoutApplicationFails(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")
	_, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)

	_, err = wf.Unapply(ctx, j.ID, "U2")
	assert.True(t, errors.IsNotFound(err), "expected not-found, got: %v", err)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Len(t, got.Applicants, 1, "applicant list unchanged after failed unapply")
}

func TestAcceptAssignsTakerAndStatus(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")
	_, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)
	_, err = wf.Apply(ctx, j.ID, "U2")
	require.NoError(t, err)

	updated, err := wf.Accept(ctx, j.ID, "U1", "lister-1")
	require.NoError(t, err)

	assert.Equal(t, StatusTaken, updated.Status)
	assert.Equal(t, "U1", updated.Taker)
	require.NotNil(t, updated.TakenAt)

	accepted, ok := updated.ApplicantFor("U1")
	require.True(t, ok)
	assert.Equal(t, ApplicantAccepted, accepted.Status)

	// The other applicant is preserved, still pending.
	other, ok := updated.ApplicantFor("U2")
	require.True(t, ok)
	assert.Equal(t, ApplicantPending, other.Status)
}

func TestSecondAcceptLeavesFirstOutcomeIntact(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")
	_, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)
	_, err = wf.Apply(ctx, j.ID, "U2")
	require.NoError(t, err)

	_, err = wf.Accept(ctx, j.ID, "U1", "lister-1")
	require.NoError(t, err)

	_, err = wf.Accept(ctx, j.ID, "U2", "lister-1")
	assert.Error(t, err, "a second accept must fail")
	assert.True(t, errors.IsInvalidTransition(err),
		"re-validation after the race reports the job is no longer untaken, got: %v", err)

	got, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, "U1", got.Taker)
	assert.Equal(t, StatusTaken, got.Status)

	acceptedCount := 0
	for _, a := range got.Applicants {
		if a.Status == ApplicantAccepted {
			acceptedCount++
		}
	}
	assert.Equal(t, 1, acceptedCount, "exactly one accepted applicant per job")
}

func TestAcceptRequiresLister(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")
	_, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)

	_, err = wf.Accept(ctx, j.ID, "U1", "U2")
	assert.True(t, errors.IsInvalidTransition(err))
}

func TestFinishOnlyFromTaken(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")

	_, err := wf.Finish(ctx, j.ID, "/files/proof.jpg", "lister-1")
	assert.True(t, errors.IsInvalidTransition(err), "finishing an untaken job must fail")

	_, err = wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)
	_, err = wf.Accept(ctx, j.ID, "U1", "lister-1")
	require.NoError(t, err)

	updated, err := wf.Finish(ctx, j.ID, "/files/proof.jpg", "lister-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, updated.Status)
	assert.Equal(t, "/files/proof.jpg", updated.PaymentProofRef)

	_, err = wf.Finish(ctx, j.ID, "/files/proof2.jpg", "lister-1")
	assert.True(t, errors.IsInvalidTransition(err), "finishing a finished job must fail")
}

func TestRateOnlyWhenFinished(t *testing.T) {
	wf, store, _ := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")
	_, err := wf.Rate(ctx, j.ID, 4.5, "lister-1")
	assert.True(t, errors.IsInvalidTransition(err))

	_, err = wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)
	_, err = wf.Accept(ctx, j.ID, "U1", "lister-1")
	require.NoError(t, err)
	_, err = wf.Finish(ctx, j.ID, "/files/proof.jpg", "lister-1")
	require.NoError(t, err)

	updated, err := wf.Rate(ctx, j.ID, 4.5, "lister-1")
	require.NoError(t, err)
	assert.Equal(t, 4.5, updated.Rating)

	_, err = wf.Rate(ctx, j.ID, 9, "lister-1")
	assert.Error(t, err, "ratings above 5 are rejected")
}

func TestTransitionsPublishToSubscribers(t *testing.T) {
	wf, store, notifier := newTestWorkflow(t)
	ctx := context.Background()

	j := mustCreate(t, store, "Assemble shelf", "lister-1")

	sub := notifier.Subscribe(j.ID, "observer-1")
	defer sub.Cancel()

	_, err := wf.Apply(ctx, j.ID, "U1")
	require.NoError(t, err)

	select {
	case update := <-sub.C:
		assert.Equal(t, j.ID, update.ID)
		assert.Len(t, update.Applicants, 1)
	default:
		t.Fatal("expected an applicant update after a confirmed write")
	}
}
