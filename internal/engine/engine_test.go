package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nurse-dispatch/internal/models"
	"github.com/example/nurse-dispatch/internal/request"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureNotifier) Notify(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *captureNotifier, models.ServiceRequest) {
	t.Helper()
	store := request.NewMemoryStore()
	n := &captureNotifier{}
	e := &Engine{Store: store, Notifier: n}
	r, err := store.Create(context.Background(), "patient-1", models.Coordinate{Lat: 0, Lng: 0})
	require.NoError(t, err)
	return e, n, r
}

var (
	patient = models.Actor{UserID: "patient-1", Role: models.RolePatient}
	nurseA  = models.Actor{UserID: "nurse-a", Role: models.RoleNurse}
	nurseB  = models.Actor{UserID: "nurse-b", Role: models.RoleNurse}
	admin   = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

func TestAssignRequiresAdmin(t *testing.T) {
	e, _, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, nurseA, Assign{NurseID: "nurse-a"})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := e.Apply(ctx, r.ID, admin, Assign{NurseID: "nurse-a"})
	require.NoError(t, err)
	assert.Equal(t, models.StateAssigned, updated.State)
	assert.Equal(t, "nurse-a", updated.AssignedNurseID)
	assert.Equal(t, int64(2), updated.Version)
}

func TestAcceptClaimsPendingRequest(t *testing.T) {
	e, _, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, patient, Accept{})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := e.Apply(ctx, r.ID, nurseA, Accept{})
	require.NoError(t, err)
	assert.Equal(t, models.StateAssigned, updated.State)
	assert.Equal(t, nurseA.UserID, updated.AssignedNurseID)
}

func TestCompleteOnlyByAssignedNurseOrAdmin(t *testing.T) {
	e, _, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, admin, Assign{NurseID: nurseA.UserID})
	require.NoError(t, err)

	_, err = e.Apply(ctx, r.ID, nurseB, Complete{})
	assert.ErrorIs(t, err, ErrForbidden)

	updated, err := e.Apply(ctx, r.ID, nurseA, Complete{})
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, updated.State)
	assert.Equal(t, nurseA.UserID, updated.AssignedNurseID, "completed requests keep their assignee")
}

func TestCancelClearsAssigneeAndIsTerminal(t *testing.T) {
	e, _, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, admin, Assign{NurseID: nurseA.UserID})
	require.NoError(t, err)

	_, err = e.Apply(ctx, r.ID, nurseB, Cancel{})
	assert.ErrorIs(t, err, ErrForbidden, "only the owning patient or an admin may cancel")

	updated, err := e.Apply(ctx, r.ID, patient, Cancel{})
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, updated.State)
	assert.Empty(t, updated.AssignedNurseID)

	_, err = e.Apply(ctx, r.ID, nurseA, Accept{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteFromPendingIsRejected(t *testing.T) {
	e, _, r := newTestEngine(t)

	// no assignee yet: a nurse cannot even be authorized
	_, err := e.Apply(context.Background(), r.ID, nurseA, Complete{})
	assert.ErrorIs(t, err, ErrForbidden)

	// an admin is authorized but the edge does not exist
	_, err = e.Apply(context.Background(), r.ID, admin, Complete{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelAfterCompleteIsInvalid(t *testing.T) {
	e, _, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, admin, Assign{NurseID: nurseA.UserID})
	require.NoError(t, err)
	_, err = e.Apply(ctx, r.ID, nurseA, Complete{})
	require.NoError(t, err)

	_, err = e.Apply(ctx, r.ID, patient, Cancel{})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUnknownRequest(t *testing.T) {
	e, _, _ := newTestEngine(t)
	_, err := e.Apply(context.Background(), "missing", admin, Cancel{})
	assert.ErrorIs(t, err, request.ErrNotFound)
}

func TestConcurrentCompleteExactlyOneWins(t *testing.T) {
	e, _, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, admin, Assign{NurseID: nurseA.UserID})
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Apply(ctx, r.ID, nurseA, Complete{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		if err == nil {
			won++
			continue
		}
		lost++
		// the loser either lost the version race or saw the already
		// completed request
		ok := errors.Is(err, ErrInvalidTransition) || errors.Is(err, request.ErrConcurrentModification)
		assert.True(t, ok, "unexpected loser error: %v", err)
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)

	final, err := e.Store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, final.State)
}

func TestRetriesOnVersionConflict(t *testing.T) {
	base := request.NewMemoryStore()
	flaky := &conflictingStore{Store: base, conflicts: 2}
	e := &Engine{Store: flaky}
	r, err := base.Create(context.Background(), "patient-1", models.Coordinate{})
	require.NoError(t, err)

	updated, err := e.Apply(context.Background(), r.ID, nurseA, Accept{})
	require.NoError(t, err)
	assert.Equal(t, models.StateAssigned, updated.State)
	assert.Equal(t, 3, flaky.calls, "two conflicts then a win")
}

func TestRetriesExhausted(t *testing.T) {
	base := request.NewMemoryStore()
	flaky := &conflictingStore{Store: base, conflicts: 10}
	e := &Engine{Store: flaky, MaxAttempts: 3}
	r, err := base.Create(context.Background(), "patient-1", models.Coordinate{})
	require.NoError(t, err)

	_, err = e.Apply(context.Background(), r.ID, nurseA, Accept{})
	assert.ErrorIs(t, err, request.ErrConcurrentModification)
	assert.Equal(t, 3, flaky.calls)
}

func TestNotificationEmittedOnTransition(t *testing.T) {
	e, n, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, nurseA, Accept{})
	require.NoError(t, err)

	require.Len(t, n.events, 1)
	ev := n.events[0]
	assert.Equal(t, r.ID, ev.RequestID)
	assert.Equal(t, models.StatePending, ev.From)
	assert.Equal(t, models.StateAssigned, ev.To)
	assert.Equal(t, nurseA.UserID, ev.ActorID)
	assert.Equal(t, nurseA.UserID, ev.NurseID)
}

func TestCancelEventNamesPreviouslyAssignedNurse(t *testing.T) {
	e, n, r := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Apply(ctx, r.ID, admin, Assign{NurseID: nurseA.UserID})
	require.NoError(t, err)
	_, err = e.Apply(ctx, r.ID, patient, Cancel{})
	require.NoError(t, err)

	require.Len(t, n.events, 2)
	assert.Equal(t, nurseA.UserID, n.events[1].NurseID)
}

// conflictingStore fails Transition with ErrConcurrentModification a fixed
// number of times before delegating.
type conflictingStore struct {
	request.Store
	conflicts int
	calls     int
}

func (c *conflictingStore) Transition(ctx context.Context, id string, expectedVersion int64, mutate request.Mutator) (models.ServiceRequest, error) {
	c.calls++
	if c.calls <= c.conflicts {
		return models.ServiceRequest{}, request.ErrConcurrentModification
	}
	return c.Store.Transition(ctx, id, expectedVersion, mutate)
}
