package lifecycle

import (
	"testing"
	"time"

	"promoshot/internal/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore(clock *fakeClock) *Store {
	return NewStore(Options{TTL: time.Minute, Buffer: 4, Now: clock.Now})
}

func TestTransitionIsForwardOnly(t *testing.T) {
	store := newTestStore(&fakeClock{t: time.Unix(1000, 0)})

	state := store.Track(1, 7, entity.GenerationStatusPending)
	assert.Equal(t, entity.GenerationStatusPending, state.Status)

	_, changed := store.Transition(1, 7, entity.GenerationStatusProcessing, "")
	assert.True(t, changed)

	state, changed = store.Transition(1, 7, entity.GenerationStatusFailed, "boom")
	require.True(t, changed)
	assert.Equal(t, "boom", state.ErrorMessage)

	state, changed = store.Transition(1, 7, entity.GenerationStatusCompleted, "")
	assert.False(t, changed)
	assert.Equal(t, entity.GenerationStatusFailed, state.Status)

	_, changed = store.Transition(1, 7, entity.GenerationStatusProcessing, "")
	assert.False(t, changed)
}

func TestProgressCountsCompletedKnownSteps(t *testing.T) {
	store := newTestStore(&fakeClock{t: time.Unix(1000, 0)})
	store.Track(2, 1, entity.GenerationStatusProcessing)

	state, ok := store.RecordStep(2, entity.StepWorkflowStarted, entity.LogStatusStarted)
	require.True(t, ok)
	assert.Zero(t, state.Progress)

	state, _ = store.RecordStep(2, entity.StepImageUpload, entity.LogStatusCompleted)
	assert.InDelta(t, 0.2, state.Progress, 1e-9)

	// 重复与未知步骤不计入
	state, _ = store.RecordStep(2, entity.StepImageUpload, entity.LogStatusCompleted)
	state, _ = store.RecordStep(2, entity.StepN8nExecution, entity.LogStatusCompleted)
	assert.InDelta(t, 0.2, state.Progress, 1e-9)

	state, _ = store.RecordStep(2, entity.StepAIProcessing, entity.LogStatusCompleted)
	assert.InDelta(t, 0.4, state.Progress, 1e-9)
	assert.Equal(t, []string{entity.StepImageUpload, entity.StepAIProcessing}, state.Steps)

	state, _ = store.Transition(2, 1, entity.GenerationStatusCompleted, "")
	assert.Equal(t, 1.0, state.Progress)

	_, ok = store.RecordStep(99, entity.StepImageUpload, entity.LogStatusCompleted)
	assert.False(t, ok)
}

func TestReconcileOverwritesFromRow(t *testing.T) {
	store := newTestStore(&fakeClock{t: time.Unix(1000, 0)})
	store.Track(3, 5, entity.GenerationStatusProcessing)

	state := store.Reconcile(&entity.DbGenerationRequest{
		ID:           3,
		UserID:       5,
		Status:       entity.GenerationStatusFailed,
		ErrorMessage: "timed out",
	}, []entity.DbProcessingLog{
		{StepName: entity.StepWorkflowStarted, Status: entity.LogStatusStarted},
		{StepName: entity.StepImageUpload, Status: entity.LogStatusCompleted},
		{StepName: entity.StepWorkflowError, Status: entity.LogStatusFailed},
	})

	assert.Equal(t, entity.GenerationStatusFailed, state.Status)
	assert.Equal(t, "timed out", state.ErrorMessage)
	assert.InDelta(t, 0.2, state.Progress, 1e-9)

	got, ok := store.Get(3)
	require.True(t, ok)
	assert.Equal(t, state, got)
}

func TestSubscribeReceivesOwnerChangesOnly(t *testing.T) {
	store := newTestStore(&fakeClock{t: time.Unix(1000, 0)})

	changes, cancel := store.Subscribe(7)
	defer cancel()

	store.Track(1, 8, entity.GenerationStatusPending)
	store.Track(2, 7, entity.GenerationStatusPending)

	select {
	case change := <-changes:
		assert.Equal(t, uint(2), change.State.RequestID)
		assert.Equal(t, ChangeStatus, change.Type)
	default:
		t.Fatal("expected a change for owner 7")
	}

	select {
	case change := <-changes:
		t.Fatalf("unexpected extra change %+v", change)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	store := NewStore(Options{Buffer: 1})
	_, cancel := store.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		store.Track(1, 1, entity.GenerationStatusPending)
		store.Transition(1, 1, entity.GenerationStatusProcessing, "")
		store.Transition(1, 1, entity.GenerationStatusCompleted, "")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked on a full subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	store := NewStore(Options{})
	changes, cancel := store.Subscribe(1)
	cancel()
	cancel()

	_, open := <-changes
	assert.False(t, open)

	// 取消后继续发布不能 panic
	store.Track(1, 1, entity.GenerationStatusPending)
}

func TestEvictRemovesExpiredTerminalSlots(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	store := newTestStore(clock)

	store.Track(1, 1, entity.GenerationStatusCompleted)
	store.Track(2, 1, entity.GenerationStatusProcessing)

	clock.t = clock.t.Add(30 * time.Second)
	assert.Zero(t, store.Evict())

	clock.t = clock.t.Add(time.Minute)
	assert.Equal(t, 1, store.Evict())

	_, ok := store.Get(1)
	assert.False(t, ok)
	_, ok = store.Get(2)
	assert.True(t, ok, "non-terminal slots are never evicted")
	assert.Equal(t, 1, store.Len())
}
