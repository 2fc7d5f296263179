package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserpilot/engine/session"
	"github.com/browserpilot/engine/session/queue"
)

func TestActionQueue_EnqueueThenReport(t *testing.T) {
	q := queue.New[session.Action, session.Result]()
	a := session.Action{ID: "a1"}
	require.NoError(t, q.Enqueue(a))

	_, ok := q.Pending()
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go func() {
		_ = q.Report(ctx, session.Result{ActionID: "a1", Status: session.ResultSuccess})
	}()

	r, err := q.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", r.ActionID)
	assert.True(t, q.IsEmpty())
}

func TestActionQueue_RejectsSecondEnqueue(t *testing.T) {
	q := queue.New[session.Action, session.Result]()
	require.NoError(t, q.Enqueue(session.Action{ID: "a1"}))
	err := q.Enqueue(session.Action{ID: "a2"})
	assert.ErrorIs(t, err, queue.ErrFull)
}

func TestActionQueue_ReportRejectsMismatchedID(t *testing.T) {
	q := queue.New[session.Action, session.Result]()
	require.NoError(t, q.Enqueue(session.Action{ID: "a1"}))
	err := q.Report(context.Background(), session.Result{ActionID: "wrong"})
	assert.ErrorIs(t, err, queue.ErrEmpty)
}

func TestActionQueue_ReportWithoutPending(t *testing.T) {
	q := queue.New[session.Action, session.Result]()
	err := q.Report(context.Background(), session.Result{ActionID: "a1"})
	assert.ErrorIs(t, err, queue.ErrEmpty)
}
