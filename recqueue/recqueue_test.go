package recqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	started, stopped bool
	writes           int
	failNextWrite    bool
}

func (f *fakeWriter) Start(stationID string, chan0 int, navg int64, nchan int, chanBW float64, npol int, pols []string) error {
	f.started = true
	return nil
}

func (f *fakeWriter) Write(timeTag int64, cdata []complex64, fillLevel float64) error {
	f.writes++
	if f.failNextWrite {
		f.failNextWrite = false
		return errWrite
	}
	return nil
}

func (f *fakeWriter) Stop() error {
	f.stopped = true
	return nil
}

var errWrite = &writeError{"boom"}

type writeError struct{ msg string }

func (e *writeError) Error() string { return e.msg }

func TestActiveReturnsAtMostOneOperation(t *testing.T) {
	q := New()
	now := time.Now().UTC()

	opPast := &Operation{ID: "past", StartUTC: now.Add(-2 * time.Hour), StopUTC: now.Add(-1 * time.Hour)}
	opNow := &Operation{ID: "now", StartUTC: now.Add(-time.Minute), StopUTC: now.Add(time.Minute)}
	opFuture := &Operation{ID: "future", StartUTC: now.Add(time.Hour), StopUTC: now.Add(2 * time.Hour)}

	require.NoError(t, q.Enqueue(opPast))
	require.NoError(t, q.Enqueue(opNow))
	require.NoError(t, q.Enqueue(opFuture))

	active := q.Active()
	require.NotNil(t, active)
	require.Equal(t, "now", active.ID)
}

func TestEnqueueRejectsOverlap(t *testing.T) {
	q := New()
	now := time.Now().UTC()
	a := &Operation{ID: "a", StartUTC: now, StopUTC: now.Add(time.Hour)}
	b := &Operation{ID: "b", StartUTC: now.Add(30 * time.Minute), StopUTC: now.Add(90 * time.Minute)}

	require.NoError(t, q.Enqueue(a))
	require.Error(t, q.Enqueue(b))
}

func TestCleanPromotesToPrevious(t *testing.T) {
	q := New()
	now := time.Now().UTC()
	op := &Operation{ID: "done", StartUTC: now.Add(-2 * time.Hour), StopUTC: now.Add(-time.Hour)}
	require.NoError(t, q.Enqueue(op))

	require.Nil(t, q.Previous())
	q.Clean()
	require.Equal(t, op, q.Previous())
	require.Empty(t, q.Pending())
}

func TestUpdateLagShiftsActiveWindow(t *testing.T) {
	q := New()
	// The pipeline is running 1 hour behind wall-clock time.
	sampleTime := time.Now().UTC().Add(-time.Hour)
	q.UpdateLag(sampleTime)
	require.InDelta(t, time.Hour.Seconds(), q.Lag().Seconds(), 2)

	// An operation scheduled for "an hour ago" in sample-time terms is
	// active right now once lag is accounted for.
	op := &Operation{ID: "lagged", StartUTC: sampleTime.Add(-time.Minute), StopUTC: sampleTime.Add(time.Minute)}
	require.NoError(t, q.Enqueue(op))
	require.Equal(t, op, q.Active())
}

func TestCancelByIDRejectsStarted(t *testing.T) {
	q := New()
	now := time.Now().UTC()
	op := &Operation{ID: "x", StartUTC: now.Add(-time.Minute), StopUTC: now.Add(time.Minute), Writer: &fakeWriter{}}
	require.NoError(t, q.Enqueue(op))
	require.NoError(t, op.Start("test", 0, 1, 1, 1, 1, nil))

	require.Error(t, q.CancelByID("x"))
}

func TestDeleteByIDStopsAndRemoves(t *testing.T) {
	q := New()
	now := time.Now().UTC()
	w := &fakeWriter{}
	op := &Operation{ID: "x", StartUTC: now.Add(-time.Minute), StopUTC: now.Add(time.Minute), Writer: w}
	require.NoError(t, q.Enqueue(op))

	require.NoError(t, q.DeleteByID("x"))
	require.True(t, w.stopped)
	require.Empty(t, q.Pending())
}

func TestOperationWriteForwardsErrorThenSuccess(t *testing.T) {
	w := &fakeWriter{failNextWrite: true}
	op := &Operation{ID: "x", Writer: w}

	err := op.Write(0, nil, 0.5)
	require.Error(t, err)

	err = op.Write(1, nil, 0.5)
	require.NoError(t, err)
	require.Equal(t, 2, w.writes)
}
