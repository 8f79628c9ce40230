package repeater

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/repeatd/internal/testutil"
)

func TestCollection_AbortEmpty(t *testing.T) {
	c := NewCollection()
	assert.Equal(t, 0, c.Len())

	done := c.Abort()
	waitClosed(t, done, "empty collection abort")
	assert.Equal(t, done, c.Abort(), "empty abort returns the shared closed channel")
	assert.NoError(t, c.AbortAndWait(context.Background()))
}

func TestCollection_AddRegisters(t *testing.T) {
	mc := testutil.NewMockClock()
	c := NewCollection()

	r, err := c.Add(func(*Tick) error { return nil }, Options{Interval: 10 * time.Millisecond, Name: "one", Clock: mc})
	require.NoError(t, err)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, []*Repeater{r}, c.Members())
	assert.Equal(t, 1, mc.PendingCount())

	waitClosed(t, c.Abort(), "abort")
	assert.Equal(t, 0, c.Len())
	assert.True(t, r.Aborted())
}

func TestCollection_AddInvalid(t *testing.T) {
	c := NewCollection()

	_, err := c.Add(nil, Every(time.Second))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Add(func(*Tick) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Equal(t, 0, c.Len(), "failed adds are not registered")
}

func TestCollection_AbortWaitsForEveryMember(t *testing.T) {
	mc := testutil.NewMockClock()
	c := NewCollection()
	release := make(chan struct{})
	var started int32

	blocking := func(*Tick) error {
		atomic.AddInt32(&started, 1)
		<-release
		return nil
	}

	slow, err := c.Add(blocking, Options{Interval: 10 * time.Millisecond, Name: "slow", Clock: mc})
	require.NoError(t, err)
	idle, err := c.Add(func(*Tick) error { return nil }, Options{Interval: 10 * time.Millisecond, Delay: time.Hour, Name: "idle", Clock: mc})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	go mc.Advance(0)
	require.Eventually(t, slow.Running, time.Second, time.Millisecond)

	done := c.Abort()
	waitClosed(t, idle.Done(), "idle member finishes immediately")
	assertOpen(t, done, "slow member is still running")
	assert.True(t, slow.Aborted())

	close(release)
	waitClosed(t, done, "collection abort")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int32(1), atomic.LoadInt32(&started))
}

func TestCollection_MembersAddedAfterSnapshotSurvive(t *testing.T) {
	mc := testutil.NewMockClock()
	c := NewCollection()
	release := make(chan struct{})

	first, err := c.Add(func(*Tick) error {
		<-release
		return nil
	}, Options{Interval: 10 * time.Millisecond, Clock: mc})
	require.NoError(t, err)

	go mc.Advance(0)
	require.Eventually(t, first.Running, time.Second, time.Millisecond)

	done := c.Abort()

	late, err := c.Add(func(*Tick) error { return nil }, Options{Interval: 10 * time.Millisecond, Delay: time.Hour, Clock: mc})
	require.NoError(t, err)

	close(release)
	waitClosed(t, done, "abort of the snapshot")

	assert.False(t, late.Aborted(), "member added after the snapshot is untouched")
	assert.Equal(t, []*Repeater{late}, c.Members())

	waitClosed(t, c.Abort(), "second abort")
	assert.True(t, late.Aborted())
	assert.Equal(t, 0, c.Len())
}

func TestCollection_SelfAbortingMemberIsRemoved(t *testing.T) {
	mc := testutil.NewMockClock()
	c := NewCollection()

	r, err := c.Add(func(tk *Tick) error {
		tk.Abort()
		return nil
	}, Options{Interval: 10 * time.Millisecond, Clock: mc})
	require.NoError(t, err)

	mc.Advance(0)
	waitClosed(t, r.Done(), "self abort")
	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, time.Millisecond)
}

func TestCollection_IndividualAbortRemovesMember(t *testing.T) {
	mc := testutil.NewMockClock()
	c := NewCollection()

	a, err := c.Add(func(*Tick) error { return nil }, Options{Interval: time.Second, Name: "a", Clock: mc})
	require.NoError(t, err)
	b, err := c.Add(func(*Tick) error { return nil }, Options{Interval: time.Second, Name: "b", Clock: mc})
	require.NoError(t, err)

	waitClosed(t, a.Abort(), "abort a")
	assert.Equal(t, []*Repeater{b}, c.Members())
}

func TestCollection_AbortAndWaitTimeout(t *testing.T) {
	mc := testutil.NewMockClock()
	c := NewCollection()
	release := make(chan struct{})
	defer close(release)

	r, err := c.Add(func(*Tick) error {
		<-release
		return nil
	}, Options{Clock: mc})
	require.NoError(t, err)

	go mc.Advance(0)
	require.Eventually(t, r.Running, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = c.AbortAndWait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
