package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

func TestWindowStart_Boundaries(t *testing.T) {
	iv := time.Minute
	assert.Equal(t, at(60), windowStart(at(60), iv, 0), "a record on the boundary opens the new window")
	assert.Equal(t, at(0), windowStart(at(59).Add(999*time.Millisecond), iv, 0))
	assert.Equal(t, at(-60), windowStart(at(-1), iv, 0))

	off := 15 * time.Second
	assert.Equal(t, at(15), windowStart(at(70), iv, off))
	assert.Equal(t, at(75), windowStart(at(75), iv, off))
	assert.Equal(t, at(135), NextDeadline(at(75), iv, off))
}

func TestScheduler_WallclockCycle(t *testing.T) {
	s := NewScheduler(NewWallclockBasetime(time.Minute, 0), time.Minute, 0, 1)
	assert.False(t, s.Due(at(10)), "not started")

	s.Start(at(10))
	assert.Equal(t, at(60), s.Deadline())
	assert.False(t, s.Due(at(59)))
	assert.True(t, s.Due(at(60)))

	cutoff := s.Close(at(70))
	assert.Equal(t, at(60), cutoff)
	assert.Equal(t, WindowClosing, s.State())
	assert.Equal(t, at(120), s.Deadline())

	require.NoError(t, s.BeginFlush())
	assert.Equal(t, WindowFlushing, s.State())
	s.EndFlush()
	assert.Equal(t, WindowOpen, s.State())
	assert.Error(t, s.BeginFlush(), "only a closing window can be flushed")
}

func TestScheduler_HistoricalRetention(t *testing.T) {
	s := NewScheduler(NewHistoricalBasetime(time.Minute, 0), time.Minute, 0, 2)
	s.Start(at(100))

	w, err := s.Assign(at(65), at(100))
	require.NoError(t, err)
	assert.Equal(t, at(60), w)

	w, err = s.Assign(at(20), at(100))
	require.NoError(t, err, "window 0 is still retained")
	assert.Equal(t, at(0), w)

	_, err = s.Assign(at(130), at(101))
	require.NoError(t, err)
	require.True(t, s.Due(at(101)))
	assert.Equal(t, at(60), s.Close(at(101)))

	_, err = s.Assign(at(20), at(101))
	assert.ErrorIs(t, err, ErrLateRecord)
}

func TestScheduler_HistoricalIdleClosesNewest(t *testing.T) {
	s := NewScheduler(NewHistoricalBasetime(time.Minute, 0), time.Minute, 0, 2)
	s.Start(at(10))
	_, err := s.Assign(at(5), at(10))
	require.NoError(t, err)

	// Two idle intervals with no newer data close everything seen so far.
	require.True(t, s.Due(at(200)))
	assert.Equal(t, at(60), s.Close(at(200)))
}

func TestScheduler_HistoricalInputInNewestWindowIsNotIdle(t *testing.T) {
	s := NewScheduler(NewHistoricalBasetime(time.Minute, 0), time.Minute, 0, 2)
	s.Start(at(10))
	_, err := s.Assign(at(5), at(10))
	require.NoError(t, err)
	_, err = s.Assign(at(20), at(100))
	require.NoError(t, err)

	s.Close(at(200))
	_, err = s.Assign(at(30), at(200))
	assert.NoError(t, err)

	s.Touch(at(300))
	s.Close(at(400))
	_, err = s.Assign(at(40), at(400))
	assert.NoError(t, err)
	assert.Equal(t, at(60), s.Close(at(600)))
}

func TestScheduler_ClosedBeforeNeverMovesBack(t *testing.T) {
	s := NewScheduler(NewWallclockBasetime(time.Minute, 0), time.Minute, 0, 1)
	s.Start(at(120))
	assert.Equal(t, at(120), s.Close(at(130)))
	assert.Equal(t, at(120), s.Close(at(10)))
}
