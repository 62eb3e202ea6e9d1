package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/scheduler"
)

func TestQueue_PopOrdersByDeadline(t *testing.T) {
	q := scheduler.New()
	q.Schedule(300*time.Millisecond, "third")
	q.Schedule(100*time.Millisecond, "first")
	q.Schedule(200*time.Millisecond, "second")

	var got []string
	for q.Len() > 0 {
		e, ok := q.Pop()
		require.True(t, ok)
		got = append(got, e.Payload.(string))
	}

	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestQueue_FIFOWithinSameDeadline(t *testing.T) {
	q := scheduler.New()
	deadline := 50 * time.Millisecond
	q.Schedule(deadline, "a")
	q.Schedule(deadline, "b")
	q.Schedule(deadline, "c")

	var got []string
	for q.Len() > 0 {
		e, _ := q.Pop()
		got = append(got, e.Payload.(string))
	}

	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestQueue_DrainDueOnlyTakesElapsed(t *testing.T) {
	q := scheduler.New()
	q.Schedule(10*time.Millisecond, "early")
	q.Schedule(20*time.Millisecond, "mid")
	q.Schedule(30*time.Millisecond, "late")

	due := q.DrainDue(20 * time.Millisecond)

	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0].Payload)
	assert.Equal(t, "mid", due[1].Payload)
	assert.Equal(t, 1, q.Len())

	remaining, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, "late", remaining.Payload)
}

func TestQueue_EmptyPeekAndPop(t *testing.T) {
	q := scheduler.New()

	_, ok := q.Peek()
	assert.False(t, ok)

	_, ok = q.Pop()
	assert.False(t, ok)

	assert.Empty(t, q.DrainDue(time.Hour))
}
