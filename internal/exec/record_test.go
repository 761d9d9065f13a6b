package exec

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/spikelink/internal/frame"
)

func collectEvents(t *testing.T, r *ExecutionRecord) []OutputEvent {
	t.Helper()
	var events []OutputEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-r.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("event sequence did not terminate")
		}
	}
}

func TestRecordEventSequence(t *testing.T) {
	r := NewExecutionRecord(uuid.New(), 16)

	r.SetRunning()
	r.AppendLine(frame.StreamStdout, "first")
	r.AppendLine(frame.StreamStderr, "second")
	r.Complete(ExitInfo{Status: 0})

	events := collectEvents(t, r)
	require.Len(t, events, 3)
	assert.Equal(t, OutputEvent{Type: EventLine, Stream: frame.StreamStdout, Text: "first"}, events[0])
	assert.Equal(t, OutputEvent{Type: EventLine, Stream: frame.StreamStderr, Text: "second"}, events[1])
	assert.Equal(t, EventDone, events[2].Type)
	assert.True(t, events[2].Exit.Success())

	assert.Equal(t, RecordCompleted, r.State())
	assert.NoError(t, r.Err())
	assert.Equal(t, []string{"first", "second"}, r.Lines())
}

func TestRecordFailEndsSequenceWithError(t *testing.T) {
	r := NewExecutionRecord(uuid.New(), 16)

	r.AppendLine(frame.StreamStdout, "partial")
	r.Fail(HubError, "NameError: name 'motr' is not defined")

	events := collectEvents(t, r)
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
	assert.Equal(t, HubError, events[1].ErrKind)

	assert.Equal(t, RecordFailed, r.State())
	assert.True(t, errors.Is(r.Err(), ErrHubError))
}

func TestRecordFirstTerminalizationWins(t *testing.T) {
	r := NewExecutionRecord(uuid.New(), 16)

	r.Fail(LinkLost, "link dropped")
	r.Complete(ExitInfo{})
	r.Fail(Cancelled, "too late")

	events := collectEvents(t, r)
	require.Len(t, events, 1)
	assert.Equal(t, LinkLost, events[0].ErrKind)
	assert.Equal(t, RecordFailed, r.State())
	assert.True(t, errors.Is(r.Err(), ErrLinkLost))
}

func TestRecordDropsLinesAfterTerminal(t *testing.T) {
	r := NewExecutionRecord(uuid.New(), 16)

	r.Complete(ExitInfo{})
	r.AppendLine(frame.StreamStdout, "straggler")

	events := collectEvents(t, r)
	require.Len(t, events, 1)
	assert.Equal(t, EventDone, events[0].Type)
	assert.Empty(t, r.Lines())
}

func TestRecordTerminalizesWithFullPipeline(t *testing.T) {
	r := NewExecutionRecord(uuid.New(), 1)

	// With nobody reading Events, three lines saturate the buffers.
	r.AppendLine(frame.StreamStdout, "one")
	r.AppendLine(frame.StreamStdout, "two")
	r.AppendLine(frame.StreamStdout, "three")

	failed := make(chan struct{})
	go func() {
		r.Fail(LinkLost, "link dropped")
		close(failed)
	}()

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("Fail blocked on the full event pipeline")
	}

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("record did not terminate")
	}

	// A late consumer still sees every line, then the terminal error.
	events := collectEvents(t, r)
	require.Len(t, events, 4)
	assert.Equal(t, "one", events[0].Text)
	assert.Equal(t, "two", events[1].Text)
	assert.Equal(t, "three", events[2].Text)
	assert.Equal(t, EventError, events[3].Type)
	assert.Equal(t, LinkLost, events[3].ErrKind)
}

func TestRecordWait(t *testing.T) {
	t.Run("returns terminal error", func(t *testing.T) {
		r := NewExecutionRecord(uuid.New(), 16)
		go func() {
			time.Sleep(10 * time.Millisecond)
			r.Fail(Timeout, "hub went quiet")
		}()

		err := r.Wait(context.Background())
		assert.True(t, errors.Is(err, ErrTimeout))
	})

	t.Run("nil on clean completion", func(t *testing.T) {
		r := NewExecutionRecord(uuid.New(), 16)
		r.Complete(ExitInfo{})
		assert.NoError(t, r.Wait(context.Background()))
	})

	t.Run("honors context", func(t *testing.T) {
		r := NewExecutionRecord(uuid.New(), 16)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)
	})
}

func TestRecordStateString(t *testing.T) {
	assert.Equal(t, "Requested", RecordRequested.String())
	assert.Equal(t, "Failed", RecordFailed.String())
	assert.False(t, RecordRunning.Terminal())
	assert.True(t, RecordCompleted.Terminal())
}
