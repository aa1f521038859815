package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceBuffer_OverflowDropsOldest(t *testing.T) {
	buf := NewTraceBuffer(3, nil)
	for i := 0; i < 5; i++ {
		buf.Append(StepTrace{StepName: string(rune('A' + i))})
	}

	snapshot := buf.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "C", snapshot[0].StepName)
	assert.Equal(t, "D", snapshot[1].StepName)
	assert.Equal(t, "E", snapshot[2].StepName)
	assert.Equal(t, uint64(2), buf.Dropped)
}

func TestTraceBuffer_StreamDisplacesOldestWhenFull(t *testing.T) {
	buf := NewTraceBuffer(2, nil)
	stream := buf.EnableStream()

	buf.Append(StepTrace{StepName: "A"})
	buf.Append(StepTrace{StepName: "B"})
	buf.Append(StepTrace{StepName: "C"})

	var got []string
	timeout := time.After(time.Second)
	for i := 0; i < 2; i++ {
		select {
		case tr := <-stream:
			got = append(got, tr.StepName)
		case <-timeout:
			t.Fatal("timed out waiting for stream entries")
		}
	}
	assert.ElementsMatch(t, []string{"B", "C"}, got)
}

func TestTraceBuffer_CloseStreamIsIdempotent(t *testing.T) {
	buf := NewTraceBuffer(1, nil)
	buf.EnableStream()
	buf.CloseStream()
	assert.NotPanics(t, func() { buf.CloseStream() })
}

func TestTraceBuffer_DefaultCapacity(t *testing.T) {
	buf := NewTraceBuffer(0, nil)
	assert.Equal(t, DefaultTraceCapacity, buf.capacity)
}
