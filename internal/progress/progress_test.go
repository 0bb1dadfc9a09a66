package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_OrderedDelivery(t *testing.T) {
	t.Parallel()

	s := NewStream(8)
	s.Log("first")
	s.Log("second")
	s.Publish(Update{ItemsDone: 1, ItemsTotal: 2})
	s.Close()

	var got []Message
	for msg := range s.Messages() {
		got = append(got, msg)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Line)
	assert.Equal(t, "second", got[1].Line)
	assert.Equal(t, KindProgress, got[2].Kind)
	assert.Equal(t, 1, got[2].Progress.ItemsDone)
}

func TestStream_LogDropsWhenFull(t *testing.T) {
	t.Parallel()

	s := NewStream(2)
	s.Log("a")
	s.Log("b")
	s.Log("c") // dropped, producer must not block
	s.Close()

	var lines []string
	for msg := range s.Messages() {
		lines = append(lines, msg.Line)
	}

	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestStream_PublishPrefersFreshProgress(t *testing.T) {
	t.Parallel()

	s := NewStream(1)
	s.Publish(Update{ItemsDone: 1})
	s.Publish(Update{ItemsDone: 2})
	s.Close()

	var updates []Update
	for msg := range s.Messages() {
		updates = append(updates, msg.Progress)
	}

	require.Len(t, updates, 1)
	assert.Equal(t, 2, updates[0].ItemsDone)
}

func TestStream_NilIsDiscarding(t *testing.T) {
	t.Parallel()

	var s *Stream

	s.Log("ignored")
	s.Publish(Update{ItemsDone: 1})
	s.Close()
}
