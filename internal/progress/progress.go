// Package progress carries ordered log and progress messages from a workflow
// to its consumer over a bounded channel. The producer never blocks: when the
// consumer lags, progress updates are dropped in favor of newer ones, while
// result persistence never routes through this channel at all.
package progress

// Kind discriminates the message payload.
type Kind int

const (
	// KindLog is a human-readable log line.
	KindLog Kind = iota
	// KindProgress is a send/analyze progress tuple.
	KindProgress
)

// Update is the send progress tuple surfaced to the consumer.
type Update struct {
	ItemsDone            int
	ItemsTotal           int
	AttemptChunk         int
	AttemptChunksTotal   int
	TechnicalChunk       int
	TechnicalChunksTotal int
}

// Message is one entry of the stream.
type Message struct {
	Kind     Kind
	Line     string
	Progress Update
}

// Stream is a bounded, drop-capable message stream. A nil *Stream is valid
// and discards everything, so workflows can run headless in tests.
type Stream struct {
	ch chan Message
}

// DefaultCapacity bounds the stream buffer.
const DefaultCapacity = 1024

// NewStream creates a stream with the given buffer capacity (DefaultCapacity
// when n <= 0).
func NewStream(n int) *Stream {
	if n <= 0 {
		n = DefaultCapacity
	}

	return &Stream{ch: make(chan Message, n)}
}

// Messages exposes the consumer side of the stream.
func (s *Stream) Messages() <-chan Message {
	return s.ch
}

// Close signals the consumer that no more messages will arrive.
func (s *Stream) Close() {
	if s == nil {
		return
	}

	close(s.ch)
}

// Log enqueues a log line, dropping it when the buffer is full. Log lines
// are advisory; the raw toolkit log on disk is the durable record.
func (s *Stream) Log(line string) {
	if s == nil {
		return
	}

	select {
	case s.ch <- Message{Kind: KindLog, Line: line}:
	default:
	}
}

// Publish enqueues a progress tuple. When the buffer is full the oldest
// message is discarded so the consumer always converges on fresh progress.
func (s *Stream) Publish(u Update) {
	if s == nil {
		return
	}

	msg := Message{Kind: KindProgress, Progress: u}

	select {
	case s.ch <- msg:
		return
	default:
	}

	// Full: drop one and retry once. A concurrent consumer may have drained
	// in between, in which case the second send succeeds anyway.
	select {
	case <-s.ch:
	default:
	}

	select {
	case s.ch <- msg:
	default:
	}
}
