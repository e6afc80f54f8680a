package messaging

import (
	"context"
	"sync"
)

// Recorder is an in-memory Client that keeps every published message.
// Consume replays what was recorded so far, then blocks until ctx is done.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	topic    string
	// Err, when set, is returned by Publish instead of recording.
	Err error
}

// NewRecorder returns an empty Recorder for topic.
func NewRecorder(topic string) *Recorder {
	return &Recorder{topic: topic}
}

// Publish implements Client.
func (r *Recorder) Publish(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	msg.Topic = r.topic
	r.messages = append(r.messages, msg)
	return nil
}

// Consume implements Client.
func (r *Recorder) Consume(ctx context.Context, handler Handler) error {
	for _, msg := range r.Messages() {
		if ctx.Err() != nil {
			break
		}
		_ = handler(ctx, msg)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Topic implements Client.
func (r *Recorder) Topic() string { return r.topic }

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}

// Types returns the event-type header of each published message in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Headers["event-type"])
	}
	return out
}
