package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
)

var _ port.Notifier = (*Recorder)(nil)

// Recorder is a Notifier that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
	Err    error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(ctx context.Context, channel domain.Channel, event string, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, domain.Event{Channel: channel, Name: event, Payload: payload})
	return nil
}

func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// On returns the events sent to channel, in order.
func (r *Recorder) On(channel domain.Channel) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []domain.Event
	for _, e := range r.events {
		if e.Channel == channel {
			res = append(res, e)
		}
	}
	return res
}

// Names returns the event names sent to channel, in order.
func (r *Recorder) Names(channel domain.Channel) []string {
	var res []string
	for _, e := range r.On(channel) {
		res = append(res, e.Name)
	}
	return res
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
