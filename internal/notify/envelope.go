package notify

import (
	"time"

	"github.com/olyamironova/market-engine/internal/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

// Envelope is the frame pushed to websocket clients and published to the
// event log.
type Envelope struct {
	Channel   domain.Channel `json:"channel"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func NewEnvelope(channel domain.Channel, event string, payload map[string]any, at time.Time) Envelope {
	return Envelope{Channel: channel, Event: event, Payload: payload, Timestamp: at.UTC()}
}

// Proto converts the envelope into a protobuf Struct. Payload values must be
// JSON-like: strings, numbers, bools, nested maps and slices of those.
func (e Envelope) Proto() (*structpb.Struct, error) {
	payload := e.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return structpb.NewStruct(map[string]any{
		"channel":   string(e.Channel),
		"event":     e.Event,
		"payload":   payload,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	})
}
