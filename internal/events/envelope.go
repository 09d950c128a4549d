package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const envelopeVersion = 1

// EventEnvelope is the v1 wrapper shared by every enveloped event on the
// exchange. Sequence increases per PartitionKey, starting at 1.
type EventEnvelope struct {
	EventName     string          `json:"eventName"`
	EventVersion  int             `json:"eventVersion"`
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	CausationID   string          `json:"causationId,omitempty"`
	Producer      string          `json:"producer"`
	PartitionKey  string          `json:"partitionKey"`
	Sequence      int64           `json:"sequence,omitempty"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Schema        string          `json:"schema"`
	Payload       json.RawMessage `json:"payload"`
}

var errNotEnveloped = errors.New("message is not enveloped")

func (e EventEnvelope) Validate(expectedName string, expectedVersion int) error {
	if e.EventName != expectedName {
		return fmt.Errorf("unexpected eventName %q", e.EventName)
	}
	if e.EventVersion != expectedVersion {
		return fmt.Errorf("unexpected eventVersion %d", e.EventVersion)
	}
	if e.PartitionKey == "" {
		return fmt.Errorf("missing partitionKey")
	}
	if e.EventID == "" {
		return fmt.Errorf("missing eventId")
	}
	if e.Sequence < 0 {
		return fmt.Errorf("negative sequence %d", e.Sequence)
	}
	return nil
}

// openEnvelope decodes body as an envelope named name and unmarshals its
// payload into dst. It returns errNotEnveloped for bodies without an
// eventName, so callers can fall back to the legacy format.
func openEnvelope(body []byte, name string, dst any) (*EventEnvelope, error) {
	var env EventEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.EventName == "" {
		return nil, errNotEnveloped
	}
	if err := env.Validate(name, envelopeVersion); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", name, err)
	}
	return &env, nil
}
