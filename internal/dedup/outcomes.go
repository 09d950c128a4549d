package dedup

import (
	"context"
	"encoding/json"
	"fmt"
)

// StatusOf extracts the status column stored next to each outcome payload.
type StatusOf[T any] func(T) string

// JSONOutcomes is an OutcomeStore that keeps outcomes as JSON documents in the
// order_outcome table.
type JSONOutcomes[T any] struct {
	repo   *Repository
	status StatusOf[T]
}

func NewJSONOutcomes[T any](repo *Repository, status StatusOf[T]) *JSONOutcomes[T] {
	return &JSONOutcomes[T]{repo: repo, status: status}
}

func (s *JSONOutcomes[T]) Load(ctx context.Context, orderID string) (T, bool, error) {
	var out T
	payload, found, err := s.repo.LoadOutcome(ctx, orderID)
	if err != nil || !found {
		return out, false, err
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return out, false, fmt.Errorf("decode outcome %s: %w", orderID, err)
	}
	return out, true, nil
}

func (s *JSONOutcomes[T]) Save(ctx context.Context, orderID string, outcome T) error {
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("encode outcome %s: %w", orderID, err)
	}
	status := ""
	if s.status != nil {
		status = s.status(outcome)
	}
	return s.repo.SaveOutcome(ctx, orderID, status, payload)
}
