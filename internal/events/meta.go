package events

import "context"

// EventMeta carries the causal chain of an incoming event through order
// processing to the events published for it.
type EventMeta struct {
	CorrelationID string
	CausationID   string
	PartitionKey  string
	UserID        string
}

type metaKey struct{}

func WithMeta(ctx context.Context, meta EventMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, meta)
}

func MetaFrom(ctx context.Context) (EventMeta, bool) {
	meta, ok := ctx.Value(metaKey{}).(EventMeta)
	return meta, ok
}
