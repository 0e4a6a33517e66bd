package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps another slog.Handler and enriches every record with the entry
// and consumer data carried on the context, so tick-loop call sites log plain
// messages without re-threading attributes.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if ed, ok := ctx.Value(entryDataKey{}).(*EntryData); ok {
		r.AddAttrs(slog.Group("entry",
			slog.String("id", ed.ID),
			slog.String("status", ed.Status),
			slog.String("source_group", ed.SourceGroup),
			slog.String("destination_group", ed.DestinationGroup),
		))
	}

	if cd, ok := ctx.Value(consumerDataKey{}).(*ConsumerData); ok {
		r.AddAttrs(slog.Group("consumer",
			slog.String("name", cd.Name),
			slog.String("role", cd.Role),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type entryDataKey struct{}

type EntryData struct {
	ID               string
	Status           string
	SourceGroup      string
	DestinationGroup string
}

func WithEntryData(ctx context.Context, data *EntryData) context.Context {
	return context.WithValue(ctx, entryDataKey{}, data)
}

type consumerDataKey struct{}

type ConsumerData struct {
	Name string
	Role string
}

func WithConsumerData(ctx context.Context, data *ConsumerData) context.Context {
	return context.WithValue(ctx, consumerDataKey{}, data)
}
