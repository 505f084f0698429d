package redis

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

const flowInvalidationChannel = "turnpipe:flow:invalidate"

// FlowInvalidation names the cached flow entries to drop. An empty SessionID
// drops everything.
type FlowInvalidation struct {
	SessionID string `json:"sessionId"`
	Origin    string `json:"origin"`
}

// FlowInvalidationBus fans cache invalidations out to every process sharing
// the Redis instance.
type FlowInvalidationBus struct {
	client *Client
	origin string
	log    *zerolog.Logger
}

func NewFlowInvalidationBus(c *Client, origin string, logger *zerolog.Logger) *FlowInvalidationBus {
	l := logger.With().Str("component", "FlowInvalidationBus").Logger()
	return &FlowInvalidationBus{client: c, origin: origin, log: &l}
}

func (b *FlowInvalidationBus) Publish(ctx context.Context, sessionID string) error {
	data, err := json.Marshal(FlowInvalidation{SessionID: sessionID, Origin: b.origin})
	if err != nil {
		return err
	}
	return b.client.cli.Publish(ctx, flowInvalidationChannel, data).Err()
}

// Run delivers invalidations published by other processes to fn until ctx
// is done. Messages from this process are skipped: the publisher already
// invalidated locally.
func (b *FlowInvalidationBus) Run(ctx context.Context, fn func(sessionID string)) error {
	sub := b.client.cli.Subscribe(ctx, flowInvalidationChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var inv FlowInvalidation
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				b.log.Warn().Err(err).Msg("bad invalidation payload")
				continue
			}
			if inv.Origin == b.origin {
				continue
			}
			fn(inv.SessionID)
		}
	}
}
