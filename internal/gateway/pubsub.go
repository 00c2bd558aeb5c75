package gateway

import (
	"context"
	"strings"

	goredis "github.com/go-redis/redis/v8"
)

const barsChannelPrefix = "pub:bars:"

// Relay fans bar-update notifications across service instances through
// Redis PubSub, so a client connected to any instance sees updates written
// through any other.
type Relay struct {
	rdb *goredis.Client
	hub *Hub
}

// NewRelay creates a relay for hub over rdb.
func NewRelay(rdb *goredis.Client, hub *Hub) *Relay {
	return &Relay{rdb: rdb, hub: hub}
}

// Notify announces that location's bars changed. The local hub hears it
// through the subscription like every other instance.
func (r *Relay) Notify(ctx context.Context, location string) error {
	return r.rdb.Publish(ctx, barsChannelPrefix+location, "").Err()
}

// Run subscribes to every location's channel and forwards notifications
// to the hub. Blocks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	pubsub := r.rdb.PSubscribe(ctx, barsChannelPrefix+"*")
	defer pubsub.Close()
	r.hub.log.Info().Msg("relay subscribed to bar updates")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if loc := strings.TrimPrefix(msg.Channel, barsChannelPrefix); loc != "" {
				r.hub.Publish(loc)
			}
		}
	}
}
