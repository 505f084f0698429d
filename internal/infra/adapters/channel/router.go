// Package channel picks the outbound gateway for a turn's channel.
package channel

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/ports/adapter"
)

var _ adapter.GatewayResolver = (*Router)(nil)

// Router maps channel names to gateways. Names are case-insensitive.
type Router struct {
	mu       sync.RWMutex
	gateways map[string]adapter.ChannelGateway
	fallback string
}

func NewRouter() *Router {
	return &Router{gateways: map[string]adapter.ChannelGateway{}}
}

// Register binds a gateway to a channel name, replacing any previous one.
func (r *Router) Register(channel string, gw adapter.ChannelGateway) *Router {
	r.mu.Lock()
	r.gateways[strings.ToLower(channel)] = gw
	r.mu.Unlock()
	return r
}

// WithFallback routes turns that carry no channel to the named gateway.
func (r *Router) WithFallback(channel string) *Router {
	r.fallback = strings.ToLower(channel)
	return r
}

func (r *Router) Gateway(channel string) (adapter.ChannelGateway, error) {
	name := strings.ToLower(strings.TrimSpace(channel))
	if name == "" {
		name = r.fallback
	}
	r.mu.RLock()
	gw, ok := r.gateways[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChannel, channel)
	}
	return gw, nil
}

// Channels lists the registered channel names.
func (r *Router) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
