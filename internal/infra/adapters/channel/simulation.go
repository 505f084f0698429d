package channel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"turnpipe/internal/domain/ports/adapter"
)

var _ adapter.ChannelGateway = (*SimulationGateway)(nil)

// Sent is one delivery recorded by the simulation gateway.
type Sent struct {
	ID        string
	SessionID string
	Recipient string
	Text      string
	At        time.Time
}

// SimulationGateway keeps replies in memory instead of delivering them. It
// backs the "simulation" channel used for draft flows and local runs.
type SimulationGateway struct {
	mu   sync.Mutex
	sent []Sent
	keep int
	now  func() time.Time
	log  *zerolog.Logger
}

// NewSimulationGateway retains at most keep deliveries (0 keeps all).
func NewSimulationGateway(keep int, logger *zerolog.Logger) *SimulationGateway {
	l := logger.With().Str("component", "SimulationGateway").Logger()
	return &SimulationGateway{keep: keep, now: time.Now, log: &l}
}

func (g *SimulationGateway) Send(ctx context.Context, sessionID, recipient, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s := Sent{ID: uuid.NewString(), SessionID: sessionID, Recipient: recipient, Text: text, At: g.now()}

	g.mu.Lock()
	g.sent = append(g.sent, s)
	if g.keep > 0 && len(g.sent) > g.keep {
		g.sent = append([]Sent(nil), g.sent[len(g.sent)-g.keep:]...)
	}
	g.mu.Unlock()

	g.log.Debug().Str("session_id", sessionID).Str("recipient", recipient).Int("len", len(text)).Msg("simulated send")
	return s.ID, nil
}

// Sent returns the recorded deliveries for recipient, oldest first. An empty
// recipient returns all of them.
func (g *SimulationGateway) Sent(recipient string) []Sent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Sent, 0, len(g.sent))
	for _, s := range g.sent {
		if recipient == "" || s.Recipient == recipient {
			out = append(out, s)
		}
	}
	return out
}
