//go:build !integration

package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"turnpipe/internal/domain"
)

func TestRouterResolves(t *testing.T) {
	logger := zerolog.New(nil)
	sim := NewSimulationGateway(0, &logger)
	r := NewRouter().Register("Simulation", sim).WithFallback("simulation")

	if gw, err := r.Gateway("SIMULATION"); err != nil || gw != sim {
		t.Fatalf("expected case-insensitive match, got %v %v", gw, err)
	}
	if gw, err := r.Gateway(""); err != nil || gw != sim {
		t.Fatalf("expected fallback for an empty channel, got %v %v", gw, err)
	}
	if _, err := r.Gateway("telegram"); !errors.Is(err, domain.ErrUnknownChannel) {
		t.Fatalf("expected ErrUnknownChannel, got %v", err)
	}
	if got := r.Channels(); len(got) != 1 || got[0] != "simulation" {
		t.Errorf("unexpected channels %v", got)
	}
}

func TestSimulationGatewayRecords(t *testing.T) {
	logger := zerolog.New(nil)
	sim := NewSimulationGateway(2, &logger)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		if _, err := sim.Send(ctx, "s1", "c1", text); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if _, err := sim.Send(ctx, "s1", "c2", "other"); err != nil {
		t.Fatalf("send: %v", err)
	}

	all := sim.Sent("")
	if len(all) != 2 || all[0].Text != "three" || all[1].Text != "other" {
		t.Fatalf("expected the two newest deliveries, got %+v", all)
	}
	if got := sim.Sent("c2"); len(got) != 1 || got[0].ID == "" {
		t.Errorf("expected one delivery with an id for c2, got %+v", got)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := sim.Send(cctx, "s1", "c1", "late"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected a cancelled ctx to fail, got %v", err)
	}
}
