//go:build !integration

package tracing

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"turnpipe/internal/config"
)

func TestSetupDisabledIsNoop(t *testing.T) {
	logger := zerolog.New(nil)
	shutdown, err := Setup(context.Background(), config.TracingConfig{}, "test", &logger)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected a no-op shutdown, got %v", err)
	}
}

func TestSampler(t *testing.T) {
	cases := map[float64]string{
		0:    "AlwaysOnSampler",
		1:    "AlwaysOnSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for ratio, want := range cases {
		if got := sampler(ratio).Description(); !strings.Contains(got, want) {
			t.Errorf("ratio %v: expected %q in %q", ratio, want, got)
		}
	}
}
