package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/ems-pm/project/internal/platform/config"
)

func TestOpen_LocalBackend(t *testing.T) {
	cfg := config.Default()
	backend, err := Open(context.Background(), cfg, "test", nil)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer backend.Close()

	if backend.Name != config.BackendLocal {
		t.Fatalf("expected local backend, got %q", backend.Name)
	}
	if _, ok := backend.Broker.(*LocalBroker); !ok {
		t.Fatalf("expected *LocalBroker, got %T", backend.Broker)
	}
	if err := backend.Ready(context.Background()); err != nil {
		t.Fatalf("local backend must always be ready: %v", err)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.NotifyBackend = "carrier-pigeon"
	if _, err := Open(context.Background(), cfg, "test", nil); !errors.Is(err, config.ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}
