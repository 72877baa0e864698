package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/pkg/storage"
)

func newTestService(staleAfter time.Duration) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewService(storage.NewInMemoryStorage(), staleAfter, logger)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	c, err := svc.Register(ctx, "client-1", 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Status != StatusRegistered {
		t.Errorf("expected Registered, got %s", c.Status)
	}
	if c.Name == "" {
		t.Error("expected generated name")
	}

	if _, err := svc.Register(ctx, "client-1", 500); !errors.Is(err, ErrDuplicateClient) {
		t.Fatalf("expected ErrDuplicateClient, got %v", err)
	}
}

func TestRegisterAfterOffline(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	if _, err := svc.Register(ctx, "client-1", 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.MarkOffline(ctx, "client-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := svc.Register(ctx, "client-1", 800)
	if err != nil {
		t.Fatalf("expected re-registration after offline, got %v", err)
	}
	if c.DatasetSize != 800 {
		t.Errorf("expected refreshed dataset size 800, got %d", c.DatasetSize)
	}
	if c.Status != StatusRegistered {
		t.Errorf("expected Registered, got %s", c.Status)
	}
}

func TestRegisterAfterStaleHeartbeat(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(30 * time.Second)

	if _, err := svc.Register(ctx, "client-1", 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Heartbeat(ctx, "client-1", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The heartbeat lapsed, so the client may come back even though no
	// sweep marked it offline yet.
	c, err := svc.Register(ctx, "client-1", 800)
	if err != nil {
		t.Fatalf("expected re-registration after lapsed heartbeat, got %v", err)
	}
	if c.DatasetSize != 800 {
		t.Errorf("expected refreshed dataset size 800, got %d", c.DatasetSize)
	}
	if c.Status != StatusRegistered {
		t.Errorf("expected Registered, got %s", c.Status)
	}
}

func TestRegisterExcludedStaysExcluded(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(30 * time.Second)

	if _, err := svc.Register(ctx, "client-1", 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.SetStatus(ctx, "client-1", StatusExcluded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.Register(ctx, "client-1", 500); !errors.Is(err, ErrDuplicateClient) {
		t.Fatalf("expected ErrDuplicateClient for excluded client, got %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	if err := svc.Heartbeat(ctx, "ghost", time.Now()); !errors.Is(err, ErrUnknownClient) {
		t.Fatalf("expected ErrUnknownClient, got %v", err)
	}

	if _, err := svc.Register(ctx, "client-1", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	at := time.Now().Add(10 * time.Second)
	if err := svc.Heartbeat(ctx, "client-1", at); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := svc.Get(ctx, "client-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.LastHeartbeat.Equal(at) {
		t.Errorf("expected heartbeat %v, got %v", at, c.LastHeartbeat)
	}
}

func TestHeartbeatRevivesOfflineClient(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	if _, err := svc.Register(ctx, "client-1", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.MarkOffline(ctx, "client-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Heartbeat(ctx, "client-1", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := svc.Get(ctx, "client-1")
	if c.Status != StatusRegistered {
		t.Errorf("expected Registered after heartbeat, got %s", c.Status)
	}
}

func TestMarkOfflineIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	if _, err := svc.Register(ctx, "client-1", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := svc.MarkOffline(ctx, "client-1"); err != nil {
			t.Fatalf("iteration %d: unexpected error: %v", i, err)
		}
	}
}

func TestSelectParticipants(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		if _, err := svc.Register(ctx, id, 50); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// fraction 0.6 of 5 eligible = 3 participants.
	selected, err := svc.SelectParticipants(ctx, 1, 0.6, 2, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 3 {
		t.Fatalf("expected exactly 3 participants, got %d", len(selected))
	}

	// Identical seed and round must reproduce the selection.
	again, err := svc.SelectParticipants(ctx, 1, 0.6, 2, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range selected {
		if selected[i] != again[i] {
			t.Fatalf("selection not deterministic: %v vs %v", selected, again)
		}
	}

	// A different round shifts the subset seed.
	other, err := svc.SelectParticipants(ctx, 2, 0.6, 2, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(other) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(other))
	}
}

func TestSelectParticipantsInsufficient(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	if _, err := svc.Register(ctx, "c1", 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := svc.SelectParticipants(ctx, 1, 0.5, 2, 42); !errors.Is(err, ErrInsufficientClients) {
		t.Fatalf("expected ErrInsufficientClients, got %v", err)
	}
}

func TestSelectParticipantsMinClientsFloor(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(time.Minute)

	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		if _, err := svc.Register(ctx, id, 10); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// round(0.1 * 4) = 0, floored to minClients.
	selected, err := svc.SelectParticipants(ctx, 1, 0.1, 2, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected minimum of 2 participants, got %d", len(selected))
	}
}

func TestSweepStale(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(30 * time.Second)

	if _, err := svc.Register(ctx, "fresh", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Register(ctx, "stale", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Heartbeat(ctx, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	swept, err := svc.SweepStale(ctx, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(swept) != 1 || swept[0] != "stale" {
		t.Fatalf("expected [stale], got %v", swept)
	}

	c, _ := svc.Get(ctx, "stale")
	if c.Status != StatusOffline {
		t.Errorf("expected Offline, got %s", c.Status)
	}

	count, err := svc.ActiveCount(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 active client, got %d", count)
	}
}

func TestRunSweeper(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := newTestService(30 * time.Second)

	if _, err := svc.Register(ctx, "fresh", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Register(ctx, "stale", 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Heartbeat(ctx, "stale", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := make(chan int, 64)
	done := make(chan error, 1)
	go func() {
		done <- svc.RunSweeper(ctx, 5*time.Millisecond, func(n int) { counts <- n })
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-counts:
			if n != 1 {
				continue
			}
			c, err := svc.Get(ctx, "stale")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.Status != StatusOffline {
				t.Errorf("expected Offline after sweep, got %s", c.Status)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			return
		case <-deadline:
			t.Fatal("sweeper never reported the swept client count")
		}
	}
}
