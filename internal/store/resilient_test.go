package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxpipe/voxpipe/internal/store"
	"github.com/voxpipe/voxpipe/internal/store/mock"
)

func TestResilient_PassesThroughWhenHealthy(t *testing.T) {
	inner := &mock.Store{}
	r := store.NewResilient(inner, 3, time.Minute)

	rec, err := r.Save(context.Background(), store.Record{SessionID: "s1", Text: "hello"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if rec.ID == 0 {
		t.Error("Save should pass through and assign an ID")
	}

	recs, err := r.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("Recent: got %d records, want 1", len(recs))
	}
}

func TestResilient_TripsAfterConsecutiveFailures(t *testing.T) {
	inner := &mock.Store{SaveErr: errors.New("connection refused")}
	r := store.NewResilient(inner, 3, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Save(ctx, store.Record{Text: "x"}); err == nil {
			t.Fatalf("Save %d should fail", i)
		}
	}

	// Tripped: calls fail fast without hitting the inner store.
	_, err := r.Save(ctx, store.Record{Text: "x"})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("Save after trip: got %v, want ErrStoreUnavailable", err)
	}
	if _, err := r.Recent(ctx, 1); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("Recent after trip: got %v, want ErrStoreUnavailable", err)
	}
}

func TestResilient_ProbesAfterRetryInterval(t *testing.T) {
	inner := &mock.Store{SaveErr: errors.New("connection refused")}
	r := store.NewResilient(inner, 1, 20*time.Millisecond)

	ctx := context.Background()
	if _, err := r.Save(ctx, store.Record{Text: "x"}); err == nil {
		t.Fatal("first Save should fail")
	}
	if _, err := r.Save(ctx, store.Record{Text: "x"}); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("Save while tripped: got %v, want ErrStoreUnavailable", err)
	}

	// After the retry interval a probe goes through; the store has
	// recovered, so the breaker resets.
	inner.SaveErr = nil
	time.Sleep(30 * time.Millisecond)

	if _, err := r.Save(ctx, store.Record{Text: "recovered"}); err != nil {
		t.Fatalf("probe Save: %v", err)
	}
	if _, err := r.Save(ctx, store.Record{Text: "healthy again"}); err != nil {
		t.Fatalf("Save after recovery: %v", err)
	}
	if got := len(inner.Records()); got != 2 {
		t.Errorf("inner store records: got %d, want 2", got)
	}
}

func TestResilient_FailedProbeStaysTripped(t *testing.T) {
	inner := &mock.Store{SaveErr: errors.New("still down")}
	r := store.NewResilient(inner, 1, 20*time.Millisecond)

	ctx := context.Background()
	_, _ = r.Save(ctx, store.Record{Text: "x"})

	time.Sleep(30 * time.Millisecond)
	if _, err := r.Save(ctx, store.Record{Text: "probe"}); errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatal("probe should reach the inner store, not fail fast")
	}

	// Immediately after the failed probe the breaker fails fast again.
	if _, err := r.Save(ctx, store.Record{Text: "x"}); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("after failed probe: got %v, want ErrStoreUnavailable", err)
	}
}
