package leaselock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	key string
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.key
	return nil
}

// fakeDB holds at most one lease per key and never expires it.
type fakeDB struct {
	mu       sync.Mutex
	holders  map[string]string
	released []string
}

func newFakeDB() *fakeDB {
	return &fakeDB{holders: map[string]string{}}
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := args[0].(string)
	token := args[1].(string)
	holder, held := f.holders[key]
	switch {
	case strings.Contains(sql, "INSERT"):
		if held && holder != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		f.holders[key] = token
		return fakeRow{key: key}
	default:
		if !held || holder != token {
			return fakeRow{err: pgx.ErrNoRows}
		}
		return fakeRow{key: key}
	}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := args[0].(string)
	if f.holders[key] == args[1].(string) {
		delete(f.holders, key)
		f.released = append(f.released, key)
	}
	return pgconn.NewCommandTag("DELETE 1"), nil
}

func TestAcquire_BusyWithoutWait(t *testing.T) {
	db := newFakeDB()
	c := New(db, "worker-a")

	lease, err := c.Acquire(context.Background(), RunKey("r1"), Options{})
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lease.Release(context.Background())

	if !strings.HasPrefix(lease.Token, "worker-a:") {
		t.Fatalf("expected owner prefix, got %q", lease.Token)
	}

	_, err = New(db, "worker-b").Acquire(context.Background(), RunKey("r1"), Options{})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestWithRunLease_ReleasesAfterRun(t *testing.T) {
	db := newFakeDB()
	c := New(db, "worker")

	called := false
	err := c.WithRunLease(context.Background(), "r2", Options{}, func(ctx context.Context) error {
		called = true
		if ctx.Err() != nil {
			t.Fatalf("lease context should be live")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("WithRunLease() err=%v called=%v", err, called)
	}
	if len(db.released) != 1 || db.released[0] != "ingest:r2" {
		t.Fatalf("expected lease release, got %v", db.released)
	}
}

func TestAcquire_WaitHonoursContext(t *testing.T) {
	db := newFakeDB()
	db.holders["ingest:r3"] = "someone-else"

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(db, "").Acquire(ctx, RunKey("r3"), Options{Wait: true, WaitInterval: 10 * time.Millisecond})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestOptionsNormalized(t *testing.T) {
	o := Options{TTL: 10 * time.Second, RenewEvery: time.Minute, WaitJitter: -1}.normalized()
	if o.RenewEvery != 5*time.Second {
		t.Fatalf("expected renew every 5s, got %s", o.RenewEvery)
	}
	if o.WaitInterval != defaultWaitInterval || o.WaitJitter != 0 {
		t.Fatalf("unexpected wait options %+v", o)
	}
	if d := (Options{}).normalized(); d.TTL != defaultTTL {
		t.Fatalf("expected default TTL, got %s", d.TTL)
	}
}
