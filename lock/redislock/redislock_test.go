package redislock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/wallet/lock"
)

type fakeClient struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
	evals  int
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: make(map[string]string)}
}

func (f *fakeClient) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, exists := f.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if v, ok := f.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func TestObtainAndRelease(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	l, err := New(client)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lease, err := l.Obtain(ctx, "payer:job", time.Second)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if _, ok := client.data[defaultPrefix+"payer:job"]; !ok {
		t.Fatal("expected key to be set with prefix")
	}

	if _, err := l.Obtain(ctx, "payer:job", time.Second); !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("second Obtain: got %v, want ErrNotObtained", err)
	}

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, ok := client.data[defaultPrefix+"payer:job"]; ok {
		t.Fatal("expected key to be deleted after release")
	}

	if _, err := l.Obtain(ctx, "payer:job", time.Second); err != nil {
		t.Fatalf("Obtain after release: %v", err)
	}
}

func TestReleaseDoesNotStealForeignLock(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	l, _ := New(client, WithPrefix("t:"))

	lease, err := l.Obtain(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}

	// Simulate expiry followed by another owner taking the key.
	client.data["t:k"] = "someone-else"

	if err := lease.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if client.data["t:k"] != "someone-else" {
		t.Fatal("release removed a lock owned by someone else")
	}
}

func TestObtainWaitsUntilDeadline(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	client.data[defaultPrefix+"busy"] = "holder"
	l, _ := New(client, WithWait(30*time.Millisecond, 5*time.Millisecond))

	start := time.Now()
	_, err := l.Obtain(ctx, "busy", time.Second)
	if !errors.Is(err, lock.ErrNotObtained) {
		t.Fatalf("got %v, want ErrNotObtained", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("Obtain returned before the wait deadline")
	}
}

func TestObtainErrors(t *testing.T) {
	ctx := context.Background()

	if _, err := New(nil); err == nil {
		t.Error("expected error for nil client")
	}

	client := newFakeClient()
	client.setErr = errors.New("connection refused")
	l, _ := New(client)
	if _, err := l.Obtain(ctx, "k", time.Second); err == nil || errors.Is(err, lock.ErrNotObtained) {
		t.Errorf("expected transport error, got %v", err)
	}
	if _, err := l.Obtain(ctx, "k", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestNopLocker(t *testing.T) {
	lease, err := lock.Nop{}.Obtain(context.Background(), "k", time.Second)
	if err != nil {
		t.Fatalf("Obtain: %v", err)
	}
	if err := lease.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
