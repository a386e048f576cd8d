package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestAbuseRepository_IncrementFailures(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewAbuseRepository(client, "abuse")

	ctx := context.Background()
	window := time.Hour

	for want := int64(1); want <= 3; want++ {
		count, err := repo.IncrementFailures(ctx, "hash-1", window)
		if err != nil {
			t.Fatalf("IncrementFailures returned error: %v", err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
	}

	remaining := server.TTL("abuse:user:hash-1")
	if remaining <= 0 || remaining > window {
		t.Fatalf("expected ttl within (0, %v], got %v", window, remaining)
	}

	count, err := repo.FailureCount(ctx, "hash-1")
	if err != nil {
		t.Fatalf("FailureCount returned error: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestAbuseRepository_FailureCountMiss(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewAbuseRepository(client, "abuse")

	count, err := repo.FailureCount(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("FailureCount returned error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected zero count for unknown identifier, got %d", count)
	}
}

func TestAbuseRepository_CaptchaFlag(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewAbuseRepository(client, "abuse")

	ctx := context.Background()

	required, err := repo.CaptchaRequired(ctx, "hash-1")
	if err != nil {
		t.Fatalf("CaptchaRequired returned error: %v", err)
	}
	if required {
		t.Fatal("captcha should not be required before the flag is set")
	}

	if err := repo.SetCaptchaRequired(ctx, "hash-1", time.Hour); err != nil {
		t.Fatalf("SetCaptchaRequired returned error: %v", err)
	}

	required, err = repo.CaptchaRequired(ctx, "hash-1")
	if err != nil {
		t.Fatalf("CaptchaRequired returned error: %v", err)
	}
	if !required {
		t.Fatal("expected captcha to be required after the flag is set")
	}
}

func TestAbuseRepository_LastAttempt(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewAbuseRepository(client, "abuse")

	ctx := context.Background()

	_, found, err := repo.LastAttempt(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LastAttempt returned error: %v", err)
	}
	if found {
		t.Fatal("expected no last attempt before any failure")
	}

	at := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	if err := repo.TouchLastAttempt(ctx, "hash-1", at, time.Hour); err != nil {
		t.Fatalf("TouchLastAttempt returned error: %v", err)
	}

	got, found, err := repo.LastAttempt(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LastAttempt returned error: %v", err)
	}
	if !found {
		t.Fatal("expected last attempt to be recorded")
	}
	if !got.Equal(at) {
		t.Fatalf("expected last attempt %v, got %v", at, got)
	}
}

func TestAbuseRepository_Reset(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewAbuseRepository(client, "abuse")

	ctx := context.Background()

	if _, err := repo.IncrementFailures(ctx, "hash-1", time.Hour); err != nil {
		t.Fatalf("IncrementFailures returned error: %v", err)
	}
	if err := repo.SetCaptchaRequired(ctx, "hash-1", time.Hour); err != nil {
		t.Fatalf("SetCaptchaRequired returned error: %v", err)
	}
	if err := repo.TouchLastAttempt(ctx, "hash-1", time.Now(), time.Hour); err != nil {
		t.Fatalf("TouchLastAttempt returned error: %v", err)
	}

	if err := repo.Reset(ctx, "hash-1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}

	for _, key := range []string{"abuse:user:hash-1", "abuse:captcha:hash-1", "abuse:last_attempt:hash-1"} {
		if server.Exists(key) {
			t.Fatalf("expected key %s to be deleted", key)
		}
	}
}
