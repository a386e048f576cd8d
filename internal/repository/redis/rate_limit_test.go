package redis

import (
	"context"
	"testing"
	"time"
)

func TestRateLimitRepository_CountWithinWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "ratelimit", TTL: time.Hour})

	ctx := context.Background()
	reference := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	attempts := []time.Time{
		reference.Add(-90 * time.Minute),
		reference.Add(-30 * time.Minute),
		reference.Add(-5 * time.Minute),
	}
	for _, at := range attempts {
		if err := repo.RecordAttempt(ctx, "magiclink:email:hash-1", at); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "magiclink:email:hash-1", time.Hour, reference)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 attempts inside the window, got %d", count)
	}
}

func TestRateLimitRepository_TrimWindow(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "ratelimit", TTL: time.Hour})

	ctx := context.Background()
	reference := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	if err := repo.RecordAttempt(ctx, "login:ip:10.0.0.0/24", reference.Add(-2*time.Hour)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := repo.RecordAttempt(ctx, "login:ip:10.0.0.0/24", reference.Add(-10*time.Minute)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	if err := repo.TrimWindow(ctx, "login:ip:10.0.0.0/24", time.Hour, reference); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	count, err := repo.CountAttempts(ctx, "login:ip:10.0.0.0/24", 24*time.Hour, reference)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected trimmed set to hold 1 attempt, got %d", count)
	}
}

func TestRateLimitRepository_OldestAttempt(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "ratelimit", TTL: time.Hour})

	ctx := context.Background()
	reference := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)

	_, found, err := repo.OldestAttempt(ctx, "login:ip:10.0.0.0/24", time.Hour, reference)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if found {
		t.Fatal("expected no attempts yet")
	}

	oldest := reference.Add(-40 * time.Minute)
	if err := repo.RecordAttempt(ctx, "login:ip:10.0.0.0/24", oldest); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	if err := repo.RecordAttempt(ctx, "login:ip:10.0.0.0/24", reference.Add(-5*time.Minute)); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}

	got, found, err := repo.OldestAttempt(ctx, "login:ip:10.0.0.0/24", time.Hour, reference)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !found {
		t.Fatal("expected an attempt inside the window")
	}
	if !got.Equal(oldest) {
		t.Fatalf("expected oldest attempt %v, got %v", oldest, got)
	}
}
