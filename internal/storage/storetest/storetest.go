// Package storetest is the conformance suite for service.TokenStore and
// service.OrderRepository implementations.
package storetest

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

// uniqueID returns a fresh id so suites can run against shared databases.
func uniqueID(prefix string) string {
	return prefix + strings.ToLower(ulid.MustNew(ulid.Now(), rand.Reader).String())
}

// NewToken builds a token record issued at now.
func NewToken(now time.Time, ttl time.Duration, maxUses int) *domain.DownloadToken {
	return &domain.DownloadToken{
		TokenID:   uniqueID(domain.TokenPrefix + "test_"),
		OrderID:   uniqueID("ord-"),
		ProductID: "ebook",
		UserID:    "user-1",
		IssuedAt:  now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
		MaxUses:   maxUses,
	}
}

// RunTokenStoreTests runs the token store conformance suite. newStore
// must return an isolated or shared store; the suite uses unique ids.
func RunTokenStoreTests(t *testing.T, newStore func(t *testing.T) service.TokenStore) {
	t.Run("PutGet", func(t *testing.T) { testPutGet(t, newStore(t)) })
	t.Run("DuplicateToken", func(t *testing.T) { testDuplicateToken(t, newStore(t)) })
	t.Run("LineAlreadyIssued", func(t *testing.T) { testLineAlreadyIssued(t, newStore(t)) })
	t.Run("ConsumeScenario", func(t *testing.T) { testConsumeScenario(t, newStore(t)) })
	t.Run("ExpiryPrecedence", func(t *testing.T) { testExpiryPrecedence(t, newStore(t)) })
	t.Run("ConsumeNotFound", func(t *testing.T) { testConsumeNotFound(t, newStore(t)) })
	t.Run("RaceOnLastUse", func(t *testing.T) { testRaceOnLastUse(t, newStore(t)) })
	t.Run("RaceManyUses", func(t *testing.T) { testRaceManyUses(t, newStore(t)) })
	t.Run("RacePutSameLine", func(t *testing.T) { testRacePutSameLine(t, newStore(t)) })
	t.Run("Sweep", func(t *testing.T) { testSweep(t, newStore(t)) })
}

func mustPut(t *testing.T, s service.TokenStore, tok *domain.DownloadToken) {
	t.Helper()
	if err := s.Put(context.Background(), tok); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
}

func testPutGet(t *testing.T, s service.TokenStore) {
	ctx := context.Background()
	tok := NewToken(time.Now(), time.Hour, 5)
	mustPut(t, s, tok)

	got, err := s.Get(ctx, tok.TokenID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if *got != *tok {
		t.Errorf("Get() = %+v, want %+v", got, tok)
	}

	byLine, err := s.GetByLine(ctx, tok.OrderID, tok.ProductID)
	if err != nil {
		t.Fatalf("GetByLine() error = %v", err)
	}
	if byLine.TokenID != tok.TokenID {
		t.Errorf("GetByLine() token = %q, want %q", byLine.TokenID, tok.TokenID)
	}

	if _, err := s.Get(ctx, uniqueID(domain.TokenPrefix)); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.GetByLine(ctx, tok.OrderID, "other"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("GetByLine(unknown) error = %v, want ErrTokenNotFound", err)
	}
}

func testDuplicateToken(t *testing.T, s service.TokenStore) {
	tok := NewToken(time.Now(), time.Hour, 5)
	mustPut(t, s, tok)

	dup := *tok
	dup.OrderID = uniqueID("ord-")
	if err := s.Put(context.Background(), &dup); !errors.Is(err, domain.ErrTokenDuplicate) {
		t.Errorf("Put(duplicate id) error = %v, want ErrTokenDuplicate", err)
	}
}

func testLineAlreadyIssued(t *testing.T, s service.TokenStore) {
	ctx := context.Background()
	first := NewToken(time.Now(), time.Hour, 5)
	mustPut(t, s, first)

	second := NewToken(time.Now(), time.Hour, 5)
	second.OrderID = first.OrderID
	if err := s.Put(ctx, second); !errors.Is(err, domain.ErrLineAlreadyIssued) {
		t.Fatalf("Put(same line) error = %v, want ErrLineAlreadyIssued", err)
	}
	if _, err := s.Get(ctx, second.TokenID); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("losing token should not be stored, Get() error = %v", err)
	}
}

func testConsumeScenario(t *testing.T, s service.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	tok := NewToken(now, time.Hour, 2)
	mustPut(t, s, tok)

	want := []struct {
		outcome   domain.ConsumeOutcome
		remaining int
	}{
		{domain.ConsumeOK, 1},
		{domain.ConsumeOK, 0},
		{domain.ConsumeExhausted, 0},
	}
	for i, w := range want {
		res, err := s.TryConsume(ctx, tok.TokenID, now)
		if err != nil {
			t.Fatalf("consume %d: error = %v", i+1, err)
		}
		if res.Outcome != w.outcome || res.Remaining != w.remaining {
			t.Errorf("consume %d = %v remaining %d, want %v remaining %d",
				i+1, res.Outcome, res.Remaining, w.outcome, w.remaining)
		}
	}

	got, err := s.Get(ctx, tok.TokenID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UsesConsumed != 2 {
		t.Errorf("UsesConsumed = %d, want 2 (failed consume must not mutate)", got.UsesConsumed)
	}

	fresh := NewToken(now, time.Hour, 2)
	mustPut(t, s, fresh)
	res, err := s.TryConsume(ctx, fresh.TokenID, now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("consume after ttl: error = %v", err)
	}
	if res.Outcome != domain.ConsumeExpired {
		t.Errorf("consume after ttl = %v, want expired", res.Outcome)
	}
}

func testExpiryPrecedence(t *testing.T, s service.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	tok := NewToken(now.Add(-2*time.Hour), time.Hour, 1)
	mustPut(t, s, tok)

	for i := 0; i < 2; i++ {
		res, err := s.TryConsume(ctx, tok.TokenID, now)
		if err != nil {
			t.Fatalf("TryConsume() error = %v", err)
		}
		if res.Outcome != domain.ConsumeExpired {
			t.Errorf("TryConsume() = %v, want expired", res.Outcome)
		}
	}
	got, _ := s.Get(ctx, tok.TokenID)
	if got.UsesConsumed != 0 {
		t.Errorf("UsesConsumed = %d, want 0", got.UsesConsumed)
	}
}

func testConsumeNotFound(t *testing.T, s service.TokenStore) {
	res, err := s.TryConsume(context.Background(), uniqueID(domain.TokenPrefix), time.Now())
	if err != nil {
		t.Fatalf("TryConsume() error = %v", err)
	}
	if res.Outcome != domain.ConsumeNotFound {
		t.Errorf("TryConsume() = %v, want not_found", res.Outcome)
	}
}

// raceConsume fires n concurrent consumes and counts outcomes.
func raceConsume(t *testing.T, s service.TokenStore, tokenID string, n int) map[domain.ConsumeOutcome]int {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		start   = make(chan struct{})
		counts  = make(map[domain.ConsumeOutcome]int)
		errList []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			res, err := s.TryConsume(ctx, tokenID, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errList = append(errList, err)
				return
			}
			counts[res.Outcome]++
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errList {
		t.Errorf("concurrent TryConsume() error = %v", err)
	}
	return counts
}

func testRaceOnLastUse(t *testing.T, s service.TokenStore) {
	tok := NewToken(time.Now(), time.Hour, 1)
	mustPut(t, s, tok)

	const n = 32
	counts := raceConsume(t, s, tok.TokenID, n)
	if counts[domain.ConsumeOK] != 1 {
		t.Errorf("successful consumes = %d, want exactly 1", counts[domain.ConsumeOK])
	}
	if counts[domain.ConsumeExhausted] != n-1 {
		t.Errorf("exhausted = %d, want %d", counts[domain.ConsumeExhausted], n-1)
	}

	got, err := s.Get(context.Background(), tok.TokenID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UsesConsumed != 1 {
		t.Errorf("UsesConsumed = %d, want 1", got.UsesConsumed)
	}
}

func testRaceManyUses(t *testing.T, s service.TokenStore) {
	tok := NewToken(time.Now(), time.Hour, 5)
	mustPut(t, s, tok)

	counts := raceConsume(t, s, tok.TokenID, 40)
	if counts[domain.ConsumeOK] != 5 {
		t.Errorf("successful consumes = %d, want 5", counts[domain.ConsumeOK])
	}
	got, _ := s.Get(context.Background(), tok.TokenID)
	if got.UsesConsumed != got.MaxUses {
		t.Errorf("UsesConsumed = %d, want %d", got.UsesConsumed, got.MaxUses)
	}
}

func testRacePutSameLine(t *testing.T, s service.TokenStore) {
	ctx := context.Background()
	orderID := uniqueID("ord-")

	const n = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		won    int
		issued int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok := NewToken(time.Now(), time.Hour, 5)
			tok.OrderID = orderID
			err := s.Put(ctx, tok)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, domain.ErrLineAlreadyIssued):
				issued++
			default:
				t.Errorf("Put() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if won != 1 || issued != n-1 {
		t.Errorf("won = %d, already issued = %d, want 1 and %d", won, issued, n-1)
	}
}

func testSweep(t *testing.T, s service.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	old := NewToken(now.Add(-48*time.Hour), time.Hour, 5)
	live := NewToken(now, time.Hour, 5)
	mustPut(t, s, old)
	mustPut(t, s, live)

	n, err := s.Sweep(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n < 1 {
		t.Errorf("Sweep() removed %d, want at least 1", n)
	}
	if _, err := s.Get(ctx, old.TokenID); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("swept token Get() error = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.GetByLine(ctx, old.OrderID, old.ProductID); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("swept line GetByLine() error = %v, want ErrTokenNotFound", err)
	}
	if _, err := s.Get(ctx, live.TokenID); err != nil {
		t.Errorf("live token Get() error = %v", err)
	}
}
