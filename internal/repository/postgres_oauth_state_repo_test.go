package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/todoman/internal/model"
)

// PostgresOAuthStateRepoはOAuthStateRepositoryインターフェースを満たすことを検証
func TestPostgresOAuthStateRepo_ImplementsInterface(t *testing.T) {
	var _ OAuthStateRepository = (*PostgresOAuthStateRepo)(nil)
}

func TestPostgresOAuthStateRepo_Consume_IsSingleUse(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresOAuthStateRepo(db)
	ctx := context.Background()

	now := time.Now()
	state := &model.OAuthState{
		State:        "state-1",
		Nonce:        "nonce-1",
		CodeVerifier: "verifier-1",
		ExpiresAt:    now.Add(10 * time.Minute),
		CreatedAt:    now,
	}
	if err := repo.Create(ctx, state); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got == nil {
		t.Fatal("first Consume returned nil")
	}
	if got.Nonce != "nonce-1" || got.CodeVerifier != "verifier-1" {
		t.Errorf("Consume = %+v, want nonce-1/verifier-1", got)
	}

	again, err := repo.Consume(ctx, "state-1")
	if err != nil {
		t.Fatalf("second Consume: %v", err)
	}
	if again != nil {
		t.Errorf("second Consume = %+v, want nil", again)
	}
}

func TestPostgresOAuthStateRepo_Consume_ConcurrentOnlyOneWins(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresOAuthStateRepo(db)
	ctx := context.Background()

	now := time.Now()
	if err := repo.Create(ctx, &model.OAuthState{
		State: "race", Nonce: "n", CodeVerifier: "v",
		ExpiresAt: now.Add(time.Minute), CreatedAt: now,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const workers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := repo.Consume(ctx, "race")
			if err != nil {
				t.Errorf("Consume: %v", err)
				return
			}
			if s != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("successful consumes = %d, want 1", wins)
	}
}

func TestPostgresOAuthStateRepo_Consume_ExpiredReturnsNilAndDeletes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresOAuthStateRepo(db)
	ctx := context.Background()

	now := time.Now()
	if err := repo.Create(ctx, &model.OAuthState{
		State: "old", Nonce: "n", CodeVerifier: "v",
		ExpiresAt: now.Add(-time.Second), CreatedAt: now.Add(-11 * time.Minute),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Consume(ctx, "old")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got != nil {
		t.Errorf("expired Consume = %+v, want nil", got)
	}

	var count int
	if err := db.Get(&count, `SELECT count(*) FROM oauth_states WHERE state = 'old'`); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expired row should be deleted, count = %d", count)
	}
}

func TestPostgresOAuthStateRepo_Consume_UnknownReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPostgresOAuthStateRepo(db)

	got, err := repo.Consume(context.Background(), "never-issued")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got != nil {
		t.Errorf("Consume = %+v, want nil", got)
	}
}
