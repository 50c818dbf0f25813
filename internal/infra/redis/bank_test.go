package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

func TestBankRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	loader := &countingLoader{
		BankLoader: memory.NewStaticBankLoader(map[string]domain.Bank{
			"bank-1": sampleBank(),
		}),
	}
	repo := NewBankRepository(client, loader, time.Minute)

	bank, err := repo.GetBank(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}
	if len(bank.Questions) != 1 || bank.Questions[0].Correct != 1 {
		t.Fatalf("expected full bank through cache, got %+v", bank)
	}
	if !mr.Exists("quiz:bank:bank-1") {
		t.Fatalf("expected redis key to be set")
	}

	// Second call must come from redis, loader untouched.
	bank, err = repo.GetBank(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("get bank 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if bank.Questions[0].Prompt == "" {
		t.Fatalf("cached bank must keep prompts, got %+v", bank.Questions[0])
	}
}

func TestBankRepositoryReloadsCorruptEntry(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Set("quiz:bank:bank-1", "{broken")

	loader := &countingLoader{
		BankLoader: memory.NewStaticBankLoader(map[string]domain.Bank{
			"bank-1": sampleBank(),
		}),
	}
	repo := NewBankRepository(client, loader, time.Minute)

	if _, err := repo.GetBank(context.Background(), "bank-1"); err != nil {
		t.Fatalf("get bank: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader fallback on corrupt cache, calls=%d", loader.calls)
	}
}

type countingLoader struct {
	memory.BankLoader
	calls int
}

func (l *countingLoader) LoadBank(ctx context.Context, bankID string) (domain.Bank, error) {
	l.calls++
	return l.BankLoader.LoadBank(ctx, bankID)
}

func sampleBank() domain.Bank {
	return domain.Bank{
		ID: "bank-1",
		Questions: []domain.Question{
			{
				ID:      "q1",
				Prompt:  "What is 2 + 2?",
				Options: []string{"3", "4", "5", "6"},
				Correct: 1,
			},
		},
	}
}
