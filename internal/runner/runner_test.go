package runner

import (
	"context"
	"testing"
	"time"

	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/engine"
	"github.com/promptseq/promptseq/internal/llm"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/internal/storage"
	"github.com/promptseq/promptseq/pkg/models"
)

type constProvider struct{}

func (constProvider) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	return &llm.Completion{Text: "reply"}, nil
}

func TestRunnerDrainsQueue(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(config.DBConfig{URL: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	owner, _ := store.CreateUser(ctx, "runner@example.com", "hashed")
	seq, _ := store.CreateSequence(ctx, owner.ID, "seq", "")
	block := &models.Block{
		SequenceID: seq.ID, Name: "step", Type: models.BlockStandard, Order: 1,
		Config: models.BlockConfig{Standard: &models.StandardConfig{Prompt: "go", OutputVariableName: "out"}},
	}
	if _, err := store.CreateBlock(ctx, owner.ID, block); err != nil {
		t.Fatalf("create block: %v", err)
	}
	run, err := store.CreateRun(ctx, owner.ID, seq.ID, nil)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	eng := engine.New(store, constProvider{}, logger, nil, config.LLMConfig{DefaultModel: "m"}, config.EngineConfig{FanOutLimit: 1})

	r := New(eng, logger, 1, 4)
	r.Start(ctx)
	if err := r.Enqueue(owner.ID, run.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		got, err := store.GetRun(ctx, owner.ID, run.ID)
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		if got.Status.Terminal() {
			if got.Status != models.StatusCompleted {
				t.Fatalf("want completed, got %s", got.Status)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run never finished, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := r.Enqueue(owner.ID, run.ID); err != ErrStopped {
		t.Fatalf("want ErrStopped after shutdown, got %v", err)
	}
}
