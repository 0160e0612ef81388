package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/llm"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/internal/storage"
	"github.com/promptseq/promptseq/pkg/models"
)

// Engine executes runs block by block, committing each status transition so
// observers see monotone progress.
type Engine struct {
	store    *storage.Store
	provider llm.Provider
	logger   *observability.Logger
	metrics  *observability.Metrics

	model       string
	failFast    bool
	fanOutLimit int
}

// New builds an Engine from the service configuration.
func New(store *storage.Store, provider llm.Provider, logger *observability.Logger, metrics *observability.Metrics, llmCfg config.LLMConfig, engCfg config.EngineConfig) *Engine {
	return &Engine{
		store:       store,
		provider:    provider,
		logger:      logger,
		metrics:     metrics,
		model:       llmCfg.DefaultModel,
		failFast:    engCfg.FailFast,
		fanOutLimit: engCfg.FanOutLimit,
	}
}

// ExecuteRun drives one pending run to a terminal status and returns its
// final state. Blocks execute strictly in order; a failed block dooms the
// run to FAILED but later blocks still execute against the unmodified
// context unless fail-fast is configured.
func (e *Engine) ExecuteRun(ctx context.Context, ownerID, runID int64) (*models.Run, error) {
	run, err := e.store.GetRun(ctx, ownerID, runID)
	if err != nil {
		return nil, err
	}
	ctx = observability.AddRunID(ctx, runID)

	seq, err := e.store.GetSequence(ctx, ownerID, run.SequenceID)
	if err != nil {
		return nil, e.abortRun(ctx, runID, "load sequence", err)
	}

	runStart, err := e.store.MarkRunRunning(ctx, runID, run.InputOverrides)
	if err != nil {
		return nil, err
	}
	e.logger.Info(ctx, "run started", "sequence_id", seq.ID, "blocks", len(seq.Blocks))

	lists, err := e.store.ListGlobalLists(ctx, ownerID)
	if err != nil {
		return nil, e.abortRun(ctx, runID, "load global lists", err)
	}
	runCtx, err := BuildContext(seq, lists, run.InputOverrides)
	if err != nil {
		return nil, e.abortRun(ctx, runID, "build context", err)
	}

	exec := &executor{provider: e.provider, logger: e.logger, model: e.model, fanOutLimit: e.fanOutLimit}

	allCompleted := true
	summary := map[string]map[string]any{}

	for _, block := range seq.Blocks {
		started := time.Now().UTC()
		br := &models.BlockRun{
			RunID:             runID,
			BlockID:           block.ID,
			BlockNameSnapshot: block.Name,
			BlockTypeSnapshot: string(block.Type),
			Status:            models.StatusRunning,
			StartedAt:         &started,
		}
		if err := e.store.CreateBlockRun(ctx, br); err != nil {
			return nil, e.abortRun(ctx, runID, "create block run", err)
		}

		e.logger.Info(ctx, "executing block", "block_id", block.ID, "block_name", block.Name, "block_type", block.Type)
		result := exec.execute(ctx, block, runCtx)

		completed := time.Now().UTC()
		br.CompletedAt = &completed
		br.PromptText = result.promptText
		br.LLMOutputText = result.llmOutput
		if result.named != nil {
			br.NamedOutputs, _ = json.Marshal(result.named)
		}
		if result.list != nil {
			br.ListOutputs, _ = json.Marshal(map[string]any{"values": result.list})
		}
		if result.matrix != nil {
			br.MatrixOutputs, _ = json.Marshal(map[string]any{"values": result.matrix})
		}
		if result.usage != (models.TokenUsage{}) {
			usage := result.usage
			br.TokenUsage = &usage
		}
		if result.cost > 0 {
			cost := result.cost
			br.Cost = &cost
		}

		if result.err != nil {
			br.Status = models.StatusFailed
			br.ErrorMessage = result.err.Error()
			allCompleted = false
			e.logger.Error(ctx, "block failed", "block_id", block.ID, "block_name", block.Name, "error", result.err)
		} else {
			br.Status = models.StatusCompleted
			// A failed block's additions never reach later blocks.
			for k, v := range result.additions {
				runCtx[k] = v
			}
			summary[summaryKey(block)] = result.additions
		}

		if err := e.store.FinishBlockRun(ctx, br); err != nil {
			return nil, e.abortRun(ctx, runID, "finish block run", err)
		}
		if e.metrics != nil {
			e.metrics.BlockRunCounter.WithLabelValues(string(block.Type), string(br.Status)).Inc()
		}

		if result.err != nil && e.failFast {
			e.logger.Warn(ctx, "fail-fast enabled, stopping run", "block_id", block.ID)
			break
		}
	}

	status := models.StatusCompleted
	if !allCompleted {
		status = models.StatusFailed
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		summaryJSON = []byte("{}")
	}
	if err := e.store.FinishRun(ctx, runID, status, summaryJSON); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.RunCounter.WithLabelValues(string(status)).Inc()
		e.metrics.RunDuration.Observe(time.Since(runStart).Seconds())
	}
	e.logger.Info(ctx, "run finished", "status", status, "duration_ms", time.Since(runStart).Milliseconds())

	return e.store.GetRun(ctx, ownerID, runID)
}

// abortRun records a catastrophic orchestrator failure on the run itself
// before surfacing the error.
func (e *Engine) abortRun(ctx context.Context, runID int64, stage string, cause error) error {
	e.logger.Error(ctx, "run aborted", "stage", stage, "error", cause)
	blob, _ := json.Marshal(map[string]string{
		"error":   stage + " failed",
		"details": cause.Error(),
	})
	if err := e.store.FinishRun(ctx, runID, models.StatusFailed, blob); err != nil {
		e.logger.Error(ctx, "failed to record run failure", "error", err)
	}
	if e.metrics != nil {
		e.metrics.RunCounter.WithLabelValues(string(models.StatusFailed)).Inc()
	}
	return fmt.Errorf("%s: %w", stage, cause)
}

// summaryKey is the results_summary key for one block: block_{id}_{name}
// with spaces flattened to underscores.
func summaryKey(block *models.Block) string {
	return fmt.Sprintf("block_%d_%s", block.ID, strings.ReplaceAll(block.Name, " ", "_"))
}
