package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"

	"github.com/promptseq/promptseq/internal/llm"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/pkg/models"
)

// blockResult carries everything a block execution produced. On error,
// additions is empty; the context is never partially updated.
type blockResult struct {
	additions  map[string]any
	promptText string
	llmOutput  string

	named  map[string]string
	list   []any
	matrix []any

	usage models.TokenUsage
	cost  float64
	err   error
}

// executor runs single blocks against a provider.
type executor struct {
	provider    llm.Provider
	logger      *observability.Logger
	model       string
	fanOutLimit int
}

func (e *executor) execute(ctx context.Context, block *models.Block, runCtx map[string]any) *blockResult {
	switch block.Type {
	case models.BlockStandard:
		return e.executeStandard(ctx, block, runCtx)
	case models.BlockDiscretization:
		return e.executeDiscretization(ctx, block, runCtx)
	case models.BlockSingleList:
		return e.executeSingleList(ctx, block, runCtx)
	case models.BlockMultiList:
		return e.executeMultiList(ctx, block, runCtx)
	}
	return &blockResult{err: fmt.Errorf("unknown block type %q", block.Type)}
}

func (e *executor) executeStandard(ctx context.Context, block *models.Block, runCtx map[string]any) *blockResult {
	cfg := block.Config.Standard
	if cfg == nil {
		return &blockResult{err: fmt.Errorf("standard block %d has no config", block.ID)}
	}
	res := &blockResult{}
	rendered, err := RenderTemplate(cfg.Prompt, runCtx)
	if err != nil {
		res.err = err
		return res
	}
	res.promptText = rendered

	completion, err := e.provider.Complete(ctx, llm.Request{Prompt: rendered, Model: e.model})
	if err != nil {
		res.err = err
		return res
	}
	res.llmOutput = completion.Text
	res.usage = completion.Usage
	res.cost = completion.CostUSD
	res.additions = map[string]any{cfg.OutputVariableName: completion.Text}
	return res
}

func (e *executor) executeDiscretization(ctx context.Context, block *models.Block, runCtx map[string]any) *blockResult {
	cfg := block.Config.Discretization
	if cfg == nil {
		return &blockResult{err: fmt.Errorf("discretization block %d has no config", block.ID)}
	}
	res := &blockResult{}
	rendered, err := RenderTemplate(cfg.Prompt, runCtx)
	if err != nil {
		res.err = err
		return res
	}
	res.promptText = rendered

	completion, err := e.provider.Complete(ctx, llm.Request{Prompt: rendered, Model: e.model})
	if err != nil {
		res.err = err
		return res
	}
	res.llmOutput = completion.Text
	res.usage = completion.Usage
	res.cost = completion.CostUSD

	named := Discretize(ctx, completion.Text, cfg.OutputNames, e.logger)
	res.named = named
	res.additions = make(map[string]any, len(named))
	for k, v := range named {
		res.additions[k] = v
	}
	return res
}

func (e *executor) executeSingleList(ctx context.Context, block *models.Block, runCtx map[string]any) *blockResult {
	cfg := block.Config.SingleList
	if cfg == nil {
		return &blockResult{err: fmt.Errorf("single_list block %d has no config", block.ID)}
	}
	res := &blockResult{}

	raw, ok := runCtx[cfg.InputListVariableName]
	if !ok {
		res.err = fmt.Errorf("variable %q for single list block not found in context", cfg.InputListVariableName)
		return res
	}
	items, ok := asList(raw)
	if !ok {
		res.err = fmt.Errorf("variable %q for single list block is not a list", cfg.InputListVariableName)
		return res
	}

	res.promptText = fmt.Sprintf("Executing Single List Block. Template: %s... on list '%s' (%d items).",
		truncate(cfg.Prompt, 100), cfg.InputListVariableName, len(items))

	envs := make([]map[string]any, len(items))
	for i, item := range items {
		env := maps.Clone(runCtx)
		env["item"] = item
		env["item_index"] = i
		envs[i] = env
	}

	results, usage, cost, err := e.fanOut(ctx, cfg.Prompt, envs)
	if err != nil {
		res.err = err
		return res
	}
	res.usage = usage
	res.cost = cost

	list := make([]any, len(results))
	for i, r := range results {
		list[i] = r
	}
	res.list = list
	encoded, _ := json.Marshal(results)
	res.llmOutput = string(encoded)
	res.additions = map[string]any{block.OutputListName(): list}
	return res
}

func (e *executor) executeMultiList(ctx context.Context, block *models.Block, runCtx map[string]any) *blockResult {
	cfg := block.Config.MultiList
	if cfg == nil {
		return &blockResult{err: fmt.Errorf("multi_list block %d has no config", block.ID)}
	}
	res := &blockResult{}

	names := make([]string, len(cfg.InputLists))
	lists := make([][]any, len(cfg.InputLists))
	for i, ref := range cfg.InputLists {
		names[i] = ref.Name
		raw, ok := runCtx[ref.Name]
		if !ok {
			res.err = fmt.Errorf("list %q for multi list block not found in context", ref.Name)
			return res
		}
		items, ok := asList(raw)
		if !ok {
			res.err = fmt.Errorf("list %q for multi list block is not a list", ref.Name)
			return res
		}
		lists[i] = items
	}

	res.promptText = fmt.Sprintf("Executing Multi List Block. Template: %s... on lists '%s'.",
		truncate(cfg.Prompt, 100), strings.Join(names, "' & '"))

	// Outer product in declared order: flatten every index tuple, fan the
	// calls out, then reshape into the nested matrix.
	dims := make([]int, len(lists))
	total := 1
	for i, l := range lists {
		dims[i] = len(l)
		total *= len(l)
	}

	var envs []map[string]any
	if total > 0 {
		envs = make([]map[string]any, total)
		for flat := 0; flat < total; flat++ {
			idx := tupleIndices(flat, dims)
			env := maps.Clone(runCtx)
			for n, i := range idx {
				env[fmt.Sprintf("item%d", n+1)] = lists[n][i]
				env[fmt.Sprintf("item%d_index", n+1)] = i
			}
			envs[flat] = env
		}
	}

	results, usage, cost, err := e.fanOut(ctx, cfg.Prompt, envs)
	if err != nil {
		res.err = err
		return res
	}
	res.usage = usage
	res.cost = cost

	matrix := reshape(results, dims)
	res.matrix = matrix
	encoded, _ := json.Marshal(matrix)
	res.llmOutput = string(encoded)
	res.additions = map[string]any{block.OutputMatrixName(): matrix}
	return res
}

// fanOut renders and completes the template once per environment, in
// parallel up to the fan-out limit. Output position i always corresponds to
// input position i; the first error aborts the rest.
func (e *executor) fanOut(ctx context.Context, template string, envs []map[string]any) ([]string, models.TokenUsage, float64, error) {
	results := make([]string, len(envs))
	if len(envs) == 0 {
		return results, models.TokenUsage{}, 0, nil
	}

	limit := e.fanOutLimit
	if limit < 1 {
		limit = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		usage    models.TokenUsage
		cost     float64
	)
	sem := make(chan struct{}, limit)

	for i := range envs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			rendered, err := RenderTemplate(template, envs[i])
			if err == nil {
				var completion *llm.Completion
				completion, err = e.provider.Complete(ctx, llm.Request{Prompt: rendered, Model: e.model})
				if err == nil {
					mu.Lock()
					results[i] = completion.Text
					usage.PromptTokens += completion.Usage.PromptTokens
					usage.CompletionTokens += completion.Usage.CompletionTokens
					cost += completion.CostUSD
					mu.Unlock()
					return
				}
			}

			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			cancel()
		}(i)
	}
	wg.Wait()

	// A caller-side cancellation can drain the workers before any of them
	// records an error; the partial results must not pass as success.
	if firstErr == nil {
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		return nil, models.TokenUsage{}, 0, firstErr
	}
	return results, usage, cost, nil
}

// tupleIndices converts a flat index into per-dimension indices, last
// dimension fastest.
func tupleIndices(flat int, dims []int) []int {
	idx := make([]int, len(dims))
	for n := len(dims) - 1; n >= 0; n-- {
		idx[n] = flat % dims[n]
		flat /= dims[n]
	}
	return idx
}

// reshape nests flat results into a matrix of the given dimensions. The
// innermost elements are strings; every outer level is []any.
func reshape(flat []string, dims []int) []any {
	if len(dims) == 0 {
		return []any{}
	}
	if len(dims) == 1 {
		out := make([]any, dims[0])
		for i := 0; i < dims[0]; i++ {
			out[i] = flat[i]
		}
		return out
	}
	stride := 1
	for _, d := range dims[1:] {
		stride *= d
	}
	out := make([]any, dims[0])
	for i := 0; i < dims[0]; i++ {
		out[i] = reshape(flat[i*stride:(i+1)*stride], dims[1:])
	}
	return out
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
