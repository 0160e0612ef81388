package engine

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/llm"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/internal/storage"
	"github.com/promptseq/promptseq/pkg/models"
)

// echoProvider returns the rendered prompt verbatim, recording every call.
type echoProvider struct {
	mu      sync.Mutex
	calls   []string
	replies map[string]string
}

func (p *echoProvider) Complete(ctx context.Context, req llm.Request) (*llm.Completion, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req.Prompt)
	p.mu.Unlock()
	text := req.Prompt
	if p.replies != nil {
		if reply, ok := p.replies[req.Prompt]; ok {
			text = reply
		}
	}
	return &llm.Completion{
		Text:    text,
		Usage:   models.TokenUsage{PromptTokens: 1, CompletionTokens: 1},
		CostUSD: 0.001,
	}, nil
}

func (p *echoProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type testEnv struct {
	store  *storage.Store
	engine *Engine
	echo   *echoProvider
	owner  *models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.Open(config.DBConfig{URL: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	owner, err := store.CreateUser(context.Background(), "engine@example.com", "hashed")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	echo := &echoProvider{}
	logger := observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
	eng := New(store, echo, logger, nil,
		config.LLMConfig{DefaultModel: "claude-3-opus-20240229"},
		config.EngineConfig{FanOutLimit: 4},
	)
	return &testEnv{store: store, engine: eng, echo: echo, owner: owner}
}

func (env *testEnv) addBlock(t *testing.T, seqID int64, name string, order int, typ models.BlockType, cfg models.BlockConfig) *models.Block {
	t.Helper()
	block := &models.Block{SequenceID: seqID, Name: name, Type: typ, Order: order, Config: cfg}
	if _, err := env.store.CreateBlock(context.Background(), env.owner.ID, block); err != nil {
		t.Fatalf("create block %s: %v", name, err)
	}
	return block
}

func (env *testEnv) run(t *testing.T, seqID int64, overrides string) *models.Run {
	t.Helper()
	var raw json.RawMessage
	if overrides != "" {
		raw = json.RawMessage(overrides)
	}
	run, err := env.store.CreateRun(context.Background(), env.owner.ID, seqID, raw)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	got, err := env.engine.ExecuteRun(context.Background(), env.owner.ID, run.ID)
	if err != nil {
		t.Fatalf("execute run: %v", err)
	}
	return got
}

func TestStandardChain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "chain", "")

	env.addBlock(t, seq.ID, "greet", 1, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "Hello {{name}}", OutputVariableName: "greeting"},
	})
	env.addBlock(t, seq.ID, "echo", 2, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "Echo: {{greeting}}", OutputVariableName: "echoed"},
	})

	run := env.run(t, seq.ID, `{"name":"World"}`)
	if run.Status != models.StatusCompleted {
		t.Fatalf("want completed, got %s", run.Status)
	}
	if len(run.BlockRuns) != 2 {
		t.Fatalf("want 2 block runs, got %d", len(run.BlockRuns))
	}
	if run.BlockRuns[0].LLMOutputText != "Hello World" {
		t.Fatalf("B1 raw = %q", run.BlockRuns[0].LLMOutputText)
	}
	if run.BlockRuns[1].PromptText != "Echo: Hello World" {
		t.Fatalf("B2 prompt = %q", run.BlockRuns[1].PromptText)
	}

	var summary map[string]map[string]any
	if err := json.Unmarshal(run.ResultsSummary, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary) != 2 {
		t.Fatalf("want 2 summary entries, got %v", summary)
	}
	for key := range summary {
		if !strings.HasPrefix(key, "block_") {
			t.Fatalf("unexpected summary key %q", key)
		}
	}
}

func TestDiscretizationJSONAndFallback(t *testing.T) {
	for name, reply := range map[string]string{
		"json": `{"title":"Bees","body":"Buzz."}`,
		"text": "title: Bees\nbody: Buzz.",
	} {
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "disc", "")
			env.addBlock(t, seq.ID, "write", 1, models.BlockDiscretization, models.BlockConfig{
				Discretization: &models.DiscretizationConfig{
					Prompt:      "Write a piece about {{topic}}",
					OutputNames: []string{"title", "body"},
				},
			})
			env.echo.replies = map[string]string{"Write a piece about bees": reply}

			run := env.run(t, seq.ID, `{"topic":"bees"}`)
			if run.Status != models.StatusCompleted {
				t.Fatalf("want completed, got %s", run.Status)
			}
			var named map[string]string
			if err := json.Unmarshal(run.BlockRuns[0].NamedOutputs, &named); err != nil {
				t.Fatalf("decode named outputs: %v", err)
			}
			if named["title"] != "Bees" || named["body"] != "Buzz." {
				t.Fatalf("unexpected named outputs %v", named)
			}
		})
	}
}

func TestSingleListOrderPreserved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "animals", "")
	if _, err := env.store.CreateGlobalList(ctx, env.owner.ID, &models.GlobalList{
		Name: "animals",
		Items: []*models.GlobalListItem{
			{Value: "cat", Order: 0}, {Value: "dog", Order: 1}, {Value: "owl", Order: 2},
		},
	}); err != nil {
		t.Fatalf("create list: %v", err)
	}
	env.addBlock(t, seq.ID, "speak", 1, models.BlockSingleList, models.BlockConfig{
		SingleList: &models.SingleListConfig{
			Prompt:                 "Say {{item}}!",
			InputListVariableName:  "animals",
			OutputListVariableName: "sayings",
		},
	})

	run := env.run(t, seq.ID, "")
	if run.Status != models.StatusCompleted {
		t.Fatalf("want completed, got %s", run.Status)
	}
	var payload struct {
		Values []string `json:"values"`
	}
	if err := json.Unmarshal(run.BlockRuns[0].ListOutputs, &payload); err != nil {
		t.Fatalf("decode list outputs: %v", err)
	}
	want := []string{"Say cat!", "Say dog!", "Say owl!"}
	if len(payload.Values) != 3 {
		t.Fatalf("want 3 values, got %v", payload.Values)
	}
	for i := range want {
		if payload.Values[i] != want[i] {
			t.Fatalf("position %d: want %q, got %q", i, want[i], payload.Values[i])
		}
	}
	if run.BlockRuns[0].TokenUsage == nil || run.BlockRuns[0].TokenUsage.PromptTokens != 3 {
		t.Fatalf("fan-out usage not aggregated: %+v", run.BlockRuns[0].TokenUsage)
	}
}

func TestMultiListCrossProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "matrix", "")
	env.addBlock(t, seq.ID, "pair", 1, models.BlockMultiList, models.BlockConfig{
		MultiList: &models.MultiListConfig{
			Prompt: "{{item1}}-{{item2}}",
			InputLists: []models.InputListRef{
				{Name: "A", Priority: 1},
				{Name: "B", Priority: 2},
			},
			OutputMatrixVariableName: "pairs",
		},
	})

	run := env.run(t, seq.ID, `{"A":["a","b"],"B":["x","y"]}`)
	if run.Status != models.StatusCompleted {
		t.Fatalf("want completed, got %s", run.Status)
	}
	var payload struct {
		Values [][]string `json:"values"`
	}
	if err := json.Unmarshal(run.BlockRuns[0].MatrixOutputs, &payload); err != nil {
		t.Fatalf("decode matrix outputs: %v", err)
	}
	want := [][]string{{"a-x", "a-y"}, {"b-x", "b-y"}}
	for i := range want {
		for j := range want[i] {
			if payload.Values[i][j] != want[i][j] {
				t.Fatalf("cell (%d,%d): want %q, got %q", i, j, want[i][j], payload.Values[i][j])
			}
		}
	}
}

func TestBlockFailureIsContained(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "fail", "")
	env.addBlock(t, seq.ID, "broken", 1, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "use {{missing}}", OutputVariableName: "a"},
	})
	env.addBlock(t, seq.ID, "stable", 2, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "constant prompt", OutputVariableName: "b"},
	})

	run := env.run(t, seq.ID, "")
	if run.Status != models.StatusFailed {
		t.Fatalf("want failed, got %s", run.Status)
	}
	if run.BlockRuns[0].Status != models.StatusFailed {
		t.Fatalf("B1 should fail, got %s", run.BlockRuns[0].Status)
	}
	if run.BlockRuns[0].ErrorMessage == "" {
		t.Fatal("B1 error message missing")
	}
	if run.BlockRuns[1].Status != models.StatusCompleted {
		t.Fatalf("B2 should complete, got %s", run.BlockRuns[1].Status)
	}

	// The failed block's output never reached the summary.
	var summary map[string]map[string]any
	if err := json.Unmarshal(run.ResultsSummary, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if len(summary) != 1 {
		t.Fatalf("want 1 summary entry, got %v", summary)
	}
}

func TestFailFastStopsRun(t *testing.T) {
	env := newTestEnv(t)
	env.engine.failFast = true
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "fastfail", "")
	env.addBlock(t, seq.ID, "broken", 1, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "use {{missing}}", OutputVariableName: "a"},
	})
	env.addBlock(t, seq.ID, "never", 2, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "constant", OutputVariableName: "b"},
	})

	run := env.run(t, seq.ID, "")
	if run.Status != models.StatusFailed {
		t.Fatalf("want failed, got %s", run.Status)
	}
	if len(run.BlockRuns) != 1 {
		t.Fatalf("fail-fast should stop after the first block, got %d block runs", len(run.BlockRuns))
	}
}

func TestFanOutCancelledBeforeWorkIsAnError(t *testing.T) {
	env := newTestEnv(t)
	exec := &executor{provider: env.echo, logger: env.engine.logger, model: "m", fanOutLimit: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	envs := []map[string]any{
		{"item": "a"}, {"item": "b"},
	}
	results, _, _, err := exec.fanOut(ctx, "{{item}}", envs)
	if err == nil {
		t.Fatalf("cancelled fan-out must fail, got results %v", results)
	}
}

func TestEmptySequenceCompletes(t *testing.T) {
	env := newTestEnv(t)
	seq, _ := env.store.CreateSequence(context.Background(), env.owner.ID, "empty", "")

	run := env.run(t, seq.ID, "")
	if run.Status != models.StatusCompleted {
		t.Fatalf("want completed, got %s", run.Status)
	}
	if len(run.BlockRuns) != 0 {
		t.Fatalf("want no block runs, got %d", len(run.BlockRuns))
	}
}

func TestPreviewDoesNotCallLLM(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "preview", "")
	b1 := env.addBlock(t, seq.ID, "first step", 1, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "Hello {{name}}", OutputVariableName: "greeting"},
	})
	b2 := env.addBlock(t, seq.ID, "second step", 2, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "Echo: {{greeting}}", OutputVariableName: "echoed"},
	})

	preview, err := env.engine.PreviewPrompt(ctx, env.owner.ID, seq.ID, b2.ID, nil)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	wantFragment := "[Output from first step (ID: " + itoa(b1.ID) + ")]"
	if !strings.Contains(preview.RenderedPrompt, wantFragment) {
		t.Fatalf("rendered prompt %q missing %q", preview.RenderedPrompt, wantFragment)
	}
	if env.echo.callCount() != 0 {
		t.Fatalf("preview must not call the LLM, got %d calls", env.echo.callCount())
	}

	runs, err := env.store.ListRunsBySequence(ctx, env.owner.ID, seq.ID, 0, 20)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("preview must not create runs, got %d", len(runs))
	}
}

func TestPreviewUndefinedRendersInline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "badpreview", "")
	block := env.addBlock(t, seq.ID, "first", 1, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "{{undefined_thing}}", OutputVariableName: "x"},
	})

	preview, err := env.engine.PreviewPrompt(ctx, env.owner.ID, seq.ID, block.ID, nil)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if !strings.Contains(preview.RenderedPrompt, "Error rendering prompt preview") {
		t.Fatalf("expected inline render error, got %q", preview.RenderedPrompt)
	}
}

func TestPreviewListBlockLoopPlaceholders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "listpreview", "")
	block := env.addBlock(t, seq.ID, "fan", 1, models.BlockSingleList, models.BlockConfig{
		SingleList: &models.SingleListConfig{Prompt: "Say {{item}}", InputListVariableName: "animals"},
	})

	preview, err := env.engine.PreviewPrompt(ctx, env.owner.ID, seq.ID, block.ID, nil)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.RenderedPrompt != "Say [SAMPLE_LIST_ITEM]" {
		t.Fatalf("unexpected preview %q", preview.RenderedPrompt)
	}
}

func TestContextOverlayPrecedence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "overlay", "")

	// GLOBAL variable and a same-named global list: the list wins.
	if _, err := env.store.CreateVariable(ctx, env.owner.ID, &models.Variable{
		SequenceID: seq.ID, Name: "topic", Type: models.VariableGlobal,
		Value: json.RawMessage(`{"value":"from variable"}`),
	}); err != nil {
		t.Fatalf("create variable: %v", err)
	}
	if _, err := env.store.CreateGlobalList(ctx, env.owner.ID, &models.GlobalList{
		Name:  "topic",
		Items: []*models.GlobalListItem{{Value: "from list"}},
	}); err != nil {
		t.Fatalf("create list: %v", err)
	}

	loaded, err := env.store.GetSequence(ctx, env.owner.ID, seq.ID)
	if err != nil {
		t.Fatalf("get sequence: %v", err)
	}
	lists, _ := env.store.ListGlobalLists(ctx, env.owner.ID)

	built, err := BuildContext(loaded, lists, nil)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if _, ok := asList(built["topic"]); !ok {
		t.Fatalf("global list should shadow the variable, got %T", built["topic"])
	}

	// Overrides win over everything.
	built, err = BuildContext(loaded, lists, json.RawMessage(`{"topic":"override"}`))
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if built["topic"] != "override" {
		t.Fatalf("override should win, got %v", built["topic"])
	}
}

func TestAvailableVariablesFirstWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seq, _ := env.store.CreateSequence(ctx, env.owner.ID, "vars", "")
	if _, err := env.store.CreateVariable(ctx, env.owner.ID, &models.Variable{
		SequenceID: seq.ID, Name: "result", Type: models.VariableInput, Description: "declared input",
	}); err != nil {
		t.Fatalf("create variable: %v", err)
	}
	env.addBlock(t, seq.ID, "producer", 1, models.BlockStandard, models.BlockConfig{
		Standard: &models.StandardConfig{Prompt: "p", OutputVariableName: "result"},
	})
	env.addBlock(t, seq.ID, "splitter", 2, models.BlockDiscretization, models.BlockConfig{
		Discretization: &models.DiscretizationConfig{Prompt: "p", OutputNames: []string{"part"}},
	})

	loaded, _ := env.store.GetSequence(ctx, env.owner.ID, seq.ID)
	lists, _ := env.store.ListGlobalLists(ctx, env.owner.ID)

	vars := AvailableVariables(loaded, lists)
	byName := map[string]models.AvailableVariable{}
	for _, v := range vars {
		if _, dup := byName[v.Name]; dup {
			t.Fatalf("duplicate name %q in %v", v.Name, vars)
		}
		byName[v.Name] = v
	}
	if byName["result"].Source != "Sequence Defined (Input)" {
		t.Fatalf("first entry should win for 'result': %+v", byName["result"])
	}
	if byName["part"].Source != "Block: splitter (Discretized)" {
		t.Fatalf("unexpected source for 'part': %+v", byName["part"])
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
