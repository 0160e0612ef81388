package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/promptseq/promptseq/internal/storage"
	"github.com/promptseq/promptseq/pkg/models"
)

// Preview is the authoring-time rendering of one block's prompt. No run is
// created and the LLM is never called.
type Preview struct {
	BlockID        int64          `json:"block_id"`
	BlockName      string         `json:"block_name"`
	BlockType      string         `json:"block_type"`
	PromptTemplate string         `json:"prompt_template"`
	RenderedPrompt string         `json:"rendered_prompt"`
	ContextUsed    map[string]any `json:"context_used_for_preview"`
}

// ErrBlockNotInSequence is returned when the previewed block does not belong
// to the claimed sequence.
var ErrBlockNotInSequence = fmt.Errorf("block does not belong to the sequence")

// PreviewPrompt renders the target block's template against a simulated
// context: real variables and lists plus placeholder outputs for every
// earlier block. Render errors are reported inline in the rendered prompt
// rather than failing the request.
func (e *Engine) PreviewPrompt(ctx context.Context, ownerID, sequenceID, blockID int64, overrides json.RawMessage) (*Preview, error) {
	seq, err := e.store.GetSequence(ctx, ownerID, sequenceID)
	if err != nil {
		return nil, err
	}

	var target *models.Block
	for _, b := range seq.Blocks {
		if b.ID == blockID {
			target = b
			break
		}
	}
	if target == nil {
		if _, err := e.store.GetBlock(ctx, ownerID, blockID); err == nil {
			return nil, ErrBlockNotInSequence
		}
		return nil, storage.ErrNotFound
	}

	lists, err := e.store.ListGlobalLists(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	previewCtx, err := BuildContext(seq, lists, overrides)
	if err != nil {
		return nil, err
	}

	for _, prev := range seq.Blocks {
		if !blockPrecedes(prev, target) {
			continue
		}
		simulateOutputs(prev, previewCtx)
	}

	renderCtx := maps.Clone(previewCtx)
	injectLoopPlaceholders(target, renderCtx)

	template := promptTemplate(target)
	rendered, err := RenderTemplate(template, renderCtx)
	if err != nil {
		rendered = fmt.Sprintf("Error rendering prompt preview: %v. Template: %s", err, template)
	}

	return &Preview{
		BlockID:        target.ID,
		BlockName:      target.Name,
		BlockType:      string(target.Type),
		PromptTemplate: template,
		RenderedPrompt: rendered,
		ContextUsed:    truncateContext(renderCtx),
	}, nil
}

// blockPrecedes reports whether a runs before b under the (order, id) total
// order.
func blockPrecedes(a, b *models.Block) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

// simulateOutputs injects placeholder values for the outputs a block would
// produce, so later templates resolve.
func simulateOutputs(block *models.Block, ctx map[string]any) {
	switch block.Type {
	case models.BlockStandard:
		if cfg := block.Config.Standard; cfg != nil {
			ctx[cfg.OutputVariableName] = fmt.Sprintf("[Output from %s (ID: %d)]", block.Name, block.ID)
		}
	case models.BlockDiscretization:
		if cfg := block.Config.Discretization; cfg != nil {
			for _, name := range cfg.OutputNames {
				ctx[name] = fmt.Sprintf("[Discretized output '%s' from %s]", name, block.Name)
			}
		}
	case models.BlockSingleList:
		ctx[block.OutputListName()] = []any{fmt.Sprintf("[Sample item from list output of %s]", block.Name)}
	case models.BlockMultiList:
		ctx[block.OutputMatrixName()] = []any{[]any{fmt.Sprintf("[Sample item from matrix output of %s]", block.Name)}}
	}
}

// injectLoopPlaceholders adds the inner-loop names the target block's
// template may reference.
func injectLoopPlaceholders(block *models.Block, ctx map[string]any) {
	switch block.Type {
	case models.BlockSingleList:
		ctx["item"] = "[SAMPLE_LIST_ITEM]"
		ctx["item_index"] = 0
	case models.BlockMultiList:
		if cfg := block.Config.MultiList; cfg != nil {
			for i, ref := range cfg.InputLists {
				ctx[fmt.Sprintf("item%d", i+1)] = fmt.Sprintf("[SAMPLE_FROM_%s]", ref.Name)
				ctx[fmt.Sprintf("item%d_index", i+1)] = 0
			}
		}
	}
}

func promptTemplate(block *models.Block) string {
	switch {
	case block.Config.Standard != nil:
		return block.Config.Standard.Prompt
	case block.Config.Discretization != nil:
		return block.Config.Discretization.Prompt
	case block.Config.SingleList != nil:
		return block.Config.SingleList.Prompt
	case block.Config.MultiList != nil:
		return block.Config.MultiList.Prompt
	}
	return ""
}

// truncateContext caps long string values for the preview snapshot.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if s, ok := v.(string); ok && len([]rune(s)) > 100 {
			out[k] = truncate(s, 100) + "..."
			continue
		}
		out[k] = v
	}
	return out
}
