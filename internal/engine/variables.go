package engine

import (
	"fmt"
	"strings"

	"github.com/promptseq/promptseq/pkg/models"
)

// AvailableVariables lists every addressable name a sequence's templates can
// reference, tagged by source: sequence variables, the owner's global lists,
// and the predicted outputs of each block. On a name collision the first
// entry in that order wins.
func AvailableVariables(seq *models.Sequence, lists []*models.GlobalList) []models.AvailableVariable {
	var all []models.AvailableVariable

	for _, v := range seq.Variables {
		all = append(all, models.AvailableVariable{
			Name:        v.Name,
			Type:        string(v.Type),
			Source:      fmt.Sprintf("Sequence Defined (%s)", capitalize(string(v.Type))),
			Description: v.Description,
		})
	}

	for _, list := range lists {
		all = append(all, models.AvailableVariable{
			Name:        list.Name,
			Type:        "global_list",
			Source:      "User Global List",
			Description: list.Description,
		})
	}

	for _, block := range seq.Blocks {
		switch block.Type {
		case models.BlockStandard:
			if cfg := block.Config.Standard; cfg != nil {
				all = append(all, models.AvailableVariable{
					Name:        cfg.OutputVariableName,
					Type:        "block_output",
					Source:      fmt.Sprintf("Block: %s", block.Name),
					Description: fmt.Sprintf("Output of '%s'", block.Name),
				})
			}
		case models.BlockDiscretization:
			if cfg := block.Config.Discretization; cfg != nil {
				for _, name := range cfg.OutputNames {
					all = append(all, models.AvailableVariable{
						Name:        name,
						Type:        "block_output",
						Source:      fmt.Sprintf("Block: %s (Discretized)", block.Name),
						Description: fmt.Sprintf("Discretized output '%s' from '%s'", name, block.Name),
					})
				}
			}
		case models.BlockSingleList:
			all = append(all, models.AvailableVariable{
				Name:        block.OutputListName(),
				Type:        "list_output",
				Source:      fmt.Sprintf("Block: %s", block.Name),
				Description: fmt.Sprintf("List output of '%s'", block.Name),
			})
		case models.BlockMultiList:
			all = append(all, models.AvailableVariable{
				Name:        block.OutputMatrixName(),
				Type:        "matrix_output",
				Source:      fmt.Sprintf("Block: %s", block.Name),
				Description: fmt.Sprintf("Matrix output of '%s'", block.Name),
			})
		}
	}

	seen := make(map[string]bool, len(all))
	out := make([]models.AvailableVariable, 0, len(all))
	for _, v := range all {
		if seen[v.Name] {
			continue
		}
		seen[v.Name] = true
		out = append(out, v)
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
