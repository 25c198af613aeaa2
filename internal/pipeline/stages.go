package pipeline

import (
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Stage numbers, in execution order.
const (
	StageBase     = 1 // IRS BMF base extract
	StageKeyed    = 2 // EIN-keyed API enrichment
	StageNonKeyed = 3 // sources without EINs
	StageMerge    = 4
	StageDedup    = 5
	StageOutput   = 6
)

var stageNames = map[int]string{
	StageBase:     "1_base",
	StageKeyed:    "2_keyed",
	StageNonKeyed: "3_non_keyed",
	StageMerge:    "4_merge",
	StageDedup:    "5_dedup",
	StageOutput:   "6_output",
}

// AllStages returns every stage number.
func AllStages() []int {
	return []int{StageBase, StageKeyed, StageNonKeyed, StageMerge, StageDedup, StageOutput}
}

// StageName returns the phase name logged for a stage.
func StageName(stage int) string { return stageNames[stage] }

// ParseStages parses a comma-separated stage list such as "1,4,5". An
// empty string selects every stage. The result is sorted and deduplicated.
func ParseStages(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return AllStages(), nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: invalid stage %q", part)
		}
		if _, ok := stageNames[n]; !ok {
			return nil, eris.Errorf("pipeline: unknown stage %d (valid: 1-%d)", n, StageOutput)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, eris.New("pipeline: no stages selected")
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
