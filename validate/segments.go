package validate

import (
	"encoding/json"
	"strings"

	"script-studio/types"
)

type rawSegment struct {
	Index          *int     `json:"index"`
	Narration      *string  `json:"narration"`
	VisualPrompt   *string  `json:"visual_prompt"`
	NegativePrompt *string  `json:"negative_prompt"`
	DurationSec    *float64 `json:"duration_sec"`
}

// Segments decodes a segment breakdown. Every segment needs narration;
// missing indexes are numbered from 1 in order.
func Segments(data []byte) (*types.SegmentPlan, error) {
	var raw struct {
		Segments []json.RawMessage `json:"segments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fail(RuleSegments, "invalid JSON object")
	}
	if len(raw.Segments) == 0 {
		return nil, fail(RuleSegments, "segments must be a non-empty array")
	}

	plan := &types.SegmentPlan{Segments: make([]types.Segment, 0, len(raw.Segments))}
	for i, item := range raw.Segments {
		var rs rawSegment
		if err := json.Unmarshal(item, &rs); err != nil {
			return nil, fail(RuleSegments, "segments[%d] invalid object", i)
		}
		if rs.Narration == nil || strings.TrimSpace(*rs.Narration) == "" {
			return nil, fail(RuleSegments, "segments[%d].narration required", i)
		}
		seg := types.Segment{Index: i + 1, Narration: strings.TrimSpace(*rs.Narration)}
		if rs.Index != nil {
			seg.Index = *rs.Index
		}
		if rs.VisualPrompt != nil {
			seg.VisualPrompt = strings.TrimSpace(*rs.VisualPrompt)
		}
		if rs.NegativePrompt != nil {
			seg.NegativePrompt = strings.TrimSpace(*rs.NegativePrompt)
		}
		if rs.DurationSec != nil {
			seg.DurationSec = *rs.DurationSec
		}
		plan.Segments = append(plan.Segments, seg)
	}
	return plan, nil
}
