package detection

import (
	"sort"

	"guardian/internal/models"

	"github.com/samber/lo"
)

type FilterConfig struct {
	MinConfidence float64
	// Classes is the allow-list; empty allows every label.
	Classes       []string
	MaxDetections int
}

// Filter drops low-confidence and disallowed detections. When more than
// MaxDetections remain, the highest-confidence ones are kept, ordered by
// descending confidence with ties in input order.
func Filter(detections []models.Detection, cfg FilterConfig) []models.Detection {
	allowed := lo.SliceToMap(cfg.Classes, func(c string) (string, struct{}) { return c, struct{}{} })

	kept := lo.Filter(detections, func(d models.Detection, _ int) bool {
		if d.Confidence < cfg.MinConfidence {
			return false
		}
		if len(allowed) > 0 {
			if _, ok := allowed[d.Label]; !ok {
				return false
			}
		}
		return true
	})

	if cfg.MaxDetections > 0 && len(kept) > cfg.MaxDetections {
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })
		kept = kept[:cfg.MaxDetections]
	}
	return kept
}
