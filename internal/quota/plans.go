package quota

import (
	"encoding/json"
	"fmt"
	"os"

	"pressroom/internal/domain"
)

// LoadPlanLimits reads a tier table from a JSON file shaped like
// {"pro": {"report": 200, "article": 80}} and merges it over the built-in
// defaults. An empty path returns the defaults unchanged.
func LoadPlanLimits(path string) (domain.PlanLimits, error) {
	plans := domain.DefaultPlanLimits()
	if path == "" {
		return plans, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan limits: %w", err)
	}
	overrides := domain.PlanLimits{}
	if err := json.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("decode plan limits: %w", err)
	}

	for tier, limits := range overrides {
		merged, ok := plans[tier]
		if !ok {
			merged = make(map[domain.ResourceType]int)
		}
		for r, v := range limits {
			merged[r] = v
		}
		plans[tier] = merged
	}
	return plans, nil
}
