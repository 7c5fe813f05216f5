package game

import "github.com/alexbotov/slotengine/internal/domain"

const (
	featureTriggerCount = 3
	freeSpinsPerScatter = 5
)

// EvaluateFeatures scans the whole grid for scatter, bonus and wild symbols.
// Features are independent of line wins.
func EvaluateFeatures(cfg *domain.GameConfig, grid domain.Grid) domain.Features {
	var f domain.Features
	wild := false

	for _, reel := range grid {
		for _, s := range reel {
			switch {
			case cfg.Scatter != "" && s == cfg.Scatter:
				f.ScatterCount++
			case cfg.Bonus != "" && s == cfg.Bonus:
				f.BonusCount++
			case cfg.Wild != "" && s == cfg.Wild:
				wild = true
			}
		}
	}

	f.Active = []string{}
	if f.ScatterCount >= featureTriggerCount {
		f.FreeSpinsTriggered = true
		f.FreeSpinsAwarded = f.ScatterCount * freeSpinsPerScatter
		f.Active = append(f.Active, domain.FeatureFreeSpins)
	}
	if f.BonusCount >= featureTriggerCount {
		f.BonusTriggered = true
		f.Active = append(f.Active, domain.FeatureBonusRound)
	}
	if wild {
		f.Active = append(f.Active, domain.FeatureWildActive)
	}
	return f
}
