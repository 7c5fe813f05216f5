package game

import (
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/rng"
)

// winProbability is the chance of synthesising a winning grid per volatility.
// RTP comes from the payout magnitudes, not from this coin alone.
var winProbability = map[domain.Volatility]float64{
	domain.VolatilityLow:    0.35,
	domain.VolatilityMedium: 0.25,
	domain.VolatilityHigh:   0.15,
}

// fillWeights drive independent cell sampling
var fillWeights = map[domain.Rarity]float64{
	domain.RarityCommon:    40,
	domain.RarityRare:      25,
	domain.RarityEpic:      15,
	domain.RarityLegendary: 5,
}

const unknownRarityWeight = 20

// winBands bias the winning symbol toward rarer symbols as volatility rises
var winBands = map[domain.Volatility]map[domain.Rarity]float64{
	domain.VolatilityLow: {
		domain.RarityCommon: 50, domain.RarityRare: 35, domain.RarityEpic: 12, domain.RarityLegendary: 3,
	},
	domain.VolatilityMedium: {
		domain.RarityCommon: 35, domain.RarityRare: 35, domain.RarityEpic: 20, domain.RarityLegendary: 10,
	},
	domain.VolatilityHigh: {
		domain.RarityCommon: 20, domain.RarityRare: 30, domain.RarityEpic: 30, domain.RarityLegendary: 20,
	},
}

// runLengths and runWeights: 60% three, 25% four, 15% five of a kind
var (
	runLengths = []int{3, 4, 5}
	runWeights = []float64{60, 25, 15}
)

func fillWeight(r domain.Rarity) float64 {
	if w, ok := fillWeights[r]; ok {
		return w
	}
	return unknownRarityWeight
}

// Generate produces a reels x rows grid for one spin.
//
// Draws are consumed in a fixed order (win coin, winning symbol, run length,
// then every cell reel by reel) so a seeded source reproduces the grid.
func Generate(cfg *domain.GameConfig, src rng.Source) domain.Grid {
	grid := domain.NewGrid(cfg.Reels, cfg.Rows)

	winner, run := "", 0
	if src.Float64() < winProbability[cfg.Volatility] {
		winner, run = pickWinner(cfg, src)
	}

	fill(cfg, grid, src)

	if winner != "" {
		mid := cfg.Rows / 2
		for reel := 0; reel < run; reel++ {
			grid[reel][mid] = winner
		}
	}
	return grid
}

// pickWinner chooses the winning symbol and its run length.
// It returns an empty symbol when the game has nothing that pays.
func pickWinner(cfg *domain.GameConfig, src rng.Source) (string, int) {
	band := winBands[cfg.Volatility]

	var candidates []string
	var weights []float64
	for _, s := range cfg.Symbols {
		if cfg.IsSpecial(s.ID) || !pays(s) {
			continue
		}
		w, ok := band[s.Rarity]
		if !ok {
			w = unknownRarityWeight
		}
		candidates = append(candidates, s.ID)
		weights = append(weights, w)
	}

	idx, err := rng.SelectWeighted(src, weights)
	if err != nil {
		return "", 0
	}

	ri, _ := rng.SelectWeighted(src, runWeights)
	run := runLengths[ri]
	if run > cfg.Reels {
		run = cfg.Reels
	}
	return candidates[idx], run
}

func fill(cfg *domain.GameConfig, grid domain.Grid, src rng.Source) {
	weights := make([]float64, len(cfg.Symbols))
	for i, s := range cfg.Symbols {
		weights[i] = fillWeight(s.Rarity)
	}
	for reel := range grid {
		for row := range grid[reel] {
			// symbol table is validated non-empty and weights are positive
			idx, _ := rng.SelectWeighted(src, weights)
			grid[reel][row] = cfg.Symbols[idx].ID
		}
	}
}

func pays(s domain.Symbol) bool {
	for _, m := range s.Pays {
		if m > 0 {
			return true
		}
	}
	return false
}
