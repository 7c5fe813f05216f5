package game

import (
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/rng"
)

const minRun = 3

// Evaluate computes every winning line or way on the grid.
// It is a pure function of its inputs; lines that would pay zero are omitted.
func Evaluate(cfg *domain.GameConfig, grid domain.Grid, bet int64) []domain.WinLine {
	if len(grid) < minRun || bet <= 0 {
		return nil
	}
	if cfg.Paylines.Mode == domain.PaylineWays {
		return evaluateWays(cfg, grid, bet)
	}
	return evaluateLines(cfg, grid, bet)
}

func evaluateLines(cfg *domain.GameConfig, grid domain.Grid, bet int64) []domain.WinLine {
	rows := len(grid[0])
	var wins []domain.WinLine

	for idx, pattern := range Patterns(len(grid), rows, cfg.Paylines.Count) {
		base := ""
		for reel, row := range pattern {
			if s := grid[reel][row]; s != cfg.Wild || cfg.Wild == "" {
				base = s
				break
			}
		}
		if base == "" {
			// all wild; the line pays as wilds
			base = cfg.Wild
		}

		var cells []domain.Cell
		for reel, row := range pattern {
			s := grid[reel][row]
			if s != base && (cfg.Wild == "" || s != cfg.Wild) {
				break
			}
			cells = append(cells, domain.Cell{Reel: reel, Row: row})
		}
		if len(cells) < minRun {
			continue
		}

		sym, ok := cfg.Symbol(base)
		if !ok {
			continue
		}
		mult := sym.Multiplier(len(cells))
		payout := domain.Payout(mult, bet, 1)
		if payout == 0 {
			continue
		}
		wins = append(wins, domain.WinLine{
			Line:       idx,
			Symbol:     base,
			RunLength:  len(cells),
			Ways:       1,
			Multiplier: mult,
			Payout:     payout,
			Cells:      cells,
		})
	}
	return wins
}

func evaluateWays(cfg *domain.GameConfig, grid domain.Grid, bet int64) []domain.WinLine {
	var wins []domain.WinLine

	seen := make(map[string]bool)
	for _, s := range grid[0] {
		if seen[s] || (cfg.Wild != "" && s == cfg.Wild) {
			continue
		}
		seen[s] = true

		ways := 1
		var cells []domain.Cell
		run := 0
		for reel := range grid {
			n := 0
			for row, c := range grid[reel] {
				if c == s || (cfg.Wild != "" && c == cfg.Wild) {
					n++
					cells = append(cells, domain.Cell{Reel: reel, Row: row})
				}
			}
			if n == 0 {
				break
			}
			ways *= n
			run++
		}
		if run < minRun {
			continue
		}

		sym, ok := cfg.Symbol(s)
		if !ok {
			continue
		}
		mult := sym.Multiplier(run)
		payout := domain.Payout(mult, bet, ways)
		if payout == 0 {
			continue
		}
		wins = append(wins, domain.WinLine{
			Line:       len(wins),
			Symbol:     s,
			RunLength:  run,
			Ways:       ways,
			Multiplier: mult,
			Payout:     payout,
			Cells:      cells,
		})
	}
	return wins
}

// BaseWin sums the payouts of the given lines
func BaseWin(lines []domain.WinLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.Payout
	}
	return total
}

// Play generates a grid and evaluates it into an Outcome
func Play(cfg *domain.GameConfig, src rng.Source, bet int64) domain.Outcome {
	grid := Generate(cfg, src)
	return EvaluateGrid(cfg, grid, bet)
}

// EvaluateGrid evaluates wins and features on an existing grid
func EvaluateGrid(cfg *domain.GameConfig, grid domain.Grid, bet int64) domain.Outcome {
	lines := Evaluate(cfg, grid, bet)
	return domain.Outcome{
		Grid:     grid,
		WinLines: lines,
		BaseWin:  BaseWin(lines),
		Features: EvaluateFeatures(cfg, grid),
	}
}
