package game

import (
	"errors"
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/rng"
)

// scripted replays fixed draws, repeating the last one
type scripted []float64

func (s *scripted) Float64() float64 {
	v := (*s)[0]
	if len(*s) > 1 {
		*s = (*s)[1:]
	}
	return v
}

func setupTestGame(t *testing.T) *domain.GameConfig {
	t.Helper()

	g := &domain.GameConfig{
		ID:         "cherry-3x3",
		Name:       "Cherry Classic",
		Reels:      3,
		Rows:       3,
		Paylines:   domain.Paylines{Mode: domain.PaylineFixed, Count: 5},
		RTP:        95,
		Volatility: domain.VolatilityMedium,
		Bets:       map[string]domain.BetLimits{"GC": {Min: 10, Max: 1000}},
		Symbols: []domain.Symbol{
			{ID: "cherry", Rarity: domain.RarityCommon, Pays: map[int]float64{3: 2, 4: 5, 5: 10}},
			{ID: "wild", Rarity: domain.RarityLegendary},
			{ID: "blank", Rarity: domain.RarityCommon},
		},
		Wild: "wild",
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Invalid test game: %v", err)
	}
	return g
}

func setupWaysGame(t *testing.T) *domain.GameConfig {
	t.Helper()

	g := &domain.GameConfig{
		ID:         "ways-5x3",
		Name:       "Ways Test",
		Reels:      5,
		Rows:       3,
		Paylines:   domain.Paylines{Mode: domain.PaylineWays, Count: 243},
		RTP:        96,
		Volatility: domain.VolatilityHigh,
		Bets:       map[string]domain.BetLimits{"GC": {Min: 10, Max: 1000}},
		Symbols: []domain.Symbol{
			{ID: "X", Rarity: domain.RarityRare, Pays: map[int]float64{3: 4, 4: 8, 5: 20}},
			{ID: "A", Rarity: domain.RarityCommon},
			{ID: "B", Rarity: domain.RarityCommon},
			{ID: "C", Rarity: domain.RarityCommon},
			{ID: "D", Rarity: domain.RarityCommon},
			{ID: "E", Rarity: domain.RarityCommon},
			{ID: "W", Rarity: domain.RarityEpic},
			{ID: "S", Rarity: domain.RarityEpic},
		},
		Wild:    "W",
		Scatter: "S",
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("Invalid ways game: %v", err)
	}
	return g
}

func TestForcedWinningSpin(t *testing.T) {
	cfg := setupTestGame(t)

	// coin wins, single candidate, run 3, every fill lands on the last symbol
	src := &scripted{0.0, 0.5, 0.1, 0.99}
	outcome := Play(cfg, src, 10)

	for reel := 0; reel < 3; reel++ {
		if outcome.Grid[reel][1] != "cherry" {
			t.Fatalf("Expected cherry on middle row of reel %d, grid %v", reel, outcome.Grid)
		}
	}

	if len(outcome.WinLines) != 1 {
		t.Fatalf("Expected 1 win line, got %d: %+v", len(outcome.WinLines), outcome.WinLines)
	}
	line := outcome.WinLines[0]
	if line.Symbol != "cherry" || line.RunLength != 3 || line.Multiplier != 2 {
		t.Errorf("Unexpected win line: %+v", line)
	}
	if outcome.BaseWin != 20 {
		t.Errorf("Expected base win 20, got %d", outcome.BaseWin)
	}

	res := domain.NewSpinResult(domain.SpinParams{Bet: 10, Outcome: outcome})
	if res.NetWin != 10 {
		t.Errorf("Expected net win 10, got %d", res.NetWin)
	}
}

func TestLosingBranchFillsEveryCell(t *testing.T) {
	cfg := setupTestGame(t)

	// 0.9 loses the coin for every volatility
	src := &scripted{0.9, 0.99}
	grid := Generate(cfg, src)
	for reel := range grid {
		for row := range grid[reel] {
			if grid[reel][row] != "blank" {
				t.Errorf("Expected blank at %d,%d, got %s", reel, row, grid[reel][row])
			}
		}
	}
}

func TestGenerateFewReels(t *testing.T) {
	cfg := setupTestGame(t)
	cfg.ID = "two-reels"
	cfg.Reels = 2

	src := &scripted{0.0, 0.5, 0.99, 0.1}
	grid := Generate(cfg, src)
	if len(grid) != 2 {
		t.Fatalf("Expected 2 reels, got %d", len(grid))
	}
	if grid[0][1] != "cherry" || grid[1][1] != "cherry" {
		t.Errorf("Expected run capped at reel count, grid %v", grid)
	}
	if lines := Evaluate(cfg, grid, 10); len(lines) != 0 {
		t.Errorf("Two reels can never pay, got %+v", lines)
	}
}

func TestSeededDeterminism(t *testing.T) {
	cfg := setupWaysGame(t)

	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Uint64().Draw(t, "seed")
		a := Play(cfg, rng.NewSeeded(seed), 10)
		b := Play(cfg, rng.NewSeeded(seed), 10)
		if !reflect.DeepEqual(a.Grid, b.Grid) {
			t.Fatalf("seed %d produced different grids", seed)
		}
		if a.BaseWin != b.BaseWin {
			t.Fatalf("seed %d produced different wins", seed)
		}
	})
}

func TestFixedPaylines(t *testing.T) {
	cfg := setupTestGame(t)

	t.Run("WildSubstitutes", func(t *testing.T) {
		grid := domain.Grid{
			{"blank", "wild", "blank"},
			{"blank", "cherry", "blank"},
			{"blank", "cherry", "blank"},
		}
		lines := Evaluate(cfg, grid, 10)
		if len(lines) != 1 {
			t.Fatalf("Expected 1 line, got %+v", lines)
		}
		if lines[0].Symbol != "cherry" || lines[0].Payout != 20 {
			t.Errorf("Unexpected line: %+v", lines[0])
		}
		if len(lines[0].Cells) != 3 {
			t.Errorf("Expected 3 matched cells, got %d", len(lines[0].Cells))
		}
	})

	t.Run("RunStopsAtFirstMismatch", func(t *testing.T) {
		grid := domain.Grid{
			{"blank", "cherry", "blank"},
			{"blank", "blank", "blank"},
			{"blank", "cherry", "blank"},
		}
		if lines := Evaluate(cfg, grid, 10); len(lines) != 0 {
			t.Errorf("Expected no wins, got %+v", lines)
		}
	})

	t.Run("EveryLineSums", func(t *testing.T) {
		grid := domain.Grid{
			{"cherry", "cherry", "cherry"},
			{"cherry", "cherry", "cherry"},
			{"cherry", "cherry", "cherry"},
		}
		lines := Evaluate(cfg, grid, 10)
		if len(lines) != 5 {
			t.Fatalf("Expected all 5 lines to pay, got %d", len(lines))
		}
		if got := BaseWin(lines); got != 100 {
			t.Errorf("Expected base win 100, got %d", got)
		}
	})

	t.Run("ZeroBet", func(t *testing.T) {
		grid := domain.Grid{
			{"cherry", "cherry", "cherry"},
			{"cherry", "cherry", "cherry"},
			{"cherry", "cherry", "cherry"},
		}
		if lines := Evaluate(cfg, grid, 0); len(lines) != 0 {
			t.Errorf("Expected no lines for zero bet, got %d", len(lines))
		}
	})
}

func TestWaysToWin(t *testing.T) {
	cfg := setupWaysGame(t)

	t.Run("ProductOfCounts", func(t *testing.T) {
		grid := domain.Grid{
			{"X", "X", "A"},
			{"B", "X", "C"},
			{"X", "D", "E"},
			{"A", "B", "C"},
			{"D", "E", "A"},
		}
		lines := Evaluate(cfg, grid, 10)
		if len(lines) != 1 {
			t.Fatalf("Expected 1 way group, got %+v", lines)
		}
		l := lines[0]
		if l.Symbol != "X" || l.RunLength != 3 || l.Ways != 2 {
			t.Errorf("Unexpected way group: %+v", l)
		}
		if l.Payout != 4*10*2 {
			t.Errorf("Expected payout 80, got %d", l.Payout)
		}
		if len(l.Cells) != 4 {
			t.Errorf("Expected 4 matched cells, got %d", len(l.Cells))
		}
	})

	t.Run("WildCountsOnEveryReel", func(t *testing.T) {
		grid := domain.Grid{
			{"X", "A", "B"},
			{"W", "X", "C"},
			{"X", "D", "E"},
			{"X", "B", "C"},
			{"D", "E", "A"},
		}
		lines := Evaluate(cfg, grid, 10)
		if len(lines) != 1 {
			t.Fatalf("Expected 1 way group, got %+v", lines)
		}
		if lines[0].RunLength != 4 || lines[0].Ways != 2 || lines[0].Payout != 8*10*2 {
			t.Errorf("Unexpected way group: %+v", lines[0])
		}
	})
}

func TestPayoutProperty(t *testing.T) {
	fixed := setupTestGame(t)
	ways := setupWaysGame(t)

	rapid.Check(t, func(t *rapid.T) {
		cfg := fixed
		if rapid.Bool().Draw(t, "ways") {
			cfg = ways
		}
		ids := make([]string, len(cfg.Symbols))
		for i, s := range cfg.Symbols {
			ids[i] = s.ID
		}

		grid := domain.NewGrid(cfg.Reels, cfg.Rows)
		for reel := range grid {
			for row := range grid[reel] {
				grid[reel][row] = rapid.SampledFrom(ids).Draw(t, "symbol")
			}
		}
		bet := rapid.Int64Range(1, 100000).Draw(t, "bet")

		lines := Evaluate(cfg, grid, bet)
		for _, l := range lines {
			sym, _ := cfg.Symbol(l.Symbol)
			want := domain.Payout(sym.Multiplier(l.RunLength), bet, l.Ways)
			if l.Payout != want || l.Payout <= 0 {
				t.Fatalf("line %+v: payout %d, want %d", l, l.Payout, want)
			}
			if l.RunLength < 3 {
				t.Fatalf("line %+v shorter than 3", l)
			}
		}

		outcome := EvaluateGrid(cfg, grid, bet)
		if outcome.BaseWin < 0 || outcome.BaseWin != BaseWin(lines) {
			t.Fatalf("base win %d does not match lines", outcome.BaseWin)
		}
		if again := Evaluate(cfg, grid, bet); !reflect.DeepEqual(lines, again) {
			t.Fatalf("evaluation is not idempotent")
		}
	})
}

func TestEvaluateFeatures(t *testing.T) {
	cfg := setupWaysGame(t)
	cfg.Bonus = "E"

	t.Run("ScatterTriggersFreeSpins", func(t *testing.T) {
		grid := domain.Grid{
			{"S", "A", "B"},
			{"A", "B", "C"},
			{"C", "S", "A"},
			{"A", "B", "C"},
			{"B", "C", "S"},
		}
		f := EvaluateFeatures(cfg, grid)
		if !f.FreeSpinsTriggered || f.ScatterCount != 3 || f.FreeSpinsAwarded != 15 {
			t.Errorf("Unexpected features: %+v", f)
		}
		if len(f.Active) != 1 || f.Active[0] != domain.FeatureFreeSpins {
			t.Errorf("Unexpected active features: %v", f.Active)
		}
		// no line wins on this grid
		if lines := Evaluate(cfg, grid, 10); len(lines) != 0 {
			t.Errorf("Expected no line wins, got %+v", lines)
		}
	})

	t.Run("TwoScattersDoNothing", func(t *testing.T) {
		grid := domain.Grid{
			{"S", "A", "B"},
			{"A", "B", "C"},
			{"C", "S", "A"},
			{"A", "B", "C"},
			{"B", "C", "A"},
		}
		f := EvaluateFeatures(cfg, grid)
		if f.FreeSpinsTriggered || f.FreeSpinsAwarded != 0 {
			t.Errorf("Unexpected free spins: %+v", f)
		}
	})

	t.Run("BonusAndWild", func(t *testing.T) {
		grid := domain.Grid{
			{"E", "A", "B"},
			{"A", "E", "C"},
			{"C", "W", "E"},
			{"A", "B", "C"},
			{"B", "C", "A"},
		}
		f := EvaluateFeatures(cfg, grid)
		if !f.BonusTriggered || f.BonusCount != 3 {
			t.Errorf("Expected bonus round, got %+v", f)
		}
		want := []string{domain.FeatureBonusRound, domain.FeatureWildActive}
		if !reflect.DeepEqual(f.Active, want) {
			t.Errorf("Expected %v, got %v", want, f.Active)
		}
	})
}

func TestPatterns(t *testing.T) {
	t.Run("ThreeByThree", func(t *testing.T) {
		got := Patterns(3, 3, 5)
		want := []Pattern{{1, 1, 1}, {0, 0, 0}, {2, 2, 2}, {0, 1, 0}, {2, 1, 2}}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("FiveByThree", func(t *testing.T) {
		for _, k := range []int{9, 20, 25} {
			if got := Patterns(5, 3, k); len(got) != k {
				t.Errorf("Expected %d lines, got %d", k, len(got))
			}
		}
		got := Patterns(5, 3, 25)
		want := map[int]Pattern{
			9:  {0, 1, 1, 1, 0},
			11: {1, 0, 0, 0, 1},
			24: {2, 2, 0, 0, 0},
		}
		for i, p := range want {
			if !reflect.DeepEqual(got[i], p) {
				t.Errorf("Line %d: expected %v, got %v", i, p, got[i])
			}
		}
	})

	t.Run("GeometryLimit", func(t *testing.T) {
		if got := Patterns(3, 3, 50); len(got) != 17 {
			t.Errorf("Expected 17 distinct lines, got %d: %v", len(got), got)
		}
		if got := Patterns(5, 3, 50); len(got) != 25 {
			t.Errorf("Expected 25 distinct lines, got %d", len(got))
		}
	})

	t.Run("SingleRow", func(t *testing.T) {
		if got := Patterns(5, 1, 10); len(got) != 1 {
			t.Errorf("Expected a single line, got %v", got)
		}
	})

	t.Run("Distinct", func(t *testing.T) {
		seen := map[string]bool{}
		for _, p := range Patterns(5, 4, 20) {
			if seen[p.key()] {
				t.Errorf("Duplicate pattern %v", p)
			}
			seen[p.key()] = true
		}
	})
}

func TestCatalog(t *testing.T) {
	const doc = `
games:
  - id: lucky-cherries
    name: Lucky Cherries
    reels: 3
    rows: 3
    paylines: {mode: fixed, count: 5}
    rtp: 95.5
    volatility: low
    bets:
      GC: {min: 10, max: 1000}
      SC: {min: 1, max: 100}
    symbols:
      - {id: cherry, rarity: common, pays: {3: 2, 4: 5, 5: 10}}
      - {id: seven, rarity: legendary, pays: {3: 50}}
      - {id: blank, rarity: common}
    jackpot:
      type: progressive
      seed: 5000
      contribution_rate: 0.01
      min_bet: 10
      currency: GC
    jackpot_symbol: seven
`

	t.Run("Parse", func(t *testing.T) {
		c, err := ParseCatalog([]byte(doc))
		if err != nil {
			t.Fatalf("Failed to parse catalog: %v", err)
		}
		g, err := c.Game("lucky-cherries")
		if err != nil {
			t.Fatalf("Failed to get game: %v", err)
		}
		if g.Symbols[0].Multiplier(4) != 5 || g.Jackpot.Seed != 5000 {
			t.Errorf("Unexpected game: %+v", g)
		}
		if got := g.Currencies(); !reflect.DeepEqual(got, []string{"GC", "SC"}) {
			t.Errorf("Unexpected currencies: %v", got)
		}
		if len(c.JackpotGames()) != 1 {
			t.Errorf("Expected 1 jackpot game")
		}
	})

	t.Run("UnknownGame", func(t *testing.T) {
		c, _ := ParseCatalog([]byte(doc))
		if _, err := c.Game("nope"); !errors.Is(err, ErrGameNotFound) {
			t.Errorf("Expected ErrGameNotFound, got %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := ParseCatalog([]byte("games: []")); !errors.Is(err, ErrEmptyCatalog) {
			t.Errorf("Expected ErrEmptyCatalog, got %v", err)
		}
	})

	t.Run("TooManyPaylines", func(t *testing.T) {
		bad := `
games:
  - id: crowded
    name: Crowded
    reels: 3
    rows: 3
    paylines: {mode: fixed, count: 20}
    rtp: 95
    volatility: low
    bets: {GC: {min: 1, max: 2}}
    symbols: [{id: a, rarity: common, pays: {3: 2}}]
`
		if _, err := ParseCatalog([]byte(bad)); err == nil {
			t.Error("Expected a line count above the grid's patterns to be rejected")
		}
	})

	t.Run("InvalidGameRejected", func(t *testing.T) {
		bad := `
games:
  - id: broken
    reels: 3
    rows: 3
    paylines: {mode: fixed, count: 5}
    rtp: 120
    volatility: low
    bets: {GC: {min: 1, max: 2}}
    symbols: [{id: a, rarity: common}]
`
		if _, err := ParseCatalog([]byte(bad)); err == nil {
			t.Error("Expected validation error")
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		g1, g2 := setupTestGame(t), setupTestGame(t)
		if _, err := NewCatalog(g1, g2); err == nil {
			t.Error("Expected duplicate id error")
		}
	})
}

func BenchmarkPlay(b *testing.B) {
	cfg := &domain.GameConfig{
		ID: "bench", Reels: 5, Rows: 3, RTP: 96, Volatility: domain.VolatilityMedium,
		Paylines: domain.Paylines{Mode: domain.PaylineFixed, Count: 10},
		Bets:     map[string]domain.BetLimits{"GC": {Min: 1, Max: 100}},
		Symbols: []domain.Symbol{
			{ID: "a", Rarity: domain.RarityCommon, Pays: map[int]float64{3: 1, 4: 2, 5: 5}},
			{ID: "b", Rarity: domain.RarityRare, Pays: map[int]float64{3: 2, 4: 5, 5: 10}},
			{ID: "c", Rarity: domain.RarityEpic, Pays: map[int]float64{3: 5, 4: 10, 5: 25}},
		},
	}
	src := rng.NewSeeded(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Play(cfg, src, 10)
	}
}
