package domain

import (
	"errors"
	"fmt"
	"sort"
)

// Rarity classifies how often a symbol is placed on the reels
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Volatility is the variance class of a game's payout distribution
type Volatility string

const (
	VolatilityLow    Volatility = "low"
	VolatilityMedium Volatility = "medium"
	VolatilityHigh   Volatility = "high"
)

// PaylineMode selects how wins are evaluated
type PaylineMode string

const (
	PaylineFixed PaylineMode = "fixed"
	PaylineWays  PaylineMode = "ways"
)

// JackpotType identifies the jackpot attached to a game
type JackpotType string

const (
	JackpotNone        JackpotType = "none"
	JackpotFixed       JackpotType = "fixed"
	JackpotProgressive JackpotType = "progressive"
)

// Symbol is one entry of a game's symbol table.
// Pays maps a run length (3, 4, 5...) to a bet multiplier.
type Symbol struct {
	ID     string          `json:"id" yaml:"id"`
	Rarity Rarity          `json:"rarity" yaml:"rarity"`
	Pays   map[int]float64 `json:"pays,omitempty" yaml:"pays"`
}

// Multiplier returns the multiplier for a run of the given length.
// Runs longer than the table fall back to the longest defined run below them.
func (s Symbol) Multiplier(runLength int) float64 {
	if m, ok := s.Pays[runLength]; ok {
		return m
	}
	best, bestLen := 0.0, 0
	for n, m := range s.Pays {
		if n <= runLength && n > bestLen {
			best, bestLen = m, n
		}
	}
	return best
}

// Paylines describes the evaluation geometry: fixed(k) or ways(n)
type Paylines struct {
	Mode  PaylineMode `json:"mode" yaml:"mode"`
	Count int         `json:"count" yaml:"count"`
}

// BetLimits bounds a single bet in one currency (minor units, inclusive)
type BetLimits struct {
	Min int64 `json:"min" yaml:"min"`
	Max int64 `json:"max" yaml:"max"`
}

// JackpotSpec configures the jackpot attached to a game
type JackpotSpec struct {
	Type               JackpotType `json:"type" yaml:"type"`
	Seed               int64       `json:"seed" yaml:"seed"`
	ContributionRate   float64     `json:"contribution_rate" yaml:"contribution_rate"`
	MinBet             int64       `json:"min_bet" yaml:"min_bet"`
	Currency           string      `json:"currency" yaml:"currency"`
	TriggerProbability float64     `json:"trigger_probability,omitempty" yaml:"trigger_probability"`
	GrowthPerTick      int64       `json:"growth_per_tick,omitempty" yaml:"growth_per_tick"`
}

// Enabled reports whether the game carries any jackpot
func (j JackpotSpec) Enabled() bool {
	return j.Type == JackpotFixed || j.Type == JackpotProgressive
}

// GameConfig is the immutable definition of one slot game.
// It is supplied by the catalog and never computed by the engine.
type GameConfig struct {
	ID            string               `json:"id" yaml:"id"`
	Name          string               `json:"name" yaml:"name"`
	Reels         int                  `json:"reels" yaml:"reels"`
	Rows          int                  `json:"rows" yaml:"rows"`
	Paylines      Paylines             `json:"paylines" yaml:"paylines"`
	Symbols       []Symbol             `json:"symbols" yaml:"symbols"`
	RTP           float64              `json:"rtp" yaml:"rtp"`
	Volatility    Volatility           `json:"volatility" yaml:"volatility"`
	Bets          map[string]BetLimits `json:"bets" yaml:"bets"`
	Jackpot       JackpotSpec          `json:"jackpot" yaml:"jackpot"`
	Wild          string               `json:"wild,omitempty" yaml:"wild"`
	Scatter       string               `json:"scatter,omitempty" yaml:"scatter"`
	Bonus         string               `json:"bonus,omitempty" yaml:"bonus"`
	JackpotSymbol string               `json:"jackpot_symbol,omitempty" yaml:"jackpot_symbol"`
}

// Symbol looks up a symbol by id
func (g *GameConfig) Symbol(id string) (Symbol, bool) {
	for _, s := range g.Symbols {
		if s.ID == id {
			return s, true
		}
	}
	return Symbol{}, false
}

// IsSpecial reports whether id is the wild, scatter or bonus symbol
func (g *GameConfig) IsSpecial(id string) bool {
	return id != "" && (id == g.Wild || id == g.Scatter || id == g.Bonus)
}

// BetLimits returns the bet bounds for a currency
func (g *GameConfig) BetLimits(currency string) (BetLimits, bool) {
	l, ok := g.Bets[currency]
	return l, ok
}

// Currencies lists the supported currencies in sorted order
func (g *GameConfig) Currencies() []string {
	out := make([]string, 0, len(g.Bets))
	for c := range g.Bets {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Validate checks the structural invariants of a game definition
func (g *GameConfig) Validate() error {
	if g.ID == "" {
		return errors.New("game id is required")
	}
	if g.Reels < 1 || g.Rows < 1 {
		return fmt.Errorf("game %s: reels and rows must be positive", g.ID)
	}
	if !(g.RTP > 0 && g.RTP < 100) {
		return fmt.Errorf("game %s: rtp %.2f outside (0,100)", g.ID, g.RTP)
	}
	switch g.Volatility {
	case VolatilityLow, VolatilityMedium, VolatilityHigh:
	default:
		return fmt.Errorf("game %s: unknown volatility %q", g.ID, g.Volatility)
	}
	switch g.Paylines.Mode {
	case PaylineFixed:
		if g.Paylines.Count < 1 {
			return fmt.Errorf("game %s: fixed paylines need a positive count", g.ID)
		}
	case PaylineWays:
		if !validWays(g.Paylines.Count, g.Rows, g.Reels) {
			return fmt.Errorf("game %s: %d ways does not match %dx%d geometry", g.ID, g.Paylines.Count, g.Reels, g.Rows)
		}
	default:
		return fmt.Errorf("game %s: unknown payline mode %q", g.ID, g.Paylines.Mode)
	}
	if len(g.Symbols) == 0 {
		return fmt.Errorf("game %s: symbol table is empty", g.ID)
	}
	seen := make(map[string]bool, len(g.Symbols))
	for _, s := range g.Symbols {
		if s.ID == "" || seen[s.ID] {
			return fmt.Errorf("game %s: symbol ids must be unique and non-empty", g.ID)
		}
		seen[s.ID] = true
		if err := validatePays(s); err != nil {
			return fmt.Errorf("game %s: %w", g.ID, err)
		}
	}
	for _, special := range []string{g.Wild, g.Scatter, g.Bonus, g.JackpotSymbol} {
		if special != "" && !seen[special] {
			return fmt.Errorf("game %s: symbol %q is not in the symbol table", g.ID, special)
		}
	}
	if len(g.Bets) == 0 {
		return fmt.Errorf("game %s: no currencies configured", g.ID)
	}
	for cur, l := range g.Bets {
		if l.Min <= 0 || l.Max < l.Min {
			return fmt.Errorf("game %s: invalid bet limits for %s", g.ID, cur)
		}
	}
	if g.Jackpot.Type == "" {
		g.Jackpot.Type = JackpotNone
	}
	if g.Jackpot.Enabled() {
		if g.Jackpot.Seed < 0 || g.Jackpot.ContributionRate < 0 || g.Jackpot.ContributionRate >= 1 {
			return fmt.Errorf("game %s: invalid jackpot seed or contribution rate", g.ID)
		}
		if _, ok := g.Bets[g.Jackpot.Currency]; !ok {
			return fmt.Errorf("game %s: jackpot currency %q not supported by game", g.ID, g.Jackpot.Currency)
		}
	}
	return nil
}

func validatePays(s Symbol) error {
	lengths := make([]int, 0, len(s.Pays))
	for n := range s.Pays {
		lengths = append(lengths, n)
	}
	sort.Ints(lengths)
	prev := 0.0
	for _, n := range lengths {
		m := s.Pays[n]
		if n < 1 || m < 0 {
			return fmt.Errorf("symbol %s: negative multiplier or run length", s.ID)
		}
		if m < prev {
			return fmt.Errorf("symbol %s: multipliers must not decrease with run length", s.ID)
		}
		prev = m
	}
	return nil
}

func validWays(count, rows, reels int) bool {
	switch count {
	case 243, 1024, 4096:
	default:
		return false
	}
	ways := 1
	for i := 0; i < reels; i++ {
		ways *= rows
		if ways > count {
			return false
		}
	}
	return ways == count
}
