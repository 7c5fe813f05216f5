package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Grid holds the symbol ids of one spin indexed as [reel][row]
type Grid [][]string

// NewGrid allocates an empty reels x rows grid
func NewGrid(reels, rows int) Grid {
	g := make(Grid, reels)
	for r := range g {
		g[r] = make([]string, rows)
	}
	return g
}

// Clone returns a deep copy of the grid
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for r := range g {
		out[r] = append([]string(nil), g[r]...)
	}
	return out
}

// Cell is a (reel, row) coordinate on the grid
type Cell struct {
	Reel int `json:"reel"`
	Row  int `json:"row"`
}

// WinLine is one winning payline or way group
type WinLine struct {
	Line       int     `json:"line"`
	Symbol     string  `json:"symbol"`
	RunLength  int     `json:"run_length"`
	Ways       int     `json:"ways"`
	Multiplier float64 `json:"multiplier"`
	Payout     int64   `json:"payout"`
	Cells      []Cell  `json:"cells"`
}

// Feature tags reported on a spin
const (
	FeatureFreeSpins  = "free_spins"
	FeatureBonusRound = "bonus_round"
	FeatureWildActive = "wild_active"
)

// Features are the bonus outcomes detected on a grid
type Features struct {
	ScatterCount       int      `json:"scatter_count"`
	BonusCount         int      `json:"bonus_count"`
	FreeSpinsTriggered bool     `json:"free_spins_triggered"`
	FreeSpinsAwarded   int      `json:"free_spins_awarded"`
	BonusTriggered     bool     `json:"bonus_triggered"`
	Active             []string `json:"active"`
}

// Outcome is the evaluated part of a spin, before jackpot and accounting
type Outcome struct {
	Grid     Grid      `json:"grid"`
	WinLines []WinLine `json:"win_lines"`
	BaseWin  int64     `json:"base_win"`
	Features Features  `json:"features"`
}

// SpinResult is the immutable record of one spin
type SpinResult struct {
	SpinID        string    `json:"spin_id"`
	SessionID     string    `json:"session_id"`
	GameID        string    `json:"game_id"`
	Currency      string    `json:"currency"`
	Bet           int64     `json:"bet"`
	FreeSpin      bool      `json:"free_spin"`
	Outcome       Outcome   `json:"outcome"`
	JackpotWon    bool      `json:"jackpot_won"`
	JackpotAmount int64     `json:"jackpot_amount"`
	TotalWin      int64     `json:"total_win"`
	NetWin        int64     `json:"net_win"`
	Multiplier    float64   `json:"multiplier"`
	Balance       int64     `json:"balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// SpinParams carries everything needed to build a SpinResult
type SpinParams struct {
	SpinID        string
	SessionID     string
	GameID        string
	Currency      string
	Bet           int64
	FreeSpin      bool
	Outcome       Outcome
	JackpotAmount int64
	Balance       int64
	CreatedAt     time.Time
}

// NewSpinResult derives totals from the outcome and jackpot award.
// The returned value owns copies of the grid and win lines.
func NewSpinResult(p SpinParams) *SpinResult {
	out := p.Outcome
	out.Grid = p.Outcome.Grid.Clone()
	out.WinLines = append([]WinLine(nil), p.Outcome.WinLines...)
	out.Features.Active = append([]string(nil), p.Outcome.Features.Active...)

	total := out.BaseWin + p.JackpotAmount
	// net win is measured against the stake actually paid
	staked := p.Bet
	if p.FreeSpin {
		staked = 0
	}
	var mult float64
	if p.Bet > 0 {
		mult, _ = decimal.NewFromInt(total).Div(decimal.NewFromInt(p.Bet)).Float64()
	}
	return &SpinResult{
		SpinID:        p.SpinID,
		SessionID:     p.SessionID,
		GameID:        p.GameID,
		Currency:      p.Currency,
		Bet:           p.Bet,
		FreeSpin:      p.FreeSpin,
		Outcome:       out,
		JackpotWon:    p.JackpotAmount > 0,
		JackpotAmount: p.JackpotAmount,
		TotalWin:      total,
		NetWin:        total - staked,
		Multiplier:    mult,
		Balance:       p.Balance,
		CreatedAt:     p.CreatedAt,
	}
}

// Payout computes multiplier * bet * ways rounded to the minor unit
func Payout(multiplier float64, bet int64, ways int) int64 {
	if multiplier <= 0 || bet <= 0 || ways <= 0 {
		return 0
	}
	return decimal.NewFromFloat(multiplier).
		Mul(decimal.NewFromInt(bet)).
		Mul(decimal.NewFromInt(int64(ways))).
		Round(0).
		IntPart()
}
