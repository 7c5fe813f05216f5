// Package memory is an in-process implementation of store.Store.
// State lives in maps guarded by one mutex; records are copied on the way
// in and out so callers never share memory with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

type balanceKey struct {
	player, currency string
}

type txKey struct {
	reference string
	typ       domain.TransactionType
}

// Store keeps everything in memory
type Store struct {
	mu sync.Mutex

	balances     map[balanceKey]int64
	transactions []*domain.Transaction
	txByRef      map[txKey]*domain.Transaction

	sessions map[string]*domain.Session
	spins    map[string]*domain.SpinRecord

	jackpots   map[string]*domain.Jackpot // by game id
	wins       map[string]*domain.JackpotWin
	winsBySpin map[string]string

	events  []*domain.AuditEvent
	control store.ControlState
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		balances:   make(map[balanceKey]int64),
		txByRef:    make(map[txKey]*domain.Transaction),
		sessions:   make(map[string]*domain.Session),
		spins:      make(map[string]*domain.SpinRecord),
		jackpots:   make(map[string]*domain.Jackpot),
		wins:       make(map[string]*domain.JackpotWin),
		winsBySpin: make(map[string]string),
		control: store.ControlState{
			GamingEnabled: true,
			DisabledGames: make(map[string]string),
		},
	}
}

// Close is a no-op
func (s *Store) Close() error { return nil }

func (s *Store) Balance(ctx context.Context, playerID, currency string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[balanceKey{playerID, currency}], nil
}

func (s *Store) ApplyTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.txByRef[txKey{tx.Reference, tx.Type}]; ok {
		cp := *prev
		return &cp, nil
	}

	key := balanceKey{tx.PlayerID, tx.Currency}
	before := s.balances[key]
	delta := tx.Amount
	if tx.Type.IsDebit() {
		delta = -delta
	}
	if before+delta < 0 {
		return nil, store.ErrInsufficientFunds
	}

	rec := *tx
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.BalanceBefore = before
	rec.BalanceAfter = before + delta
	s.balances[key] = rec.BalanceAfter

	s.transactions = append(s.transactions, &rec)
	s.txByRef[txKey{rec.Reference, rec.Type}] = &rec

	out := rec
	return &out, nil
}

func (s *Store) Transactions(ctx context.Context, playerID string, limit int) ([]*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit = store.Limit(limit)
	var out []*domain.Transaction
	for i := len(s.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if t := s.transactions[i]; t.PlayerID == playerID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrConflict
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySession(sess), nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return store.ErrNotFound
	}
	s.sessions[sess.ID] = copySession(sess)
	return nil
}

func copySession(in *domain.Session) *domain.Session {
	out := *in
	if in.EndedAt != nil {
		t := *in.EndedAt
		out.EndedAt = &t
	}
	return &out
}

func (s *Store) SaveSpin(ctx context.Context, rec *domain.SpinRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spins[rec.SpinID] = copySpin(rec)
	return nil
}

func (s *Store) GetSpin(ctx context.Context, spinID string) (*domain.SpinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.spins[spinID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copySpin(rec), nil
}

func (s *Store) ListSpins(ctx context.Context, sessionID string, limit int) ([]*domain.SpinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.SpinRecord
	for _, rec := range s.spins {
		if rec.SessionID == sessionID {
			out = append(out, copySpin(rec))
		}
	}
	sortSpinsNewestFirst(out)
	if limit = store.Limit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SpinsByStatus(ctx context.Context, status domain.SpinStatus) ([]*domain.SpinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.SpinRecord
	for _, rec := range s.spins {
		if rec.Status == status {
			out = append(out, copySpin(rec))
		}
	}
	sortSpinsNewestFirst(out)
	return out, nil
}

func sortSpinsNewestFirst(recs []*domain.SpinRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].SpinID > recs[j].SpinID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

func copySpin(in *domain.SpinRecord) *domain.SpinRecord {
	out := *in
	out.Outcome = append([]byte(nil), in.Outcome...)
	return &out
}

func (s *Store) EnsureJackpot(ctx context.Context, j *domain.Jackpot) (*domain.Jackpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jackpots[j.GameID]; ok {
		return copyJackpot(existing), nil
	}
	s.jackpots[j.GameID] = copyJackpot(j)
	return copyJackpot(j), nil
}

func (s *Store) GetJackpot(ctx context.Context, gameID string) (*domain.Jackpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jackpots[gameID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJackpot(j), nil
}

func (s *Store) ListJackpots(ctx context.Context) ([]*domain.Jackpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Jackpot, 0, len(s.jackpots))
	for _, j := range s.jackpots {
		out = append(out, copyJackpot(j))
	}
	sort.Slice(out, func(i, k int) bool { return out[i].GameID < out[k].GameID })
	return out, nil
}

func (s *Store) SaveJackpot(ctx context.Context, j *domain.Jackpot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jackpots[j.GameID]; !ok {
		return store.ErrNotFound
	}
	s.jackpots[j.GameID] = copyJackpot(j)
	return nil
}

func (s *Store) BeginJackpotAward(ctx context.Context, j *domain.Jackpot, w *domain.JackpotWin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jackpots[j.GameID]; !ok {
		return store.ErrNotFound
	}
	if _, dup := s.winsBySpin[w.SpinID]; dup {
		return store.ErrConflict
	}
	s.wins[w.ID] = copyWin(w)
	s.winsBySpin[w.SpinID] = w.ID
	s.jackpots[j.GameID] = copyJackpot(j)
	return nil
}

func (s *Store) SettleJackpotAward(ctx context.Context, j *domain.Jackpot, w *domain.JackpotWin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jackpots[j.GameID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.wins[w.ID]; !ok {
		return store.ErrNotFound
	}
	s.wins[w.ID] = copyWin(w)
	s.jackpots[j.GameID] = copyJackpot(j)
	return nil
}

func (s *Store) GetJackpotWin(ctx context.Context, id string) (*domain.JackpotWin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wins[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyWin(w), nil
}

func (s *Store) PendingJackpotWins(ctx context.Context) ([]*domain.JackpotWin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.JackpotWin
	for _, w := range s.wins {
		if w.Status == domain.JackpotWinPending {
			out = append(out, copyWin(w))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.Before(out[k].CreatedAt) })
	return out, nil
}

func copyJackpot(in *domain.Jackpot) *domain.Jackpot {
	out := *in
	if in.LastWonAt != nil {
		t := *in.LastWonAt
		out.LastWonAt = &t
	}
	return &out
}

func copyWin(in *domain.JackpotWin) *domain.JackpotWin {
	out := *in
	if in.ConfirmedAt != nil {
		t := *in.ConfirmedAt
		out.ConfirmedAt = &t
	}
	return &out
}

func (s *Store) SaveEvent(ctx context.Context, e *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *Store) ListEvents(ctx context.Context, filter *store.EventFilter) ([]*domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := store.EventFilter{}
	if filter != nil {
		f = *filter
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*domain.AuditEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.events[i]
		if f.PlayerID != "" && (e.PlayerID == nil || *e.PlayerID != f.PlayerID) {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if !f.From.IsZero() && e.Timestamp.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && e.Timestamp.After(f.To) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SetGamingEnabled(ctx context.Context, enabled bool, reason, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.control.GamingEnabled = enabled
	if enabled {
		s.control.DisabledAt, s.control.DisabledBy, s.control.DisabledReason = nil, "", ""
		return nil
	}
	s.control.DisabledAt = &at
	s.control.DisabledBy = by
	s.control.DisabledReason = reason
	return nil
}

func (s *Store) DisableGame(ctx context.Context, gameID, reason, by string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.control.DisabledGames[gameID] = reason
	return nil
}

func (s *Store) EnableGame(ctx context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.control.DisabledGames, gameID)
	return nil
}

func (s *Store) LoadControlState(ctx context.Context) (*store.ControlState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.control
	out.DisabledGames = make(map[string]string, len(s.control.DisabledGames))
	for k, v := range s.control.DisabledGames {
		out.DisabledGames[k] = v
	}
	if s.control.DisabledAt != nil {
		t := *s.control.DisabledAt
		out.DisabledAt = &t
	}
	return &out, nil
}
