// Package control provides the operator kill switches of the slot engine.
//
// The operator can disable all gaming or single games on demand. Every
// change is persisted through the store and written to the audit trail.
package control

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alexbotov/slotengine/internal/audit"
	"github.com/alexbotov/slotengine/internal/domain"
	"github.com/alexbotov/slotengine/internal/store"
)

var (
	ErrGamingDisabled = errors.New("gaming is currently disabled")
	ErrGameDisabled   = errors.New("game is currently disabled")
)

// Service holds the in-memory view of the kill switches
type Service struct {
	store store.ControlStore
	audit *audit.Service

	mu             sync.RWMutex
	gamingEnabled  bool
	disabledGames  map[string]string
	disabledAt     *time.Time
	disabledBy     string
	disabledReason string
}

// New creates a new control service with gaming enabled
func New(s store.ControlStore, auditSvc *audit.Service) *Service {
	return &Service{
		store:         s,
		audit:         auditSvc,
		gamingEnabled: true,
		disabledGames: make(map[string]string),
	}
}

// DisableAllGaming stops all gaming activity
func (s *Service) DisableAllGaming(ctx context.Context, reason, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if err := s.store.SetGamingEnabled(ctx, false, reason, authorizedBy, now); err != nil {
		return err
	}
	s.gamingEnabled = false
	s.disabledAt = &now
	s.disabledBy = authorizedBy
	s.disabledReason = reason

	s.audit.Log(ctx, audit.EventGamingDisabled, domain.SeverityCritical,
		fmt.Sprintf("All gaming disabled: %s", reason),
		map[string]interface{}{
			"authorized_by": authorizedBy,
			"reason":        reason,
		},
		audit.WithComponent("control"))

	return nil
}

// EnableAllGaming resumes gaming operations
func (s *Service) EnableAllGaming(ctx context.Context, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.SetGamingEnabled(ctx, true, "", authorizedBy, time.Now().UTC()); err != nil {
		return err
	}
	s.gamingEnabled = true
	s.disabledAt = nil
	s.disabledBy = ""
	s.disabledReason = ""

	s.audit.Log(ctx, audit.EventGamingEnabled, domain.SeverityInfo,
		"All gaming enabled",
		map[string]interface{}{"authorized_by": authorizedBy},
		audit.WithComponent("control"))

	return nil
}

// DisableGame disables a specific game
func (s *Service) DisableGame(ctx context.Context, gameID, reason, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.DisableGame(ctx, gameID, reason, authorizedBy, time.Now().UTC()); err != nil {
		return err
	}
	s.disabledGames[gameID] = reason

	s.audit.Log(ctx, audit.EventGameDisabled, domain.SeverityWarning,
		fmt.Sprintf("Game disabled: %s - %s", gameID, reason),
		map[string]interface{}{
			"game_id":       gameID,
			"reason":        reason,
			"authorized_by": authorizedBy,
		},
		audit.WithComponent("control"))

	return nil
}

// EnableGame enables a specific game
func (s *Service) EnableGame(ctx context.Context, gameID, authorizedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.EnableGame(ctx, gameID); err != nil {
		return err
	}
	delete(s.disabledGames, gameID)

	s.audit.Log(ctx, audit.EventGameEnabled, domain.SeverityInfo,
		fmt.Sprintf("Game enabled: %s", gameID),
		map[string]interface{}{
			"game_id":       gameID,
			"authorized_by": authorizedBy,
		},
		audit.WithComponent("control"))

	return nil
}

// IsGamingEnabled checks if gaming is currently enabled
func (s *Service) IsGamingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gamingEnabled
}

// IsGameEnabled checks if a specific game is enabled
func (s *Service) IsGameEnabled(gameID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, disabled := s.disabledGames[gameID]
	return !disabled
}

// Status returns the current kill switch state
func (s *Service) Status() *domain.GamingSystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := make([]string, 0, len(s.disabledGames))
	for id := range s.disabledGames {
		games = append(games, id)
	}
	sort.Strings(games)

	return &domain.GamingSystemStatus{
		GamingEnabled:  s.gamingEnabled,
		DisabledAt:     s.disabledAt,
		DisabledBy:     s.disabledBy,
		DisabledReason: s.disabledReason,
		DisabledGames:  games,
	}
}

// CheckAccess reports whether a game may be played right now
func (s *Service) CheckAccess(gameID string) error {
	if !s.IsGamingEnabled() {
		return ErrGamingDisabled
	}
	if !s.IsGameEnabled(gameID) {
		return fmt.Errorf("%w: %s", ErrGameDisabled, gameID)
	}
	return nil
}

// LoadState loads persisted state on startup
func (s *Service) LoadState(ctx context.Context) error {
	state, err := s.store.LoadControlState(ctx)
	if err != nil {
		return fmt.Errorf("load control state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.gamingEnabled = state.GamingEnabled
	s.disabledAt = state.DisabledAt
	s.disabledBy = state.DisabledBy
	s.disabledReason = state.DisabledReason
	s.disabledGames = make(map[string]string, len(state.DisabledGames))
	for id, reason := range state.DisabledGames {
		s.disabledGames[id] = reason
	}
	return nil
}
