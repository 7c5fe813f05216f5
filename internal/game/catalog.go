// Package game implements the outcome side of a spin: the game catalog,
// reel generation, win evaluation and feature detection.
//
// Everything here is a pure function of the game definition, the grid and
// the random source, so outcomes can be replayed from a seed and audited.
package game

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/alexbotov/slotengine/internal/domain"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrEmptyCatalog = errors.New("catalog contains no games")
)

// catalogFile is the on-disk layout of the games file
type catalogFile struct {
	Games []*domain.GameConfig `yaml:"games"`
}

// Catalog is the validated, read-only set of game definitions.
// Game configs handed out by the catalog must not be modified.
type Catalog struct {
	games map[string]*domain.GameConfig
	ids   []string
}

// LoadCatalog reads and validates a YAML games file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML document of the form `games: [...]`
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(f.Games...)
}

// NewCatalog validates the given games and indexes them by id
func NewCatalog(games ...*domain.GameConfig) (*Catalog, error) {
	if len(games) == 0 {
		return nil, ErrEmptyCatalog
	}

	c := &Catalog{games: make(map[string]*domain.GameConfig, len(games))}
	for _, g := range games {
		if g == nil {
			continue
		}
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if g.Paylines.Mode == domain.PaylineFixed {
			if n := len(Patterns(g.Reels, g.Rows, g.Paylines.Count)); n < g.Paylines.Count {
				return nil, fmt.Errorf("game %s: %d paylines configured, %dx%d grid has %d", g.ID, g.Paylines.Count, g.Reels, g.Rows, n)
			}
		}
		if _, dup := c.games[g.ID]; dup {
			return nil, fmt.Errorf("duplicate game id %q", g.ID)
		}
		c.games[g.ID] = g
		c.ids = append(c.ids, g.ID)
	}
	sort.Strings(c.ids)
	return c, nil
}

// Game returns a game by id
func (c *Catalog) Game(id string) (*domain.GameConfig, error) {
	g, ok := c.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	return g, nil
}

// Games returns all games ordered by id
func (c *Catalog) Games() []*domain.GameConfig {
	out := make([]*domain.GameConfig, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.games[id])
	}
	return out
}

// JackpotGames returns the games that carry a jackpot
func (c *Catalog) JackpotGames() []*domain.GameConfig {
	var out []*domain.GameConfig
	for _, g := range c.Games() {
		if g.Jackpot.Enabled() {
			out = append(out, g)
		}
	}
	return out
}
