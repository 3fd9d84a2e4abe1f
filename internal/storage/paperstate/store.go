// Package paperstate persists the paper exchange book between restarts.
package paperstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

const defaultStateDir = "./wal/paper"

// Store writes the paper book to a JSON file.
type Store struct {
	path string
}

// NewStore creates a store under dir for the pair. Empty dir means ./wal/paper.
func NewStore(dir string, pair domain.Pair) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create paper state dir")
	}

	return &Store{path: filepath.Join(dir, strings.ToLower(pair.String())+".json")}, nil
}

// State paper account and resting orders.
type State struct {
	Quote     decimal.Decimal `json:"quote"`
	Position  decimal.Decimal `json:"position"`
	LastPrice decimal.Decimal `json:"last_price"`
	Orders    []StoredOrder   `json:"orders"`
}

// StoredOrder serializable resting order.
type StoredOrder struct {
	ID       string          `json:"id"`
	LinkID   string          `json:"link_id"`
	Side     domain.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Load reads the state, nil when nothing was saved yet.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read paper state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode paper state")
	}

	return &state, nil
}

// Save writes the state atomically via a temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode paper state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write paper state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist paper state")
	}

	return nil
}
