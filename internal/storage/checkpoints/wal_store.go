// Package checkpoints keeps a WAL of resolved steps for the status stream.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/domain"
	"github.com/vadiminshakov/gridbot/internal/resolver"
)

const (
	defaultCheckpointDir   = "./wal/ledger"
	checkpointSegmentLimit = 1000
	checkpointMaxSegments  = 100
	checkpointKeyPrefix    = "ledger_checkpoint_"
)

// Checkpoint ledger state after a bar plus what moved during it.
type Checkpoint struct {
	Pair             string          `json:"pair"`
	Timestamp        int64           `json:"ts"`
	Close            decimal.Decimal `json:"close"`
	TradeCapital     decimal.Decimal `json:"trade_capital"`
	AvailableCapital decimal.Decimal `json:"available_capital"`
	AwaitedDeals     int             `json:"awaited_deals"`
	StuckDeals       int             `json:"stuck_deals"`
	Opened           int64           `json:"opened"`
	Transitions      map[string]int  `json:"transitions,omitempty"`
}

// Record checkpoint with its WAL index.
type Record struct {
	Index      uint64
	Checkpoint Checkpoint
}

// FromOutcome builds the checkpoint of a resolved step.
func FromOutcome(pair domain.Pair, o resolver.Outcome) Checkpoint {
	c := Checkpoint{
		Pair:             pair.String(),
		Timestamp:        o.Ledger.Timestamp,
		Close:            o.Bar.Close,
		TradeCapital:     o.Ledger.TradeCapital,
		AvailableCapital: o.Ledger.AvailableCapital,
		AwaitedDeals:     o.Ledger.AwaitedDeals,
		StuckDeals:       o.Ledger.StuckDeals,
		Opened:           o.Opened.Timestamp,
	}
	if len(o.Transitions) > 0 {
		c.Transitions = make(map[string]int, len(o.Transitions))
		for _, t := range o.Transitions {
			c.Transitions[string(t.To)]++
		}
	}
	return c
}

// WALStore persists checkpoints in a WAL so readers can follow them by index.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed checkpoint store under the provided directory.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultCheckpointDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure checkpoint directory %s", dir)
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: checkpointSegmentLimit,
		MaxSegments:      checkpointMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init ledger checkpoint WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the checkpoint.
func (s *WALStore) Save(c Checkpoint) error {
	if s == nil || s.wal == nil {
		return errors.New("checkpoint store is not initialized")
	}
	if c.Pair == "" {
		return errors.New("checkpoint pair is required")
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal ledger checkpoint")
	}

	key := fmt.Sprintf("%s%s", checkpointKeyPrefix, c.Pair)

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	return s.wal.Write(nextIndex, key, payload)
}

// Observer returns a resolver observer appending a checkpoint per step.
// Write errors are logged; the step is already persisted by then.
func (s *WALStore) Observer(pair domain.Pair, logger *zap.Logger) resolver.Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(o resolver.Outcome) {
		if err := s.Save(FromOutcome(pair, o)); err != nil {
			logger.Warn("failed to write ledger checkpoint",
				zap.Int64("bar", o.Bar.Timestamp),
				zap.Error(err))
		}
	}
}

// After returns all checkpoints written after the provided WAL index.
func (s *WALStore) After(index uint64) ([]Record, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("checkpoint store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]Record, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, checkpointKeyPrefix) {
			continue
		}
		var c Checkpoint
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, errors.Wrap(err, "decode ledger checkpoint")
		}
		records = append(records, Record{Index: idx, Checkpoint: c})
	}

	return records, nil
}

// Latest returns the newest checkpoint, false when none was written.
func (s *WALStore) Latest() (Checkpoint, bool, error) {
	if s == nil || s.wal == nil {
		return Checkpoint{}, false, errors.New("checkpoint store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for idx := s.wal.CurrentIndex(); idx > 0; idx-- {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, checkpointKeyPrefix) {
			continue
		}
		var c Checkpoint
		if err := json.Unmarshal(payload, &c); err != nil {
			return Checkpoint{}, false, errors.Wrap(err, "decode ledger checkpoint")
		}
		return c, true, nil
	}

	return Checkpoint{}, false, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("checkpoint store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
