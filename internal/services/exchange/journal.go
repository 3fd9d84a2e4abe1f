package exchange

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

const (
	defaultJournalDir       = "./wal/orders"
	journalSegmentThreshold = 1000
	journalMaxSegments      = 100
	intentKeyPrefix         = "order_intent_"
)

// IntentStatus placement progress of an order.
type IntentStatus string

const (
	IntentPending IntentStatus = "pending"
	IntentPlaced  IntentStatus = "placed"
	IntentFailed  IntentStatus = "failed"
)

// Intent journalled order placement. LinkID is sent to the exchange so a
// pending intent can be matched with the order after a crash.
type Intent struct {
	LinkID   string          `json:"link_id"`
	Status   IntentStatus    `json:"status"`
	Side     domain.Side     `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Bar      int64           `json:"bar"`
	OrderID  string          `json:"order_id,omitempty"`
	Time     time.Time       `json:"time"`
	Error    string          `json:"error,omitempty"`
}

// Journal write-ahead log of order intents.
type Journal struct {
	mu      sync.Mutex
	wal     *gowal.Wal
	intents map[string]*Intent
}

// OpenJournal opens the journal under dir and replays previous intents.
func OpenJournal(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure journal directory %s", dir)
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "intent_",
		SegmentThreshold: journalSegmentThreshold,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init order journal WAL")
	}

	j := &Journal{wal: wal, intents: make(map[string]*Intent)}
	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var intent Intent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			return nil, errors.Wrapf(err, "decode order intent %s", msg.Key)
		}
		j.intents[intent.LinkID] = &intent
	}

	return j, nil
}

// Prepare journals a pending intent before the order is sent.
func (j *Journal) Prepare(side domain.Side, price, qty decimal.Decimal, bar int64) (*Intent, error) {
	intent := &Intent{
		LinkID:   uuid.New().String(),
		Status:   IntentPending,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Bar:      bar,
		Time:     time.Now().UTC(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.persist(intent); err != nil {
		return nil, err
	}
	j.intents[intent.LinkID] = intent

	return intent, nil
}

// MarkPlaced records the exchange order id.
func (j *Journal) MarkPlaced(intent *Intent, orderID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = IntentPlaced
	intent.OrderID = orderID
	intent.Error = ""
	return j.persist(intent)
}

// MarkFailed records a placement that will not be retried.
func (j *Journal) MarkFailed(intent *Intent, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = IntentFailed
	if cause != nil {
		intent.Error = cause.Error()
	}
	return j.persist(intent)
}

// Pending returns unresolved intents ordered by bar.
func (j *Journal) Pending() []*Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	var pending []*Intent
	for _, intent := range j.intents {
		if intent.Status == IntentPending {
			pending = append(pending, intent)
		}
	}
	sort.Slice(pending, func(a, b int) bool {
		if pending[a].Bar != pending[b].Bar {
			return pending[a].Bar < pending[b].Bar
		}
		return pending[a].LinkID < pending[b].LinkID
	})

	return pending
}

// Intent looks up an intent by link id.
func (j *Journal) Intent(linkID string) (*Intent, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	intent, ok := j.intents[linkID]
	return intent, ok
}

// Reconcile resolves pending intents against the exchange's open orders: an
// intent whose link id rests on the exchange is placed, any other is failed.
func (j *Journal) Reconcile(open []domain.Order) (placed, failed int, err error) {
	byLink := make(map[string]domain.Order, len(open))
	for _, o := range open {
		if o.LinkID != "" {
			byLink[o.LinkID] = o
		}
	}

	for _, intent := range j.Pending() {
		if o, ok := byLink[intent.LinkID]; ok {
			if err := j.MarkPlaced(intent, o.ID); err != nil {
				return placed, failed, err
			}
			placed++
			continue
		}
		if err := j.MarkFailed(intent, errors.New("order not found on exchange after restart")); err != nil {
			return placed, failed, err
		}
		failed++
	}

	return placed, failed, nil
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}

func (j *Journal) persist(intent *Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "failed to marshal order intent")
	}
	key := fmt.Sprintf("%s%s", intentKeyPrefix, intent.LinkID)
	nextIndex := j.wal.CurrentIndex() + 1
	return j.wal.Write(nextIndex, key, data)
}
