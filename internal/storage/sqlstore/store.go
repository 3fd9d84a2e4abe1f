// Package sqlstore persists candles, deals and ledger checkpoints in SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/vadiminshakov/gridbot/internal/domain"
)

const defaultPath = "gridbot.sqlite"

// Store is a single-connection SQLite store. It is the only writer of its file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", path)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS candles (
  timestamp INTEGER PRIMARY KEY ASC,
  open TEXT NOT NULL,
  high TEXT NOT NULL,
  low TEXT NOT NULL,
  close TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS deals (
  timestamp INTEGER PRIMARY KEY ASC,
  status TEXT NOT NULL,
  buy_order_id TEXT NOT NULL,
  sell_order_id TEXT NOT NULL,
  amount TEXT NOT NULL,
  quantity TEXT NOT NULL,
  unfilled_amount TEXT NOT NULL,
  base_price TEXT NOT NULL,
  buy_price TEXT NOT NULL,
  buy_stop_price TEXT NOT NULL,
  sell_price TEXT NOT NULL,
  sell_stop_price TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status, timestamp);`,
		`
CREATE TABLE IF NOT EXISTS trade_states (
  timestamp INTEGER PRIMARY KEY ASC,
  trade_capital TEXT NOT NULL,
  available_capital TEXT NOT NULL,
  awaited_deals INTEGER NOT NULL,
  stuck_deals INTEGER NOT NULL
);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate sqlite")
		}
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) LatestLedger(ctx context.Context) (domain.Ledger, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT timestamp, trade_capital, available_capital, awaited_deals, stuck_deals
FROM trade_states
ORDER BY timestamp DESC
LIMIT 1
`)

	var (
		l                  domain.Ledger
		tradeStr, availStr string
	)
	if err := row.Scan(&l.Timestamp, &tradeStr, &availStr, &l.AwaitedDeals, &l.StuckDeals); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ledger{}, domain.ErrNoLedger
		}
		return domain.Ledger{}, errors.Wrap(err, "query latest trade state")
	}

	var err error
	if l.TradeCapital, err = decimal.NewFromString(tradeStr); err != nil {
		return domain.Ledger{}, errors.Wrap(err, "decode trade capital")
	}
	if l.AvailableCapital, err = decimal.NewFromString(availStr); err != nil {
		return domain.Ledger{}, errors.Wrap(err, "decode available capital")
	}

	return l, nil
}

func (s *Store) OpenDeals(ctx context.Context) ([]domain.Deal, error) {
	placeholders := make([]string, len(domain.OpenDealStatuses))
	args := make([]any, len(domain.OpenDealStatuses))
	for i, status := range domain.OpenDealStatuses {
		placeholders[i] = "?"
		args[i] = status.String()
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT timestamp, status, buy_order_id, sell_order_id, amount, quantity, unfilled_amount,
       base_price, buy_price, buy_stop_price, sell_price, sell_stop_price
FROM deals
WHERE status IN (%s)
ORDER BY timestamp ASC
`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, errors.Wrap(err, "query open deals")
	}
	defer rows.Close()

	var out []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}

// Deals returns every deal in timestamp order.
func (s *Store) Deals(ctx context.Context) ([]domain.Deal, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, status, buy_order_id, sell_order_id, amount, quantity, unfilled_amount,
       base_price, buy_price, buy_stop_price, sell_price, sell_stop_price
FROM deals
ORDER BY timestamp ASC
`)
	if err != nil {
		return nil, errors.Wrap(err, "query deals")
	}
	defer rows.Close()

	var out []domain.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}

// SaveStep writes the deals and the checkpoint in one transaction.
func (s *Store) SaveStep(ctx context.Context, deals []domain.Deal, ledger domain.Ledger) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin step tx")
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range deals {
		if err := upsertDeal(ctx, tx, d); err != nil {
			return err
		}
	}
	if err := upsertLedger(ctx, tx, ledger); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(), "commit step tx")
}

func (s *Store) UpsertDeal(ctx context.Context, deal domain.Deal) error {
	return upsertDeal(ctx, s.db, deal)
}

func (s *Store) UpsertLedger(ctx context.Context, ledger domain.Ledger) error {
	return upsertLedger(ctx, s.db, ledger)
}

// Reset truncates deals and trade states, candles are kept.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"deals", "trade_states"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "truncate %s", table)
		}
	}
	return nil
}

func upsertDeal(ctx context.Context, db execer, d domain.Deal) error {
	if err := d.Validate(); err != nil {
		return errors.Wrap(err, "save deal")
	}

	_, err := db.ExecContext(ctx, `
INSERT INTO deals (timestamp, status, buy_order_id, sell_order_id, amount, quantity, unfilled_amount,
                   base_price, buy_price, buy_stop_price, sell_price, sell_stop_price)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(timestamp) DO UPDATE SET
  status=excluded.status,
  buy_order_id=excluded.buy_order_id,
  sell_order_id=excluded.sell_order_id,
  amount=excluded.amount,
  quantity=excluded.quantity,
  unfilled_amount=excluded.unfilled_amount,
  base_price=excluded.base_price,
  buy_price=excluded.buy_price,
  buy_stop_price=excluded.buy_stop_price,
  sell_price=excluded.sell_price,
  sell_stop_price=excluded.sell_stop_price
`, d.Timestamp, d.Status.String(), d.BuyOrderID, d.SellOrderID,
		d.Amount.String(), d.Quantity.String(), d.UnfilledAmount.String(),
		d.BasePrice.String(), d.BuyPrice.String(), d.BuyStopPrice.String(),
		d.SellPrice.String(), d.SellStopPrice.String())
	if err != nil {
		return errors.Wrapf(err, "upsert deal %d", d.Timestamp)
	}
	return nil
}

func upsertLedger(ctx context.Context, db execer, l domain.Ledger) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO trade_states (timestamp, trade_capital, available_capital, awaited_deals, stuck_deals)
VALUES (?,?,?,?,?)
ON CONFLICT(timestamp) DO UPDATE SET
  trade_capital=excluded.trade_capital,
  available_capital=excluded.available_capital,
  awaited_deals=excluded.awaited_deals,
  stuck_deals=excluded.stuck_deals
`, l.Timestamp, l.TradeCapital.String(), l.AvailableCapital.String(), l.AwaitedDeals, l.StuckDeals)
	if err != nil {
		return errors.Wrapf(err, "upsert trade state %d", l.Timestamp)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeal(row scanner) (domain.Deal, error) {
	var (
		d      domain.Deal
		status string
		nums   [8]string
	)
	if err := row.Scan(&d.Timestamp, &status, &d.BuyOrderID, &d.SellOrderID,
		&nums[0], &nums[1], &nums[2], &nums[3], &nums[4], &nums[5], &nums[6], &nums[7]); err != nil {
		return domain.Deal{}, errors.Wrap(err, "scan deal")
	}

	var err error
	if d.Status, err = domain.ParseDealStatus(status); err != nil {
		return domain.Deal{}, errors.Wrapf(err, "deal %d", d.Timestamp)
	}

	targets := []*decimal.Decimal{
		&d.Amount, &d.Quantity, &d.UnfilledAmount, &d.BasePrice,
		&d.BuyPrice, &d.BuyStopPrice, &d.SellPrice, &d.SellStopPrice,
	}
	for i, target := range targets {
		if *target, err = decimal.NewFromString(nums[i]); err != nil {
			return domain.Deal{}, errors.Wrapf(err, "decode deal %d column %d", d.Timestamp, i)
		}
	}

	return d, nil
}
