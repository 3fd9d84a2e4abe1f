package web

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/gridbot/internal/storage/checkpoints"
)

type fakeStore struct {
	records []checkpoints.Record
}

func (f *fakeStore) After(index uint64) ([]checkpoints.Record, error) {
	var out []checkpoints.Record
	for _, r := range f.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Latest() (checkpoints.Checkpoint, bool, error) {
	if len(f.records) == 0 {
		return checkpoints.Checkpoint{}, false, nil
	}
	return f.records[len(f.records)-1].Checkpoint, true, nil
}

func checkpoint(ts int64, trade string) checkpoints.Checkpoint {
	return checkpoints.Checkpoint{
		Pair:             "BTC_USDT",
		Timestamp:        ts,
		TradeCapital:     decimal.RequireFromString(trade),
		AvailableCapital: decimal.RequireFromString(trade),
	}
}

func TestHandleLedger(t *testing.T) {
	store := &fakeStore{}
	srv := NewServer(":0", store, nil, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store.records = []checkpoints.Record{
		{Index: 1, Checkpoint: checkpoint(1, "100")},
		{Index: 2, Checkpoint: checkpoint(2, "101.5")},
	}
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ledger", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got checkpoints.Checkpoint
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, int64(2), got.Timestamp)
	assert.True(t, decimal.RequireFromString("101.5").Equal(got.TradeCapital))
}

func TestHandleWithoutStore(t *testing.T) {
	srv := NewServer(":0", nil, nil, nil)

	for _, path := range []string{"/ledger", "/ledger/stream"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("gridbot_up 1\n"))
	})
	srv := NewServer(":0", &fakeStore{}, metrics, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "gridbot_up 1\n", rec.Body.String())
}

func TestLedgerStream(t *testing.T) {
	store := &fakeStore{records: []checkpoints.Record{
		{Index: 1, Checkpoint: checkpoint(1, "100")},
		{Index: 2, Checkpoint: checkpoint(2, "101")},
	}}
	srv := NewServer(":0", store, nil, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/ledger/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var data []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(data) < 2 {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, data, 2)

	var second checkpoints.Checkpoint
	require.NoError(t, json.Unmarshal([]byte(data[1]), &second))
	assert.Equal(t, int64(2), second.Timestamp)
}
