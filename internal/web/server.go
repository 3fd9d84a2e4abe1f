package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/gridbot/internal/storage/checkpoints"
)

const checkpointPollInterval = 2 * time.Second

type checkpointReader interface {
	After(index uint64) ([]checkpoints.Record, error)
	Latest() (checkpoints.Checkpoint, bool, error)
}

// Server exposes the HTML status page, the ledger JSON and SSE stream, and Prometheus metrics.
type Server struct {
	Addr    string
	Store   checkpointReader
	Metrics http.Handler

	logger       *zap.Logger
	pollInterval time.Duration
}

// NewServer creates a new web server instance. metrics may be nil.
func NewServer(addr string, store checkpointReader, metrics http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:         addr,
		Store:        store,
		Metrics:      metrics,
		logger:       logger,
		pollInterval: checkpointPollInterval,
	}
}

// Handler routes of the status server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ledger", s.handleLedger)
	mux.HandleFunc("/ledger/stream", s.handleLedgerStream)
	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics)
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleLedger(w http.ResponseWriter, _ *http.Request) {
	if s.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "checkpoint store not available")
		return
	}

	latest, ok, err := s.Store.Latest()
	if err != nil {
		s.logger.Error("ledger load failed", zap.Error(err))
		http.Error(w, "failed to load ledger", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no ledger yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(latest)
}

func (s *Server) handleLedgerStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "checkpoint store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat keeps proxies from closing the connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendCheckpoints := func() error {
		records, err := s.Store.After(lastIndex)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Checkpoint)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: ledger\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendCheckpoints(); err != nil {
		http.Error(w, "failed to load checkpoints", http.StatusInternalServerError)
		s.logger.Error("ledger stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendCheckpoints(); err != nil {
				s.logger.Warn("ledger stream poll", zap.Error(err))
			}
		}
	}
}

// Capital chart fed by the ledger stream.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>gridbot</title>
  <script src="https://cdn.jsdelivr.net/npm/chart.js"></script>
  <style>
    body { margin:0; padding:2rem; font-family:'Space Mono','JetBrains Mono',monospace; color:#111; background:#fff; }
    #app { max-width:1100px; margin:0 auto; border:3px solid #111; padding:2rem; background:#f6f6f6; box-shadow:12px 12px 0 rgba(0,0,0,.15); }
    header { display:flex; justify-content:space-between; align-items:center; margin-bottom:1.5rem; }
    .status { font-size:.65rem; text-transform:uppercase; letter-spacing:.1em; border:2px solid #111; padding:.4rem .9rem; background:#fff; }
    .stats { display:grid; grid-template-columns:repeat(auto-fit, minmax(180px, 1fr)); gap:1rem; margin-top:1.5rem; }
    .stat { border:2px solid #111; background:#fff; padding:1rem; }
    .stat .label { font-size:.6rem; text-transform:uppercase; letter-spacing:.2em; color:#4d4d4d; }
    .stat .value { margin-top:.6rem; font-size:1.3rem; font-weight:700; }
    canvas { background:#fff; border:2px solid #111; width:100%; }
  </style>
</head>
<body>
  <div id="app">
    <header>
      <strong id="pair">gridbot</strong>
      <div id="sse-status" class="status">Connecting…</div>
    </header>
    <canvas id="chart" height="320"></canvas>
    <section class="stats">
      <div class="stat"><div class="label">Trade capital</div><div class="value" id="trade">–</div></div>
      <div class="stat"><div class="label">Available</div><div class="value" id="available">–</div></div>
      <div class="stat"><div class="label">Awaited deals</div><div class="value" id="awaited">–</div></div>
      <div class="stat"><div class="label">Stuck deals</div><div class="value" id="stuck">–</div></div>
    </section>
  </div>
<script>
const statusEl = document.getElementById('sse-status');
const chart = new Chart(document.getElementById('chart').getContext('2d'), {
  type: 'line',
  data: { labels: [], datasets: [
    { label:'trade capital', data:[], borderColor:'#111111', borderWidth:2, pointRadius:0 },
    { label:'available', data:[], borderColor:'#1b9aaa', borderWidth:2, pointRadius:0 }
  ]},
  options: { animation:false, responsive:true, plugins:{ decimation:{ enabled:true, algorithm:'lttb', samples:500 } } }
});

function handle(c){
  document.getElementById('pair').textContent = c.pair;
  document.getElementById('trade').textContent = parseFloat(c.trade_capital).toFixed(4);
  document.getElementById('available').textContent = parseFloat(c.available_capital).toFixed(4);
  document.getElementById('awaited').textContent = c.awaited_deals;
  document.getElementById('stuck').textContent = c.stuck_deals;
  chart.data.labels.push(new Date(c.ts).toLocaleString([], { hour12:false }));
  chart.data.datasets[0].data.push(parseFloat(c.trade_capital));
  chart.data.datasets[1].data.push(parseFloat(c.available_capital));
  if(chart.data.labels.length > 50000){
    chart.data.labels.shift();
    chart.data.datasets.forEach((d) => d.data.shift());
  }
  chart.update('none');
}

function connectSSE(){
  const source = new EventSource('/ledger/stream');
  statusEl.textContent = 'Status: receiving data';
  source.addEventListener('ledger', (event) => {
    try{ handle(JSON.parse(event.data)); }catch(err){ console.error('payload parse', err); }
  });
  source.addEventListener('error', () => {
    statusEl.textContent = 'Reconnecting…';
    source.close();
    setTimeout(connectSSE, 2000);
  });
}

connectSSE();
</script>
</body>
</html>`
