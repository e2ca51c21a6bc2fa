// Package status implements the append-only, last-writer-wins status sink
// the engine (service section) and the trading cycle both publish to.
//
// The full status document is rewritten atomically (write-temp-then-rename)
// on every mutation, grounded on the teacher's internal/store package. This
// system's status file has two producers instead of one market goroutine
// per file, so every write additionally holds a cross-process advisory file
// lock (github.com/gofrs/flock) for the duration of the rewrite.
package status

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"perp-trader/pkg/types"

	"github.com/gofrs/flock"
	"github.com/shopspring/decimal"
)

const (
	maxEvents       = 200
	maxOrders       = 200
	maxAIHistory    = 300
	maxCloseHistory = 500

	statusFileName       = "status.json"
	aiHistoryFileName    = "ai_history.jsonl"
	closeHistoryFileName = "close_history.jsonl"
	lockFileName         = ".status.lock"
)

// ServiceSection describes the running process.
type ServiceSection struct {
	Status    string `json:"status"`
	StartedAt int64  `json:"started_at"`
	Env       string `json:"env"`
	Symbol    string `json:"symbol"`
}

// TraderSection describes the trading cycle's recent activity.
type TraderSection struct {
	LastCycleStatus string `json:"last_cycle_status"`
	LastCycleTs     int64  `json:"last_cycle_ts"`
	CycleCount      int64  `json:"cycle_count"`
}

// EventRecord is one entry in the bounded events list.
type EventRecord struct {
	Ts      int64  `json:"ts"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// OrderRecord is one entry in the bounded orders list.
type OrderRecord struct {
	Ts       int64             `json:"ts"`
	OrderID  int64             `json:"order_id"`
	Symbol   string            `json:"symbol"`
	Side     types.Side        `json:"side"`
	Type     types.OrderType   `json:"type"`
	Status   types.OrderStatus `json:"status"`
	Price    decimal.Decimal   `json:"price"`
	Quantity decimal.Decimal   `json:"quantity"`
}

// document is the full shape written to the status file.
type document struct {
	Service      ServiceSection       `json:"service"`
	Trader       TraderSection        `json:"trader"`
	Positions    []types.Position     `json:"positions"`
	Orders       []OrderRecord        `json:"orders"`
	Events       []EventRecord        `json:"events"`
	LatestInput  *types.MarketSnapshot `json:"latest_input,omitempty"`
	LatestAdvice *types.Advice         `json:"latest_advice,omitempty"`
	LastUpdateTs int64                `json:"last_update_ts"`
}

// Publisher owns the in-memory status document and the history files.
type Publisher struct {
	mu   sync.Mutex
	lock *flock.Flock

	statusPath       string
	aiHistoryPath    string
	closeHistoryPath string

	doc document
}

// New creates a Publisher writing into dataDir, creating it if necessary.
func New(dataDir string) (*Publisher, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create status dir: %w", err)
	}
	return &Publisher{
		lock:             flock.New(filepath.Join(dataDir, lockFileName)),
		statusPath:       filepath.Join(dataDir, statusFileName),
		aiHistoryPath:    filepath.Join(dataDir, aiHistoryFileName),
		closeHistoryPath: filepath.Join(dataDir, closeHistoryFileName),
	}, nil
}

// SetService replaces the service section wholesale.
func (p *Publisher) SetService(s ServiceSection) error {
	p.mu.Lock()
	p.doc.Service = s
	p.mu.Unlock()
	return p.flush()
}

// SetTrader replaces the trader section wholesale.
func (p *Publisher) SetTrader(t TraderSection) error {
	p.mu.Lock()
	p.doc.Trader = t
	p.mu.Unlock()
	return p.flush()
}

// SetPositions replaces the positions list wholesale.
func (p *Publisher) SetPositions(positions []types.Position) error {
	p.mu.Lock()
	p.doc.Positions = positions
	p.mu.Unlock()
	return p.flush()
}

// SetLatestInput replaces the latest market snapshot shown to the advisor.
func (p *Publisher) SetLatestInput(snapshot *types.MarketSnapshot) error {
	p.mu.Lock()
	p.doc.LatestInput = snapshot
	p.mu.Unlock()
	return p.flush()
}

// SetLatestAdvice replaces the latest parsed advisor decision.
func (p *Publisher) SetLatestAdvice(advice *types.Advice) error {
	p.mu.Lock()
	p.doc.LatestAdvice = advice
	p.mu.Unlock()
	return p.flush()
}

// AppendEvent appends one event, trimming to the most recent maxEvents entries.
func (p *Publisher) AppendEvent(phase, message string) error {
	p.mu.Lock()
	p.doc.Events = append(p.doc.Events, EventRecord{Ts: time.Now().UnixMilli(), Phase: phase, Message: message})
	if len(p.doc.Events) > maxEvents {
		p.doc.Events = p.doc.Events[len(p.doc.Events)-maxEvents:]
	}
	p.mu.Unlock()
	return p.flush()
}

// AppendOrder appends one order record, trimming to the most recent maxOrders entries.
func (p *Publisher) AppendOrder(rec OrderRecord) error {
	p.mu.Lock()
	p.doc.Orders = append(p.doc.Orders, rec)
	if len(p.doc.Orders) > maxOrders {
		p.doc.Orders = p.doc.Orders[len(p.doc.Orders)-maxOrders:]
	}
	p.mu.Unlock()
	return p.flush()
}

// flush rewrites the status file atomically under the cross-process lock.
func (p *Publisher) flush() error {
	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("acquire status lock: %w", err)
	}
	defer p.lock.Unlock()

	p.mu.Lock()
	p.doc.LastUpdateTs = time.Now().UnixMilli()
	data, err := json.MarshalIndent(p.doc, "", "  ")
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	return writeAtomic(p.statusPath, data)
}

// AppendAIHistory appends one advisory decision record to the JSON-lines
// history file, trimming it to the most recent maxAIHistory lines.
func (p *Publisher) AppendAIHistory(entry any) error {
	return p.appendHistoryLine(p.aiHistoryPath, entry, maxAIHistory)
}

// AppendCloseHistory appends one closed-position record to the JSON-lines
// history file, trimming it to the most recent maxCloseHistory lines.
func (p *Publisher) AppendCloseHistory(entry any) error {
	return p.appendHistoryLine(p.closeHistoryPath, entry, maxCloseHistory)
}

func (p *Publisher) appendHistoryLine(path string, entry any, cap int) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	if err := p.lock.Lock(); err != nil {
		return fmt.Errorf("acquire status lock: %w", err)
	}
	defer p.lock.Unlock()

	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	lines = append(lines, string(line))
	if len(lines) > cap {
		lines = lines[len(lines)-cap:]
	}

	out := make([]byte, 0, len(lines)*64)
	for _, l := range lines {
		out = append(out, l...)
		out = append(out, '\n')
	}
	return writeAtomic(path, out)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines = append(lines, scanner.Text())
		}
	}
	return lines, scanner.Err()
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp, path)
}
