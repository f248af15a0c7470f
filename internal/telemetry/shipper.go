package telemetry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Entry is one log record bound for the upstream app_logs table.
type Entry struct {
	Timestamp    time.Time `json:"created_at"`
	Level        string    `json:"log_level"`
	Message      string    `json:"message"`
	Module       string    `json:"module_name,omitempty"`
	ErrorDetails string    `json:"error_details,omitempty"`
	ClientID     string    `json:"client_id"`
	Hostname     string    `json:"hostname"`
}

// Sink receives entries the worker drains from the queue. The upstream
// client implements this with its app_logs insert.
type Sink interface {
	InsertLog(ctx context.Context, entry map[string]any) error
}

// Shipper buffers log entries and ships them in the background. The queue
// drops its oldest entry when full; losing a log line must never block or
// crash the print path. Entries that fail to ship spill to a local JSONL
// file and are retried once the sink recovers.
type Shipper struct {
	sink      Sink
	spillPath string
	clientID  string
	hostname  string
	logger    *zap.Logger

	queue  chan Entry
	done   chan struct{}
	closed chan struct{}

	mu      sync.Mutex
	once    sync.Once
	started bool
}

func NewShipper(sink Sink, queueSize int, spillPath string, logger *zap.Logger) *Shipper {
	if queueSize <= 0 {
		queueSize = 256
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Shipper{
		sink:      sink,
		spillPath: spillPath,
		clientID:  uuid.NewString(),
		hostname:  hostname,
		logger:    logger,
		queue:     make(chan Entry, queueSize),
		done:      make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// Start launches the background worker. A shipper with a nil sink stays
// inert: Enqueue becomes a no-op and Shutdown returns immediately.
func (s *Shipper) Start() {
	if s.sink == nil {
		close(s.closed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.run()
}

// Enqueue adds an entry to the ship queue, evicting the oldest entry if
// the queue is full. Never blocks.
func (s *Shipper) Enqueue(entry Entry) {
	if s.sink == nil {
		return
	}
	entry.ClientID = s.clientID
	entry.Hostname = s.hostname
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	for {
		select {
		case s.queue <- entry:
			return
		default:
		}
		select {
		case <-s.queue: // drop oldest
		default:
		}
	}
}

// Shutdown stops the worker and drains what it can before ctx expires.
func (s *Shipper) Shutdown(ctx context.Context) error {
	s.once.Do(func() { close(s.done) })

	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Shipper) run() {
	defer close(s.closed)

	backoff := time.Second
	for {
		select {
		case entry := <-s.queue:
			if s.ship(entry) {
				backoff = time.Second
				s.flushSpill()
			} else {
				s.spill(entry)
				// Back off so a dead upstream does not spin the worker.
				select {
				case <-time.After(backoff):
				case <-s.done:
					s.drain()
					return
				}
				if backoff < 30*time.Second {
					backoff *= 2
				}
			}
		case <-s.done:
			s.drain()
			return
		}
	}
}

// drain makes a last attempt on queued entries, spilling what cannot ship.
func (s *Shipper) drain() {
	for {
		select {
		case entry := <-s.queue:
			if !s.ship(entry) {
				s.spill(entry)
			}
		default:
			return
		}
	}
}

func (s *Shipper) ship(entry Entry) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.sink.InsertLog(ctx, entry.toPayload()); err != nil {
		return false
	}
	return true
}

func (e Entry) toPayload() map[string]any {
	payload := map[string]any{
		"created_at": e.Timestamp.UTC().Format(time.RFC3339),
		"log_level":  e.Level,
		"message":    e.Message,
		"client_id":  e.ClientID,
		"hostname":   e.Hostname,
	}
	if e.Module != "" {
		payload["module_name"] = e.Module
	}
	if e.ErrorDetails != "" {
		payload["error_details"] = e.ErrorDetails
	}
	return payload
}

// spill appends the entry to the offline JSONL file.
func (s *Shipper) spill(entry Entry) {
	if s.spillPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.spillPath), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(s.spillPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	fmt.Fprintf(f, "%s\n", line)
}

// flushSpill re-ships entries stranded in the spill file. Called after a
// successful send, so the sink is known to be reachable. Entries that fail
// again are rewritten to the file.
func (s *Shipper) flushSpill() {
	if s.spillPath == "" {
		return
	}
	f, err := os.Open(s.spillPath)
	if err != nil {
		return
	}

	var stranded []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		stranded = append(stranded, entry)
	}
	f.Close()

	if len(stranded) == 0 {
		os.Remove(s.spillPath)
		return
	}

	os.Remove(s.spillPath)
	shipped := 0
	for _, entry := range stranded {
		if s.ship(entry) {
			shipped++
		} else {
			s.spill(entry)
		}
	}
	if shipped > 0 && s.logger != nil {
		s.logger.Debug("offline log entries shipped", zap.Int("count", shipped))
	}
}
