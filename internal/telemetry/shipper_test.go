package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fakeSink struct {
	mu      sync.Mutex
	entries []map[string]any
	fail    bool
}

func (f *fakeSink) InsertLog(_ context.Context, entry map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeSink) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestShipper_ShipsEntries(t *testing.T) {
	sink := &fakeSink{}
	s := NewShipper(sink, 16, "", zap.NewNop())
	s.Start()

	s.Enqueue(Entry{Level: "ERROR", Message: "printer offline"})

	waitFor(t, func() bool { return sink.count() == 1 })

	sink.mu.Lock()
	entry := sink.entries[0]
	sink.mu.Unlock()
	assert.Equal(t, "printer offline", entry["message"])
	assert.NotEmpty(t, entry["client_id"])
	assert.NotEmpty(t, entry["hostname"])

	require.NoError(t, s.Shutdown(context.Background()))
}

func TestShipper_NilSinkIsInert(t *testing.T) {
	s := NewShipper(nil, 16, "", zap.NewNop())
	s.Start()
	s.Enqueue(Entry{Level: "INFO", Message: "ignored"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestShipper_SpillsWhenSinkDown(t *testing.T) {
	spillPath := filepath.Join(t.TempDir(), "spill.jsonl")
	sink := &fakeSink{fail: true}
	s := NewShipper(sink, 16, spillPath, zap.NewNop())
	s.Start()

	s.Enqueue(Entry{Level: "ERROR", Message: "lost in transit"})

	waitFor(t, func() bool {
		_, err := os.Stat(spillPath)
		return err == nil
	})

	require.NoError(t, s.Shutdown(context.Background()))

	data, err := os.ReadFile(spillPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "lost in transit")
}

func TestShipper_FlushesSpillAfterRecovery(t *testing.T) {
	spillPath := filepath.Join(t.TempDir(), "spill.jsonl")
	sink := &fakeSink{fail: true}
	s := NewShipper(sink, 16, spillPath, zap.NewNop())
	s.Start()

	s.Enqueue(Entry{Level: "ERROR", Message: "stranded"})
	waitFor(t, func() bool {
		_, err := os.Stat(spillPath)
		return err == nil
	})

	sink.setFail(false)
	s.Enqueue(Entry{Level: "ERROR", Message: "fresh"})

	// Recovery ships the fresh entry and then replays the spill file.
	waitFor(t, func() bool { return sink.count() >= 2 })

	require.NoError(t, s.Shutdown(context.Background()))

	_, err := os.Stat(spillPath)
	assert.True(t, os.IsNotExist(err))
}

func TestShipper_DropsOldestWhenFull(t *testing.T) {
	sink := &fakeSink{fail: true}
	s := NewShipper(sink, 2, "", zap.NewNop())
	// Worker not started: the queue fills and evicts deterministically.

	s.Enqueue(Entry{Message: "first"})
	s.Enqueue(Entry{Message: "second"})
	s.Enqueue(Entry{Message: "third"})

	assert.Len(t, s.queue, 2)
	oldest := <-s.queue
	assert.Equal(t, "second", oldest.Message)
}

func TestShipper_ShutdownDrainsQueue(t *testing.T) {
	sink := &fakeSink{}
	s := NewShipper(sink, 16, "", zap.NewNop())
	s.Start()

	for i := 0; i < 5; i++ {
		s.Enqueue(Entry{Level: "WARN", Message: "pending"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 5, sink.count())
}

func TestCore_ForwardsWarnAndAbove(t *testing.T) {
	sink := &fakeSink{}
	s := NewShipper(sink, 16, "", zap.NewNop())
	s.Start()

	logger := zap.New(NewCore(s))
	logger.Info("not shipped")
	logger.Warn("shipped warn")
	logger.Error("shipped error", zap.Error(assert.AnError))

	waitFor(t, func() bool { return sink.count() == 2 })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, "shipped warn", sink.entries[0]["message"])
	assert.Equal(t, "WARN", sink.entries[0]["log_level"])
	assert.Contains(t, sink.entries[1]["error_details"], "assert.AnError")

	require.NoError(t, s.Shutdown(context.Background()))
}

var _ zapcore.Core = (*shipperCore)(nil)
