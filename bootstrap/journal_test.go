package bootstrap_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/bootstrap"
	"github.com/artfold/designbridge/ports"
)

// fakeJournal collects appended batches.
type fakeJournal struct {
	mu      sync.Mutex
	batches [][]ports.JournalEntry
}

func (f *fakeJournal) AppendBatch(_ context.Context, entries []ports.JournalEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch := make([]ports.JournalEntry, len(entries))
	copy(batch, entries)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeJournal) Recent(context.Context, int) ([]ports.JournalEntry, error) {
	return nil, nil
}

func (f *fakeJournal) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func (f *fakeJournal) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func entry(id string) ports.JournalEntry {
	return ports.JournalEntry{ID: id, EventType: "layer.selected", Payload: []byte(`{}`), At: time.Now()}
}

func TestBufferedJournal_FlushesAtBatchSize(t *testing.T) {
	fake := &fakeJournal{}
	b := bootstrap.NewBufferedJournal(fake, 3, time.Hour, zerolog.Nop())
	defer b.Close()

	b.Record(entry("e1"))
	b.Record(entry("e2"))
	if fake.batchCount() != 0 {
		t.Fatal("flushed before batch size reached")
	}
	b.Record(entry("e3"))

	deadline := time.Now().Add(2 * time.Second)
	for fake.total() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fake.total() != 3 {
		t.Errorf("persisted %d entries, want 3", fake.total())
	}
}

func TestBufferedJournal_FlushOnDemand(t *testing.T) {
	fake := &fakeJournal{}
	b := bootstrap.NewBufferedJournal(fake, 100, time.Hour, zerolog.Nop())
	defer b.Close()

	b.Record(entry("e1"))
	b.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for fake.total() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fake.total() != 1 {
		t.Errorf("persisted %d entries, want 1", fake.total())
	}
}

func TestBufferedJournal_CloseWritesRemainder(t *testing.T) {
	fake := &fakeJournal{}
	b := bootstrap.NewBufferedJournal(fake, 100, time.Hour, zerolog.Nop())

	b.Record(entry("e1"))
	b.Record(entry("e2"))
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fake.total() != 2 {
		t.Errorf("persisted %d entries, want 2", fake.total())
	}

	// Close is idempotent.
	if err := b.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestBufferedJournal_IntervalFlush(t *testing.T) {
	fake := &fakeJournal{}
	b := bootstrap.NewBufferedJournal(fake, 100, 20*time.Millisecond, zerolog.Nop())
	defer b.Close()

	b.Record(entry("e1"))

	deadline := time.Now().Add(2 * time.Second)
	for fake.total() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fake.total() != 1 {
		t.Errorf("interval flush never happened")
	}
}
