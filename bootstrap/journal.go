package bootstrap

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artfold/designbridge/ports"
)

// BufferedJournal buffers journal entries and writes them in batches.
// Record never blocks the dispatcher on database latency.
type BufferedJournal struct {
	journal       ports.Journal
	logger        zerolog.Logger
	buffer        []ports.JournalEntry
	mu            sync.Mutex
	batchSize     int
	flushInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closeOnce     sync.Once
}

// NewBufferedJournal creates a buffered writer in front of journal.
func NewBufferedJournal(journal ports.Journal, batchSize int, flushInterval time.Duration, logger zerolog.Logger) *BufferedJournal {
	if batchSize == 0 {
		batchSize = 100
	}
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	b := &BufferedJournal{
		journal:       journal,
		logger:        logger.With().Str("component", "journal").Logger(),
		buffer:        make([]ports.JournalEntry, 0, batchSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	b.wg.Add(1)
	go b.flushLoop()

	return b
}

// Record queues one entry for persistence.
func (b *BufferedJournal) Record(entry ports.JournalEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer = append(b.buffer, entry)

	if len(b.buffer) >= b.batchSize {
		b.flushLocked()
	}
}

// Flush forces immediate persistence of queued entries.
func (b *BufferedJournal) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *BufferedJournal) flushLocked() {
	if len(b.buffer) == 0 {
		return
	}

	entries := make([]ports.JournalEntry, len(b.buffer))
	copy(entries, b.buffer)
	b.buffer = b.buffer[:0]

	// Write in background to not block
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := b.journal.AppendBatch(ctx, entries); err != nil {
			b.logger.Error().Err(err).Int("entries", len(entries)).Msg("journal batch write failed")
		}
	}()
}

func (b *BufferedJournal) flushLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and writes remaining entries.
func (b *BufferedJournal) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		b.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		b.mu.Lock()
		defer b.mu.Unlock()

		if len(b.buffer) > 0 {
			err = b.journal.AppendBatch(ctx, b.buffer)
			b.buffer = b.buffer[:0]
		}
	})
	return err
}

// Ensure interface compliance.
var _ ports.JournalRecorder = (*BufferedJournal)(nil)
