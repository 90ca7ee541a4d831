// Package audit writes the append-only interaction log off the request path.
//
// Entries are queued by Record and written by a small pool of goroutines.
// Nothing here feeds back into admission: a full queue or a failed write is
// counted and logged, never surfaced to the user.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/metrics"
	"github.com/DukeRupert/askbot/internal/storage"
)

// Writer persists interaction log entries. store.Store satisfies it.
type Writer interface {
	RecordInteraction(ctx context.Context, in domain.Interaction) error
}

// Attachment is a photo to archive alongside an entry.
type Attachment struct {
	Data        []byte
	ContentType string
}

// Entry is one queued interaction.
type Entry struct {
	Interaction domain.Interaction
	Attachment  *Attachment
}

// Recorder manages asynchronous interaction log writes.
type Recorder struct {
	writer  Writer
	archive storage.Storage // nil disables attachment archiving
	config  Config
	logger  *slog.Logger

	queue chan Entry

	mu      sync.RWMutex
	stopped bool

	wg sync.WaitGroup
}

// New creates a Recorder. archive may be nil.
// The recorder must be started with Start() and stopped with Stop().
func New(writer Writer, archive storage.Storage, config Config, logger *slog.Logger) (*Recorder, error) {
	if writer == nil {
		return nil, fmt.Errorf("writer is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Recorder{
		writer:  writer,
		archive: archive,
		config:  config,
		logger:  logger,
		queue:   make(chan Entry, config.QueueSize),
	}, nil
}

// Start launches the writer goroutines.
func (r *Recorder) Start() {
	for i := 0; i < r.config.Concurrency; i++ {
		r.wg.Add(1)
		go r.run(i + 1)
	}
	r.logger.Info("Audit recorder started", "concurrency", r.config.Concurrency, "queue_size", r.config.QueueSize)
}

// Stop closes the queue and waits for queued entries to be written,
// up to ShutdownTimeout.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	close(r.queue)
	r.mu.Unlock()

	r.logger.Info("Stopping audit recorder...", "pending", len(r.queue))

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("Audit recorder stopped gracefully")
	case <-time.After(r.config.ShutdownTimeout):
		r.logger.Warn("Audit recorder shutdown timeout exceeded, some entries may be lost")
	}
}

// Record enqueues an entry without blocking. It returns false when the
// entry was dropped because the queue is full or the recorder is stopped.
func (r *Recorder) Record(e Entry) bool {
	if e.Interaction.ID == uuid.Nil {
		e.Interaction.ID = uuid.New()
	}
	if e.Interaction.CreatedAt.IsZero() {
		e.Interaction.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		metrics.AuditDropped()
		return false
	}

	select {
	case r.queue <- e:
		metrics.AuditQueueDepth.Set(float64(len(r.queue)))
		return true
	default:
		metrics.AuditDropped()
		r.logger.Warn("Audit queue full, dropping interaction",
			"user_id", e.Interaction.UserID,
			"kind", e.Interaction.Kind,
		)
		return false
	}
}

func (r *Recorder) run(workerID int) {
	defer r.wg.Done()

	logger := r.logger.With("worker_id", workerID)
	for e := range r.queue {
		metrics.AuditQueueDepth.Set(float64(len(r.queue)))
		if err := r.write(e); err != nil {
			metrics.AuditFailed()
			logger.Error("Failed to record interaction",
				"interaction_id", e.Interaction.ID,
				"user_id", e.Interaction.UserID,
				"error", err,
			)
			continue
		}
		metrics.AuditWritten()
	}
}

// write archives the attachment (best effort) and appends the entry.
func (r *Recorder) write(e Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	in := e.Interaction
	if e.Attachment != nil && r.archive != nil && len(e.Attachment.Data) > 0 {
		key := storage.AttachmentKey(in.UserID, in.CreatedAt, e.Attachment.ContentType)
		err := r.archive.Put(ctx, key, bytes.NewReader(e.Attachment.Data), storage.PutOptions{
			ContentType: e.Attachment.ContentType,
		})
		if err != nil {
			r.logger.Warn("Failed to archive attachment",
				"interaction_id", in.ID,
				"key", key,
				"error", err,
			)
		} else {
			in.AttachmentKey = key
		}
	}

	return r.writer.RecordInteraction(ctx, in)
}
