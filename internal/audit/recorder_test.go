package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/storage"
	"github.com/DukeRupert/askbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", mutate: func(*Config) {}},
		{name: "concurrency too low", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: true},
		{name: "concurrency too high", mutate: func(c *Config) { c.Concurrency = 101 }, wantErr: true},
		{name: "empty queue", mutate: func(c *Config) { c.QueueSize = 0 }, wantErr: true},
		{name: "write timeout too short", mutate: func(c *Config) { c.WriteTimeout = 10 * time.Millisecond }, wantErr: true},
		{name: "shutdown timeout too short", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRecorder_WritesQueuedEntries(t *testing.T) {
	st := memory.New()
	r, err := New(st, nil, DefaultConfig(), testLogger())
	require.NoError(t, err)
	r.Start()

	for i := 0; i < 5; i++ {
		ok := r.Record(Entry{Interaction: domain.Interaction{
			UserID:      int64(i),
			Kind:        domain.RequestKindText,
			RequestText: "q",
		}})
		require.True(t, ok)
	}
	r.Stop()

	got := st.Interactions()
	require.Len(t, got, 5)
	for _, in := range got {
		assert.NotEmpty(t, in.ID.String())
		assert.False(t, in.CreatedAt.IsZero())
	}
}

func TestRecorder_ArchivesAttachment(t *testing.T) {
	st := memory.New()
	archive, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	r, err := New(st, archive, DefaultConfig(), testLogger())
	require.NoError(t, err)
	r.Start()

	r.Record(Entry{
		Interaction: domain.Interaction{UserID: 42, Kind: domain.RequestKindImage},
		Attachment:  &Attachment{Data: []byte{0xff, 0xd8, 0xff}, ContentType: "image/jpeg"},
	})
	r.Stop()

	got := st.Interactions()
	require.Len(t, got, 1)
	require.NotEmpty(t, got[0].AttachmentKey)
	assert.Contains(t, got[0].AttachmentKey, "attachments/42/")

	exists, err := archive.Exists(context.Background(), got[0].AttachmentKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

type blockingWriter struct {
	release chan struct{}
	mu      sync.Mutex
	n       int
}

func (w *blockingWriter) RecordInteraction(ctx context.Context, in domain.Interaction) error {
	<-w.release
	w.mu.Lock()
	w.n++
	w.mu.Unlock()
	return nil
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.QueueSize = 1

	r, err := New(w, nil, cfg, testLogger())
	require.NoError(t, err)
	r.Start()

	// First entry is picked up by the writer and blocks; give it a moment.
	require.True(t, r.Record(Entry{Interaction: domain.Interaction{UserID: 1}}))
	require.Eventually(t, func() bool { return len(r.queue) == 0 }, time.Second, 5*time.Millisecond)

	assert.True(t, r.Record(Entry{Interaction: domain.Interaction{UserID: 2}}))
	assert.False(t, r.Record(Entry{Interaction: domain.Interaction{UserID: 3}}))

	close(w.release)
	r.Stop()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, 2, w.n)
}

type failingWriter struct{}

func (failingWriter) RecordInteraction(ctx context.Context, in domain.Interaction) error {
	return errors.New("disk on fire")
}

func TestRecorder_WriteFailureIsSwallowed(t *testing.T) {
	r, err := New(failingWriter{}, nil, DefaultConfig(), testLogger())
	require.NoError(t, err)
	r.Start()

	assert.True(t, r.Record(Entry{Interaction: domain.Interaction{UserID: 1}}))
	r.Stop()
}

func TestRecorder_RecordAfterStop(t *testing.T) {
	r, err := New(memory.New(), nil, DefaultConfig(), testLogger())
	require.NoError(t, err)
	r.Start()
	r.Stop()
	r.Stop()

	assert.False(t, r.Record(Entry{Interaction: domain.Interaction{UserID: 1}}))
}

func TestNew_RequiresWriter(t *testing.T) {
	_, err := New(nil, nil, DefaultConfig(), testLogger())
	assert.Error(t, err)
}
