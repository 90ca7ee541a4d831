package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/askbot/internal/ai"
	"github.com/DukeRupert/askbot/internal/ai/mock"
	"github.com/DukeRupert/askbot/internal/audit"
	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/store"
	"github.com/DukeRupert/askbot/internal/store/memory"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) AddDays(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.AddDate(0, 0, n)
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (r *fakeRecorder) Record(e audit.Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return true
}

type harness struct {
	assistant *Assistant
	store     *memory.Store
	provider  *mock.Provider
	clock     *clock
	recorder  *fakeRecorder
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()

	h := &harness{
		store:    memory.New(),
		provider: mock.New(testLogger()),
		clock:    &clock{t: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)},
		recorder: &fakeRecorder{},
	}
	cfg := Config{
		Store:     h.store,
		Provider:  h.provider,
		Policy:    domain.DefaultQuotaPolicy(),
		Catalogue: domain.DefaultCatalogue(),
		Recorder:  h.recorder,
		Now:       h.clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	a, err := New(cfg, testLogger())
	require.NoError(t, err)
	h.assistant = a
	return h
}

func (h *harness) ask(t *testing.T, userID int64) *Reply {
	t.Helper()
	reply, err := h.assistant.Ask(context.Background(), AskRequest{
		UserID:   userID,
		Username: "alice",
		Kind:     domain.RequestKindText,
		Text:     "hello",
	})
	require.NoError(t, err)
	return reply
}

func (h *harness) usedToday(t *testing.T, userID int64, category domain.QuotaCategory) int {
	t.Helper()
	rec, err := h.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return rec.UsageFor(category).UsedOn(h.assistant.Today())
}

func TestAsk_ExhaustsFreeQuota(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < domain.DefaultFreeLimit; i++ {
		reply := h.ask(t, 1)
		require.False(t, reply.Denied, "request %d", i+1)
		assert.Equal(t, "mock answer to: hello", reply.Text)
		assert.Equal(t, domain.DefaultFreeLimit-i-1, reply.Remaining.Count())
	}

	reply := h.ask(t, 1)
	assert.True(t, reply.Denied)
	assert.Equal(t, 0, reply.Remaining.Count())
	assert.Equal(t, domain.DefaultCatalogue().Tiers(), reply.Tiers)
	assert.Equal(t, domain.DefaultFreeLimit, h.provider.Calls())
	assert.Equal(t, domain.DefaultFreeLimit, h.usedToday(t, 1, domain.QuotaCategoryText))
}

func TestAsk_FreshQuotaNextDay(t *testing.T) {
	h := newHarness(t, nil)

	for i := 0; i < domain.DefaultFreeLimit; i++ {
		h.ask(t, 1)
	}
	require.True(t, h.ask(t, 1).Denied)

	h.clock.AddDays(1)
	reply := h.ask(t, 1)
	assert.False(t, reply.Denied)
	assert.Equal(t, domain.DefaultFreeLimit-1, reply.Remaining.Count())
}

func TestAsk_DayBoundaryFollowsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	h := newHarness(t, func(c *Config) {
		c.Location = loc
	})
	// 20:59 UTC on the 10th is 23:59 on the 10th in UTC+3.
	h.clock.t = time.Date(2024, 3, 10, 20, 59, 0, 0, time.UTC)
	for i := 0; i < domain.DefaultFreeLimit; i++ {
		h.ask(t, 1)
	}
	require.True(t, h.ask(t, 1).Denied)

	// Two minutes later it is already the 11th locally.
	h.clock.t = h.clock.t.Add(2 * time.Minute)
	assert.False(t, h.ask(t, 1).Denied)
}

func TestAsk_UpstreamFailureConsumesNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.ask(t, 1)
	require.Equal(t, 1, h.usedToday(t, 1, domain.QuotaCategoryText))

	h.provider.SetError(ai.EAIUnavailable)
	_, err := h.assistant.Ask(context.Background(), AskRequest{UserID: 1, Text: "hello"})
	require.Error(t, err)
	assert.Equal(t, domain.EUPSTREAM, domain.ErrorCode(err))
	assert.Equal(t, 1, h.usedToday(t, 1, domain.QuotaCategoryText))

	h.provider.SetError(nil)
	reply := h.ask(t, 1)
	assert.Equal(t, domain.DefaultFreeLimit-2, reply.Remaining.Count())
	assert.Equal(t, 3, h.provider.Calls(), "failed call must not be retried")
}

func TestAsk_UpstreamTimeout(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.RequestTimeout = 20 * time.Millisecond
	})
	h.provider.Delay = time.Second

	_, err := h.assistant.Ask(context.Background(), AskRequest{UserID: 1, Text: "hello"})
	require.Error(t, err)
	assert.Equal(t, domain.ETIMEOUT, domain.ErrorCode(err))
	assert.Equal(t, 0, h.usedToday(t, 1, domain.QuotaCategoryText))
}

func TestAsk_ContentPolicyIsInvalid(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.SetError(ai.EAIContentPolicy)

	_, err := h.assistant.Ask(context.Background(), AskRequest{UserID: 1, Text: "hello"})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
	assert.Equal(t, 0, h.usedToday(t, 1, domain.QuotaCategoryText))
}

func TestAsk_SubscriberIsUnbounded(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < domain.DefaultFreeLimit; i++ {
		h.ask(t, 1)
	}

	_, err := h.assistant.Purchase(context.Background(), 1, "alice", "week")
	require.NoError(t, err)

	reply := h.ask(t, 1)
	assert.False(t, reply.Denied)
	assert.True(t, reply.Remaining.IsUnbounded())
	assert.Equal(t, domain.DefaultFreeLimit, h.usedToday(t, 1, domain.QuotaCategoryText))

	h.clock.AddDays(7)
	assert.True(t, h.ask(t, 1).Remaining.IsUnbounded(), "expiry day is inclusive")

	h.clock.AddDays(1)
	reply = h.ask(t, 1)
	require.False(t, reply.Remaining.IsUnbounded())
	assert.Equal(t, domain.DefaultFreeLimit-1, reply.Remaining.Count())
}

func TestAsk_ConcurrentSameUserNeverExceedsLimit(t *testing.T) {
	const limit = 5
	h := newHarness(t, func(c *Config) {
		c.Policy.Limits[domain.QuotaCategoryText] = limit
	})
	h.provider.Delay = 2 * time.Millisecond

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		answered int
		denied   int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := h.assistant.Ask(context.Background(), AskRequest{UserID: 9, Text: "hi"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if reply.Denied {
				denied++
			} else {
				answered++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, answered)
	assert.Equal(t, 20-limit, denied)
	assert.Equal(t, limit, h.usedToday(t, 9, domain.QuotaCategoryText))
}

func TestAsk_SeparateImageCategory(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Policy.Limits[domain.QuotaCategoryImage] = 1
		c.Policy.Categories[domain.RequestKindImage] = domain.QuotaCategoryImage
	})

	img := AskRequest{
		UserID:      1,
		Kind:        domain.RequestKindImage,
		ImageData:   []byte{0xff, 0xd8, 0xff},
		ContentType: "image/jpeg",
	}
	reply, err := h.assistant.Ask(context.Background(), img)
	require.NoError(t, err)
	assert.False(t, reply.Denied)
	assert.Equal(t, domain.QuotaCategoryImage, reply.Category)
	assert.Equal(t, 0, reply.Remaining.Count())

	reply, err = h.assistant.Ask(context.Background(), img)
	require.NoError(t, err)
	assert.True(t, reply.Denied)

	text := h.ask(t, 1)
	assert.False(t, text.Denied)
	assert.Equal(t, domain.DefaultFreeLimit-1, text.Remaining.Count())
}

func TestAsk_SharedImageCategoryByDefault(t *testing.T) {
	h := newHarness(t, nil)

	reply, err := h.assistant.Ask(context.Background(), AskRequest{
		UserID:      1,
		Kind:        domain.RequestKindImage,
		Text:        "what is this?",
		ImageData:   []byte{0xff, 0xd8, 0xff},
		ContentType: "image/jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.QuotaCategoryText, reply.Category)
	assert.Equal(t, 1, h.usedToday(t, 1, domain.QuotaCategoryText))
	assert.True(t, h.provider.LastParams.HasImage())
	assert.Equal(t, "what is this?", h.provider.LastParams.Text)
}

func TestAsk_RecordsInteraction(t *testing.T) {
	h := newHarness(t, nil)
	var admitted bool

	_, err := h.assistant.Ask(context.Background(), AskRequest{
		UserID:     3,
		Text:       "hello",
		OnAdmitted: func() { admitted = true },
	})
	require.NoError(t, err)
	assert.True(t, admitted)

	h.recorder.mu.Lock()
	defer h.recorder.mu.Unlock()
	require.Len(t, h.recorder.entries, 1)
	in := h.recorder.entries[0].Interaction
	assert.Equal(t, int64(3), in.UserID)
	assert.Equal(t, "hello", in.RequestText)
	assert.Equal(t, "mock answer to: hello", in.ResponseText)
	assert.JSONEq(t, `{"model":"mock-ai-v1","input_tokens":5,"output_tokens":21}`, string(in.Metadata))
	assert.Nil(t, h.recorder.entries[0].Attachment)
}

func TestAsk_DeniedDoesNotCallAdmitted(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Policy.Limits[domain.QuotaCategoryText] = 0
	})

	called := false
	reply, err := h.assistant.Ask(context.Background(), AskRequest{
		UserID:     1,
		Text:       "hello",
		OnAdmitted: func() { called = true },
	})
	require.NoError(t, err)
	assert.True(t, reply.Denied)
	assert.False(t, called)
	assert.Equal(t, 0, h.provider.Calls())
}

// brokenStore fails selected operations.
type brokenStore struct {
	store.Store
	failGet   bool
	failApply bool
}

func (s *brokenStore) Get(ctx context.Context, userID int64) (*domain.UserRecord, error) {
	if s.failGet {
		return nil, domain.StorageUnavailable(errors.New("connection refused"), "broken.get")
	}
	return s.Store.Get(ctx, userID)
}

func (s *brokenStore) ApplyConsumption(ctx context.Context, userID int64, category domain.QuotaCategory, onDate civil.Date) error {
	if s.failApply {
		return domain.StorageUnavailable(errors.New("connection refused"), "broken.apply")
	}
	return s.Store.ApplyConsumption(ctx, userID, category, onDate)
}

func TestAsk_StorageFailureFailsClosed(t *testing.T) {
	broken := &brokenStore{Store: memory.New(), failGet: true}
	h := newHarness(t, func(c *Config) {
		c.Store = broken
	})

	_, err := h.assistant.Ask(context.Background(), AskRequest{UserID: 1, Text: "hello"})
	require.Error(t, err)
	assert.Equal(t, domain.ESTORAGE, domain.ErrorCode(err))
	assert.Equal(t, 0, h.provider.Calls())
}

func TestAsk_ConsumptionWriteFailureWithholdsAnswer(t *testing.T) {
	broken := &brokenStore{Store: memory.New(), failApply: true}
	h := newHarness(t, func(c *Config) {
		c.Store = broken
	})

	reply, err := h.assistant.Ask(context.Background(), AskRequest{UserID: 1, Text: "hello"})
	require.Error(t, err)
	assert.Nil(t, reply)
	assert.Equal(t, domain.ESTORAGE, domain.ErrorCode(err))
	assert.Empty(t, h.recorder.entries)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing store", mutate: func(c *Config) { c.Store = nil }},
		{name: "missing provider", mutate: func(c *Config) { c.Provider = nil }},
		{name: "empty catalogue", mutate: func(c *Config) { c.Catalogue = domain.Catalogue{} }},
		{name: "unmapped category", mutate: func(c *Config) {
			c.Policy.Categories[domain.RequestKindImage] = domain.QuotaCategoryImage
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				Store:     memory.New(),
				Provider:  mock.New(testLogger()),
				Policy:    domain.DefaultQuotaPolicy(),
				Catalogue: domain.DefaultCatalogue(),
			}
			tt.mutate(&cfg)
			_, err := New(cfg, testLogger())
			assert.Error(t, err)
		})
	}
}
