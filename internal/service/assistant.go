// Package service contains the business logic layer.
//
// The Assistant orchestrates one chat request: it serializes per user,
// bootstraps the entitlement record, asks the engine for a decision and
// calls the generative provider. Consumption is written only after the
// provider succeeded.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/civil"

	"github.com/DukeRupert/askbot/internal/ai"
	"github.com/DukeRupert/askbot/internal/audit"
	"github.com/DukeRupert/askbot/internal/domain"
	"github.com/DukeRupert/askbot/internal/entitlement"
	"github.com/DukeRupert/askbot/internal/keylock"
	"github.com/DukeRupert/askbot/internal/media"
	"github.com/DukeRupert/askbot/internal/metrics"
	"github.com/DukeRupert/askbot/internal/store"
)

// DefaultRequestTimeout bounds a single upstream call.
const DefaultRequestTimeout = 60 * time.Second

// Ask outcomes used in metrics labels.
const (
	outcomeAnswered = "answered"
	outcomeDenied   = "denied"
	outcomeUpstream = "upstream_error"
	outcomeStorage  = "storage_error"
	outcomeInvalid  = "invalid"
)

// Recorder accepts interaction log entries. *audit.Recorder satisfies it.
type Recorder interface {
	Record(e audit.Entry) bool
}

// Config holds the assistant's dependencies and settings.
type Config struct {
	Store     store.Store
	Provider  ai.Provider
	Policy    domain.QuotaPolicy
	Catalogue domain.Catalogue

	// Images prepares photos before they are sent upstream. Nil sends the
	// original bytes.
	Images media.Processor

	// Recorder receives the interaction log. Nil disables it.
	Recorder Recorder

	// Location defines the calendar day used for quota resets and
	// subscription expiry. Defaults to UTC.
	Location *time.Location

	// RequestTimeout bounds the upstream call.
	RequestTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Assistant implements the admission protocol.
type Assistant struct {
	store     store.Store
	provider  ai.Provider
	engine    *entitlement.Engine
	catalogue domain.Catalogue
	images    media.Processor
	recorder  Recorder
	locks     *keylock.Locker
	location  *time.Location
	timeout   time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// New creates an Assistant.
func New(cfg Config, logger *slog.Logger) (*Assistant, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid quota policy: %w", err)
	}
	if len(cfg.Catalogue.Tiers()) == 0 {
		return nil, fmt.Errorf("catalogue must contain at least one tier")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Assistant{
		store:     cfg.Store,
		provider:  cfg.Provider,
		engine:    entitlement.New(cfg.Policy),
		catalogue: cfg.Catalogue,
		images:    cfg.Images,
		recorder:  cfg.Recorder,
		locks:     keylock.New(),
		location:  cfg.Location,
		timeout:   cfg.RequestTimeout,
		now:       cfg.Now,
		logger:    logger,
	}, nil
}

// AskRequest is one inbound chat message.
type AskRequest struct {
	UserID   int64
	Username string
	Kind     domain.RequestKind
	Text     string // Message text or photo caption

	ImageData   []byte // Raw photo bytes for RequestKindImage
	ContentType string

	// OnAdmitted is called once the request passed admission, before the
	// upstream call. The dispatcher uses it to show a typing indicator.
	OnAdmitted func()
}

// Reply is the result of Ask. Denial is a normal reply, not an error.
type Reply struct {
	Text   string
	Denied bool

	// Remaining is the quota left after this request (Unbounded for
	// subscribers). For a denial it is the quota left before it.
	Remaining domain.Remaining
	Category  domain.QuotaCategory
	Limit     int

	// Tiers is the upgrade path offered with a denial.
	Tiers []domain.SubscriptionTier
}

// Today returns the current calendar date in the configured time zone.
func (a *Assistant) Today() civil.Date {
	return civil.DateOf(a.now().In(a.location))
}

// Ask runs the admission protocol for one request.
func (a *Assistant) Ask(ctx context.Context, req AskRequest) (*Reply, error) {
	const op = "service.ask"

	if req.Kind == "" {
		req.Kind = domain.RequestKindText
	}
	logger := a.logger.With("user_id", req.UserID, "kind", req.Kind)

	unlock, err := a.locks.Lock(ctx, req.UserID)
	if err != nil {
		return nil, domain.Internal(err, op, "request cancelled")
	}
	defer unlock()

	rec, err := a.loadOrCreate(ctx, req.UserID, req.Username)
	if err != nil {
		metrics.AskOutcome(req.Kind, outcomeStorage)
		metrics.StoreError("get")
		logger.Error("failed to load user record", "error", err)
		return nil, err
	}

	today := a.Today()
	meter := a.engine.Meter(req.Kind)
	decision := meter.Decide(rec, today)

	if !decision.Allowed {
		metrics.AskOutcome(req.Kind, outcomeDenied)
		logger.Info("request denied", "category", meter.Category(), "limit", meter.Limit())
		return &Reply{
			Denied:    true,
			Remaining: decision.Remaining,
			Category:  meter.Category(),
			Limit:     meter.Limit(),
			Tiers:     a.catalogue.Tiers(),
		}, nil
	}

	params, err := a.buildParams(req)
	if err != nil {
		metrics.AskOutcome(req.Kind, outcomeInvalid)
		return nil, domain.Wrap(err, domain.EINVALID, op, "the photo could not be read")
	}

	if req.OnAdmitted != nil {
		req.OnAdmitted()
	}

	result, err := a.generate(ctx, params)
	if err != nil {
		metrics.AskOutcome(req.Kind, outcomeUpstream)
		logger.Warn("upstream call failed", "provider", a.provider.Name(), "error", err)
		return nil, upstreamError(err, op)
	}

	if decision.Mutation != nil {
		m := decision.Mutation
		if err := a.store.ApplyConsumption(ctx, m.UserID, m.Category, m.OnDate); err != nil {
			metrics.AskOutcome(req.Kind, outcomeStorage)
			metrics.StoreError("apply_consumption")
			logger.Error("failed to apply consumption", "error", err)
			return nil, err
		}
	}

	metrics.AskOutcome(req.Kind, outcomeAnswered)
	a.record(req, params, result)

	return &Reply{
		Text:      result.Text,
		Remaining: decision.RemainingAfter(),
		Category:  meter.Category(),
		Limit:     meter.Limit(),
	}, nil
}

// loadOrCreate returns the user's record, creating it on first contact.
func (a *Assistant) loadOrCreate(ctx context.Context, userID int64, username string) (*domain.UserRecord, error) {
	rec, err := a.store.Get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if domain.ErrorCode(err) != domain.ENOTFOUND {
		return nil, err
	}

	if err := a.store.Create(ctx, userID, username); err != nil {
		return nil, err
	}
	a.logger.Info("user registered", "user_id", userID, "username", username)
	return a.store.Get(ctx, userID)
}

func (a *Assistant) buildParams(req AskRequest) (ai.GenerateParams, error) {
	params := ai.GenerateParams{
		Text:   req.Text,
		UserID: req.UserID,
	}
	if req.Kind != domain.RequestKindImage || len(req.ImageData) == 0 {
		return params, nil
	}

	if a.images == nil {
		params.ImageData = req.ImageData
		params.ContentType = req.ContentType
		return params, nil
	}

	img, err := a.images.Prepare(bytes.NewReader(req.ImageData))
	if err != nil {
		return params, err
	}
	params.ImageData = img.Data
	params.ContentType = img.ContentType
	return params, nil
}

// generate makes a single upstream attempt under the request timeout.
func (a *Assistant) generate(ctx context.Context, params ai.GenerateParams) (*ai.GenerateResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	result, err := a.provider.Generate(callCtx, params)
	duration := time.Since(start)

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded && !ai.IsTimeout(err) {
			err = fmt.Errorf("%w: %v", ai.EAITimeout, err)
		}
		metrics.AICall(a.provider.Name(), err, duration, 0, 0)
		return nil, err
	}
	metrics.AICall(a.provider.Name(), nil, duration, result.Usage.InputTokens, result.Usage.OutputTokens)
	return result, nil
}

func (a *Assistant) record(req AskRequest, params ai.GenerateParams, result *ai.GenerateResult) {
	if a.recorder == nil {
		return
	}

	meta, err := json.Marshal(domain.InteractionMetadata{
		Model:        result.Usage.Model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		DurationMS:   result.Usage.Duration.Milliseconds(),
	})
	if err != nil {
		a.logger.Warn("failed to encode interaction metadata", "error", err)
		meta = nil
	}

	entry := audit.Entry{
		Interaction: domain.Interaction{
			UserID:       req.UserID,
			Kind:         req.Kind,
			RequestText:  req.Text,
			ResponseText: result.Text,
			Metadata:     meta,
			CreatedAt:    a.now().UTC(),
		},
	}
	if params.HasImage() {
		entry.Attachment = &audit.Attachment{
			Data:        params.ImageData,
			ContentType: params.ContentType,
		}
	}
	a.recorder.Record(entry)
}

// upstreamError translates provider failures into the domain taxonomy.
func upstreamError(err error, op string) error {
	switch {
	case ai.IsTimeout(err):
		return domain.UpstreamTimeout(err, op)
	case errors.Is(err, ai.EAIContentPolicy):
		return domain.Wrap(err, domain.EINVALID, op, "the request was blocked by the provider's content policy")
	case errors.Is(err, ai.EAIInvalidImage):
		return domain.Wrap(err, domain.EINVALID, op, "this image format is not supported")
	default:
		return domain.UpstreamUnavailable(err, op)
	}
}
