// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package bridge turns untrusted messages from embedded player frames into
// progress writes. Messages are queued, classified, checked against the
// session's origin policy and dispatched by a single Run loop.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/allnine-dev/keewacker/internal/bus"
	"github.com/allnine-dev/keewacker/internal/cache"
	"github.com/allnine-dev/keewacker/internal/embed"
	"github.com/allnine-dev/keewacker/internal/log"
	"github.com/allnine-dev/keewacker/internal/metadata"
	"github.com/allnine-dev/keewacker/internal/metrics"
	"github.com/allnine-dev/keewacker/internal/progress"
	"github.com/allnine-dev/keewacker/internal/provider"
	"github.com/allnine-dev/keewacker/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound = errors.New("bridge: session not found")
	ErrSessionEnded    = errors.New("bridge: session ended")
	ErrQueueFull       = errors.New("bridge: inbound queue full")
	ErrRateLimited     = errors.New("bridge: session message rate exceeded")
	ErrStopped         = errors.New("bridge: not accepting messages")
	ErrAlreadyRunning  = errors.New("bridge: run loop already started")
)

const inboundTopic = "bridge.inbound"

// DefaultIdleTTL is the session idle timeout when Options.IdleTTL is unset.
const DefaultIdleTTL = 30 * time.Minute

// OriginPolicy decides which frame origins may talk to a session.
type OriginPolicy string

const (
	// OriginActive accepts only the origin of the session's current provider.
	OriginActive OriginPolicy = "active"
	// OriginRegistered accepts the origin of any registered provider.
	OriginRegistered OriginPolicy = "registered"
)

// ParseOriginPolicy accepts "" (active), "active" and "registered".
func ParseOriginPolicy(s string) (OriginPolicy, error) {
	switch OriginPolicy(s) {
	case "", OriginActive:
		return OriginActive, nil
	case OriginRegistered:
		return OriginRegistered, nil
	default:
		return "", fmt.Errorf("unknown origin policy %q", s)
	}
}

// Inbound is one queued frame message.
type Inbound struct {
	SessionID  string
	Origin     string
	Payload    json.RawMessage
	ReceivedAt time.Time
	RequestID  string
}

// DurableWriter receives progress records for the best-effort durable write.
// Submit must not block.
type DurableWriter interface {
	Submit(ctx context.Context, rec progress.Record) bool
}

// Options configures a Bridge. Registry and Local are required.
type Options struct {
	// Registry returns the current provider table. It is called per
	// operation so a reloaded table takes effect for new sessions.
	Registry func() *provider.Registry
	// Local is the continue-watching store, written synchronously.
	Local progress.Store
	// Durable is optional.
	Durable DurableWriter
	// MediaCache receives MEDIA_DATA documents; nil skips the merge.
	MediaCache cache.MediaCache
	// Metadata supplies display titles captured at Open; nil disables lookups.
	Metadata        metadata.Source
	MetadataTimeout time.Duration

	OriginPolicy OriginPolicy
	// Limiter bounds messages per session; nil disables limiting.
	Limiter   *ratelimit.Limiter
	QueueSize int
	// IdleTTL closes sessions without activity for this long. Zero uses
	// DefaultIdleTTL.
	IdleTTL time.Duration

	Now   func() time.Time
	NewID func() string

	OnEvent     func(Snapshot, PlayerEvent)
	OnMediaData func(Snapshot, cache.MediaData)

	Logger *zerolog.Logger
}

// StaticRegistry adapts a fixed table to Options.Registry.
func StaticRegistry(r *provider.Registry) func() *provider.Registry {
	return func() *provider.Registry { return r }
}

// Bridge owns the playback sessions and the inbound message queue.
type Bridge struct {
	registry    func() *provider.Registry
	local       progress.Store
	durable     DurableWriter
	media       cache.MediaCache
	meta        metadata.Source
	metaTimeout time.Duration
	policy      OriginPolicy
	limiter     *ratelimit.Limiter
	idleTTL     time.Duration
	now         func() time.Time
	newID       func() string
	onEvent     func(Snapshot, PlayerEvent)
	onMediaData func(Snapshot, cache.MediaData)
	logger      zerolog.Logger

	queue   *bus.MemoryBus[Inbound]
	sub     bus.Subscriber[Inbound]
	running atomic.Bool

	mu       sync.RWMutex
	sessions map[string]*Session
}

// New builds a Bridge. Messages can be delivered right away; they are
// buffered until Run starts.
func New(opts Options) (*Bridge, error) {
	if opts.Registry == nil {
		return nil, errors.New("bridge: registry is required")
	}
	if opts.Local == nil {
		return nil, errors.New("bridge: local progress store is required")
	}
	policy, err := ParseOriginPolicy(string(opts.OriginPolicy))
	if err != nil {
		return nil, err
	}

	b := &Bridge{
		registry:    opts.Registry,
		local:       opts.Local,
		durable:     opts.Durable,
		media:       opts.MediaCache,
		meta:        opts.Metadata,
		metaTimeout: opts.MetadataTimeout,
		policy:      policy,
		limiter:     opts.Limiter,
		idleTTL:     opts.IdleTTL,
		now:         opts.Now,
		newID:       opts.NewID,
		onEvent:     opts.OnEvent,
		onMediaData: opts.OnMediaData,
		queue:       bus.NewMemoryBus[Inbound](opts.QueueSize),
		sessions:    make(map[string]*Session),
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.newID == nil {
		b.newID = uuid.NewString
	}
	if b.metaTimeout <= 0 {
		b.metaTimeout = 2 * time.Second
	}
	if b.idleTTL <= 0 {
		b.idleTTL = DefaultIdleTTL
	}
	if opts.Logger != nil {
		b.logger = *opts.Logger
	} else {
		b.logger = log.WithComponent("bridge")
	}

	b.sub, err = b.queue.Subscribe(context.Background(), inboundTopic)
	if err != nil {
		return nil, fmt.Errorf("bridge: subscribe inbound queue: %w", err)
	}
	return b, nil
}

// Policy returns the active origin policy.
func (b *Bridge) Policy() OriginPolicy { return b.policy }

// Open resolves the provider (falling back per Registry.Resolve), builds the
// embed URL and registers a new session in the loading state.
func (b *Bridge) Open(ctx context.Context, req embed.Request, providerID string) (*Session, string, error) {
	d, exact := b.registry().Resolve(providerID, req.MediaType)
	if !exact && providerID != "" {
		b.logger.Info().
			Str(log.FieldEvent, "bridge.provider_fallback").
			Str("requested", providerID).
			Str(log.FieldProvider, d.ID).
			Msg("requested provider unavailable, using fallback")
	}

	url, err := embed.Build(req, d)
	metrics.RecordEmbedBuild(d.ID, string(req.MediaType), err)
	if err != nil {
		return nil, "", err
	}

	sess, err := newSession(b.newID(), req, d, url, b.lookupMetadata(ctx, req), b.now())
	if err != nil {
		return nil, "", err
	}

	b.mu.Lock()
	b.sessions[sess.id] = sess
	b.mu.Unlock()
	metrics.BridgeSessionsActive.Inc()

	b.logger.Info().
		Str(log.FieldEvent, "bridge.session_opened").
		Str(log.FieldSessionID, sess.id).
		Str(log.FieldProvider, d.ID).
		Str(log.FieldMediaType, string(req.MediaType)).
		Str(log.FieldContentKey, sess.ContentKey()).
		Msg("playback session opened")
	return sess, url, nil
}

func (b *Bridge) lookupMetadata(ctx context.Context, req embed.Request) metadata.Details {
	if b.meta == nil || req.TMDBID <= 0 {
		return metadata.Details{}
	}
	ctx, cancel := context.WithTimeout(ctx, b.metaTimeout)
	defer cancel()

	details, err := b.meta.Lookup(ctx, req.MediaType, req.TMDBID)
	if err != nil {
		b.logger.Debug().Err(err).Int("tmdb_id", req.TMDBID).Msg("metadata lookup failed")
		return metadata.Details{}
	}
	return details
}

// Session returns an open session.
func (b *Bridge) Session(id string) (*Session, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.sessions[id]
	return s, ok
}

// Sessions returns snapshots of every open session.
func (b *Bridge) Sessions() []Snapshot {
	b.mu.RLock()
	list := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		list = append(list, s)
	}
	b.mu.RUnlock()

	out := make([]Snapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot())
	}
	return out
}

// Loaded marks the frame load as complete.
func (b *Bridge) Loaded(ctx context.Context, id string) error {
	sess, ok := b.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	sess.touch(b.now())
	if _, err := sess.machine.Fire(ctx, evLoaded); err != nil {
		if sess.State() == StateEnded {
			return ErrSessionEnded
		}
		return err
	}
	return nil
}

// Switch moves the session to another provider. Under the active origin
// policy, late messages from the previous provider's origin are rejected
// from here on.
func (b *Bridge) Switch(ctx context.Context, id, providerID string) (*Session, string, error) {
	sess, ok := b.Session(id)
	if !ok {
		return nil, "", ErrSessionNotFound
	}
	if sess.State() == StateEnded {
		return nil, "", ErrSessionEnded
	}
	sess.touch(b.now())

	d, _ := b.registry().Resolve(providerID, sess.request.MediaType)
	url, err := embed.Build(sess.request, d)
	metrics.RecordEmbedBuild(d.ID, string(sess.request.MediaType), err)
	if err != nil {
		return nil, "", err
	}

	prev, _ := sess.current()
	if _, err := sess.machine.Fire(ctx, evSwitch); err != nil {
		if sess.State() == StateEnded {
			return nil, "", ErrSessionEnded
		}
		return nil, "", err
	}
	sess.setProvider(d, url)

	b.logger.Info().
		Str(log.FieldEvent, "bridge.provider_switched").
		Str(log.FieldSessionID, id).
		Str("from", prev.ID).
		Str(log.FieldProvider, d.ID).
		Msg("playback session switched provider")
	return sess, url, nil
}

// Close forgets the session. Later messages for it are dropped; in-flight
// durable writes are not cancelled.
func (b *Bridge) Close(id string) error {
	b.mu.Lock()
	_, ok := b.sessions[id]
	delete(b.sessions, id)
	b.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	b.release(id)
	b.logger.Info().
		Str(log.FieldEvent, "bridge.session_closed").
		Str(log.FieldSessionID, id).
		Msg("playback session closed")
	return nil
}

func (b *Bridge) release(id string) {
	if b.limiter != nil {
		b.limiter.Forget(id)
	}
	metrics.BridgeSessionsActive.Dec()
}

// reapIdle closes every session idle for at least the idle TTL and returns
// how many were closed.
func (b *Bridge) reapIdle(now time.Time) int {
	var expired []string
	b.mu.Lock()
	for id, sess := range b.sessions {
		if sess.idleFor(now) >= b.idleTTL {
			delete(b.sessions, id)
			expired = append(expired, id)
		}
	}
	b.mu.Unlock()

	for _, id := range expired {
		b.release(id)
		b.logger.Info().
			Str(log.FieldEvent, "bridge.session_expired").
			Str(log.FieldSessionID, id).
			Dur("idle_ttl", b.idleTTL).
			Msg("idle playback session closed")
	}
	return len(expired)
}

// reapInterval is how often Run looks for idle sessions.
func (b *Bridge) reapInterval() time.Duration {
	return max(min(b.idleTTL/2, time.Minute), time.Second)
}

// Deliver enqueues a frame message without blocking. Processing errors are
// never returned here; only admission failures are.
func (b *Bridge) Deliver(ctx context.Context, sessionID, origin string, payload []byte) error {
	if _, ok := b.Session(sessionID); !ok {
		emitOutcome(ctx, "", origin, OutcomeUnknownSession)
		return ErrSessionNotFound
	}
	if b.limiter != nil && !b.limiter.Allow(sessionID) {
		emitOutcome(ctx, "", origin, OutcomeRateLimited)
		return ErrRateLimited
	}

	in := Inbound{
		SessionID:  sessionID,
		Origin:     origin,
		Payload:    append(json.RawMessage(nil), payload...),
		ReceivedAt: b.now(),
		RequestID:  log.RequestIDFromContext(ctx),
	}
	switch err := b.queue.TryPublish(inboundTopic, in); {
	case err == nil:
		return nil
	case errors.Is(err, bus.ErrFull):
		return ErrQueueFull
	default:
		return ErrStopped
	}
}

// Run dispatches queued messages until ctx is done. It may be called once.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.sub.Close()

	reap := time.NewTicker(b.reapInterval())
	defer reap.Stop()

	b.logger.Info().Str(log.FieldEvent, "bridge.started").Msg("bridge dispatch loop started")
	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Str(log.FieldEvent, "bridge.stopped").Msg("bridge dispatch loop stopped")
			return nil
		case <-reap.C:
			b.reapIdle(b.now())
		case in := <-b.sub.C():
			msgCtx := ctx
			if in.RequestID != "" {
				msgCtx = log.ContextWithRequestID(msgCtx, in.RequestID)
			}
			b.Dispatch(msgCtx, in)
		}
	}
}

// Dispatch processes one message synchronously and reports its outcome.
// It never panics.
func (b *Bridge) Dispatch(ctx context.Context, in Inbound) (out Outcome) {
	ctx, span := startDispatchSpan(ctx, in.SessionID)
	defer span.End()

	logger := log.WithContext(ctx, b.logger).With().
		Str(log.FieldSessionID, in.SessionID).
		Str(log.FieldOrigin, in.Origin).
		Logger()

	var kind Kind
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str(log.FieldEvent, "bridge.dispatch_panic").
				Interface("panic", r).
				Msg("recovered panic while dispatching frame message")
			out = OutcomeInternalError
		}
		emitOutcome(ctx, kind, in.Origin, out)
	}()

	sess, ok := b.Session(in.SessionID)
	if !ok {
		logger.Debug().Str(log.FieldEvent, "bridge.message_dropped").Msg("message for unknown session")
		return OutcomeUnknownSession
	}
	if !b.originAllowed(sess, in.Origin) {
		logger.Warn().Str(log.FieldEvent, "bridge.origin_rejected").Msg("message from unexpected origin")
		return OutcomeOriginRejected
	}
	sess.touch(b.now())

	kind, data, err := Classify(in.Payload)
	if err != nil {
		logger.Debug().Str(log.FieldEvent, "bridge.message_ignored").Msg("ignoring unrecognised message")
		return OutcomeUnknownType
	}
	logger = logger.With().Str(log.FieldKind, string(kind)).Logger()

	switch sess.State() {
	case StateEnded:
		logger.Debug().Str(log.FieldEvent, "bridge.message_dropped").Msg("message after session ended")
		return OutcomeSessionEnded
	case StateLoading:
		// A talking frame has finished loading.
		_, _ = sess.machine.Fire(ctx, evLoaded)
	}

	switch kind {
	case KindPlayerEvent:
		return b.handlePlayerEvent(ctx, logger, sess, data)
	default:
		return b.handleMediaData(ctx, logger, sess, data)
	}
}

func (b *Bridge) originAllowed(sess *Session, origin string) bool {
	canon, err := provider.CanonicalOrigin(origin)
	if err != nil {
		return false
	}
	if b.policy == OriginRegistered {
		return len(b.registry().ByOrigin(canon)) > 0
	}
	current, _ := sess.current()
	return current.Origin == canon
}

func (b *Bridge) handlePlayerEvent(ctx context.Context, logger zerolog.Logger, sess *Session, data json.RawMessage) Outcome {
	ev, err := ParsePlayerEvent(data)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "bridge.message_malformed").Msg("dropping malformed player event")
		return OutcomeMalformed
	}
	sess.observe(ev)

	// The callback sees every well-formed event, including those that do not
	// form a storable record.
	outcome := OutcomeDispatched
	if ev.Event.WritesProgress() {
		outcome = b.writeProgress(ctx, logger, sess, ev)
		if ev.Event == EventEnded {
			if _, err := sess.machine.Fire(ctx, evEnd); err != nil {
				logger.Debug().Err(err).Msg("ended transition rejected")
			}
		}
	}

	if b.onEvent != nil {
		b.onEvent(sess.Snapshot(), ev)
	}
	return outcome
}

// writeProgress hands the record to the durable writer and then upserts the
// local store. A failed durable write never rolls back the local one.
func (b *Bridge) writeProgress(ctx context.Context, logger zerolog.Logger, sess *Session, ev PlayerEvent) Outcome {
	rec := sess.record(ev, b.now())
	if err := rec.Validate(); err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "bridge.record_invalid").Msg("player event does not form a valid progress record")
		return OutcomeInvalidRecord
	}
	logger = logger.With().Str(log.FieldContentKey, rec.ContentKey).Logger()

	if b.durable != nil && !b.durable.Submit(ctx, rec) {
		logger.Debug().Msg("durable writer closed, skipping durable write")
	}
	if err := b.local.Upsert(ctx, rec); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "bridge.local_upsert_failed").Msg("local progress upsert failed")
		return OutcomeInternalError
	}
	return OutcomeDispatched
}

func (b *Bridge) handleMediaData(ctx context.Context, logger zerolog.Logger, sess *Session, data json.RawMessage) Outcome {
	doc, err := ParseMediaData(data)
	if err != nil {
		logger.Warn().Err(err).Str(log.FieldEvent, "bridge.message_malformed").Msg("dropping malformed media data")
		return OutcomeMalformed
	}

	if b.media != nil {
		current, _ := sess.current()
		merged, err := b.media.Merge(ctx, current.ID, doc)
		if err != nil {
			logger.Error().Err(err).Str(log.FieldEvent, "bridge.media_merge_failed").Msg("media data merge failed")
			return OutcomeInternalError
		}
		doc = merged
	}

	if b.onMediaData != nil {
		b.onMediaData(sess.Snapshot(), doc)
	}
	return OutcomeDispatched
}
