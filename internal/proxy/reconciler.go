package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/stalegate/stalegate/internal/cache"
	"github.com/stalegate/stalegate/internal/metrics"
)

const contentTypeJSON = "application/json; charset=utf-8"

// Outcome names what happened to the cache for one request. It is exposed in
// the X-Stalegate-Cache response header and in logs.
type Outcome string

const (
	OutcomeStored      Outcome = "stored"
	OutcomeStoreFailed Outcome = "store_failed"
	OutcomeFallback    Outcome = "fallback"
	OutcomeMiss        Outcome = "miss"
	OutcomePassThrough Outcome = "passthrough"
	OutcomeBypass      Outcome = "bypass"
	OutcomeUnavailable Outcome = "unavailable"
)

// Result is the response the gateway writes back to the client.
type Result struct {
	Status      int
	ContentType string
	Payload     Payload
	Outcome     Outcome
}

// Probe carries what the cache probe found before forwarding.
type Probe struct {
	Exists bool
	Data   []byte
}

// ReconcilerOptions configures response classification.
type ReconcilerOptions struct {
	// ExclusionPattern matches URLs that never touch the cache. Empty disables it.
	ExclusionPattern string
	// ErrorStatusPattern matches the "status" field of logical failures.
	ErrorStatusPattern string
	Logger             *logrus.Logger
}

// Reconciler classifies upstream outcomes and decides cache reads and writes.
type Reconciler struct {
	store       cache.Store
	exclusion   *regexp.Regexp
	errorStatus *regexp.Regexp
	logger      *logrus.Logger
}

// NewReconciler compiles the configured patterns.
func NewReconciler(store cache.Store, opts ReconcilerOptions) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	r := &Reconciler{store: store, logger: opts.Logger}

	if opts.ExclusionPattern != "" {
		re, err := regexp.Compile(opts.ExclusionPattern)
		if err != nil {
			return nil, fmt.Errorf("compile exclusion pattern: %w", err)
		}
		r.exclusion = re
	}
	re, err := regexp.Compile(opts.ErrorStatusPattern)
	if err != nil {
		return nil, fmt.Errorf("compile error status pattern: %w", err)
	}
	r.errorStatus = re
	return r, nil
}

// Excluded reports whether url bypasses every cache read and write.
func (r *Reconciler) Excluded(url string) bool {
	return r.exclusion != nil && r.exclusion.MatchString(url)
}

// OnTransportError serves the probed entry when one exists, otherwise an
// error envelope. It never touches the store.
func (r *Reconciler) OnTransportError(url string, probe Probe, cause error) Result {
	unavailable := Result{
		Status:      http.StatusBadGateway,
		ContentType: contentTypeJSON,
		Payload:     errorEnvelope(newErrorInfo(KindTransport, cause)),
		Outcome:     OutcomeUnavailable,
	}
	if !probe.Exists || r.Excluded(url) {
		return unavailable
	}

	cached, err := ParseObject(probe.Data)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_fallback", "url": url}).
			Warn("cached entry unreadable")
		unavailable.Payload = errorEnvelope(ErrorInfo{
			Kind:    KindCacheCorrupt,
			Message: fmt.Sprintf("cached entry unreadable: %v", err),
		})
		return unavailable
	}
	cached.MarkCachedResponse()
	return Result{
		Status:      http.StatusOK,
		ContentType: contentTypeJSON,
		Payload:     cached,
		Outcome:     OutcomeFallback,
	}
}

// OnResponse classifies a transported response.
func (r *Reconciler) OnResponse(ctx context.Context, url, key string, resp *UpstreamResponse) Result {
	passThrough := Result{
		Status:      resp.StatusCode,
		ContentType: resp.ContentType,
		Payload:     RawPayload(resp.Body),
		Outcome:     OutcomePassThrough,
	}
	if r.Excluded(url) {
		passThrough.Outcome = OutcomeBypass
		return passThrough
	}

	parsed, err := ParseObject(resp.Body)
	if err != nil {
		return passThrough
	}

	if r.isLogicalFailure(resp.StatusCode, parsed) {
		return r.fallback(ctx, url, key, resp.StatusCode, parsed)
	}
	return r.persist(ctx, url, key, parsed)
}

func (r *Reconciler) isLogicalFailure(status int, p Payload) bool {
	if status != http.StatusOK {
		return true
	}
	raw, ok := p.Field("status")
	if !ok {
		return false
	}
	if s, ok := p.StringField("status"); ok {
		return r.errorStatus.MatchString(s)
	}
	return r.errorStatus.Match(raw)
}

// fallback replaces a logical failure with the cached payload when it can be
// read. The cache is never written here.
func (r *Reconciler) fallback(ctx context.Context, url, key string, status int, failed Payload) Result {
	var info ErrorInfo
	data, err := r.store.Read(ctx, key)
	if err == nil {
		cached, parseErr := ParseObject(data)
		if parseErr == nil {
			cached.MarkCachedResponse()
			cached.SetCachedError(nil)
			return Result{
				Status:      http.StatusOK,
				ContentType: contentTypeJSON,
				Payload:     cached,
				Outcome:     OutcomeFallback,
			}
		}
		err = parseErr
		info = ErrorInfo{Kind: KindCacheCorrupt, Message: fmt.Sprintf("cached entry unreadable: %v", parseErr)}
	} else if errors.Is(err, cache.ErrNotFound) {
		info = newErrorInfo(KindCacheMiss, err)
	} else {
		info = newErrorInfo(KindCacheRead, err)
	}

	if info.Kind != KindCacheMiss {
		metrics.IncCacheError("read")
		r.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_read", "url": url, "cache_key": key}).
			Warn("cache read failed")
	}
	failed.SetCachedError(&info)
	return Result{
		Status:      status,
		ContentType: contentTypeJSON,
		Payload:     failed,
		Outcome:     OutcomeMiss,
	}
}

// persist stores a successful payload and returns it, annotated with
// cache_error when the write fails.
func (r *Reconciler) persist(ctx context.Context, url, key string, p Payload) Result {
	result := Result{
		Status:      http.StatusOK,
		ContentType: contentTypeJSON,
		Outcome:     OutcomeStored,
	}
	if err := r.store.Write(ctx, key, p.Bytes()); err != nil {
		metrics.IncCacheError("write")
		r.logger.WithError(err).WithFields(logrus.Fields{"action": "cache_write", "url": url, "cache_key": key}).
			Warn("cache write failed")
		p.SetCacheError(newErrorInfo(KindCacheWrite, err))
		result.Outcome = OutcomeStoreFailed
	}
	result.Payload = p
	return result
}
