package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/stalegate/stalegate/internal/cache"
	"github.com/stalegate/stalegate/internal/logging"
	"github.com/stalegate/stalegate/internal/metrics"
	"github.com/stalegate/stalegate/internal/server"
)

const (
	// OutcomeForwarded marks POST/PUT responses relayed without cache access.
	OutcomeForwarded Outcome = "forwarded"
	// OutcomeRejected marks methods the gateway does not serve.
	OutcomeRejected Outcome = "rejected"

	headerCacheOutcome = "X-Stalegate-Cache"
)

// Options wires the Gateway collaborators.
type Options struct {
	Forwarder     *Forwarder
	Reconciler    *Reconciler
	Mapper        cache.Mapper
	Store         cache.Store
	CachedTimeout time.Duration
	Logger        *logrus.Logger
}

// Gateway serves one inbound request end to end.
type Gateway struct {
	forwarder     *Forwarder
	reconciler    *Reconciler
	mapper        cache.Mapper
	store         cache.Store
	cachedTimeout time.Duration
	logger        *logrus.Logger
}

// NewGateway validates opts and builds a Gateway.
func NewGateway(opts Options) (*Gateway, error) {
	switch {
	case opts.Forwarder == nil:
		return nil, errors.New("forwarder is required")
	case opts.Reconciler == nil:
		return nil, errors.New("reconciler is required")
	case opts.Store == nil:
		return nil, errors.New("cache store is required")
	case opts.Logger == nil:
		return nil, errors.New("logger is required")
	case opts.CachedTimeout <= 0:
		return nil, fmt.Errorf("invalid cached timeout: %s", opts.CachedTimeout)
	}
	return &Gateway{
		forwarder:     opts.Forwarder,
		reconciler:    opts.Reconciler,
		mapper:        opts.Mapper,
		store:         opts.Store,
		cachedTimeout: opts.CachedTimeout,
		logger:        opts.Logger,
	}, nil
}

// Handle implements server.ProxyHandler.
func (g *Gateway) Handle(c fiber.Ctx) error {
	started := time.Now()
	req := InboundFromFiber(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result := g.serveGuarded(ctx, req)

	fields := logging.RequestFields(req.Method, req.URL, g.keyFor(req), string(result.Outcome), server.RequestID(c))
	fields["status"] = result.Status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if result.Status >= http.StatusInternalServerError {
		g.logger.WithFields(fields).Warn("proxy_failed")
	} else {
		g.logger.WithFields(fields).Info("proxy_complete")
	}

	if result.ContentType != "" {
		c.Set(fiber.HeaderContentType, result.ContentType)
	}
	c.Set(headerCacheOutcome, string(result.Outcome))
	return c.Status(result.Status).Send(result.Payload.Bytes())
}

func (g *Gateway) serveGuarded(ctx context.Context, req *InboundRequest) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			g.logger.WithFields(logrus.Fields{
				"action": "proxy",
				"method": req.Method,
				"url":    req.URL,
				"panic":  fmt.Sprint(rec),
			}).Error("request handler panicked")
			result = envelopeResult(http.StatusInternalServerError, OutcomeUnavailable,
				ErrorInfo{Kind: KindInternal, Message: fmt.Sprintf("internal error: %v", rec)})
		}
	}()
	return g.Serve(ctx, req)
}

// Serve dispatches req by method and returns the response to send.
func (g *Gateway) Serve(ctx context.Context, req *InboundRequest) Result {
	switch req.Method {
	case http.MethodGet:
		return g.serveGet(ctx, req)
	case http.MethodPost, http.MethodPut:
		return g.serveMutation(ctx, req)
	default:
		return envelopeResult(http.StatusMethodNotAllowed, OutcomeRejected, ErrorInfo{
			Kind:    KindNotAllowed,
			Message: fmt.Sprintf("method %s is not supported", req.Method),
		})
	}
}

func (g *Gateway) serveGet(ctx context.Context, req *InboundRequest) Result {
	key := g.mapper.MapURL(req.URL)

	var probe Probe
	if !g.reconciler.Excluded(req.URL) {
		probe = g.probe(ctx, req.URL, key)
	}

	var timeout time.Duration
	if probe.Exists {
		timeout = g.cachedTimeout
	}

	resp, err := g.forwarder.Forward(ctx, req, timeout)
	var result Result
	if err != nil {
		g.logTransportError(req, err, timeout)
		result = g.reconciler.OnTransportError(req.URL, probe, err)
	} else {
		result = g.reconciler.OnResponse(ctx, req.URL, key, resp)
	}
	metrics.IncCacheOutcome(string(result.Outcome))
	return result
}

func (g *Gateway) probe(ctx context.Context, url, key string) Probe {
	exists, data, err := g.store.Probe(ctx, key)
	if err != nil {
		metrics.IncCacheError("probe")
		g.logger.WithError(err).WithFields(logrus.Fields{
			"action":    "cache_probe",
			"url":       url,
			"cache_key": key,
		}).Warn("cache probe failed, treating as absent")
		return Probe{}
	}
	return Probe{Exists: exists, Data: data}
}

func (g *Gateway) serveMutation(ctx context.Context, req *InboundRequest) Result {
	resp, err := g.forwarder.Forward(ctx, req, 0)
	if err != nil {
		g.logTransportError(req, err, 0)
		return envelopeResult(http.StatusBadGateway, OutcomeUnavailable, newErrorInfo(KindTransport, err))
	}
	return Result{
		Status:      resp.StatusCode,
		ContentType: resp.ContentType,
		Payload:     RawPayload(resp.Body),
		Outcome:     OutcomeForwarded,
	}
}

func (g *Gateway) logTransportError(req *InboundRequest, err error, timeout time.Duration) {
	reason := "transport"
	var transportErr *TransportError
	if errors.As(err, &transportErr) && transportErr.Timeout() {
		reason = "timeout"
	}
	metrics.IncUpstreamError(reason)
	g.logger.WithError(err).WithFields(logrus.Fields{
		"action":     "upstream",
		"method":     req.Method,
		"url":        req.URL,
		"reason":     reason,
		"timeout_ms": timeout.Milliseconds(),
	}).Warn("upstream request failed")
}

func (g *Gateway) keyFor(req *InboundRequest) string {
	if req.Method != http.MethodGet || g.reconciler.Excluded(req.URL) {
		return ""
	}
	return g.mapper.MapURL(req.URL)
}

func envelopeResult(status int, outcome Outcome, info ErrorInfo) Result {
	return Result{
		Status:      status,
		ContentType: contentTypeJSON,
		Payload:     errorEnvelope(info),
		Outcome:     outcome,
	}
}
