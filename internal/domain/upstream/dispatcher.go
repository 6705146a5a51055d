package upstream

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ailink-gateway/ailink/internal/apperr"
	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// Dispatcher forwards chat completion and embedding requests to the
// provider/model target resolved for the request's model alias, with
// priority failover across a route's targets and a per-provider circuit
// breaker to short-circuit known-bad providers. Grounded on
// eugener/gandalf's internal/app.ProxyService.
type Dispatcher struct {
	providers *ProviderRegistry
	router    *RouterService
	breakers  *BreakerRegistry // nil disables circuit breaking
	tracer    trace.Tracer     // nil disables tracing
}

// NewDispatcher returns a Dispatcher wired to the given provider registry,
// router, and breaker registry. Pass a nil breakers registry to disable
// circuit breaking, and a nil tracer to disable span creation.
func NewDispatcher(providers *ProviderRegistry, rs *RouterService, breakers *BreakerRegistry, tracer trace.Tracer) *Dispatcher {
	return &Dispatcher{providers: providers, router: rs, breakers: breakers, tracer: tracer}
}

// ChatCompletion resolves req.Model to its route's targets and forwards the
// request with priority failover.
func (d *Dispatcher) ChatCompletion(ctx context.Context, req *router.ChatRequest) (*router.ChatResponse, string, error) {
	targets, err := d.router.ResolveModel(ctx, req.Model)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for _, target := range targets {
		if d.breakers != nil {
			if cb := d.breakers.Get(target.ProviderID); cb != nil && !cb.Allow() {
				lastErr = fmt.Errorf("%w: circuit breaker open for %s", apperr.ErrProviderError, target.ProviderID)
				continue
			}
		}

		p, err := d.providers.Get(target.ProviderID)
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", apperr.ErrProviderError, err)
			continue
		}

		origModel := req.Model
		req.Model = target.Model
		callCtx, span := d.startSpan(ctx, "ChatCompletion", target)
		resp, err := p.ChatCompletion(callCtx, req)
		if span != nil {
			span.End()
		}
		req.Model = origModel

		if err != nil {
			d.recordError(target.ProviderID, err)
			if retryErr, ok := d.failoverErr(ctx, err, target.ProviderID, "chat completion failed, trying next target"); ok {
				return nil, "", retryErr
			}
			lastErr = fmt.Errorf("%w: %w", apperr.ErrProviderError, err)
			continue
		}
		d.recordSuccess(target.ProviderID)
		return resp, target.ProviderID, nil
	}
	return nil, "", lastErr
}

// ChatCompletionStream resolves req.Model and forwards a streaming request
// with priority failover. Failover only applies to the initial request; once
// a stream is open, mid-stream errors are surfaced to the caller via the
// channel's Err chunk rather than silently retried on another provider.
func (d *Dispatcher) ChatCompletionStream(ctx context.Context, req *router.ChatRequest) (<-chan router.StreamChunk, string, error) {
	targets, err := d.router.ResolveModel(ctx, req.Model)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for _, target := range targets {
		if d.breakers != nil {
			if cb := d.breakers.Get(target.ProviderID); cb != nil && !cb.Allow() {
				lastErr = fmt.Errorf("%w: circuit breaker open for %s", apperr.ErrProviderError, target.ProviderID)
				continue
			}
		}

		p, err := d.providers.Get(target.ProviderID)
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", apperr.ErrProviderError, err)
			continue
		}

		origModel := req.Model
		req.Model = target.Model
		ch, err := p.ChatCompletionStream(ctx, req)
		req.Model = origModel

		if err != nil {
			d.recordError(target.ProviderID, err)
			if retryErr, ok := d.failoverErr(ctx, err, target.ProviderID, "stream open failed, trying next target"); ok {
				return nil, "", retryErr
			}
			lastErr = fmt.Errorf("%w: %w", apperr.ErrProviderError, err)
			continue
		}
		d.recordSuccess(target.ProviderID)
		return ch, target.ProviderID, nil
	}
	return nil, "", lastErr
}

// Embeddings resolves req.Model and forwards an embedding request with
// priority failover.
func (d *Dispatcher) Embeddings(ctx context.Context, req *router.EmbeddingRequest) (*router.EmbeddingResponse, string, error) {
	targets, err := d.router.ResolveModel(ctx, req.Model)
	if err != nil {
		return nil, "", err
	}

	var lastErr error
	for _, target := range targets {
		if d.breakers != nil {
			if cb := d.breakers.Get(target.ProviderID); cb != nil && !cb.Allow() {
				lastErr = fmt.Errorf("%w: circuit breaker open for %s", apperr.ErrProviderError, target.ProviderID)
				continue
			}
		}

		p, err := d.providers.Get(target.ProviderID)
		if err != nil {
			lastErr = fmt.Errorf("%w: %w", apperr.ErrProviderError, err)
			continue
		}

		origModel := req.Model
		req.Model = target.Model
		resp, err := p.Embeddings(ctx, req)
		req.Model = origModel

		if err != nil {
			d.recordError(target.ProviderID, err)
			if retryErr, ok := d.failoverErr(ctx, err, target.ProviderID, "embeddings failed, trying next target"); ok {
				return nil, "", retryErr
			}
			lastErr = fmt.Errorf("%w: %w", apperr.ErrProviderError, err)
			continue
		}
		d.recordSuccess(target.ProviderID)
		return resp, target.ProviderID, nil
	}
	return nil, "", lastErr
}

// failoverErr reports whether err is a non-retriable client error. If so it
// returns (err, true) so the caller returns immediately; otherwise it logs a
// warning and returns (nil, false) so the caller tries the next target.
func (d *Dispatcher) failoverErr(ctx context.Context, err error, providerID, msg string) (error, bool) {
	if IsClientError(err) {
		return err, true
	}
	slog.LogAttrs(ctx, slog.LevelWarn, msg,
		slog.String("provider", providerID),
		slog.String("error", err.Error()),
	)
	return nil, false
}

func (d *Dispatcher) startSpan(ctx context.Context, op string, target ResolvedTarget) (context.Context, trace.Span) {
	if d.tracer == nil {
		return ctx, nil
	}
	return d.tracer.Start(ctx, "upstream."+op, trace.WithAttributes(
		attribute.String("provider", target.ProviderID),
		attribute.String("model", target.Model),
	))
}

func (d *Dispatcher) recordSuccess(providerID string) {
	if d.breakers != nil {
		d.breakers.GetOrCreate(providerID).RecordSuccess()
	}
}

func (d *Dispatcher) recordError(providerID string, err error) {
	if d.breakers != nil {
		if weight := ClassifyError(err); weight > 0 {
			d.breakers.GetOrCreate(providerID).RecordError(weight)
		}
	}
}
