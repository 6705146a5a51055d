package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ailink-gateway/ailink/internal/apperr"
	"github.com/ailink-gateway/ailink/internal/domain/approval"
	"github.com/ailink-gateway/ailink/internal/domain/audit"
	"github.com/ailink-gateway/ailink/internal/domain/auth"
	"github.com/ailink-gateway/ailink/internal/domain/billing"
	"github.com/ailink-gateway/ailink/internal/domain/cache"
	"github.com/ailink-gateway/ailink/internal/domain/pii"
	"github.com/ailink-gateway/ailink/internal/domain/policy"
	"github.com/ailink-gateway/ailink/internal/domain/router"
	"github.com/ailink-gateway/ailink/internal/domain/stream"
	"github.com/ailink-gateway/ailink/internal/domain/upstream"
)

// ProxyService is the gateway's data-plane orchestration pipeline: it
// chains identity resolution (done by the caller before Handle is invoked)
// -> pre-phase policy -> cache lookup -> spend pre-flight -> dispatch (or
// the streaming bridge) -> post-phase policy -> billing record -> cache
// store -> audit emission, with approval handling wherever a policy
// decision demands it and PII redaction applied to the outbound request
// body before dispatch.
//
// Grounded on eugener/gandalf's internal/app.ProxyService (the single
// entrypoint that walks request -> policy -> dispatch -> response for
// every inbound chat completion), adapted to also run AILink's approval,
// cache, and cost-accounting stages gandalf does not have.
type ProxyService struct {
	policyEngine policy.PolicyEngine
	dispatcher   *upstream.Dispatcher
	routerSvc    *upstream.RouterService
	respCache    *cache.ResponseCache
	accountant   *billing.CostAccountant
	bridge       *stream.Bridge
	approvals    *approval.Broker
	tokenizer    *pii.Tokenizer // nil disables request/response tokenization
	identities   *IdentityService
	auditSvc     *AuditService
	logger       *slog.Logger
}

// NewProxyService wires the orchestration pipeline. tokenizer may be nil
// when PII redaction is not configured for any policy rule.
func NewProxyService(
	policyEngine policy.PolicyEngine,
	dispatcher *upstream.Dispatcher,
	routerSvc *upstream.RouterService,
	respCache *cache.ResponseCache,
	accountant *billing.CostAccountant,
	bridge *stream.Bridge,
	approvals *approval.Broker,
	tokenizer *pii.Tokenizer,
	identities *IdentityService,
	auditSvc *AuditService,
	logger *slog.Logger,
) *ProxyService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyService{
		policyEngine: policyEngine,
		dispatcher:   dispatcher,
		routerSvc:    routerSvc,
		respCache:    respCache,
		accountant:   accountant,
		bridge:       bridge,
		approvals:    approvals,
		tokenizer:    tokenizer,
		identities:   identities,
		auditSvc:     auditSvc,
		logger:       logger,
	}
}

// ChatCompletionInput holds everything Handle needs about one inbound
// request. RawBody and Headers feed the cache-key construction; Method
// and Path are the request's method and path, also part of the key.
type ChatCompletionInput struct {
	Identity *auth.Identity
	Request  *router.ChatRequest
	RawBody  []byte
	Method   string
	Path     string
	Headers  map[string]string
}

// Handle runs the full orchestration pipeline for one chat completion
// request. For non-streaming requests (including cache hits) it writes
// the JSON response directly to w and returns nil. For streaming requests
// it writes SSE frames directly to w via the streaming bridge. A non-nil error
// means nothing has been written to w yet; the caller is responsible for
// rendering it via apperr.FromError and the wire error envelope.
func (s *ProxyService) Handle(ctx context.Context, w http.ResponseWriter, in ChatCompletionInput) error {
	start := time.Now()
	tokenID := in.Identity.ID
	req := in.Request

	evalCtx := s.buildEvalContext(in)

	preDecision, err := s.policyEngine.Evaluate(ctx, evalCtx, policy.PhasePre)
	if err != nil {
		return fmt.Errorf("pre-phase policy evaluation: %w", err)
	}

	rec := &audit.AuditRecord{
		Timestamp:    start,
		SessionID:    in.Identity.ID,
		IdentityID:   in.Identity.ID,
		IdentityName: in.Identity.Name,
		ToolName:     req.Model,
		TokenID:      tokenID,
		Protocol:     "http",
		Gateway:      "llm-gateway",
		Phase:        "pre",
		RuleID:       preDecision.RuleID,
		Reason:       preDecision.Reason,
	}

	allowed, approvalID, err := s.resolveApproval(ctx, tokenID, preDecision, rec)
	if err != nil {
		rec.Decision = audit.DecisionDeny
		s.emit(rec, start)
		return err
	}
	rec.ApprovalID = approvalID
	if !allowed {
		rec.Decision = audit.DecisionDeny
		s.emit(rec, start)
		return apperr.New(http.StatusForbidden, "policy_denied", preDecision.Reason, apperr.ErrPolicyDenied)
	}
	rec.Decision = audit.DecisionAllow

	if s.tokenizer != nil {
		if err := s.redactRequest(ctx, in.Identity.ID, req); err != nil {
			s.logger.Warn("pii tokenization of outbound request failed", "error", err)
		}
	}

	entry, cacheKey, cacheHit := s.respCache.Lookup(ctx, tokenID, in.Method, in.Path, req, in.RawBody, in.Headers)
	if cacheHit {
		rec.CacheHit = true
		rec.Model = entry.Model
		s.emit(rec, start)
		return writeCachedEntry(w, entry)
	}

	caps := s.resolveCaps(ctx, in.Identity.ID)
	if err := s.accountant.PreflightCheck(ctx, tokenID, caps); err != nil {
		rec.Decision = audit.DecisionDeny
		s.emit(rec, start)
		return err
	}

	if req.Stream {
		return s.handleStream(ctx, w, in, evalCtx, caps, rec, start)
	}
	return s.handleNonStream(ctx, w, in, evalCtx, caps, cacheKey, rec, start)
}

func (s *ProxyService) handleNonStream(
	ctx context.Context, w http.ResponseWriter, in ChatCompletionInput,
	evalCtx policy.EvaluationContext, caps []billing.Cap, cacheKey string, rec *audit.AuditRecord, start time.Time,
) error {
	req := in.Request
	resp, providerID, err := s.dispatcher.ChatCompletion(ctx, req)
	if err != nil {
		rec.Decision = audit.DecisionDeny
		rec.Reason = err.Error()
		s.emit(rec, start)
		return err
	}
	rec.Provider = providerID
	rec.Model = resp.Model
	if resp.Usage != nil {
		rec.PromptTokens = resp.Usage.PromptTokens
		rec.CompletionTokens = resp.Usage.CompletionTokens
		rec.TotalTokens = resp.Usage.TotalTokens
	}

	cost := s.accountant.ComputeCost(providerID, resp.Model, resp.Usage, in.Headers)
	rec.CostUSD = cost
	if err := s.accountant.Record(ctx, in.Identity.ID, caps, cost); err != nil {
		s.logger.Warn("spend record failed", "error", err, "token_id", in.Identity.ID)
	}

	evalCtx.ActionName = resp.Model
	postDecision, err := s.policyEngine.Evaluate(ctx, evalCtx, policy.PhasePost)
	if err != nil {
		rec.Phase = "post"
		rec.Decision = audit.DecisionDeny
		s.emit(rec, start)
		return fmt.Errorf("post-phase policy evaluation: %w", err)
	}
	allowed, approvalID, err := s.resolveApproval(ctx, in.Identity.ID, postDecision, rec)
	if err != nil {
		rec.Phase = "post"
		rec.Decision = audit.DecisionDeny
		s.emit(rec, start)
		return err
	}
	if approvalID != "" {
		rec.ApprovalID = approvalID
	}
	if !allowed {
		rec.Phase = "post"
		rec.Decision = audit.DecisionDeny
		rec.Reason = postDecision.Reason
		s.emit(rec, start)
		return apperr.New(http.StatusForbidden, "policy_denied", postDecision.Reason, apperr.ErrPolicyDenied)
	}

	if s.tokenizer != nil {
		if err := s.redactResponse(ctx, in.Identity.ID, resp); err != nil {
			s.logger.Warn("pii tokenization of inbound response failed", "error", err)
		}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal chat response: %w", err)
	}

	if cacheKey != "" {
		ttl := s.routerSvc.CacheTTL(ctx, req.Model)
		s.respCache.Store(ctx, cacheKey, cache.Entry{
			StatusCode: http.StatusOK,
			Body:       body,
			Model:      resp.Model,
			CachedAt:   time.Now().UTC(),
		}, ttl)
	}

	rec.Phase = "post"
	rec.Decision = audit.DecisionAllow
	s.emit(rec, start)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(cache.HeaderCacheStatus, "MISS")
	w.WriteHeader(http.StatusOK)
	_, writeErr := w.Write(body)
	return writeErr
}

func (s *ProxyService) handleStream(
	ctx context.Context, w http.ResponseWriter, in ChatCompletionInput,
	evalCtx policy.EvaluationContext, caps []billing.Cap, rec *audit.AuditRecord, start time.Time,
) error {
	req := in.Request
	stream.EnsureUsageIncluded(req)

	ch, providerID, err := s.dispatcher.ChatCompletionStream(ctx, req)
	if err != nil {
		rec.Decision = audit.DecisionDeny
		rec.Reason = err.Error()
		s.emit(rec, start)
		return err
	}
	rec.Provider = providerID
	rec.Model = req.Model

	usage, pipeErr := s.bridge.Pipe(ctx, w, ch)
	if usage != nil {
		rec.PromptTokens = usage.PromptTokens
		rec.CompletionTokens = usage.CompletionTokens
		rec.TotalTokens = usage.TotalTokens

		cost := s.accountant.ComputeCost(providerID, req.Model, usage, in.Headers)
		rec.CostUSD = cost
		if err := s.accountant.Record(ctx, in.Identity.ID, caps, cost); err != nil {
			s.logger.Warn("spend record failed", "error", err, "token_id", in.Identity.ID)
		}
	}

	rec.Phase = "post"
	if pipeErr != nil {
		rec.Decision = audit.DecisionDeny
		rec.Reason = pipeErr.Error()
	} else {
		// Streamed responses still receive a post-phase policy pass for
		// audit purposes; content filtering on streamed bodies is out of
		// scope since the bytes are already on the wire by completion.
		if _, err := s.policyEngine.Evaluate(ctx, evalCtx, policy.PhasePost); err != nil {
			s.logger.Warn("post-phase policy evaluation failed for stream", "error", err)
		}
		rec.Decision = audit.DecisionAllow
	}
	s.emit(rec, start)
	return nil
}

// resolveApproval folds a policy decision's RequiresApproval gate into a
// single allow/deny bool, blocking on the approval broker when required. The
// returned approvalID is non-empty only when an approval round actually
// ran.
func (s *ProxyService) resolveApproval(ctx context.Context, tokenID string, decision policy.Decision, rec *audit.AuditRecord) (allowed bool, approvalID string, err error) {
	if !decision.RequiresApproval {
		return decision.Allowed, "", nil
	}
	if s.approvals == nil {
		return false, "", nil
	}
	ad, err := s.approvals.RequestApproval(ctx, tokenID, decision.Reason, decision.ApprovalTimeout, decision.ApprovalTimeoutAction)
	if err != nil {
		return false, "", fmt.Errorf("approval broker: %w", err)
	}
	return ad.Approved, tokenID, nil
}

// redactRequest tokenizes every message's text content against the
// policy-configured PII patterns before the request is dispatched
// upstream. The org scope for the PII vault is the caller's identity ID.
func (s *ProxyService) redactRequest(ctx context.Context, orgID string, req *router.ChatRequest) error {
	for i := range req.Messages {
		var text string
		if err := json.Unmarshal(req.Messages[i].Content, &text); err != nil {
			continue // non-string content (tool results, multi-part) is left as-is
		}
		redacted, _, err := s.tokenizer.Tokenize(ctx, orgID, nil, text)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(redacted)
		if err != nil {
			return err
		}
		req.Messages[i].Content = encoded
	}
	return nil
}

// redactResponse rehydrates any vault placeholders present in the
// response text that the caller's own org is authorized to unseal --
// e.g. a prior turn's tokenized value echoed back by the model.
func (s *ProxyService) redactResponse(ctx context.Context, orgID string, resp *router.ChatResponse) error {
	for i := range resp.Choices {
		var text string
		if err := json.Unmarshal(resp.Choices[i].Message.Content, &text); err != nil {
			continue
		}
		rehydrated, err := s.tokenizer.Rehydrate(ctx, orgID, text)
		if err != nil {
			continue // unauthorized/missing placeholders are left tokenized
		}
		encoded, err := json.Marshal(rehydrated)
		if err != nil {
			return err
		}
		resp.Choices[i].Message.Content = encoded
	}
	return nil
}

// resolveCaps converts the identity's persisted spend caps into the
// billing.Cap list the cost accountant enforces. An identity lookup
// failure is treated as uncapped rather than blocking the request --
// spend accounting is best-effort, the policy engine is the enforcement
// boundary.
func (s *ProxyService) resolveCaps(ctx context.Context, identityID string) []billing.Cap {
	if s.identities == nil {
		return nil
	}
	entry, err := s.identities.GetIdentity(ctx, identityID)
	if err != nil {
		return nil
	}
	caps := make([]billing.Cap, 0, len(entry.SpendCaps))
	for _, c := range entry.SpendCaps {
		caps = append(caps, billing.Cap{Period: billing.CapPeriod(c.Period), LimitUSD: c.LimitUSD})
	}
	return caps
}

func (s *ProxyService) buildEvalContext(in ChatCompletionInput) policy.EvaluationContext {
	roles := make([]string, len(in.Identity.Roles))
	for i, r := range in.Identity.Roles {
		roles[i] = string(r)
	}
	return policy.EvaluationContext{
		ToolName:     in.Request.Model,
		UserRoles:    roles,
		IdentityID:   in.Identity.ID,
		IdentityName: in.Identity.Name,
		RequestTime:  time.Now(),
		ActionType:   "chat_completion",
		ActionName:   in.Request.Model,
		Protocol:     "http",
		Gateway:      "llm-gateway",
	}
}

func (s *ProxyService) emit(rec *audit.AuditRecord, start time.Time) {
	rec.LatencyMicros = time.Since(start).Microseconds()
	if s.auditSvc == nil {
		return
	}
	s.auditSvc.Record(*rec)
}

// writeCachedEntry replays a cached Entry verbatim, marking the response
// as a cache hit.
func writeCachedEntry(w http.ResponseWriter, entry cache.Entry) error {
	for k, v := range entry.Header {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(cache.HeaderCacheStatus, "HIT")
	w.WriteHeader(entry.StatusCode)
	_, err := w.Write(entry.Body)
	return err
}
