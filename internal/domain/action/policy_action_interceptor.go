package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ailink-gateway/ailink/internal/domain/policy"
)

// PolicyActionInterceptor evaluates CanonicalActions against policy rules,
// operating directly on CanonicalAction fields.
type PolicyActionInterceptor struct {
	policyEngine policy.PolicyEngine
	next         ActionInterceptor
	logger       *slog.Logger
}

// Compile-time check that PolicyActionInterceptor implements ActionInterceptor.
var _ ActionInterceptor = (*PolicyActionInterceptor)(nil)

// NewPolicyActionInterceptor creates a new PolicyActionInterceptor.
func NewPolicyActionInterceptor(engine policy.PolicyEngine, next ActionInterceptor, logger *slog.Logger) *PolicyActionInterceptor {
	return &PolicyActionInterceptor{
		policyEngine: engine,
		next:         next,
		logger:       logger,
	}
}

// Intercept evaluates tool calls and HTTP requests against policies before passing
// to the next interceptor. Other action types pass through without policy evaluation.
func (p *PolicyActionInterceptor) Intercept(ctx context.Context, action *CanonicalAction) (*CanonicalAction, error) {
	// Only evaluate tool calls and HTTP requests (incl. WebSocket upgrades)
	if action.Type != ActionToolCall && action.Type != ActionHTTPRequest {
		return p.next.Intercept(ctx, action)
	}

	// Identity check: session must be set by AuthInterceptor upstream
	if action.Identity.SessionID == "" {
		p.logger.Warn("action without session context", "type", action.Type)
		return nil, ErrMissingSession
	}

	// Build EvaluationContext directly from CanonicalAction fields
	evalCtx := policy.EvaluationContext{
		ToolName:      action.Name,
		ToolArguments: action.Arguments,
		UserRoles:     action.Identity.Roles,
		SessionID:     action.Identity.SessionID,
		IdentityID:    action.Identity.ID,
		IdentityName:  action.Identity.Name,
		RequestTime:   action.RequestTime,

		// Universal fields populated natively from CanonicalAction
		ActionType: string(action.Type),
		ActionName: action.Name,
		Protocol:   action.Protocol,
		Gateway:    action.Gateway,
		Framework:  action.Framework,

		// Destination fields
		DestURL:     action.Destination.URL,
		DestDomain:  action.Destination.Domain,
		DestIP:      action.Destination.IP,
		DestPort:    action.Destination.Port,
		DestScheme:  action.Destination.Scheme,
		DestPath:    action.Destination.Path,
		DestCommand: action.Destination.Command,
	}
	populateRequestView(&evalCtx, action)

	// Evaluate against policy engine (this interceptor runs pre-dispatch;
	// post-response policy evaluation happens in the streaming/response
	// pipeline after the upstream call completes).
	decision, err := p.policyEngine.Evaluate(ctx, evalCtx, policy.PhasePre)
	if err != nil {
		p.logger.Error("policy evaluation failed",
			"error", err,
			"tool", evalCtx.ToolName,
			"session_id", action.Identity.SessionID,
		)
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	// Check decision
	if !decision.Allowed && !decision.RequiresApproval {
		p.logger.Info("tool call denied by policy",
			"tool", evalCtx.ToolName,
			"rule_id", decision.RuleID,
			"reason", decision.Reason,
			"session_id", action.Identity.SessionID,
			"identity_id", action.Identity.ID,
		)
		return nil, fmt.Errorf("%w: %s", ErrPolicyDenied, decision.Reason)
	}

	// Store decision in context for downstream interceptors (ApprovalInterceptor)
	ctx = policy.WithDecision(ctx, &decision)

	// Log decision
	if decision.RequiresApproval {
		p.logger.Info("tool call requires approval",
			"tool", evalCtx.ToolName,
			"rule_id", decision.RuleID,
			"session_id", action.Identity.SessionID,
			"timeout", decision.ApprovalTimeout,
		)
	} else {
		p.logger.Debug("tool call allowed by policy",
			"tool", evalCtx.ToolName,
			"rule_id", decision.RuleID,
			"session_id", action.Identity.SessionID,
		)
	}

	return p.next.Intercept(ctx, action)
}

// populateRequestView fills in EvaluationContext's Request View fields from
// the action's flattened Arguments (the HTTPNormalizer merges query params,
// body fields, and a nested "headers" map into Arguments uniformly).
func populateRequestView(evalCtx *policy.EvaluationContext, act *CanonicalAction) {
	evalCtx.Method = act.Name
	evalCtx.Path = act.Destination.Path
	evalCtx.Body = act.Arguments

	if headers, ok := act.Arguments["headers"].(map[string]interface{}); ok {
		evalCtx.Headers = headers
	}
	if model, ok := act.Arguments["model"].(string); ok {
		evalCtx.Model = model
	}
	if stream, ok := act.Arguments["stream"].(bool); ok {
		evalCtx.IsStreaming = stream
	}
	if tools, ok := act.Arguments["tools"].([]interface{}); ok {
		evalCtx.HasTools = len(tools) > 0
	}
	evalCtx.PromptText = lastUserMessageText(act.Arguments["messages"])

	if v, ok := act.Metadata["spend_today_usd"].(float64); ok {
		evalCtx.SpendTodayUSD = v
	}
	if v, ok := act.Metadata["token_id"].(string); ok {
		evalCtx.TokenID = v
	}
	if v, ok := act.Metadata["org_id"].(string); ok {
		evalCtx.OrgID = v
	}
	if v, ok := act.Metadata["project_id"].(string); ok {
		evalCtx.ProjectID = v
	}
	if v, ok := act.Metadata["team_id"].(string); ok {
		evalCtx.TeamID = v
	}
}

// lastUserMessageText extracts the text content of the last "user" role
// message in an OpenAI-shaped messages array, for content-filter and
// external-guardrail conditions.
func lastUserMessageText(messages interface{}) string {
	list, ok := messages.([]interface{})
	if !ok {
		return ""
	}
	for i := len(list) - 1; i >= 0; i-- {
		msg, ok := list[i].(map[string]interface{})
		if !ok {
			continue
		}
		if role, _ := msg["role"].(string); role != "user" {
			continue
		}
		if content, ok := msg["content"].(string); ok {
			return content
		}
	}
	return ""
}
