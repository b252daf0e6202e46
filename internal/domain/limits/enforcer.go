// Package limits decides whether a user may perform a metered action.
//
// Every check is read-only. Any failure to read the subscription or its
// usage is turned into a denial; an enforcement error never grants access.
package limits

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/outcomesignal/entitlements-api/internal/domain/subscription"
	"github.com/outcomesignal/entitlements-api/internal/domain/tiers"
	"github.com/outcomesignal/entitlements-api/internal/domain/trial"
	"github.com/outcomesignal/entitlements-api/internal/types"
	"github.com/outcomesignal/entitlements-api/pkg/observability"
)

const (
	checkCreate   = "create"
	checkDocument = "document"
	checkExport   = "export"
)

// Checker is the entitlement contract consumed by the RPC layer.
type Checker interface {
	CheckCanCreate(ctx context.Context, userID string, kind types.ResourceKind) types.LimitCheckResult
	CheckCanGenerateDocument(ctx context.Context, userID string, doc types.DocumentType) types.LimitCheckResult
	CheckCanExport(ctx context.Context, userID string) types.LimitCheckResult
}

var _ Checker = (*Enforcer)(nil)

// Enforcer evaluates tier quotas and feature gates against a Store.
type Enforcer struct {
	store   subscription.Store
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewEnforcer(store subscription.Store, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		store:   store,
		logger:  logger,
		metrics: observability.GetMetrics(),
		now:     time.Now,
	}
}

// CheckCanCreate decides whether the user may create one more unit of kind
// in the current billing period. Allowed and limit_reached results both
// carry the period counters.
func (e *Enforcer) CheckCanCreate(ctx context.Context, userID string, kind types.ResourceKind) types.LimitCheckResult {
	ctx, span := otel.Tracer("LimitEnforcer").Start(ctx, "CheckCanCreate", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("resource.kind", string(kind)),
	))
	defer span.End()

	l := e.logger.With(slog.String("method", "CheckCanCreate"), slog.String("userID", userID), slog.String("kind", string(kind)))

	result := e.checkCreate(ctx, l, userID, kind)
	e.finish(ctx, l, span, checkCreate, result)
	return result
}

func (e *Enforcer) checkCreate(ctx context.Context, l *slog.Logger, userID string, kind types.ResourceKind) types.LimitCheckResult {
	sub, denied, ok := e.resolve(ctx, userID)
	if !ok {
		return denied
	}

	quota, err := quotaFor(sub.Tier, kind)
	if err != nil {
		return types.FailClosed(err)
	}
	if quota.IsUnlimited() {
		return types.Allow(sub.Tier)
	}

	period := subscription.CurrentPeriod(sub.CreatedAt, e.now())
	count, err := e.store.CountResourceUsage(ctx, userID, kind, period)
	if err != nil {
		return types.FailClosed(fmt.Errorf("counting %s usage: %w", kind, err))
	}

	limit := int(quota)
	if count >= limit {
		l.InfoContext(ctx, "Resource limit reached", slog.Int("count", count), slog.Int("limit", limit))
		return types.Deny(types.ReasonLimitReached, sub.Tier).WithUsage(count, limit)
	}
	return types.Allow(sub.Tier).WithUsage(count, limit)
}

// CheckCanGenerateDocument decides whether the user's tier unlocks doc.
func (e *Enforcer) CheckCanGenerateDocument(ctx context.Context, userID string, doc types.DocumentType) types.LimitCheckResult {
	ctx, span := otel.Tracer("LimitEnforcer").Start(ctx, "CheckCanGenerateDocument", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.String("document.type", string(doc)),
	))
	defer span.End()

	l := e.logger.With(slog.String("method", "CheckCanGenerateDocument"), slog.String("userID", userID), slog.String("documentType", string(doc)))

	result := e.checkFeature(ctx, userID, func(tier types.Tier) bool {
		return tiers.AllowsDocumentType(tier, doc)
	}, types.ReasonDocumentTypeRestricted)
	e.finish(ctx, l, span, checkDocument, result)
	return result
}

// CheckCanExport decides whether the user's tier may export documents.
func (e *Enforcer) CheckCanExport(ctx context.Context, userID string) types.LimitCheckResult {
	ctx, span := otel.Tracer("LimitEnforcer").Start(ctx, "CheckCanExport", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	l := e.logger.With(slog.String("method", "CheckCanExport"), slog.String("userID", userID))

	result := e.checkFeature(ctx, userID, tiers.ExportEnabled, types.ReasonExportRestricted)
	e.finish(ctx, l, span, checkExport, result)
	return result
}

func (e *Enforcer) checkFeature(ctx context.Context, userID string, enabled func(types.Tier) bool, reason types.DenialReason) types.LimitCheckResult {
	sub, denied, ok := e.resolve(ctx, userID)
	if !ok {
		return denied
	}
	if _, err := tiers.ParseTier(string(sub.Tier)); err != nil {
		return types.FailClosed(err)
	}
	if !enabled(sub.Tier) {
		return types.Deny(reason, sub.Tier)
	}
	return types.Allow(sub.Tier)
}

// resolve runs the checks shared by every gate: identity, provisioning and
// subscription status. ok is false when the returned result is final.
func (e *Enforcer) resolve(ctx context.Context, userID string) (*types.Subscription, types.LimitCheckResult, bool) {
	if userID == "" {
		return nil, types.Unauthorized(), false
	}

	lookup := e.store.Get(ctx, userID)
	switch lookup.Outcome {
	case types.LookupStoreError:
		return nil, types.FailClosed(lookup.Err), false
	case types.LookupNotFound:
		return nil, types.Unauthorized(), false
	case types.LookupFound:
	default:
		return nil, types.FailClosed(fmt.Errorf("unexpected lookup outcome %s", lookup.Outcome)), false
	}

	sub := lookup.Subscription
	switch sub.Status {
	case types.StatusExpired:
		return nil, types.Deny(types.ReasonTrialExpired, sub.Tier), false
	case types.StatusCanceled:
		return nil, types.Deny(types.ReasonSubscriptionCanceled, sub.Tier), false
	case types.StatusActive:
	}

	// A trial past its end is expired even if the sweep has not flipped it yet.
	if sub.IsTrial() {
		if days, ok := trial.DaysRemaining(sub.TrialEndsAt, e.now()); ok && days == 0 {
			return nil, types.Deny(types.ReasonTrialExpired, sub.Tier), false
		}
	}
	return sub, types.LimitCheckResult{}, true
}

func (e *Enforcer) finish(ctx context.Context, l *slog.Logger, span trace.Span, check string, result types.LimitCheckResult) {
	span.SetAttributes(
		attribute.Bool("entitlement.allowed", result.Allowed),
		attribute.String("entitlement.reason", string(result.Reason)),
	)
	if result.FailedClosed() {
		l.ErrorContext(ctx, "Entitlement check failed closed", slog.Any("error", result.Cause))
		span.RecordError(result.Cause)
		span.SetStatus(codes.Error, "Check failed closed")
		e.metrics.RecordDecision(check, false, "error")
		return
	}
	if !result.Allowed {
		l.DebugContext(ctx, "Entitlement denied", slog.String("reason", string(result.Reason)))
	}
	span.SetStatus(codes.Ok, "Check completed")
	e.metrics.RecordDecision(check, result.Allowed, string(result.Reason))
}

// quotaFor guards the catalog lookup against tier or kind values read from
// storage or the wire that the catalog does not know.
func quotaFor(tier types.Tier, kind types.ResourceKind) (tiers.Quota, error) {
	if _, err := tiers.ParseTier(string(tier)); err != nil {
		return 0, err
	}
	if _, err := tiers.ParseResourceKind(string(kind)); err != nil {
		return 0, err
	}
	return tiers.QuotaFor(tier, kind), nil
}
