package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/outcomesignal/entitlements-api/internal/domain/entitlements"
	"github.com/outcomesignal/entitlements-api/internal/domain/entitlements/presenter"
	"github.com/outcomesignal/entitlements-api/internal/domain/events"
	"github.com/outcomesignal/entitlements-api/internal/domain/limits"
	"github.com/outcomesignal/entitlements-api/internal/domain/subscription"
	"github.com/outcomesignal/entitlements-api/internal/domain/tiers"
	"github.com/outcomesignal/entitlements-api/internal/types"
	"github.com/outcomesignal/entitlements-api/pkg/interceptors"
)

var _ entitlements.ServiceHandler = (*EntitlementHandler)(nil)

type EntitlementHandler struct {
	checker  limits.Checker
	store    subscription.Store
	sink     events.Sink
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

func NewEntitlementHandler(checker limits.Checker, store subscription.Store, sink events.Sink, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		checker:  checker,
		store:    store,
		sink:     sink,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
	}
}

// Checks never require identity here: the enforcer turns a missing user
// into an "unauthorized" decision rather than an RPC error.

func (h *EntitlementHandler) CheckCanCreate(ctx context.Context, req *connect.Request[entitlements.CheckCanCreateRequest]) (*connect.Response[entitlements.CheckResponse], error) {
	if err := h.validate.Struct(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	kind, err := tiers.ParseResourceKind(req.Msg.ResourceKind)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	userID, _ := interceptors.UserIDFromContext(ctx)
	result := h.checker.CheckCanCreate(ctx, userID, kind)
	return connect.NewResponse(&result), nil
}

func (h *EntitlementHandler) CheckCanGenerateDocument(ctx context.Context, req *connect.Request[entitlements.CheckCanGenerateDocumentRequest]) (*connect.Response[entitlements.CheckResponse], error) {
	if err := h.validate.Struct(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	doc, err := tiers.ParseDocumentType(req.Msg.DocumentType)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	userID, _ := interceptors.UserIDFromContext(ctx)
	result := h.checker.CheckCanGenerateDocument(ctx, userID, doc)
	return connect.NewResponse(&result), nil
}

func (h *EntitlementHandler) CheckCanExport(ctx context.Context, _ *connect.Request[entitlements.CheckCanExportRequest]) (*connect.Response[entitlements.CheckResponse], error) {
	userID, _ := interceptors.UserIDFromContext(ctx)
	result := h.checker.CheckCanExport(ctx, userID)
	return connect.NewResponse(&result), nil
}

func (h *EntitlementHandler) EnsureSubscription(ctx context.Context, _ *connect.Request[entitlements.EnsureSubscriptionRequest]) (*connect.Response[entitlements.SubscriptionResponse], error) {
	userID, ok := interceptors.UserIDFromContext(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}

	sub, err := h.store.EnsureTrial(ctx, userID)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to ensure subscription",
			slog.String("user_id", userID), slog.Any("error", err))
		return nil, toConnectError(err)
	}
	return connect.NewResponse(presenter.ToSubscriptionResponse(sub, h.now())), nil
}

func (h *EntitlementHandler) GetTrialStatus(ctx context.Context, _ *connect.Request[entitlements.GetTrialStatusRequest]) (*connect.Response[entitlements.TrialStatusResponse], error) {
	userID, ok := interceptors.UserIDFromContext(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}

	lookup := h.store.Get(ctx, userID)
	switch lookup.Outcome {
	case types.LookupFound:
		return connect.NewResponse(presenter.ToTrialStatusResponse(lookup.Subscription, h.now())), nil
	case types.LookupNotFound:
		return nil, connect.NewError(connect.CodeNotFound, errors.New("subscription not provisioned"))
	default:
		h.logger.ErrorContext(ctx, "Failed to load subscription",
			slog.String("user_id", userID), slog.Any("error", lookup.Err))
		return nil, connect.NewError(connect.CodeInternal, errors.New("failed to load subscription"))
	}
}

func (h *EntitlementHandler) TrackPaywallEvent(ctx context.Context, req *connect.Request[entitlements.TrackPaywallEventRequest]) (*connect.Response[emptypb.Empty], error) {
	if err := h.validate.Struct(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	name, err := events.ParseName(req.Msg.Event)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	reason, err := events.ParseTriggerReason(req.Msg.TriggerReason)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	switch name {
	case events.PaywallShown:
		h.sink.PaywallShown(ctx, reason)
	case events.PaywallDismissed:
		h.sink.PaywallDismissed(ctx, reason)
	case events.PlanSelected:
		tier, err := tiers.ParseTier(req.Msg.Tier)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
		if tier == types.TierTrial {
			return nil, connect.NewError(connect.CodeInvalidArgument,
				fmt.Errorf("trial is not a selectable plan: %w", types.ErrBadRequest))
		}
		h.sink.PlanSelected(ctx, tier, reason)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

func (h *EntitlementHandler) RecordUsage(ctx context.Context, req *connect.Request[entitlements.RecordUsageRequest]) (*connect.Response[emptypb.Empty], error) {
	userID, ok := interceptors.UserIDFromContext(ctx)
	if !ok {
		return nil, connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	}
	if err := h.validate.Struct(req.Msg); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	kind, err := tiers.ParseResourceKind(req.Msg.ResourceKind)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	if err := h.store.RecordResourceUsage(ctx, userID, kind, req.Msg.Quantity); err != nil {
		h.logger.ErrorContext(ctx, "Failed to record usage",
			slog.String("user_id", userID),
			slog.String("resource_kind", string(kind)),
			slog.Any("error", err))
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&emptypb.Empty{}), nil
}

func (h *EntitlementHandler) ListPlans(context.Context, *connect.Request[entitlements.ListPlansRequest]) (*connect.Response[entitlements.ListPlansResponse], error) {
	return connect.NewResponse(&entitlements.ListPlansResponse{Plans: presenter.ToPlans()}), nil
}

// toConnectError maps store sentinels to RPC codes. Database details stay
// in the logs.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, types.ErrUnauthenticated):
		return connect.NewError(connect.CodeUnauthenticated, errors.New("authentication required"))
	case errors.Is(err, types.ErrBadRequest):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, types.ErrConflict):
		return connect.NewError(connect.CodeAborted, errors.New("concurrent provisioning, retry"))
	default:
		return connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}
}
