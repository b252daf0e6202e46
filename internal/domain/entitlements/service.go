// Package entitlements defines the EntitlementService Connect surface: its
// procedures, messages, JSON codec and a typed client.
package entitlements

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
)

const ServiceName = "entitlements.v1.EntitlementService"

const (
	CheckCanCreateProcedure           = "/entitlements.v1.EntitlementService/CheckCanCreate"
	CheckCanGenerateDocumentProcedure = "/entitlements.v1.EntitlementService/CheckCanGenerateDocument"
	CheckCanExportProcedure           = "/entitlements.v1.EntitlementService/CheckCanExport"
	EnsureSubscriptionProcedure       = "/entitlements.v1.EntitlementService/EnsureSubscription"
	GetTrialStatusProcedure           = "/entitlements.v1.EntitlementService/GetTrialStatus"
	TrackPaywallEventProcedure        = "/entitlements.v1.EntitlementService/TrackPaywallEvent"
	RecordUsageProcedure              = "/entitlements.v1.EntitlementService/RecordUsage"
	ListPlansProcedure                = "/entitlements.v1.EntitlementService/ListPlans"
)

// PublicProcedures run without an authenticated user. Checks answer
// "unauthorized" themselves when identity is missing.
var PublicProcedures = []string{
	CheckCanCreateProcedure,
	CheckCanGenerateDocumentProcedure,
	CheckCanExportProcedure,
	ListPlansProcedure,
}

type ServiceHandler interface {
	CheckCanCreate(context.Context, *connect.Request[CheckCanCreateRequest]) (*connect.Response[CheckResponse], error)
	CheckCanGenerateDocument(context.Context, *connect.Request[CheckCanGenerateDocumentRequest]) (*connect.Response[CheckResponse], error)
	CheckCanExport(context.Context, *connect.Request[CheckCanExportRequest]) (*connect.Response[CheckResponse], error)
	EnsureSubscription(context.Context, *connect.Request[EnsureSubscriptionRequest]) (*connect.Response[SubscriptionResponse], error)
	GetTrialStatus(context.Context, *connect.Request[GetTrialStatusRequest]) (*connect.Response[TrialStatusResponse], error)
	TrackPaywallEvent(context.Context, *connect.Request[TrackPaywallEventRequest]) (*connect.Response[emptypb.Empty], error)
	RecordUsage(context.Context, *connect.Request[RecordUsageRequest]) (*connect.Response[emptypb.Empty], error)
	ListPlans(context.Context, *connect.Request[ListPlansRequest]) (*connect.Response[ListPlansResponse], error)
}

// NewServiceHandler builds an HTTP handler for every procedure and returns
// the path prefix to mount it on.
func NewServiceHandler(svc ServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
	readOnly := append([]connect.HandlerOption{connect.WithIdempotency(connect.IdempotencyNoSideEffects)}, opts...)

	handlers := map[string]http.Handler{
		CheckCanCreateProcedure:           connect.NewUnaryHandler(CheckCanCreateProcedure, svc.CheckCanCreate, readOnly...),
		CheckCanGenerateDocumentProcedure: connect.NewUnaryHandler(CheckCanGenerateDocumentProcedure, svc.CheckCanGenerateDocument, readOnly...),
		CheckCanExportProcedure:           connect.NewUnaryHandler(CheckCanExportProcedure, svc.CheckCanExport, readOnly...),
		EnsureSubscriptionProcedure:       connect.NewUnaryHandler(EnsureSubscriptionProcedure, svc.EnsureSubscription, opts...),
		GetTrialStatusProcedure:           connect.NewUnaryHandler(GetTrialStatusProcedure, svc.GetTrialStatus, readOnly...),
		TrackPaywallEventProcedure:        connect.NewUnaryHandler(TrackPaywallEventProcedure, svc.TrackPaywallEvent, opts...),
		RecordUsageProcedure:              connect.NewUnaryHandler(RecordUsageProcedure, svc.RecordUsage, opts...),
		ListPlansProcedure:                connect.NewUnaryHandler(ListPlansProcedure, svc.ListPlans, readOnly...),
	}

	return "/" + ServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// Client calls EntitlementService over the JSON codec.
type Client struct {
	checkCanCreate           *connect.Client[CheckCanCreateRequest, CheckResponse]
	checkCanGenerateDocument *connect.Client[CheckCanGenerateDocumentRequest, CheckResponse]
	checkCanExport           *connect.Client[CheckCanExportRequest, CheckResponse]
	ensureSubscription       *connect.Client[EnsureSubscriptionRequest, SubscriptionResponse]
	getTrialStatus           *connect.Client[GetTrialStatusRequest, TrialStatusResponse]
	trackPaywallEvent        *connect.Client[TrackPaywallEventRequest, emptypb.Empty]
	recordUsage              *connect.Client[RecordUsageRequest, emptypb.Empty]
	listPlans                *connect.Client[ListPlansRequest, ListPlansResponse]
}

func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	return &Client{
		checkCanCreate:           connect.NewClient[CheckCanCreateRequest, CheckResponse](httpClient, baseURL+CheckCanCreateProcedure, opts...),
		checkCanGenerateDocument: connect.NewClient[CheckCanGenerateDocumentRequest, CheckResponse](httpClient, baseURL+CheckCanGenerateDocumentProcedure, opts...),
		checkCanExport:           connect.NewClient[CheckCanExportRequest, CheckResponse](httpClient, baseURL+CheckCanExportProcedure, opts...),
		ensureSubscription:       connect.NewClient[EnsureSubscriptionRequest, SubscriptionResponse](httpClient, baseURL+EnsureSubscriptionProcedure, opts...),
		getTrialStatus:           connect.NewClient[GetTrialStatusRequest, TrialStatusResponse](httpClient, baseURL+GetTrialStatusProcedure, opts...),
		trackPaywallEvent:        connect.NewClient[TrackPaywallEventRequest, emptypb.Empty](httpClient, baseURL+TrackPaywallEventProcedure, opts...),
		recordUsage:              connect.NewClient[RecordUsageRequest, emptypb.Empty](httpClient, baseURL+RecordUsageProcedure, opts...),
		listPlans:                connect.NewClient[ListPlansRequest, ListPlansResponse](httpClient, baseURL+ListPlansProcedure, opts...),
	}
}

func (c *Client) CheckCanCreate(ctx context.Context, req *connect.Request[CheckCanCreateRequest]) (*connect.Response[CheckResponse], error) {
	return c.checkCanCreate.CallUnary(ctx, req)
}

func (c *Client) CheckCanGenerateDocument(ctx context.Context, req *connect.Request[CheckCanGenerateDocumentRequest]) (*connect.Response[CheckResponse], error) {
	return c.checkCanGenerateDocument.CallUnary(ctx, req)
}

func (c *Client) CheckCanExport(ctx context.Context, req *connect.Request[CheckCanExportRequest]) (*connect.Response[CheckResponse], error) {
	return c.checkCanExport.CallUnary(ctx, req)
}

func (c *Client) EnsureSubscription(ctx context.Context, req *connect.Request[EnsureSubscriptionRequest]) (*connect.Response[SubscriptionResponse], error) {
	return c.ensureSubscription.CallUnary(ctx, req)
}

func (c *Client) GetTrialStatus(ctx context.Context, req *connect.Request[GetTrialStatusRequest]) (*connect.Response[TrialStatusResponse], error) {
	return c.getTrialStatus.CallUnary(ctx, req)
}

func (c *Client) TrackPaywallEvent(ctx context.Context, req *connect.Request[TrackPaywallEventRequest]) (*connect.Response[emptypb.Empty], error) {
	return c.trackPaywallEvent.CallUnary(ctx, req)
}

func (c *Client) RecordUsage(ctx context.Context, req *connect.Request[RecordUsageRequest]) (*connect.Response[emptypb.Empty], error) {
	return c.recordUsage.CallUnary(ctx, req)
}

func (c *Client) ListPlans(ctx context.Context, req *connect.Request[ListPlansRequest]) (*connect.Response[ListPlansResponse], error) {
	return c.listPlans.CallUnary(ctx, req)
}
