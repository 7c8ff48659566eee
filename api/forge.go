package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/catalog"
	"github.com/xraph/beacon/delivery"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/subscription"
)

// ForgeAPI registers the management API on a Forge router with OpenAPI
// metadata. It serves the same operations as Handler.
type ForgeAPI struct {
	beacon *beacon.Beacon
	log    forge.Logger
}

// NewForgeAPI creates a ForgeAPI for b.
func NewForgeAPI(b *beacon.Beacon, log forge.Logger) *ForgeAPI {
	return &ForgeAPI{
		beacon: b,
		log:    log,
	}
}

// RegisterRoutes registers all management routes into the given Forge router.
func (a *ForgeAPI) RegisterRoutes(router forge.Router) {
	a.registerSubscriptionRoutes(router)
	a.registerEventRoutes(router)
	a.registerDeliveryRoutes(router)
	a.registerEventTypeRoutes(router)
	a.registerStatsRoutes(router)
}

// ---------------------------------------------------------------------------
// Subscription routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerSubscriptionRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("subscriptions"))

	if err := g.POST("/subscriptions", a.createSubscription,
		forge.WithSummary("Create subscription"),
		forge.WithDescription("Registers a webhook subscription. The response is the only one that returns the signing secret."),
		forge.WithOperationID("createSubscription"),
		forge.WithRequestSchema(CreateSubscriptionForgeRequest{}),
		forge.WithCreatedResponse(subscription.Subscription{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register createSubscription route", forge.Error(err))
	}

	if err := g.GET("/subscriptions", a.listSubscriptions,
		forge.WithSummary("List subscriptions"),
		forge.WithDescription("Returns subscriptions oldest first."),
		forge.WithOperationID("listSubscriptions"),
		forge.WithRequestSchema(ListSubscriptionsForgeRequest{}),
		forge.WithListResponse(subscription.Subscription{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listSubscriptions route", forge.Error(err))
	}

	if err := g.GET("/subscriptions/:subscriptionId", a.getSubscription,
		forge.WithSummary("Get subscription"),
		forge.WithDescription("Returns a subscription with its health state."),
		forge.WithOperationID("getSubscription"),
		forge.WithResponseSchema(http.StatusOK, "Subscription details", subscription.Subscription{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getSubscription route", forge.Error(err))
	}

	if err := g.PUT("/subscriptions/:subscriptionId", a.updateSubscription,
		forge.WithSummary("Update subscription"),
		forge.WithDescription("Updates owner-editable fields. Health state is left unchanged."),
		forge.WithOperationID("updateSubscription"),
		forge.WithRequestSchema(UpdateSubscriptionForgeRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Updated subscription", subscription.Subscription{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register updateSubscription route", forge.Error(err))
	}

	if err := g.DELETE("/subscriptions/:subscriptionId", a.deleteSubscription,
		forge.WithSummary("Delete subscription"),
		forge.WithDescription("Deletes a subscription and its delivery history."),
		forge.WithOperationID("deleteSubscription"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register deleteSubscription route", forge.Error(err))
	}

	if err := g.POST("/subscriptions/:subscriptionId/activate", a.activateSubscription,
		forge.WithSummary("Activate subscription"),
		forge.WithDescription("Re-enables a subscription and clears its failure state."),
		forge.WithOperationID("activateSubscription"),
		forge.WithResponseSchema(http.StatusOK, "Activated subscription", subscription.Subscription{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register activateSubscription route", forge.Error(err))
	}

	if err := g.POST("/subscriptions/:subscriptionId/deactivate", a.deactivateSubscription,
		forge.WithSummary("Deactivate subscription"),
		forge.WithDescription("Stops deliveries to a subscription. Pending retries are cancelled when they come due."),
		forge.WithOperationID("deactivateSubscription"),
		forge.WithResponseSchema(http.StatusOK, "Deactivated subscription", subscription.Subscription{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register deactivateSubscription route", forge.Error(err))
	}

	if err := g.POST("/subscriptions/:subscriptionId/rotate-secret", a.rotateSecret,
		forge.WithSummary("Rotate secret"),
		forge.WithDescription("Generates a new signing secret for the subscription."),
		forge.WithOperationID("rotateSubscriptionSecret"),
		forge.WithResponseSchema(http.StatusOK, "New signing secret", SecretForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register rotateSecret route", forge.Error(err))
	}

	if err := g.GET("/subscriptions/:subscriptionId/deliveries", a.listSubscriptionDeliveries,
		forge.WithSummary("List subscription deliveries"),
		forge.WithDescription("Returns delivery attempts for a subscription, newest first."),
		forge.WithOperationID("listSubscriptionDeliveries"),
		forge.WithRequestSchema(ListSubscriptionDeliveriesForgeRequest{}),
		forge.WithListResponse(delivery.Attempt{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listSubscriptionDeliveries route", forge.Error(err))
	}
}

func (a *ForgeAPI) createSubscription(ctx forge.Context, req *CreateSubscriptionForgeRequest) (*createdSubscription, error) {
	in, err := req.request().input()
	if err != nil {
		return nil, mapError(err)
	}

	sub, err := a.beacon.Subscriptions().Create(ctx.Context(), in)
	if err != nil {
		return nil, mapError(err)
	}

	err = ctx.JSON(http.StatusCreated, createdSubscription{Subscription: sub, Secret: sub.Secret})
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listSubscriptions(ctx forge.Context, req *ListSubscriptionsForgeRequest) ([]*subscription.Subscription, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	opts := subscription.ListOpts{
		Offset:    req.Offset,
		Limit:     limit,
		EventType: req.EventType,
	}
	if req.Active == "true" || req.Active == "false" {
		active := req.Active == "true"
		opts.Active = &active
	}

	subs, err := a.beacon.Subscriptions().List(ctx.Context(), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return subs, nil
}

func (a *ForgeAPI) getSubscription(ctx forge.Context, req *SubscriptionForgeRequest) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, forge.BadRequest("invalid subscription ID")
	}

	sub, getErr := a.beacon.Subscriptions().Get(ctx.Context(), subID)
	if getErr != nil {
		return nil, mapError(getErr)
	}

	return sub, nil
}

func (a *ForgeAPI) updateSubscription(ctx forge.Context, req *UpdateSubscriptionForgeRequest) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, forge.BadRequest("invalid subscription ID")
	}

	patch, err := req.request().patch()
	if err != nil {
		return nil, mapError(err)
	}

	sub, updateErr := a.beacon.Subscriptions().Update(ctx.Context(), subID, patch)
	if updateErr != nil {
		return nil, mapError(updateErr)
	}

	return sub, nil
}

func (a *ForgeAPI) deleteSubscription(ctx forge.Context, req *SubscriptionForgeRequest) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, forge.BadRequest("invalid subscription ID")
	}

	if deleteErr := a.beacon.Subscriptions().Delete(ctx.Context(), subID); deleteErr != nil {
		return nil, mapError(deleteErr)
	}

	err = ctx.NoContent(http.StatusNoContent)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

func (a *ForgeAPI) activateSubscription(ctx forge.Context, req *SubscriptionForgeRequest) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, forge.BadRequest("invalid subscription ID")
	}

	sub, setErr := a.beacon.Subscriptions().Activate(ctx.Context(), subID)
	if setErr != nil {
		return nil, mapError(setErr)
	}

	return sub, nil
}

func (a *ForgeAPI) deactivateSubscription(ctx forge.Context, req *SubscriptionForgeRequest) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, forge.BadRequest("invalid subscription ID")
	}

	sub, setErr := a.beacon.Subscriptions().Deactivate(ctx.Context(), subID)
	if setErr != nil {
		return nil, mapError(setErr)
	}

	return sub, nil
}

func (a *ForgeAPI) rotateSecret(ctx forge.Context, req *SubscriptionForgeRequest) (*SecretForgeResponse, error) {
	subID, err := id.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, forge.BadRequest("invalid subscription ID")
	}

	newSecret, rotateErr := a.beacon.Subscriptions().RotateSecret(ctx.Context(), subID)
	if rotateErr != nil {
		return nil, mapError(rotateErr)
	}

	return &SecretForgeResponse{Secret: newSecret}, nil
}

func (a *ForgeAPI) listSubscriptionDeliveries(ctx forge.Context, req *ListSubscriptionDeliveriesForgeRequest) ([]*delivery.Attempt, error) {
	subID, err := id.ParseSubscriptionID(req.SubscriptionID)
	if err != nil {
		return nil, forge.BadRequest("invalid subscription ID")
	}

	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	atts, listErr := a.beacon.Deliveries().List(ctx.Context(), delivery.ListOpts{
		Offset:         req.Offset,
		Limit:          limit,
		SubscriptionID: subID,
		Status:         delivery.Status(req.Status),
	})
	if listErr != nil {
		return nil, mapError(listErr)
	}

	return atts, nil
}

// ---------------------------------------------------------------------------
// Event routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerEventRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("events"))

	if err := g.POST("/events", a.dispatchEvent,
		forge.WithSummary("Dispatch event"),
		forge.WithDescription("Persists an event and queues one delivery per matching active subscription."),
		forge.WithOperationID("dispatchEvent"),
		forge.WithRequestSchema(DispatchEventForgeRequest{}),
		forge.WithResponseSchema(http.StatusAccepted, "Dispatch result", beacon.DispatchResult{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register dispatchEvent route", forge.Error(err))
	}

	if err := g.GET("/events", a.listEvents,
		forge.WithSummary("List events"),
		forge.WithDescription("Returns dispatched events, newest first."),
		forge.WithOperationID("listEvents"),
		forge.WithRequestSchema(ListEventsForgeRequest{}),
		forge.WithListResponse(event.Event{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEvents route", forge.Error(err))
	}

	if err := g.GET("/events/:eventId", a.getEvent,
		forge.WithSummary("Get event"),
		forge.WithDescription("Returns details of a specific event."),
		forge.WithOperationID("getEvent"),
		forge.WithResponseSchema(http.StatusOK, "Event details", event.Event{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getEvent route", forge.Error(err))
	}
}

func (a *ForgeAPI) dispatchEvent(ctx forge.Context, req *DispatchEventForgeRequest) (*beacon.DispatchResult, error) {
	if req.Type == "" {
		return nil, forge.BadRequest("type is required")
	}

	evt := &event.Event{
		Type:    req.Type,
		Payload: req.Payload,
	}
	if req.ID != "" {
		evtID, err := id.ParseEventID(req.ID)
		if err != nil {
			return nil, forge.BadRequest("invalid event ID")
		}
		evt.ID = evtID
	}
	if req.OccurredAt != nil {
		evt.OccurredAt = req.OccurredAt.UTC()
	}

	res, err := a.beacon.Dispatch(ctx.Context(), evt)
	if err != nil {
		return nil, mapError(err)
	}

	err = ctx.JSON(http.StatusAccepted, res)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listEvents(ctx forge.Context, req *ListEventsForgeRequest) ([]*event.Event, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	opts := event.ListOpts{
		Offset: req.Offset,
		Limit:  limit,
		Type:   req.Type,
	}
	if req.From != "" {
		from, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			return nil, forge.BadRequest("invalid 'from' time format (use RFC3339)")
		}
		opts.From = &from
	}
	if req.To != "" {
		to, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			return nil, forge.BadRequest("invalid 'to' time format (use RFC3339)")
		}
		opts.To = &to
	}

	events, err := a.beacon.ListEvents(ctx.Context(), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return events, nil
}

func (a *ForgeAPI) getEvent(ctx forge.Context, req *GetEventForgeRequest) (*event.Event, error) {
	evtID, err := id.ParseEventID(req.EventID)
	if err != nil {
		return nil, forge.BadRequest("invalid event ID")
	}

	evt, getErr := a.beacon.GetEvent(ctx.Context(), evtID)
	if getErr != nil {
		return nil, mapError(getErr)
	}

	return evt, nil
}

// ---------------------------------------------------------------------------
// Delivery routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerDeliveryRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("deliveries"))

	if err := g.GET("/deliveries", a.listDeliveries,
		forge.WithSummary("List delivery attempts"),
		forge.WithDescription("Returns delivery attempts, newest first."),
		forge.WithOperationID("listDeliveries"),
		forge.WithRequestSchema(ListDeliveriesForgeRequest{}),
		forge.WithListResponse(delivery.Attempt{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listDeliveries route", forge.Error(err))
	}

	if err := g.GET("/deliveries/:deliveryId", a.getChain,
		forge.WithSummary("Get delivery chain"),
		forge.WithDescription("Returns every attempt of one delivery in attempt order."),
		forge.WithOperationID("getDeliveryChain"),
		forge.WithListResponse(delivery.Attempt{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getDeliveryChain route", forge.Error(err))
	}

	if err := g.POST("/deliveries/:deliveryId/redeliver", a.redeliver,
		forge.WithSummary("Redeliver"),
		forge.WithDescription("Starts a new delivery chain for a failed delivery."),
		forge.WithOperationID("redeliver"),
		forge.WithResponseSchema(http.StatusAccepted, "First attempt of the new chain", delivery.Attempt{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register redeliver route", forge.Error(err))
	}

	if err := g.GET("/attempts/:attemptId", a.getAttempt,
		forge.WithSummary("Get attempt"),
		forge.WithDescription("Returns a single delivery attempt."),
		forge.WithOperationID("getAttempt"),
		forge.WithResponseSchema(http.StatusOK, "Attempt details", delivery.Attempt{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getAttempt route", forge.Error(err))
	}
}

func (a *ForgeAPI) listDeliveries(ctx forge.Context, req *ListDeliveriesForgeRequest) ([]*delivery.Attempt, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	opts := delivery.ListOpts{
		Offset: req.Offset,
		Limit:  limit,
		Status: delivery.Status(req.Status),
	}
	if req.SubscriptionID != "" {
		subID, err := id.ParseSubscriptionID(req.SubscriptionID)
		if err != nil {
			return nil, forge.BadRequest("invalid subscription ID")
		}
		opts.SubscriptionID = subID
	}
	if req.EventID != "" {
		evtID, err := id.ParseEventID(req.EventID)
		if err != nil {
			return nil, forge.BadRequest("invalid event ID")
		}
		opts.EventID = evtID
	}

	atts, err := a.beacon.Deliveries().List(ctx.Context(), opts)
	if err != nil {
		return nil, mapError(err)
	}

	return atts, nil
}

func (a *ForgeAPI) getChain(ctx forge.Context, req *DeliveryForgeRequest) ([]*delivery.Attempt, error) {
	dlvID, err := id.ParseDeliveryID(req.DeliveryID)
	if err != nil {
		return nil, forge.BadRequest("invalid delivery ID")
	}

	chain, chainErr := a.beacon.Deliveries().Chain(ctx.Context(), dlvID)
	if chainErr != nil {
		return nil, mapError(chainErr)
	}

	return chain, nil
}

func (a *ForgeAPI) redeliver(ctx forge.Context, req *DeliveryForgeRequest) (*delivery.Attempt, error) {
	dlvID, err := id.ParseDeliveryID(req.DeliveryID)
	if err != nil {
		return nil, forge.BadRequest("invalid delivery ID")
	}

	att, redeliverErr := a.beacon.Redeliver(ctx.Context(), dlvID)
	if redeliverErr != nil {
		var queueErr *beacon.DispatchQueueError
		if !errors.As(redeliverErr, &queueErr) || att == nil {
			return nil, mapError(redeliverErr)
		}
		// The attempt is recorded; the sweep picks it up.
		a.log.Warn("redelivery not queued", forge.Error(redeliverErr))
	}

	err = ctx.JSON(http.StatusAccepted, att)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) getAttempt(ctx forge.Context, req *GetAttemptForgeRequest) (*delivery.Attempt, error) {
	attID, err := id.ParseAttemptID(req.AttemptID)
	if err != nil {
		return nil, forge.BadRequest("invalid attempt ID")
	}

	att, getErr := a.beacon.Deliveries().Get(ctx.Context(), attID)
	if getErr != nil {
		return nil, mapError(getErr)
	}

	return att, nil
}

// ---------------------------------------------------------------------------
// Event type routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerEventTypeRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("event-types"))

	if err := g.POST("/event-types", a.registerEventType,
		forge.WithSummary("Register event type"),
		forge.WithDescription("Registers or replaces an event type in the catalog."),
		forge.WithOperationID("registerEventType"),
		forge.WithRequestSchema(RegisterEventTypeForgeRequest{}),
		forge.WithCreatedResponse(catalog.EventType{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register registerEventType route", forge.Error(err))
	}

	if err := g.GET("/event-types", a.listEventTypes,
		forge.WithSummary("List event types"),
		forge.WithDescription("Returns registered event types sorted by name."),
		forge.WithOperationID("listEventTypes"),
		forge.WithRequestSchema(ListEventTypesForgeRequest{}),
		forge.WithListResponse(catalog.EventType{}, http.StatusOK),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register listEventTypes route", forge.Error(err))
	}

	if err := g.GET("/event-types/:name", a.getEventType,
		forge.WithSummary("Get event type"),
		forge.WithDescription("Returns details of a specific event type."),
		forge.WithOperationID("getEventType"),
		forge.WithResponseSchema(http.StatusOK, "Event type details", catalog.EventType{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getEventType route", forge.Error(err))
	}

	if err := g.DELETE("/event-types/:name", a.deprecateEventType,
		forge.WithSummary("Deprecate event type"),
		forge.WithDescription("Soft-deletes an event type. Dispatching events of this type will fail."),
		forge.WithOperationID("deprecateEventType"),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register deprecateEventType route", forge.Error(err))
	}
}

func (a *ForgeAPI) registerEventType(ctx forge.Context, req *RegisterEventTypeForgeRequest) (*catalog.EventType, error) {
	if req.Name == "" {
		return nil, forge.BadRequest("name is required")
	}

	def := catalog.Definition{
		Name:        req.Name,
		Description: req.Description,
		Group:       req.Group,
		Schema:      req.Schema,
		Version:     req.Version,
		Example:     req.Example,
	}

	et, err := a.beacon.Catalog().Register(def, req.Metadata)
	if err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	err = ctx.JSON(http.StatusCreated, et)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.JSON.
	return nil, nil
}

func (a *ForgeAPI) listEventTypes(_ forge.Context, req *ListEventTypesForgeRequest) ([]*catalog.EventType, error) {
	limit := req.Limit
	if limit == 0 {
		limit = 50
	}

	return a.beacon.Catalog().List(catalog.ListOpts{
		Offset:            req.Offset,
		Limit:             limit,
		Group:             req.Group,
		Pattern:           req.Pattern,
		IncludeDeprecated: req.IncludeDeprecated == "true",
	}), nil
}

func (a *ForgeAPI) getEventType(_ forge.Context, req *EventTypeForgeRequest) (*catalog.EventType, error) {
	et, err := a.beacon.Catalog().Get(req.Name)
	if err != nil {
		return nil, mapError(err)
	}

	return et, nil
}

func (a *ForgeAPI) deprecateEventType(ctx forge.Context, req *EventTypeForgeRequest) (*catalog.EventType, error) {
	if err := a.beacon.Catalog().Deprecate(req.Name); err != nil {
		return nil, mapError(err)
	}

	err := ctx.NoContent(http.StatusNoContent)
	if err != nil {
		return nil, mapError(err)
	}

	//nolint:nilnil // response already written via ctx.NoContent.
	return nil, nil
}

// ---------------------------------------------------------------------------
// Stats routes
// ---------------------------------------------------------------------------

func (a *ForgeAPI) registerStatsRoutes(router forge.Router) {
	g := router.Group("", forge.WithGroupTags("stats"))

	if err := g.GET("/stats", a.getStats,
		forge.WithSummary("Delivery statistics"),
		forge.WithDescription("Returns attempt counts by status and the work queue depth."),
		forge.WithOperationID("getStats"),
		forge.WithResponseSchema(http.StatusOK, "Delivery statistics", StatsForgeResponse{}),
		forge.WithErrorResponses(),
	); err != nil {
		a.log.Error("Failed to register getStats route", forge.Error(err))
	}
}

func (a *ForgeAPI) getStats(ctx forge.Context, _ *StatsForgeRequest) (*StatsForgeResponse, error) {
	stats, err := a.beacon.Deliveries().Stats(ctx.Context())
	if err != nil {
		return nil, mapError(err)
	}

	return &StatsForgeResponse{
		Attempts:   stats,
		QueueDepth: a.beacon.QueueLen(),
	}, nil
}
