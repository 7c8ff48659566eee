package subscription

import (
	"context"
	"log/slog"
	"strings"

	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
	"github.com/xraph/beacon/signature"
)

// Service provides subscription management operations.
type Service struct {
	store    Store
	defaults Policy
	logger   *slog.Logger
}

// NewService creates a new subscription service. Policy fields left unset on
// Input fall back to defaults.
func NewService(store Store, defaults Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		defaults: defaults,
		logger:   logger,
	}
}

// Defaults returns the policy applied to new subscriptions.
func (svc *Service) Defaults() Policy { return svc.defaults }

// Create registers a new subscription. The subscription starts active.
func (svc *Service) Create(ctx context.Context, in Input) (*Subscription, error) {
	if err := validateTargetURL(in.TargetURL); err != nil {
		return nil, err
	}
	if err := validateEventTypes(in.EventTypes); err != nil {
		return nil, err
	}
	if err := validateHeaders(in.Headers); err != nil {
		return nil, err
	}
	if err := validateRateLimit(in.RateLimit); err != nil {
		return nil, err
	}

	policy := in.applyPolicy(svc.defaults)
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		secret = signature.GenerateSecret()
	} else if strings.TrimSpace(secret) == "" {
		return nil, &ConfigurationError{Field: "secret", Message: "must not be blank"}
	}

	sub := &Subscription{
		Entity:      entity.New(),
		Policy:      policy,
		ID:          id.NewSubscriptionID(),
		TargetURL:   in.TargetURL,
		Secret:      secret,
		EventTypes:  dedupe(in.EventTypes),
		Headers:     in.Headers,
		IsActive:    true,
		Description: in.Description,
		Metadata:    in.Metadata,
	}
	if in.RateLimit != nil {
		sub.RateLimit = *in.RateLimit
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	svc.logger.Info("subscription created",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("target_url", sub.TargetURL),
		slog.Any("event_types", sub.EventTypes),
	)
	return sub, nil
}

// Get returns a subscription by ID.
func (svc *Service) Get(ctx context.Context, subID id.ID) (*Subscription, error) {
	return svc.store.GetSubscription(ctx, subID)
}

// Update modifies the owner-editable fields of a subscription. The signing
// secret and health state are not touched; use RotateSecret and Activate for
// those. The store re-checks the threshold against the live failure count,
// so a concurrent failure cannot leave an active subscription at or above
// its new threshold.
func (svc *Service) Update(ctx context.Context, subID id.ID, in Patch) (*Subscription, error) {
	sub, err := svc.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	if in.TargetURL != "" {
		if err := validateTargetURL(in.TargetURL); err != nil {
			return nil, err
		}
		sub.TargetURL = in.TargetURL
	}
	if in.EventTypes != nil {
		if err := validateEventTypes(in.EventTypes); err != nil {
			return nil, err
		}
		sub.EventTypes = dedupe(in.EventTypes)
	}
	if in.Headers != nil {
		if err := validateHeaders(in.Headers); err != nil {
			return nil, err
		}
		sub.Headers = in.Headers
	}
	if err := validateRateLimit(in.RateLimit); err != nil {
		return nil, err
	}
	if in.RateLimit != nil {
		sub.RateLimit = *in.RateLimit
	}

	policy := in.applyPolicy(sub.Policy)
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if in.AutoDisableThreshold != nil && policy.AutoDisableThreshold <= sub.ConsecutiveFailures {
		return nil, ErrThresholdNotAboveFailures
	}
	sub.Policy = policy

	if in.Description != "" {
		sub.Description = in.Description
	}
	if in.Metadata != nil {
		sub.Metadata = in.Metadata
	}

	sub.Touch()
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return svc.store.GetSubscription(ctx, subID)
}

// Delete removes a subscription together with its delivery attempts.
func (svc *Service) Delete(ctx context.Context, subID id.ID) error {
	if err := svc.store.DeleteSubscription(ctx, subID); err != nil {
		return err
	}
	svc.logger.Info("subscription deleted", slog.String("subscription_id", subID.String()))
	return nil
}

// List returns subscriptions matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Subscription, error) {
	return svc.store.ListSubscriptions(ctx, opts)
}

// FindMatching returns the active subscriptions for eventType.
func (svc *Service) FindMatching(ctx context.Context, eventType string) ([]*Subscription, error) {
	subs, err := svc.store.FindMatching(ctx, eventType)
	if err != nil {
		return nil, err
	}
	out := subs[:0]
	for _, s := range subs {
		if s.IsActive && s.Subscribes(eventType) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Activate re-enables a subscription and clears its failure state.
func (svc *Service) Activate(ctx context.Context, subID id.ID) (*Subscription, error) {
	if err := svc.store.SetActive(ctx, subID, true); err != nil {
		return nil, err
	}
	svc.logger.Info("subscription activated", slog.String("subscription_id", subID.String()))
	return svc.store.GetSubscription(ctx, subID)
}

// Deactivate stops deliveries to a subscription without deleting it.
func (svc *Service) Deactivate(ctx context.Context, subID id.ID) (*Subscription, error) {
	if err := svc.store.SetActive(ctx, subID, false); err != nil {
		return nil, err
	}
	svc.logger.Info("subscription deactivated", slog.String("subscription_id", subID.String()))
	return svc.store.GetSubscription(ctx, subID)
}

// RotateSecret generates a new signing secret and returns it. Attempts
// executed afterwards are signed with the new secret.
func (svc *Service) RotateSecret(ctx context.Context, subID id.ID) (string, error) {
	secret := signature.GenerateSecret()
	if err := svc.store.RotateSecret(ctx, subID, secret); err != nil {
		return "", err
	}
	svc.logger.Info("subscription secret rotated", slog.String("subscription_id", subID.String()))
	return secret, nil
}
