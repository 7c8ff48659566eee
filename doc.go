// Package beacon provides an embeddable webhook event delivery engine for Go.
//
// Business code dispatches domain events such as "deal.won"; Beacon records
// them, fans each one out to every active subscription of its type and
// delivers a signed JSON envelope over HTTP POST. Failed attempts are
// retried with exponential backoff, and subscriptions that keep failing
// are disabled automatically.
//
// Key features:
//   - HMAC-SHA256 signature on every delivery (X-Webhook-Signature)
//   - At-least-once delivery with a persistent ledger of every attempt
//   - Per-subscription retry policy, rate limit and custom headers
//   - Auto-disable after consecutive permanent failures
//   - Optional event type catalog with JSON Schema validation
//   - Composable store pattern (Memory, Redis, Postgres, SQLite, MongoDB, Bun)
//
// Quick start:
//
//	b, err := beacon.New(beacon.WithStore(memory.New()))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	b.Start(ctx)
//	defer b.Stop(ctx)
//
//	sub, err := b.Subscriptions().Create(ctx, subscription.Input{
//	    TargetURL:  "https://crm.example.com/hooks",
//	    EventTypes: []string{"deal.won"},
//	})
//
//	b.Publish(ctx, "deal.won", map[string]any{"deal_id": "d_123", "amount": 5000})
package beacon
