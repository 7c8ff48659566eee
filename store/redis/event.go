package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/beacon"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/id"
	"github.com/xraph/beacon/internal/entity"
)

type eventModel struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:         evt.ID.String(),
		Type:       evt.Type,
		Payload:    evt.Payload,
		OccurredAt: evt.OccurredAt,
		CreatedAt:  evt.CreatedAt,
		UpdatedAt:  evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	return &event.Event{
		Entity: entity.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         evtID,
		Type:       m.Type,
		Payload:    m.Payload,
		OccurredAt: m.OccurredAt,
	}, nil
}

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	raw, err := marshal(m)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, entityKey(prefixEvent, m.ID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("beacon/redis: create event: %w", err)
	}
	if !ok {
		return beacon.ErrDuplicateEvent
	}

	err = s.rdb.ZAdd(ctx, zEventAll, goredis.Z{Score: scoreFromTime(m.CreatedAt), Member: m.ID}).Err()
	if err != nil {
		return fmt.Errorf("beacon/redis: index event: %w", err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	return s.loadEvent(ctx, evtID.String())
}

func (s *Store) loadEvent(ctx context.Context, evtID string) (*event.Event, error) {
	var m eventModel
	if err := s.getEntity(ctx, entityKey(prefixEvent, evtID), &m); err != nil {
		if isNotFound(err) {
			return nil, beacon.ErrEventNotFound
		}
		return nil, fmt.Errorf("beacon/redis: get event: %w", err)
	}
	return fromEventModel(&m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	lo, hi := negInf, posInf
	if opts.From != nil {
		lo = scoreFromTime(*opts.From)
	}
	if opts.To != nil {
		hi = scoreFromTime(*opts.To)
	}

	ids, err := s.zRangeByScoreIDs(ctx, zEventAll, lo, hi, 0)
	if err != nil {
		return nil, fmt.Errorf("beacon/redis: list events: %w", err)
	}

	result := make([]*event.Event, 0, len(ids))
	for _, evtID := range reversed(ids) {
		evt, err := s.loadEvent(ctx, evtID)
		if err != nil {
			if err == beacon.ErrEventNotFound { //nolint:errorlint // sentinel returned unwrapped
				continue
			}
			return nil, err
		}
		if opts.Type != "" && evt.Type != opts.Type {
			continue
		}
		result = append(result, evt)
	}

	return applyPagination(result, opts.Offset, opts.Limit), nil
}
