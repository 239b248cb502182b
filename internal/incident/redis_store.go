package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/pam-platform/reliability/pkg/errors"
)

// Redis key layout:
//
//	incident:{id}                  JSON record, retention TTL
//	incidents:by_status:{status}   zset of IDs scored by creation time
//	incidents:by_severity:{sev}    zset of IDs scored by creation time
//
// Index members are re-scored on every save; stale index entries for
// expired records are skipped on read.
const (
	incidentKeyPrefix = "incident:"
	statusIndexPrefix = "incidents:by_status:"
	sevIndexPrefix    = "incidents:by_severity:"
)

// RedisStore persists incidents in Redis with TTL-based retention.
type RedisStore struct {
	client    redis.UniversalClient
	retention time.Duration
}

// NewRedisStore creates a store on an existing Redis client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{
		client:    client,
		retention: RetentionDays * 24 * time.Hour,
	}
}

// Save writes the incident record and refreshes its secondary indexes.
// The record key is WATCHed so a concurrent writer aborts the transaction,
// and the stored version is compared before the write.
func (s *RedisStore) Save(ctx context.Context, inc *Incident) error {
	key := incidentKeyPrefix + inc.IncidentID

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := tx.Get(ctx, key).Bytes()
		if err != nil && err != redis.Nil {
			return fmt.Errorf("failed to read incident %s: %w", inc.IncidentID, err)
		}
		if err == nil {
			var current Incident
			if uerr := json.Unmarshal(stored, &current); uerr != nil {
				return fmt.Errorf("failed to unmarshal incident %s: %w", inc.IncidentID, uerr)
			}
			if current.Version != inc.Version {
				return apperrors.Conflict(fmt.Sprintf("incident %s was modified concurrently", inc.IncidentID))
			}
		}

		next := *inc
		next.Version = inc.Version + 1
		data, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal incident %s: %w", inc.IncidentID, err)
		}
		score := float64(inc.CreatedAt.UnixMilli())

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.retention)

			// A status change must move the ID between index sets.
			for status := range statusOrder {
				if status == inc.Status {
					continue
				}
				pipe.ZRem(ctx, statusIndexPrefix+string(status), inc.IncidentID)
			}
			pipe.ZAdd(ctx, statusIndexPrefix+string(inc.Status), redis.Z{Score: score, Member: inc.IncidentID})
			pipe.Expire(ctx, statusIndexPrefix+string(inc.Status), s.retention)

			pipe.ZAdd(ctx, sevIndexPrefix+string(inc.Severity), redis.Z{Score: score, Member: inc.IncidentID})
			pipe.Expire(ctx, sevIndexPrefix+string(inc.Severity), s.retention)
			return nil
		})
		return err
	}, key)

	if err == redis.TxFailedErr {
		return apperrors.Conflict(fmt.Sprintf("incident %s was modified concurrently", inc.IncidentID))
	}
	if err != nil {
		if apperrors.Is(err, apperrors.CodeConflict) {
			return err
		}
		return fmt.Errorf("failed to save incident %s: %w", inc.IncidentID, err)
	}
	inc.Version++
	return nil
}

// Get returns the incident with the given ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Incident, error) {
	data, err := s.client.Get(ctx, incidentKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, apperrors.NotFound("incident")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}

	var inc Incident
	if err := json.Unmarshal(data, &inc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incident %s: %w", id, err)
	}
	return &inc, nil
}

// List returns incidents matching the filter, newest first. Status and
// severity filters use the sorted-set indexes; other filters are applied
// after the fetch.
func (s *RedisStore) List(ctx context.Context, filter ListFilter) ([]*Incident, error) {
	var ids []string
	var err error

	switch {
	case filter.Status != "":
		ids, err = s.client.ZRevRange(ctx, statusIndexPrefix+string(filter.Status), 0, -1).Result()
	case filter.Severity != "":
		ids, err = s.client.ZRevRange(ctx, sevIndexPrefix+string(filter.Severity), 0, -1).Result()
	default:
		ids, err = s.scanAll(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}

	indexed := filter.Status != "" || filter.Severity != ""

	out := make([]*Incident, 0, len(ids))
	for _, id := range ids {
		inc, err := s.Get(ctx, id)
		if apperrors.Is(err, apperrors.CodeNotFound) {
			// Index member outlived the expired record.
			continue
		}
		if err != nil {
			return nil, err
		}
		if filter.Severity != "" && inc.Severity != filter.Severity {
			continue
		}
		if filter.Category != "" && inc.Category != filter.Category {
			continue
		}
		out = append(out, inc)
		if indexed && filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}

	// SCAN returns keys in no particular order.
	if !indexed {
		sort.Slice(out, func(a, b int) bool {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		})
		if filter.Limit > 0 && len(out) > filter.Limit {
			out = out[:filter.Limit]
		}
	}
	return out, nil
}

// scanAll collects incident IDs without an index, for unfiltered listings.
func (s *RedisStore) scanAll(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, incidentKeyPrefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(incidentKeyPrefix):])
	}
	return ids, iter.Err()
}

// Ping verifies connectivity, used by the redis_connection health check.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
