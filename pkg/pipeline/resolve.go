package pipeline

import (
	"context"
	"fmt"

	"github.com/sprintly/backend/pkg/common"
	"github.com/sprintly/backend/pkg/progress"
)

// resolveBatch classifies records as new, existing or duplicate. Keys seen
// earlier in the run are never looked up again.
func (c *Client) resolveBatch(
	ctx context.Context,
	r *run,
	records []common.ConnectionRecord,
	seen map[common.IdentityKey]struct{},
) error {
	keys := make([]common.IdentityKey, len(records))
	lookup := make([]common.IdentityKey, 0, len(records))
	queued := make(map[common.IdentityKey]struct{}, len(records))
	for i, record := range records {
		key := common.NewIdentityKey(record.FullName(), record.Company, c.normalize)
		keys[i] = key
		if _, ok := seen[key]; ok {
			continue
		}
		if _, ok := queued[key]; ok {
			continue
		}
		queued[key] = struct{}{}
		lookup = append(lookup, key)
	}

	var found map[common.IdentityKey]int64
	if len(lookup) > 0 {
		var err error
		found, err = c.relational.LookupEntities(ctx, lookup)
		if err != nil {
			return fmt.Errorf("lookup entities: %w", err)
		}
	}

	for i, record := range records {
		key := keys[i]
		if _, dup := seen[key]; dup {
			r.tracker.Add(progress.CounterDuplicate, 1)
			r.tracker.Advance(progress.StageResolve, 1)
			continue
		}
		seen[key] = struct{}{}

		entity := common.NewEntityFromRecord(key, record)
		u := resolved{entity: entity, connectedOn: record.ConnectedOn}
		if id, ok := found[key]; ok {
			entity.ID = id
			u.existing = true
			r.tracker.Add(progress.CounterExisting, 1)
		} else {
			r.tracker.Add(progress.CounterNew, 1)
		}
		r.unique = append(r.unique, u)
		r.tracker.Advance(progress.StageResolve, 1)
	}
	return nil
}
