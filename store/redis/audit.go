package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invenflow/jobcore/audit"
)

// AppendAudit pushes a record onto the audit trail. Newest records sit
// at the head of the list.
func (s *Store) AppendAudit(ctx context.Context, r *audit.Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("jobcore/redis: marshal audit record: %w", err)
	}
	if err := s.c().LPush(ctx, auditLogKey, b).Err(); err != nil {
		return s.wrap("append audit", err)
	}
	return nil
}

// ListAudit returns audit records newest first, up to limit. A
// non-positive limit returns the full trail.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]*audit.Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.c().LRange(ctx, auditLogKey, 0, stop).Result()
	if err != nil {
		return nil, s.wrap("list audit", err)
	}

	records := make([]*audit.Record, 0, len(raw))
	for _, item := range raw {
		var r audit.Record
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			continue
		}
		records = append(records, &r)
	}
	return records, nil
}
