package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/id"
)

// CreateApproval persists a new pending request.
func (s *Store) CreateApproval(ctx context.Context, r *approval.Request) error {
	rID := r.ID.String()

	pipe := s.c().TxPipeline()
	pipe.HSet(ctx, approvalKey(rID), approvalToMap(r))
	pipe.SAdd(ctx, approvalIDsKey, rID)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrap("create approval", err)
	}
	return nil
}

// GetApproval retrieves a request by ID.
func (s *Store) GetApproval(ctx context.Context, approvalID id.ApprovalID) (*approval.Request, error) {
	vals, err := s.c().HGetAll(ctx, approvalKey(approvalID.String())).Result()
	if err != nil {
		return nil, s.wrap("get approval", err)
	}
	if len(vals) == 0 {
		return nil, jobcore.ErrApprovalNotFound
	}
	return mapToApproval(vals)
}

// UpdateApproval persists changes to an existing request.
func (s *Store) UpdateApproval(ctx context.Context, r *approval.Request) error {
	key := approvalKey(r.ID.String())

	exists, err := s.c().Exists(ctx, key).Result()
	if err != nil {
		return s.wrap("update approval exists", err)
	}
	if exists == 0 {
		return jobcore.ErrApprovalNotFound
	}

	fields := approvalToMap(r)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.c().HSet(ctx, key, fields).Err(); err != nil {
		return s.wrap("update approval", err)
	}
	return nil
}

// ListApprovals returns requests filtered by status, newest first.
func (s *Store) ListApprovals(ctx context.Context, status approval.Status) ([]*approval.Request, error) {
	ids, err := s.c().SMembers(ctx, approvalIDsKey).Result()
	if err != nil {
		return nil, s.wrap("list approvals", err)
	}

	reqs := make([]*approval.Request, 0, len(ids))
	for _, rID := range ids {
		vals, getErr := s.c().HGetAll(ctx, approvalKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		r, convErr := mapToApproval(vals)
		if convErr != nil {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		reqs = append(reqs, r)
	}

	sort.Slice(reqs, func(i, k int) bool {
		return reqs[i].CreatedAt.After(reqs[k].CreatedAt)
	})
	return reqs, nil
}

// ── helpers ──

func approvalToMap(r *approval.Request) map[string]any {
	m := map[string]any{
		"id":         r.ID.String(),
		"requester":  r.Requester,
		"action":     string(r.Action),
		"target":     r.Target,
		"params":     marshalJSON(r.Params),
		"rationale":  r.Rationale,
		"status":     string(r.Status),
		"resolver":   r.Resolver,
		"created_at": r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": r.UpdatedAt.Format(time.RFC3339Nano),
	}
	if r.ResolvedAt != nil {
		m["resolved_at"] = r.ResolvedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToApproval(m map[string]string) (*approval.Request, error) {
	rID, err := id.ParseApprovalID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobcore/redis: parse approval id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	r := &approval.Request{
		Entity: jobcore.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:        rID,
		Requester: m["requester"],
		Action:    approval.Action(m["action"]),
		Target:    m["target"],
		Params:    unmarshalMap(m["params"]),
		Rationale: m["rationale"],
		Status:    approval.Status(m["status"]),
		Resolver:  m["resolver"],
	}

	if v := m["resolved_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		r.ResolvedAt = &t
	}
	return r, nil
}
