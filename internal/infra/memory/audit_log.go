package memory

import (
	"context"

	"shopcheckout/internal/domain/model"
	repo "shopcheckout/internal/repository"
)

type AuditLogRepository struct {
	s *Store
	t *tx
}

func (r *AuditLogRepository) Create(ctx context.Context, log model.AuditLog) error {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	log.ID = r.s.seqAudit.Add(1)
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.s.now()
	}
	r.s.audit = append(r.s.audit, log)
	r.t.onRollback(func() {
		for i := len(r.s.audit) - 1; i >= 0; i-- {
			if r.s.audit[i].ID == log.ID {
				r.s.audit = append(r.s.audit[:i], r.s.audit[i+1:]...)
				return
			}
		}
	})
	return nil
}

//新しい順
func (r *AuditLogRepository) List(ctx context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	defer r.s.view(r.t)()
	r.s.tableMu.Lock()
	defer r.s.tableMu.Unlock()

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	out := []model.AuditLog{}
	skipped := 0
	for i := len(r.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		l := r.s.audit[i]
		if f.ActorUserID != nil && l.ActorUserID != *f.ActorUserID {
			continue
		}
		if f.Action != nil && l.Action != *f.Action {
			continue
		}
		if f.ResourceType != nil && l.ResourceType != *f.ResourceType {
			continue
		}
		if f.ResourceID != nil && l.ResourceID != *f.ResourceID {
			continue
		}
		if f.CreatedFrom != nil && l.CreatedAt.Before(*f.CreatedFrom) {
			continue
		}
		if f.CreatedTo != nil && l.CreatedAt.After(*f.CreatedTo) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, l)
	}
	return out, nil
}
