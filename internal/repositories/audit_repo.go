package repositories

import (
	"context"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (actor_telegram_id, actor_type, action, deal_id, meta)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ActorTelegramID, entry.ActorType, entry.Action, entry.DealID, entry.Meta)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r *AuditRepo) GetByDeal(ctx context.Context, dealID string, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_telegram_id, actor_type, action, deal_id, meta, created_at
		FROM audit_log WHERE deal_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, dealID, limit, offset)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var logs []models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		if err := rows.Scan(&l.ID, &l.ActorTelegramID, &l.ActorType, &l.Action, &l.DealID, &l.Meta, &l.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		logs = append(logs, l)
	}
	return logs, nil
}
