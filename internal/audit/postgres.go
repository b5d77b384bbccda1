package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const writeTimeout = 800 * time.Millisecond

// PostgresSink stores audit records in mooring.audit_log.
type PostgresSink struct {
	pool *pgxpool.Pool
}

func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Write(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	details := rec.Details
	if details == nil {
		details = []byte("{}")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mooring.audit_log
			(id, action, resource_type, resource_id, security, details,
			 remote_ip, user_agent, trace_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Action, rec.ResourceType, rec.ResourceID, rec.Security,
		details, rec.RemoteIP, rec.UserAgent, rec.TraceID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("write audit record %s: %w", rec.Action, err)
	}
	return nil
}
