package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

type AttachmentRepository struct {
	pool *pgxpool.Pool
}

func NewAttachmentRepository(pool *pgxpool.Pool) *AttachmentRepository {
	return &AttachmentRepository{pool: pool}
}

func (r *AttachmentRepository) Create(ctx context.Context, a *model.Attachment) error {
	defer logger.DeferLogDuration("attachment.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attachments (id, message_id, storage_ref, mime, width, height, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.MessageID, a.StorageRef, a.Mime, a.Width, a.Height, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("attachmentRepo.Create: %w", err)
	}
	return nil
}

func (r *AttachmentRepository) ListByMessage(ctx context.Context, messageID string) ([]model.Attachment, error) {
	defer logger.DeferLogDuration("attachment.ListByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, message_id, storage_ref, COALESCE(mime,''), width, height, created_at
		 FROM attachments WHERE message_id = $1 ORDER BY created_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("attachmentRepo.ListByMessage query: %w", err)
	}
	defer rows.Close()
	return scanAttachments(rows)
}

// ListByMessages грузит вложения страницы одним запросом.
func (r *AttachmentRepository) ListByMessages(ctx context.Context, messageIDs []string) (map[string][]model.Attachment, error) {
	defer logger.DeferLogDuration("attachment.ListByMessages", time.Now())()
	if len(messageIDs) == 0 {
		return map[string][]model.Attachment{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, message_id, storage_ref, COALESCE(mime,''), width, height, created_at
		 FROM attachments WHERE message_id = ANY($1) ORDER BY created_at`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("attachmentRepo.ListByMessages query: %w", err)
	}
	defer rows.Close()

	all, err := scanAttachments(rows)
	if err != nil {
		return nil, err
	}
	byMsg := make(map[string][]model.Attachment, len(messageIDs))
	for _, a := range all {
		byMsg[a.MessageID] = append(byMsg[a.MessageID], a)
	}
	return byMsg, nil
}

func scanAttachments(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.Attachment, error) {
	attachments := make([]model.Attachment, 0, 4)
	for rows.Next() {
		var a model.Attachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.StorageRef, &a.Mime, &a.Width, &a.Height, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("attachmentRepo scan: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attachmentRepo rows: %w", err)
	}
	return attachments, nil
}
