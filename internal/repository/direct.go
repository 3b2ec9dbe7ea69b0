package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

const directColumns = `m.id, m.conversation_id, m.author_id, m.kind, COALESCE(m.body,''), m.has_attachments, m.has_links,
	        m.created_at, m.edited_at, m.deleted_at,
	        u.id, u.display_name, u.avatar_url`

// DirectMessageRepository хранит сообщения личных переписок. Форма строки та же,
// что у комнатных сообщений (скан в model.Message с ContainerID = conversation_id);
// отдельная таблица и репозиторий — из-за другого правила доступа (ровно два
// участника вместо открытого членства).
type DirectMessageRepository struct {
	pool *pgxpool.Pool
}

func NewDirectMessageRepository(pool *pgxpool.Pool) *DirectMessageRepository {
	return &DirectMessageRepository{pool: pool}
}

// Create вставляет сообщение и обновляет last_message_at переписки.
// Обновление last_message_at — best-effort: сообщение важнее порядка списка.
func (r *DirectMessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("dm.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO direct_messages (id, conversation_id, author_id, kind, body, has_attachments, has_links, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, $8)`,
		m.ID, m.ContainerID, m.AuthorID, m.Kind, m.Body, m.HasAttachments, m.HasLinks, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("dmRepo.Create: %w", err)
	}
	if _, err := r.pool.Exec(ctx,
		`UPDATE conversations SET last_message_at = $1 WHERE id = $2 AND (last_message_at IS NULL OR last_message_at < $1)`,
		m.CreatedAt, m.ContainerID,
	); err != nil {
		logger.Errorf("dmRepo.Create touch conversation %s: %v", m.ContainerID, err)
	}
	return nil
}

func (r *DirectMessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("dm.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx,
		`SELECT `+directColumns+`
		 FROM direct_messages m
		 LEFT JOIN users u ON u.id = m.author_id
		 WHERE m.id = $1`, id,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("dmRepo.GetByID: %w", err)
	}
	return m, nil
}

// PageBefore — как msgRepo.PageBefore, но для переписки.
func (r *DirectMessageRepository) PageBefore(ctx context.Context, conversationID string, before *time.Time, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("dm.PageBefore", time.Now())()
	sql := `SELECT ` + directColumns + `
		 FROM direct_messages m
		 LEFT JOIN users u ON u.id = m.author_id
		 WHERE m.conversation_id = $1 AND m.deleted_at IS NULL`
	args := []any{conversationID}
	if before != nil {
		sql += ` AND m.created_at < $2`
		args = append(args, *before)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("dmRepo.PageBefore query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("dmRepo.PageBefore scan: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dmRepo.PageBefore rows: %w", err)
	}
	return messages, nil
}

func (r *DirectMessageRepository) Edit(ctx context.Context, id, authorID, body string, editedAt time.Time) error {
	defer logger.DeferLogDuration("dm.Edit", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE direct_messages SET body = NULLIF($1,''), edited_at = $2
		 WHERE id = $3 AND author_id = $4 AND kind = 'normal' AND deleted_at IS NULL
		   AND created_at >= $5`,
		body, editedAt, id, authorID, editedAt.Add(-model.EditWindow),
	)
	if err != nil {
		return fmt.Errorf("dmRepo.Edit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAuthorizationDenied
	}
	return nil
}

func (r *DirectMessageRepository) SoftDelete(ctx context.Context, id, authorID string, deletedAt time.Time) error {
	defer logger.DeferLogDuration("dm.SoftDelete", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE direct_messages SET deleted_at = $1
		 WHERE id = $2 AND author_id = $3 AND deleted_at IS NULL`,
		deletedAt, id, authorID,
	)
	if err != nil {
		return fmt.Errorf("dmRepo.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAuthorizationDenied
	}
	return nil
}
