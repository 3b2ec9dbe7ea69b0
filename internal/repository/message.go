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

const messageColumns = `m.id, m.room_id, m.author_id, m.kind, COALESCE(m.body,''), m.has_attachments, m.has_links,
	        m.created_at, m.edited_at, m.deleted_at,
	        u.id, u.display_name, u.avatar_url`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, author_id, kind, body, has_attachments, has_links, created_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, $8)`,
		m.ID, m.ContainerID, m.AuthorID, m.Kind, m.Body, m.HasAttachments, m.HasLinks, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Create: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	author := &model.UserPublic{}
	var authorID, authorName, authorAvatar *string
	err := row.Scan(&m.ID, &m.ContainerID, &m.AuthorID, &m.Kind, &m.Body, &m.HasAttachments, &m.HasLinks,
		&m.CreatedAt, &m.EditedAt, &m.DeletedAt,
		&authorID, &authorName, &authorAvatar)
	if err != nil {
		return nil, err
	}
	if authorID != nil {
		author.ID = *authorID
		if authorName != nil {
			author.DisplayName = *authorName
		}
		if authorAvatar != nil {
			author.AvatarURL = *authorAvatar
		}
		m.Author = author
	}
	// Tombstone: body and enrichment of a deleted row are never surfaced.
	if m.DeletedAt != nil {
		m.Body = ""
		m.HasAttachments = false
		m.HasLinks = false
	}
	return m, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.author_id
		 WHERE m.id = $1`, id,
	)
	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// PageBefore returns up to limit non-deleted messages of a room strictly older
// than before (or the newest ones when before is nil), newest first. The caller
// reverses the slice for display.
func (r *MessageRepository) PageBefore(ctx context.Context, roomID string, before *time.Time, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.PageBefore", time.Now())()
	sql := `SELECT ` + messageColumns + `
		 FROM messages m
		 LEFT JOIN users u ON u.id = m.author_id
		 WHERE m.room_id = $1 AND m.deleted_at IS NULL`
	args := []any{roomID}
	if before != nil {
		sql += ` AND m.created_at < $2`
		args = append(args, *before)
	}
	args = append(args, limit)
	sql += fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.PageBefore query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("msgRepo.PageBefore scan: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.PageBefore rows: %w", err)
	}
	return messages, nil
}

// Edit updates the body within policy: author only, kind=normal, not deleted,
// created less than the edit window ago. The predicate mirrors the client-side
// check; zero affected rows means the store rejected the edit.
func (r *MessageRepository) Edit(ctx context.Context, id, authorID, body string, editedAt time.Time) error {
	defer logger.DeferLogDuration("msg.Edit", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET body = NULLIF($1,''), edited_at = $2
		 WHERE id = $3 AND author_id = $4 AND kind = 'normal' AND deleted_at IS NULL
		   AND created_at >= $5`,
		body, editedAt, id, authorID, editedAt.Add(-model.EditWindow),
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Edit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAuthorizationDenied
	}
	return nil
}

// SoftDelete sets deleted_at, keeping the row as a tombstone.
func (r *MessageRepository) SoftDelete(ctx context.Context, id, authorID string, deletedAt time.Time) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted_at = $1
		 WHERE id = $2 AND author_id = $3 AND deleted_at IS NULL`,
		deletedAt, id, authorID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAuthorizationDenied
	}
	return nil
}
