package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

type ThreadRepository struct {
	pool *pgxpool.Pool
}

func NewThreadRepository(pool *pgxpool.Pool) *ThreadRepository {
	return &ThreadRepository{pool: pool}
}

// GetOrCreate возвращает тред корневого сообщения, создавая его при первом
// ответе. Вставка условная по уникальному root_message_id: проигравший гонку
// первых ответов перечитывает существующую строку, это не ошибка.
func (r *ThreadRepository) GetOrCreate(ctx context.Context, rootMessageID string) (*model.Thread, error) {
	defer logger.DeferLogDuration("thread.GetOrCreate", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO threads (id, root_message_id, reply_count, created_at)
		 VALUES ($1, $2, 0, $3) ON CONFLICT (root_message_id) DO NOTHING`,
		uuid.New().String(), rootMessageID, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.GetOrCreate insert: %w", err)
	}
	return r.GetByRoot(ctx, rootMessageID)
}

func (r *ThreadRepository) GetByRoot(ctx context.Context, rootMessageID string) (*model.Thread, error) {
	defer logger.DeferLogDuration("thread.GetByRoot", time.Now())()
	t := &model.Thread{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, root_message_id, reply_count, last_reply_at, created_at
		 FROM threads WHERE root_message_id = $1`, rootMessageID,
	).Scan(&t.ID, &t.RootMessageID, &t.ReplyCount, &t.LastReplyAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadRepo.GetByRoot: %w", err)
	}
	return t, nil
}

// ReplyCounts возвращает счётчики ответов для корневых сообщений страницы.
// Сообщения без треда в карте отсутствуют.
func (r *ThreadRepository) ReplyCounts(ctx context.Context, rootMessageIDs []string) (map[string]int, error) {
	defer logger.DeferLogDuration("thread.ReplyCounts", time.Now())()
	if len(rootMessageIDs) == 0 {
		return map[string]int{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT root_message_id, reply_count FROM threads WHERE root_message_id = ANY($1)`,
		rootMessageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.ReplyCounts query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int, len(rootMessageIDs))
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("threadRepo.ReplyCounts scan: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

// CreateReply добавляет ответ и инкрементирует денормализованный счётчик.
func (r *ThreadRepository) CreateReply(ctx context.Context, m *model.ThreadMessage) error {
	defer logger.DeferLogDuration("thread.CreateReply", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("threadRepo.CreateReply begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO thread_messages (id, thread_id, author_id, kind, body, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ThreadID, m.AuthorID, m.Kind, m.Body, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("threadRepo.CreateReply insert: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE threads SET reply_count = reply_count + 1, last_reply_at = $1 WHERE id = $2`,
		m.CreatedAt, m.ThreadID,
	); err != nil {
		return fmt.Errorf("threadRepo.CreateReply count: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("threadRepo.CreateReply commit: %w", err)
	}
	return nil
}

func (r *ThreadRepository) GetReply(ctx context.Context, id string) (*model.ThreadMessage, error) {
	defer logger.DeferLogDuration("thread.GetReply", time.Now())()
	m := &model.ThreadMessage{}
	var authorID, authorName, authorAvatar *string
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.thread_id, m.author_id, m.kind, COALESCE(m.body,''), m.created_at, m.edited_at, m.deleted_at,
		        u.id, u.display_name, u.avatar_url
		 FROM thread_messages m
		 LEFT JOIN users u ON u.id = m.author_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ThreadID, &m.AuthorID, &m.Kind, &m.Body, &m.CreatedAt, &m.EditedAt, &m.DeletedAt,
		&authorID, &authorName, &authorAvatar)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("threadRepo.GetReply: %w", err)
	}
	if authorID != nil {
		m.Author = &model.UserPublic{ID: *authorID}
		if authorName != nil {
			m.Author.DisplayName = *authorName
		}
		if authorAvatar != nil {
			m.Author.AvatarURL = *authorAvatar
		}
	}
	if m.DeletedAt != nil {
		m.Body = ""
	}
	return m, nil
}

// ListMessages возвращает ответы треда в хронологическом порядке.
// Удалённые ответы остаются строками-надгробиями с подавленным телом.
func (r *ThreadRepository) ListMessages(ctx context.Context, threadID string) ([]model.ThreadMessage, error) {
	defer logger.DeferLogDuration("thread.ListMessages", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.thread_id, m.author_id, m.kind, COALESCE(m.body,''), m.created_at, m.edited_at, m.deleted_at,
		        u.id, u.display_name, u.avatar_url
		 FROM thread_messages m
		 LEFT JOIN users u ON u.id = m.author_id
		 WHERE m.thread_id = $1
		 ORDER BY m.created_at`, threadID,
	)
	if err != nil {
		return nil, fmt.Errorf("threadRepo.ListMessages query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.ThreadMessage, 0, 16)
	for rows.Next() {
		var m model.ThreadMessage
		var authorID, authorName, authorAvatar *string
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.AuthorID, &m.Kind, &m.Body, &m.CreatedAt, &m.EditedAt, &m.DeletedAt,
			&authorID, &authorName, &authorAvatar); err != nil {
			return nil, fmt.Errorf("threadRepo.ListMessages scan: %w", err)
		}
		if authorID != nil {
			m.Author = &model.UserPublic{ID: *authorID}
			if authorName != nil {
				m.Author.DisplayName = *authorName
			}
			if authorAvatar != nil {
				m.Author.AvatarURL = *authorAvatar
			}
		}
		if m.DeletedAt != nil {
			m.Body = ""
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("threadRepo.ListMessages rows: %w", err)
	}
	return messages, nil
}

func (r *ThreadRepository) EditReply(ctx context.Context, id, authorID, body string, editedAt time.Time) error {
	defer logger.DeferLogDuration("thread.EditReply", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE thread_messages SET body = NULLIF($1,''), edited_at = $2
		 WHERE id = $3 AND author_id = $4 AND kind = 'normal' AND deleted_at IS NULL
		   AND created_at >= $5`,
		body, editedAt, id, authorID, editedAt.Add(-model.EditWindow),
	)
	if err != nil {
		return fmt.Errorf("threadRepo.EditReply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAuthorizationDenied
	}
	return nil
}

func (r *ThreadRepository) SoftDeleteReply(ctx context.Context, id, authorID string, deletedAt time.Time) error {
	defer logger.DeferLogDuration("thread.SoftDeleteReply", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE thread_messages SET deleted_at = $1
		 WHERE id = $2 AND author_id = $3 AND deleted_at IS NULL`,
		deletedAt, id, authorID,
	)
	if err != nil {
		return fmt.Errorf("threadRepo.SoftDeleteReply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAuthorizationDenied
	}
	return nil
}
