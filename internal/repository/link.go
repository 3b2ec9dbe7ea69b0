package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

type LinkRepository struct {
	pool *pgxpool.Pool
}

func NewLinkRepository(pool *pgxpool.Pool) *LinkRepository {
	return &LinkRepository{pool: pool}
}

// CreatePending вставляет маркер "ещё загружается": строку только с url.
// Повторная вставка той же пары (message_id, url) — no-op.
func (r *LinkRepository) CreatePending(ctx context.Context, messageID, url string) error {
	defer logger.DeferLogDuration("link.CreatePending", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO link_previews (message_id, url, created_at)
		 VALUES ($1, $2, $3) ON CONFLICT (message_id, url) DO NOTHING`,
		messageID, url, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("linkRepo.CreatePending: %w", err)
	}
	return nil
}

// Complete записывает метаданные страницы. Upsert по (message_id, url):
// повторный прогон обогащения не создаёт вторую строку.
func (r *LinkRepository) Complete(ctx context.Context, lp *model.LinkPreview) error {
	defer logger.DeferLogDuration("link.Complete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO link_previews (message_id, url, title, description, image_url, domain, created_at)
		 VALUES ($1, $2, NULLIF($3,''), NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), $7)
		 ON CONFLICT (message_id, url) DO UPDATE
		 SET title = EXCLUDED.title, description = EXCLUDED.description,
		     image_url = EXCLUDED.image_url, domain = EXCLUDED.domain`,
		lp.MessageID, lp.URL, lp.Title, lp.Description, lp.ImageURL, lp.Domain, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("linkRepo.Complete: %w", err)
	}
	return nil
}

func (r *LinkRepository) ListByMessage(ctx context.Context, messageID string) ([]model.LinkPreview, error) {
	defer logger.DeferLogDuration("link.ListByMessage", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, url, COALESCE(title,''), COALESCE(description,''), COALESCE(image_url,''), COALESCE(domain,''), created_at
		 FROM link_previews WHERE message_id = $1 ORDER BY created_at`, messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("linkRepo.ListByMessage query: %w", err)
	}
	defer rows.Close()

	links := make([]model.LinkPreview, 0, 2)
	for rows.Next() {
		var lp model.LinkPreview
		if err := rows.Scan(&lp.MessageID, &lp.URL, &lp.Title, &lp.Description, &lp.ImageURL, &lp.Domain, &lp.CreatedAt); err != nil {
			return nil, fmt.Errorf("linkRepo.ListByMessage scan: %w", err)
		}
		links = append(links, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("linkRepo.ListByMessage rows: %w", err)
	}
	return links, nil
}

// ListByMessages грузит превью страницы одним запросом.
func (r *LinkRepository) ListByMessages(ctx context.Context, messageIDs []string) (map[string][]model.LinkPreview, error) {
	defer logger.DeferLogDuration("link.ListByMessages", time.Now())()
	if len(messageIDs) == 0 {
		return map[string][]model.LinkPreview{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT message_id, url, COALESCE(title,''), COALESCE(description,''), COALESCE(image_url,''), COALESCE(domain,''), created_at
		 FROM link_previews WHERE message_id = ANY($1) ORDER BY created_at`, messageIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("linkRepo.ListByMessages query: %w", err)
	}
	defer rows.Close()

	byMsg := make(map[string][]model.LinkPreview, len(messageIDs))
	for rows.Next() {
		var lp model.LinkPreview
		if err := rows.Scan(&lp.MessageID, &lp.URL, &lp.Title, &lp.Description, &lp.ImageURL, &lp.Domain, &lp.CreatedAt); err != nil {
			return nil, fmt.Errorf("linkRepo.ListByMessages scan: %w", err)
		}
		byMsg[lp.MessageID] = append(byMsg[lp.MessageID], lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("linkRepo.ListByMessages rows: %w", err)
	}
	return byMsg, nil
}
