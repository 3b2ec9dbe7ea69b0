package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campushub/internal/logger"
)

// MaintenanceRepository — фоновые чистки хранилища. Надгробия нужны живым
// сессиям и точечным чтениям недолго; старше срока хранения их можно убирать
// насовсем вместе с осиротевшим обогащением.
type MaintenanceRepository struct {
	pool *pgxpool.Pool
}

func NewMaintenanceRepository(pool *pgxpool.Pool) *MaintenanceRepository {
	return &MaintenanceRepository{pool: pool}
}

// PurgeTombstones удаляет мягко удалённые сообщения старше olderThan
// (по обеим таблицам лент и ответам тредов). Возвращает число удалённых строк.
func (r *MaintenanceRepository) PurgeTombstones(ctx context.Context, olderThan time.Duration) (int64, error) {
	defer logger.DeferLogDuration("maint.PurgeTombstones", time.Now())()
	cutoff := time.Now().UTC().Add(-olderThan)
	var total int64
	for _, table := range []string{"messages", "direct_messages", "thread_messages"} {
		tag, err := r.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE deleted_at IS NOT NULL AND deleted_at < $1`, table), cutoff,
		)
		if err != nil {
			return total, fmt.Errorf("maintRepo.PurgeTombstones %s: %w", table, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// ReconcileReplyCounts пересчитывает денормализованный reply_count тредов по
// фактическим живым ответам: инкременты на вставке могут разойтись с правдой
// после чисток надгробий. Возвращает число исправленных тредов.
func (r *MaintenanceRepository) ReconcileReplyCounts(ctx context.Context) (int64, error) {
	defer logger.DeferLogDuration("maint.ReconcileReplyCounts", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE threads t SET reply_count = actual.n
		 FROM (
		     SELECT th.id, COUNT(tm.id) FILTER (WHERE tm.deleted_at IS NULL) AS n
		     FROM threads th
		     LEFT JOIN thread_messages tm ON tm.thread_id = th.id
		     GROUP BY th.id
		 ) actual
		 WHERE actual.id = t.id AND t.reply_count <> actual.n`,
	)
	if err != nil {
		return 0, fmt.Errorf("maintRepo.ReconcileReplyCounts: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeStalePending удаляет превью ссылок, у которых unfurl так и не завершился
// (пустые title и description) за olderThan.
func (r *MaintenanceRepository) PurgeStalePending(ctx context.Context, olderThan time.Duration) (int64, error) {
	defer logger.DeferLogDuration("maint.PurgeStalePending", time.Now())()
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM link_previews
		 WHERE COALESCE(title,'') = '' AND COALESCE(description,'') = '' AND created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("maintRepo.PurgeStalePending: %w", err)
	}
	return tag.RowsAffected(), nil
}
