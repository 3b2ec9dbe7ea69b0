package enrich

import (
	"context"
	"time"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

// enrichBudget — общий бюджет фоновой обработки одного сообщения.
const enrichBudget = 30 * time.Second

type AttachmentStore interface {
	Create(ctx context.Context, a *model.Attachment) error
}

type LinkStore interface {
	CreatePending(ctx context.Context, messageID, url string) error
	Complete(ctx context.Context, lp *model.LinkPreview) error
}

// Worker выполняет обогащение отправленного сообщения в фоне. Каждая единица
// (вложение, ссылка) сохраняется независимо: сбой одной не трогает остальные
// и тем более само сообщение. Ссылка, у которой unfurl не удался, остаётся
// pending-строкой и рендерится голым адресом.
type Worker struct {
	attachments AttachmentStore
	links       LinkStore
	unfurler    *Unfurler
}

func NewWorker(attachments AttachmentStore, links LinkStore, unfurler *Unfurler) *Worker {
	return &Worker{attachments: attachments, links: links, unfurler: unfurler}
}

// Enrich запускает фоновую обработку и сразу возвращается. Контекст запроса
// не используется: обогащение переживает ответ клиенту.
func (w *Worker) Enrich(messageID string, atts []model.Attachment, urls []string) {
	if len(atts) == 0 && len(urls) == 0 {
		return
	}
	go w.run(messageID, atts, urls)
}

func (w *Worker) run(messageID string, atts []model.Attachment, urls []string) {
	defer logger.DeferLogDuration("enrich.run", time.Now())()
	ctx, cancel := context.WithTimeout(context.Background(), enrichBudget)
	defer cancel()

	for i := range atts {
		if err := w.attachments.Create(ctx, &atts[i]); err != nil {
			logger.Errorf("enrich: attachment %s of %s: %v", atts[i].ID, messageID, err)
		}
	}

	// Сначала pending-маркеры всех ссылок, потом медленные походы за страницами:
	// клиент видит "ссылка есть, превью грузится" сразу.
	for _, u := range urls {
		if err := w.links.CreatePending(ctx, messageID, u); err != nil {
			logger.Errorf("enrich: pending link %s of %s: %v", u, messageID, err)
		}
	}
	for _, u := range urls {
		lp, err := w.unfurler.Unfurl(ctx, messageID, u)
		if err != nil {
			logger.Infof("enrich: unfurl %s: %v", u, err)
			continue
		}
		if lp.Pending() {
			// Страница без метаданных: оставляем голую ссылку.
			continue
		}
		if err := w.links.Complete(ctx, lp); err != nil {
			logger.Errorf("enrich: complete link %s of %s: %v", u, messageID, err)
		}
	}
}
