package enrich

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/campushub/internal/model"
)

const (
	// unfurlTimeout ограничивает весь поход за страницей, включая редиректы.
	unfurlTimeout = 5 * time.Second
	// unfurlBodyLimit — сколько байт страницы читаем: метатеги живут в <head>.
	unfurlBodyLimit = 50 * 1024

	userAgent = "campushub-linkbot/1.0"
)

// Метатеги ищем регулярными выражениями в обоих порядках атрибутов:
// property до content и content до property.
var (
	reMetaPropContent = regexp.MustCompile(`(?is)<meta[^>]+(?:property|name)\s*=\s*["']([^"']+)["'][^>]+content\s*=\s*["']([^"']*)["']`)
	reMetaContentProp = regexp.MustCompile(`(?is)<meta[^>]+content\s*=\s*["']([^"']*)["'][^>]+(?:property|name)\s*=\s*["']([^"']+)["']`)
	reTitle           = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
)

// Unfurler скачивает страницу и вытаскивает Open Graph / стандартные метатеги.
type Unfurler struct {
	client *http.Client
}

func NewUnfurler() *Unfurler {
	return &Unfurler{client: &http.Client{Timeout: unfurlTimeout}}
}

// Unfurl возвращает превью для url. Ошибка сети или не-HTML ответ — это ошибка
// вызова; страница без метатегов ошибкой не является (превью из <title>).
func (u *Unfurler) Unfurl(ctx context.Context, messageID, rawURL string) (*model.LinkPreview, error) {
	ctx, cancel := context.WithTimeout(ctx, unfurlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unfurl: request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unfurl: fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unfurl: fetch %s: status %d", rawURL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("unfurl: %s: not html (%s)", rawURL, ct)
	}

	page, err := io.ReadAll(io.LimitReader(resp.Body, unfurlBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("unfurl: read %s: %w", rawURL, err)
	}

	lp := parsePage(string(page))
	lp.MessageID = messageID
	lp.URL = rawURL
	lp.Domain = Domain(rawURL)
	return lp, nil
}

func parsePage(page string) *model.LinkPreview {
	meta := make(map[string]string, 8)
	for _, m := range reMetaPropContent.FindAllStringSubmatch(page, -1) {
		key := strings.ToLower(m[1])
		if _, ok := meta[key]; !ok {
			meta[key] = html.UnescapeString(m[2])
		}
	}
	for _, m := range reMetaContentProp.FindAllStringSubmatch(page, -1) {
		key := strings.ToLower(m[2])
		if _, ok := meta[key]; !ok {
			meta[key] = html.UnescapeString(m[1])
		}
	}

	lp := &model.LinkPreview{
		Title:       meta["og:title"],
		Description: meta["og:description"],
		ImageURL:    meta["og:image"],
	}
	if lp.Title == "" {
		if m := reTitle.FindStringSubmatch(page); m != nil {
			lp.Title = strings.TrimSpace(html.UnescapeString(m[1]))
		}
	}
	if lp.Description == "" {
		lp.Description = meta["description"]
	}
	return lp
}
