// Package enrich — обогащение сообщений: сохранение вложений и превью ссылок.
// Всё здесь best-effort: сбой обогащения никогда не откатывает сообщение.
package enrich

import (
	"net/url"
	"strings"
)

// maxLinksPerMessage ограничивает число разворачиваемых ссылок одного сообщения.
const maxLinksPerMessage = 5

// ExtractURLs находит в тексте http(s)-ссылки в порядке появления, без
// дубликатов. Хвостовая пунктуация ("смотри https://x.com/a.") отрезается.
func ExtractURLs(body string) []string {
	if !strings.Contains(body, "http") {
		return nil
	}
	seen := make(map[string]struct{}, 4)
	urls := make([]string, 0, 4)
	for _, tok := range strings.Fields(body) {
		if !strings.HasPrefix(tok, "http://") && !strings.HasPrefix(tok, "https://") {
			continue
		}
		tok = strings.TrimRight(tok, ".,;:!?)]}>\"'")
		u, err := url.Parse(tok)
		if err != nil || u.Host == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		urls = append(urls, tok)
		if len(urls) == maxLinksPerMessage {
			break
		}
	}
	return urls
}

// Domain возвращает хост ссылки без префикса www (подпись превью).
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}
