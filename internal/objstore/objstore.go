// Package objstore — хранилище бинарных файлов вложений. В базе лежит только
// ключ (storage_ref); публичный URL выводится из ключа при чтении.
package objstore

import (
	"context"
	"io"
)

type Store interface {
	// Put сохраняет содержимое и возвращает ключ объекта.
	Put(ctx context.Context, filename, mime string, r io.Reader) (ref string, err error)
	// PublicURL выводит публичный адрес объекта по ключу.
	PublicURL(ref string) string
}
