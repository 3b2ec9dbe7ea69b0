// Package local — дисковая реализация objstore.Store. Объекты лежат в одном
// каталоге под сгенерированными именами и хранятся в сжатом виде (.gz).
package local

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Блокируем только опасные расширения (исполняемые/скрипты). Остальные — разрешены.
var BlockedExt = map[string]bool{
	".exe": true, ".sh": true, ".js": true, ".bat": true, ".cmd": true,
	".php": true, ".py": true, ".rb": true,
}

var ErrBlockedType = fmt.Errorf("objstore: file type not allowed")
var ErrContentMismatch = fmt.Errorf("objstore: file content does not match type")

type Store struct {
	dir       string
	publicURL string // префикс раздачи, например /api/files
}

func New(dir, publicURL string) *Store {
	return &Store{dir: dir, publicURL: strings.TrimRight(publicURL, "/")}
}

// Put сохраняет объект под сгенерированным именем. Расширение берётся из
// filename и сверяется с магическими байтами содержимого.
func (s *Store) Put(ctx context.Context, filename, mime string, r io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if BlockedExt[ext] {
		return "", ErrBlockedType
	}

	head := make([]byte, 512)
	n, _ := io.ReadAtLeast(r, head, len(head))
	head = head[:n]
	if !matchMagic(ext, head) {
		return "", ErrContentMismatch
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("objstore: mkdir: %w", err)
	}

	ref := uuid.New().String() + ext
	dstPath := filepath.Join(s.dir, ref+".gz")
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("objstore: create: %w", err)
	}
	gz := gzip.NewWriter(dst)
	if _, err := gz.Write(head); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("objstore: write: %w", err)
	}
	if err := copyWithContext(ctx, gz, r); err != nil {
		gz.Close()
		dst.Close()
		os.Remove(dstPath)
		return "", err
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		os.Remove(dstPath)
		return "", fmt.Errorf("objstore: close gzip: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("objstore: close: %w", err)
	}
	return ref, nil
}

func (s *Store) PublicURL(ref string) string {
	return s.publicURL + "/" + ref
}

// Open отдаёт содержимое объекта (разархивирует при чтении). Файл без .gz —
// обратная совместимость со старыми каталогами.
func (s *Store) Open(ref string) (io.ReadCloser, error) {
	ref = filepath.Base(ref)
	if f, err := os.Open(filepath.Join(s.dir, ref+".gz")); err == nil {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("objstore: gzip: %w", err)
		}
		return &gzipFile{gz: gz, f: f}, nil
	}
	f, err := os.Open(filepath.Join(s.dir, ref))
	if err != nil {
		return nil, os.ErrNotExist
	}
	return f, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	g.gz.Close()
	return g.f.Close()
}

func matchMagic(ext string, head []byte) bool {
	switch ext {
	case ".jpg", ".jpeg":
		return len(head) >= 3 && head[0] == 0xFF && head[1] == 0xD8 && head[2] == 0xFF
	case ".png":
		return len(head) >= 8 && bytes.Equal(head[:8], []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A})
	case ".gif":
		return len(head) >= 6 && (bytes.Equal(head[:6], []byte("GIF87a")) || bytes.Equal(head[:6], []byte("GIF89a")))
	case ".webp":
		return len(head) >= 12 && bytes.Equal(head[8:12], []byte("WEBP"))
	case ".heic":
		return len(head) >= 12 && bytes.Equal(head[4:8], []byte("ftyp")) && (bytes.Equal(head[8:12], []byte("heic")) || bytes.Equal(head[8:12], []byte("heix")) || bytes.Equal(head[8:12], []byte("mif1")))
	case ".pdf":
		return len(head) >= 5 && bytes.Equal(head[:5], []byte("%PDF-"))
	case ".doc":
		return len(head) >= 8 && head[0] == 0xD0 && head[1] == 0xCF && head[2] == 0x11 && head[3] == 0xE0
	case ".docx":
		return len(head) >= 4 && head[0] == 0x50 && head[1] == 0x4B && (head[2] == 0x03 || head[2] == 0x05) && head[3] == 0x04
	case ".txt":
		return true
	}
	return true
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("objstore: upload cancelled: %w", ctx.Err())
		default:
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := dst.Write(buf[:n]); err != nil {
				return fmt.Errorf("objstore: write: %w", err)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("objstore: read: %w", readErr)
		}
	}
}
