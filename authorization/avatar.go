package authorization

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maxAvatarBytes int64 = 5 * 1024 * 1024

// AvatarStorage stores profile images beneath {uploads}/avatars on local disk.
type AvatarStorage struct {
	baseDir string
}

// NewAvatarStorageFromEnv initialises the avatar directory under UPLOADS_DIR
// (default ./public/uploads).
func NewAvatarStorageFromEnv() (*AvatarStorage, error) {
	root := strings.TrimSpace(os.Getenv("UPLOADS_DIR"))
	if root == "" {
		root = "./public/uploads"
	}
	abs, err := filepath.Abs(filepath.Join(root, "avatars"))
	if err != nil {
		return nil, fmt.Errorf("authorization: resolve avatar dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("authorization: ensure avatar dir: %w", err)
	}
	return &AvatarStorage{baseDir: abs}, nil
}

// Upload persists the provided image and returns its site-relative URL.
func (s *AvatarStorage) Upload(fileHeader *multipart.FileHeader) (string, error) {
	if s == nil {
		return "", errors.New("authorization: avatar storage not configured")
	}
	if fileHeader == nil {
		return "", errors.New("authorization: avatar file not provided")
	}
	if fileHeader.Size > 0 && fileHeader.Size > maxAvatarBytes {
		return "", fmt.Errorf("authorization: avatar size exceeds %d bytes", maxAvatarBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("authorization: open avatar: %w", err)
	}
	defer src.Close()

	head := make([]byte, 512)
	n, err := src.Read(head)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("authorization: read avatar: %w", err)
	}
	contentType := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(head[:n])
	}
	if !isAllowedAvatarContent(contentType) {
		return "", fmt.Errorf("authorization: unsupported avatar content type %q", contentType)
	}

	name := uuid.NewString() + avatarExtension(fileHeader.Filename, contentType)
	target := filepath.Join(s.baseDir, name)

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("authorization: create avatar file: %w", err)
	}
	defer dst.Close()

	if _, err := dst.Write(head[:n]); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("authorization: write avatar: %w", err)
	}
	written, err := io.Copy(dst, io.LimitReader(src, maxAvatarBytes))
	if err != nil {
		os.Remove(target)
		return "", fmt.Errorf("authorization: write avatar: %w", err)
	}
	if int64(n)+written > maxAvatarBytes {
		os.Remove(target)
		return "", fmt.Errorf("authorization: avatar size exceeds %d bytes", maxAvatarBytes)
	}

	return "/uploads/avatars/" + name, nil
}

// Remove deletes a previously stored avatar. External URLs (registration
// defaults, OAuth pictures) are left alone.
func (s *AvatarStorage) Remove(avatarURL string) error {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(avatarURL)
	if trimmed == "" || strings.Contains(trimmed, "://") {
		return nil
	}
	name := strings.TrimPrefix(trimmed, "/uploads/avatars/")
	if name == trimmed || name == "" || strings.Contains(name, "/") {
		return nil
	}
	err := os.Remove(filepath.Join(s.baseDir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func isAllowedAvatarContent(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png", "image/x-png":
		return true
	case "image/jpeg", "image/pjpeg":
		return true
	case "image/webp":
		return true
	case "image/gif":
		return true
	default:
		return false
	}
}

func avatarExtension(filename, contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png", "image/x-png":
		return ".png"
	case "image/jpeg", "image/pjpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" {
		return ".bin"
	}
	return ext
}
