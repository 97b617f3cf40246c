package games

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// maxUploadBytes caps each uploaded part, archives included.
	maxUploadBytes int64 = 50 << 20

	uploadsURLPrefix = "/uploads/"
	gamesSubdir      = "games"
)

var (
	errUploadTooLarge = errors.New("games: uploaded file exceeds size limit")
	errUnsafeArchive  = errors.New("games: archive entry escapes game directory")
)

// assetStore keeps every game's files under <root>/games/<gameDirName>/ and
// speaks site-relative /uploads/... URLs to the rest of the package.
type assetStore struct {
	root string
}

func newAssetStoreFromEnv() (*assetStore, error) {
	root := strings.TrimSpace(os.Getenv("UPLOADS_DIR"))
	if root == "" {
		root = filepath.Join(".", "public", "uploads")
	}
	return newAssetStore(root)
}

func newAssetStore(root string) (*assetStore, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("games: resolve uploads dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(absolute, gamesSubdir), 0o755); err != nil {
		return nil, fmt.Errorf("games: create uploads dir: %w", err)
	}
	return &assetStore{root: absolute}, nil
}

// Root returns the uploads root served as /uploads.
func (s *assetStore) Root() string {
	return s.root
}

func (s *assetStore) gameDir(dirName string) string {
	return filepath.Join(s.root, gamesSubdir, dirName)
}

func (s *assetStore) EnsureGameDir(dirName string) error {
	if err := os.MkdirAll(s.gameDir(dirName), 0o755); err != nil {
		return fmt.Errorf("games: create game directory: %w", err)
	}
	return nil
}

// SaveUpload stores one uploaded part in the game directory under its
// sanitized client file name and returns the site-relative URL.
func (s *assetStore) SaveUpload(header *multipart.FileHeader, dirName string) (string, error) {
	return s.saveUploadAs(header, dirName, sanitizeFileName(header.Filename))
}

// SaveUploadAs stores an uploaded part under an explicit target name; the
// name is sanitized and deduplicated the same way SaveUpload does it.
func (s *assetStore) SaveUploadAs(header *multipart.FileHeader, dirName, fileName string) (string, error) {
	return s.saveUploadAs(header, dirName, sanitizeFileName(fileName))
}

func (s *assetStore) saveUploadAs(header *multipart.FileHeader, dirName, fileName string) (string, error) {
	if header.Size > maxUploadBytes {
		return "", errUploadTooLarge
	}
	if err := s.EnsureGameDir(dirName); err != nil {
		return "", err
	}

	target, finalName, err := s.uniquePath(dirName, fileName)
	if err != nil {
		return "", err
	}

	source, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("games: open uploaded file: %w", err)
	}
	defer source.Close()

	if err := writeFile(target, source); err != nil {
		return "", err
	}
	return s.relativeURL(dirName, finalName), nil
}

// ExtractArchive expands a zip upload into the game directory and returns
// the URLs of the extracted files. The archive itself is never kept.
// Entries whose base name starts with a dot and macOS resource forks are
// skipped; entries that would escape the game directory abort extraction.
func (s *assetStore) ExtractArchive(header *multipart.FileHeader, dirName string) ([]string, error) {
	if header.Size > maxUploadBytes {
		return nil, errUploadTooLarge
	}
	if err := s.EnsureGameDir(dirName); err != nil {
		return nil, err
	}

	source, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("games: open uploaded archive: %w", err)
	}
	defer source.Close()

	temp, err := os.CreateTemp("", "game-archive-*.zip")
	if err != nil {
		return nil, fmt.Errorf("games: stage archive: %w", err)
	}
	defer os.Remove(temp.Name())
	defer temp.Close()

	size, err := io.Copy(temp, io.LimitReader(source, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("games: stage archive: %w", err)
	}
	if size > maxUploadBytes {
		return nil, errUploadTooLarge
	}

	reader, err := zip.NewReader(temp, size)
	if err != nil {
		return nil, fmt.Errorf("games: read archive: %w", err)
	}

	base := s.gameDir(dirName)
	extracted := make([]string, 0, len(reader.File))
	for _, entry := range reader.File {
		cleaned, ok := sanitizeArchiveEntry(entry.Name)
		if !ok {
			if strings.Contains(entry.Name, "..") {
				return nil, errUnsafeArchive
			}
			continue
		}

		target := filepath.Join(base, filepath.FromSlash(cleaned))
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("games: extract archive: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, fmt.Errorf("games: extract archive: %w", err)
		}
		content, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("games: extract archive entry %q: %w", entry.Name, err)
		}
		err = writeFile(target, content)
		content.Close()
		if err != nil {
			return nil, err
		}
		extracted = append(extracted, s.relativeURL(dirName, cleaned))
	}
	return extracted, nil
}

// sanitizeArchiveEntry normalizes an archive entry path and reports whether
// the entry should be extracted at all.
func sanitizeArchiveEntry(name string) (string, bool) {
	normalized := strings.ReplaceAll(name, "\\", "/")
	cleaned := path.Clean(normalized)
	if cleaned == "." || cleaned == "/" {
		return "", false
	}
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == "__MACOSX" {
			return "", false
		}
	}
	if strings.HasPrefix(path.Base(cleaned), ".") {
		return "", false
	}
	return cleaned, true
}

// RemoveGameDir deletes the whole game directory. A directory that is
// already gone is not an error.
func (s *assetStore) RemoveGameDir(dirName string) error {
	dirName = strings.TrimSpace(dirName)
	if dirName == "" {
		return nil
	}
	if err := os.RemoveAll(s.gameDir(dirName)); err != nil {
		return fmt.Errorf("games: remove game directory: %w", err)
	}
	return nil
}

// RemoveByURL deletes a single stored file referenced by its site-relative
// URL. Missing files and external URLs are ignored.
func (s *assetStore) RemoveByURL(relURL string) error {
	local, err := s.LocalPath(relURL)
	if err != nil {
		return nil
	}
	if err := os.Remove(local); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("games: remove %s: %w", relURL, err)
	}
	return nil
}

// LocalPath maps a site-relative /uploads/... URL to its on-disk path.
func (s *assetStore) LocalPath(relURL string) (string, error) {
	if !strings.HasPrefix(relURL, uploadsURLPrefix) {
		return "", fmt.Errorf("games: %q is not an uploads URL", relURL)
	}
	relative := strings.TrimPrefix(relURL, uploadsURLPrefix)
	target := filepath.Join(s.root, filepath.FromSlash(relative))
	if target != s.root && !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("games: %q escapes the uploads directory", relURL)
	}
	return target, nil
}

func (s *assetStore) relativeURL(dirName, relPath string) string {
	return uploadsURLPrefix + path.Join(gamesSubdir, dirName, filepath.ToSlash(relPath))
}

// uniquePath picks a free file name inside the game directory, suffixing
// name_1.ext, name_2.ext and so on when the sanitized name is taken.
func (s *assetStore) uniquePath(dirName, fileName string) (string, string, error) {
	base := s.gameDir(dirName)
	stem, ext := splitExt(fileName)

	candidate := fileName
	for attempt := 1; ; attempt++ {
		target := filepath.Join(base, candidate)
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			return target, candidate, nil
		} else if err != nil {
			return "", "", fmt.Errorf("games: probe %s: %w", candidate, err)
		}
		candidate = fmt.Sprintf("%s_%d%s", stem, attempt, ext)
	}
}

// sanitizeFileName replaces every byte outside [A-Za-z0-9._-] with an
// underscore so client names cannot carry separators or shell metacharacters.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var builder strings.Builder
	builder.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			builder.WriteRune(r)
		default:
			builder.WriteRune('_')
		}
	}
	sanitized := builder.String()
	if sanitized == "" || strings.Trim(sanitized, ".") == "" {
		sanitized = "file"
	}
	return sanitized
}

func splitExt(fileName string) (string, string) {
	ext := filepath.Ext(fileName)
	return strings.TrimSuffix(fileName, ext), ext
}

func writeFile(target string, source io.Reader) error {
	destination, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("games: create %s: %w", filepath.Base(target), err)
	}
	if _, err := io.Copy(destination, source); err != nil {
		destination.Close()
		os.Remove(target)
		return fmt.Errorf("games: write %s: %w", filepath.Base(target), err)
	}
	if err := destination.Close(); err != nil {
		return fmt.Errorf("games: write %s: %w", filepath.Base(target), err)
	}
	return nil
}

func isArchiveUpload(fileName string) bool {
	return strings.HasSuffix(strings.ToLower(fileName), ".zip")
}

// sortedAssetKeys orders assetFile_{n} form keys numerically where possible
// so extraction order matches the order the client attached them.
func sortedAssetKeys(keys []string) []string {
	sort.Slice(keys, func(i, j int) bool {
		left, right := assetKeyIndex(keys[i]), assetKeyIndex(keys[j])
		if left != right {
			return left < right
		}
		return keys[i] < keys[j]
	})
	return keys
}

func assetKeyIndex(key string) int {
	suffix := strings.TrimPrefix(key, assetFieldPrefix)
	index := 0
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 1 << 30
		}
		index = index*10 + int(r-'0')
	}
	return index
}
