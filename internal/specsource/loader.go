// Package specsource acquires API description documents from local files or
// URLs and inspects them.
package specsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a local source file does not exist.
	ErrNotFound = errors.New("source not found")
	// ErrFetch is returned when a remote source cannot be retrieved.
	ErrFetch = errors.New("failed to fetch source")
	// ErrEmpty is returned when a source has no content.
	ErrEmpty = errors.New("source is empty")
)

var urlPattern = regexp.MustCompile(`(?i)^https?://` +
	`(?:(?:[A-Z0-9](?:[A-Z0-9-]{0,61}[A-Z0-9])?\.)+[A-Z]{2,6}\.?|localhost|\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})` +
	`(?::\d+)?` +
	`(?:/?|[/?]\S+)$`)

// maxSourceBytes caps remote documents.
const maxSourceBytes = 10 << 20

// Loader reads source documents.
type Loader struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLoader creates a loader with a 30 second fetch timeout.
func NewLoader(logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// SetHTTPClient replaces the client used for remote sources.
func (l *Loader) SetHTTPClient(c *http.Client) {
	l.httpClient = c
}

// IsURL reports whether source is an http(s) URL rather than a file path.
func IsURL(source string) bool {
	return urlPattern.MatchString(source)
}

// RawGitHubURL rewrites a github.com file page URL to its raw content URL.
// Other URLs are returned unchanged.
func RawGitHubURL(u string) string {
	if strings.Contains(u, "github.com") && strings.Contains(u, "/blob/") {
		u = strings.Replace(u, "github.com", "raw.githubusercontent.com", 1)
		u = strings.Replace(u, "/blob/", "/", 1)
	}
	return u
}

// Load returns the document at source, a file path or URL.
func (l *Loader) Load(ctx context.Context, source string) (string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return "", fmt.Errorf("%w: no source given", ErrEmpty)
	}
	if IsURL(source) {
		return l.fetch(ctx, RawGitHubURL(source))
	}
	return l.readFile(source)
}

func (l *Loader) fetch(ctx context.Context, u string) (string, error) {
	l.logger.Info("fetching source", zap.String("url", u))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetch, err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w from %s: %w", ErrFetch, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w from %s: status %d", ErrFetch, u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return "", fmt.Errorf("%w from %s: %w", ErrFetch, u, err)
	}

	content := strings.TrimSpace(string(body))
	if content == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, u)
	}
	l.logger.Info("fetched source", zap.String("url", u), zap.Int("bytes", len(content)))
	return content, nil
}

func (l *Loader) readFile(path string) (string, error) {
	l.logger.Info("loading source file", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("error reading file %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return "", fmt.Errorf("%w: %s", ErrEmpty, path)
	}
	return string(data), nil
}
