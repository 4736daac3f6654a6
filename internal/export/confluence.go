package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/confrag/confrag/internal/bridge"
	"github.com/confrag/confrag/internal/errors"
)

const (
	pageBatchSize = 50

	maxRetries     = 5
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 60 * time.Second
)

// ConfluenceExporter exports spaces over the Confluence REST API, rendering
// each page's storage format to markdown under the ambient output directory.
// Credentials and the output path come from the bridge settings installed by
// the orchestrator; the exporter itself holds no per-tenant state.
type ConfluenceExporter struct {
	client *http.Client
}

var _ SpaceExporter = (*ConfluenceExporter)(nil)

// NewConfluenceExporter creates an exporter with a shared HTTP client.
// Timeouts are per request; page listing paginates so individual calls stay
// small.
func NewConfluenceExporter() *ConfluenceExporter {
	return &ConfluenceExporter{
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type confluenceSpace struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

type confluencePage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
}

type confluencePageList struct {
	Results []confluencePage `json:"results"`
	Size    int              `json:"size"`
}

// ExportSpace fetches every page of a space and writes one markdown file per
// page into <output>/<SPACE_KEY>/. Re-export overwrites in place, so repeated
// runs are idempotent.
func (e *ConfluenceExporter) ExportSpace(ctx context.Context, key string) (*SpaceExport, error) {
	settings := bridge.Current()
	if settings == nil {
		return nil, errors.New(errors.ErrCodeInternal, "no bridge settings installed for export", nil)
	}

	space, err := e.getSpace(ctx, settings, key)
	if err != nil {
		return nil, err
	}

	spaceDir := filepath.Join(settings.OutputDir, key)
	if err := os.MkdirAll(spaceDir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to create space directory", err)
	}

	result := &SpaceExport{SpaceKey: space.Key, SpaceName: space.Name}
	start := 0
	for {
		pages, err := e.listPages(ctx, settings, key, start)
		if err != nil {
			return nil, err
		}
		if len(pages.Results) == 0 {
			break
		}

		for _, page := range pages.Results {
			relPath := filepath.Join(key, pageFileName(page.Title, page.ID))
			markdown := renderStorageToMarkdown(page.Title, page.Body.Storage.Value)
			fullPath := filepath.Join(settings.OutputDir, relPath)
			if err := os.WriteFile(fullPath, []byte(markdown), 0o644); err != nil {
				return nil, errors.New(errors.ErrCodeStateIO,
					fmt.Sprintf("failed to write page %s", page.ID), err)
			}
			result.Pages++
			result.Files = append(result.Files, relPath)
		}

		start += len(pages.Results)
		if len(pages.Results) < pageBatchSize {
			break
		}
	}

	// Pages deleted upstream since the last run would otherwise linger and
	// get indexed again; only files written by this export survive.
	if err := pruneStaleFiles(spaceDir, result.Files); err != nil {
		return nil, errors.New(errors.ErrCodeStateIO, "failed to prune stale pages", err)
	}

	return result, nil
}

// pruneStaleFiles removes markdown files in spaceDir not written by the
// current export run. written holds paths relative to the output directory.
func pruneStaleFiles(spaceDir string, written []string) error {
	keep := make(map[string]bool, len(written))
	for _, rel := range written {
		keep[filepath.Base(rel)] = true
	}

	entries, err := os.ReadDir(spaceDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") || keep[entry.Name()] {
			continue
		}
		if err := os.Remove(filepath.Join(spaceDir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (e *ConfluenceExporter) getSpace(ctx context.Context, settings *bridge.Settings, key string) (*confluenceSpace, error) {
	endpoint := fmt.Sprintf("%s/rest/api/space/%s", strings.TrimRight(settings.BaseURL, "/"), url.PathEscape(key))

	body, status, err := e.doGet(ctx, settings, endpoint)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, errors.New(errors.ErrCodeUpstreamRejected,
			fmt.Sprintf("space %q not found or not accessible", key), nil)
	}
	if status != http.StatusOK {
		return nil, errors.New(errors.ErrCodeUpstreamRejected,
			fmt.Sprintf("space lookup for %q returned status %d", key, status), nil)
	}

	var space confluenceSpace
	if err := json.Unmarshal(body, &space); err != nil {
		return nil, errors.New(errors.ErrCodeUpstreamRejected, "invalid space response", err)
	}
	return &space, nil
}

func (e *ConfluenceExporter) listPages(ctx context.Context, settings *bridge.Settings, key string, start int) (*confluencePageList, error) {
	endpoint := fmt.Sprintf("%s/rest/api/content?spaceKey=%s&type=page&start=%d&limit=%d&expand=body.storage",
		strings.TrimRight(settings.BaseURL, "/"), url.QueryEscape(key), start, pageBatchSize)

	body, status, err := e.doGet(ctx, settings, endpoint)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, errors.New(errors.ErrCodeUpstreamRejected,
			fmt.Sprintf("page listing for %q returned status %d", key, status), nil)
	}

	var pages confluencePageList
	if err := json.Unmarshal(body, &pages); err != nil {
		return nil, errors.New(errors.ErrCodeUpstreamRejected, "invalid page listing response", err)
	}
	return &pages, nil
}

// doGet performs an authenticated GET with backoff on throttle and gateway
// errors (429, 502, 503, 504).
func (e *ConfluenceExporter) doGet(ctx context.Context, settings *bridge.Settings, endpoint string) ([]byte, int, error) {
	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, 0, errors.New(errors.ErrCodeExportCanceled, "export canceled", ctx.Err())
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, 0, errors.New(errors.ErrCodeInternal, "failed to build request", err)
		}
		req.SetBasicAuth(settings.Username, settings.APIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, errors.New(errors.ErrCodeExportCanceled, "export canceled", ctx.Err())
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			lastErr = fmt.Errorf("upstream returned status %d", resp.StatusCode)
			continue
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, 0, errors.New(errors.ErrCodeUpstreamRejected,
				fmt.Sprintf("authentication rejected (status %d); check username and API token", resp.StatusCode), nil)
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, errors.New(errors.ErrCodeUpstreamUnreachable,
		fmt.Sprintf("upstream unreachable after %d attempts", maxRetries), lastErr)
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// pageFileName builds a stable markdown file name from the page title, with
// the page id as a suffix so retitled or duplicate-titled pages never
// collide.
func pageFileName(title, id string) string {
	slug := unsafeFileChars.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "page"
	}
	return fmt.Sprintf("%s-%s.md", slug, id)
}

var (
	headingPattern   = regexp.MustCompile(`(?s)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	codeBlockPattern = regexp.MustCompile(`(?s)<ac:structured-macro[^>]*ac:name="code"[^>]*>.*?<ac:plain-text-body><!\[CDATA\[(.*?)\]\]></ac:plain-text-body>.*?</ac:structured-macro>`)
	listItemPattern  = regexp.MustCompile(`(?s)<li[^>]*>(.*?)</li>`)
	paragraphPattern = regexp.MustCompile(`(?s)<p[^>]*>(.*?)</p>`)
	boldPattern      = regexp.MustCompile(`(?s)</?(?:strong|b)>`)
	italicPattern    = regexp.MustCompile(`(?s)</?(?:em|i)>`)
	codeSpanPattern  = regexp.MustCompile(`(?s)<code[^>]*>(.*?)</code>`)
	linkPattern      = regexp.MustCompile(`(?s)<a[^>]*href="([^"]*)"[^>]*>(.*?)</a>`)
	anyTagPattern    = regexp.MustCompile(`(?s)<[^>]+>`)
	blankRunPattern  = regexp.MustCompile(`\n{3,}`)
)

// renderStorageToMarkdown converts Confluence storage-format XHTML into
// markdown. The conversion is lossy on purpose: headings, paragraphs, lists,
// code, and links survive; layout macros and attachments are dropped. The
// output only needs to chunk and embed well, not round-trip.
func renderStorageToMarkdown(title, storage string) string {
	s := storage

	s = codeBlockPattern.ReplaceAllString(s, "\n```\n$1\n```\n")
	s = headingPattern.ReplaceAllStringFunc(s, func(m string) string {
		groups := headingPattern.FindStringSubmatch(m)
		level := int(groups[1][0] - '0')
		text := strings.TrimSpace(anyTagPattern.ReplaceAllString(groups[2], ""))
		return "\n" + strings.Repeat("#", level+1) + " " + text + "\n"
	})
	s = listItemPattern.ReplaceAllString(s, "\n- $1")
	s = paragraphPattern.ReplaceAllString(s, "\n$1\n")
	s = linkPattern.ReplaceAllString(s, "[$2]($1)")
	s = codeSpanPattern.ReplaceAllString(s, "`$1`")
	s = boldPattern.ReplaceAllString(s, "**")
	s = italicPattern.ReplaceAllString(s, "*")
	s = anyTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	return "# " + title + "\n\n" + s + "\n"
}
