package research

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"

	"script-studio/config"
	"script-studio/types"
)

// maxPageBytes caps how much of a reference page is read
const maxPageBytes = 2 << 20

// Pages fetches configured reference pages and keeps them as Markdown
type Pages struct {
	urls       []string
	httpClient *http.Client
	converter  *md.Converter
	userAgent  string
	maxExcerpt int
}

func NewPages(cfg config.ResearchConfig) *Pages {
	return &Pages{
		urls:       cfg.ReferencePages,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		converter:  md.NewConverter("", true, nil),
		userAgent:  cfg.UserAgent,
		maxExcerpt: cfg.MaxExcerptChars,
	}
}

func (p *Pages) Name() string { return "pages" }

// Search ignores the topic: reference pages are chosen by the operator.
func (p *Pages) Search(ctx context.Context, topic string) ([]types.ResearchItem, error) {
	var items []types.ResearchItem
	var errs []string
	for _, u := range p.urls {
		text, err := p.fetch(ctx, u)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		items = append(items, types.ResearchItem{
			Source:  "page",
			Title:   pageTitle(text, u),
			URL:     u,
			Excerpt: truncate(text, p.maxExcerpt),
		})
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return items, nil
}

func (p *Pages) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", url, err)
	}
	markdown, err := p.converter.ConvertString(string(body))
	if err != nil {
		return "", fmt.Errorf("converting %s to markdown: %w", url, err)
	}
	return strings.TrimSpace(markdown), nil
}

// pageTitle is the first Markdown heading, or the URL when there is none.
func pageTitle(markdown, fallback string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return fallback
}
