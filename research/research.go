// Package research gathers reference material for a project's topic from
// Reddit, YouTube and configured web pages. A source that fails is reported
// as a warning; the step only fails when every source fails.
package research

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"script-studio/config"
	"script-studio/types"
)

// Source returns items related to a topic
type Source interface {
	Name() string
	Search(ctx context.Context, topic string) ([]types.ResearchItem, error)
}

// Collector queries every source in turn
type Collector struct {
	sources []Source
	logger  *log.Logger
	now     func() time.Time
}

func NewCollector(logger *log.Logger, sources ...Source) *Collector {
	if logger == nil {
		logger = log.Default()
	}
	return &Collector{sources: sources, logger: logger, now: time.Now}
}

// FromEnv builds the sources whose credentials or settings are present.
func FromEnv(ctx context.Context, cfg config.ResearchConfig, logger *log.Logger) *Collector {
	if logger == nil {
		logger = log.Default()
	}
	var sources []Source

	if len(cfg.Subreddits) > 0 {
		r, err := NewReddit(cfg, RedditCredentials{
			ID:       os.Getenv("REDDIT_CLIENT_ID"),
			Secret:   os.Getenv("REDDIT_CLIENT_SECRET"),
			Username: os.Getenv("REDDIT_USERNAME"),
			Password: os.Getenv("REDDIT_PASSWORD"),
		})
		if err != nil {
			logger.Printf("[research] ⚠️  reddit disabled: %v", err)
		} else {
			sources = append(sources, r)
		}
	}

	yt, err := NewYouTube(ctx, cfg, YouTubeAuth{
		APIKey:       os.Getenv("YOUTUBE_API_KEY"),
		ClientID:     os.Getenv("YOUTUBE_CLIENT_ID"),
		ClientSecret: os.Getenv("YOUTUBE_CLIENT_SECRET"),
		RefreshToken: os.Getenv("YOUTUBE_REFRESH_TOKEN"),
	})
	switch {
	case err == nil:
		sources = append(sources, yt)
	case !errors.Is(err, errNoYouTubeAuth):
		logger.Printf("[research] ⚠️  youtube disabled: %v", err)
	}

	if len(cfg.ReferencePages) > 0 {
		sources = append(sources, NewPages(cfg))
	}
	return NewCollector(logger, sources...)
}

// Sources lists the configured source names.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

// Gather collects items for the project's topic. With no sources configured
// it returns an empty result.
func (c *Collector) Gather(ctx context.Context, p *types.Project) (*types.Research, error) {
	res := &types.Research{
		Topic:     p.Topic,
		Items:     []types.ResearchItem{},
		CreatedAt: c.now().UTC().Format(time.RFC3339),
	}
	if len(c.sources) == 0 {
		c.logger.Printf("[research] no sources configured, writing empty research for %s", p.ID)
		return res, nil
	}

	failed := 0
	for _, src := range c.sources {
		items, err := src.Search(ctx, p.Topic)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", src.Name(), err))
			c.logger.Printf("[research] %s warning: %v", src.Name(), err)
			continue
		}
		c.logger.Printf("[research] %s: found %d items", src.Name(), len(items))
		res.Items = append(res.Items, items...)
	}
	if failed == len(c.sources) {
		return nil, fmt.Errorf("no research source succeeded: %v", res.Warnings)
	}
	return res, nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
