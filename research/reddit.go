package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/vartanbeno/go-reddit/v2/reddit"

	"script-studio/config"
	"script-studio/types"
)

// RedditCredentials are optional; without them the read-only client is used.
type RedditCredentials struct {
	ID       string
	Secret   string
	Username string
	Password string
}

// Reddit searches configured subreddits for discussions of the topic
type Reddit struct {
	client     *reddit.Client
	subreddits []string
	limit      int
	timeframe  string
	minScore   int
	maxExcerpt int
}

func NewReddit(cfg config.ResearchConfig, creds RedditCredentials, opts ...reddit.Opt) (*Reddit, error) {
	opts = append([]reddit.Opt{reddit.WithUserAgent(cfg.UserAgent)}, opts...)

	var client *reddit.Client
	var err error
	if creds.ID != "" && creds.Secret != "" {
		client, err = reddit.NewClient(reddit.Credentials{
			ID:       creds.ID,
			Secret:   creds.Secret,
			Username: creds.Username,
			Password: creds.Password,
		}, opts...)
	} else {
		client, err = reddit.NewReadonlyClient(opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("reddit client: %w", err)
	}

	subs := cfg.Subreddits
	if len(subs) == 0 {
		subs = []string{"all"}
	}
	return &Reddit{
		client:     client,
		subreddits: subs,
		limit:      cfg.RedditLimit,
		timeframe:  cfg.RedditTime,
		minScore:   cfg.MinRedditScore,
		maxExcerpt: cfg.MaxExcerptChars,
	}, nil
}

func (r *Reddit) Name() string { return "reddit" }

func (r *Reddit) Search(ctx context.Context, topic string) ([]types.ResearchItem, error) {
	var items []types.ResearchItem
	var errs []string
	for _, sub := range r.subreddits {
		posts, _, err := r.client.Subreddit.SearchPosts(ctx, topic, sub, &reddit.ListPostSearchOptions{
			ListPostOptions: reddit.ListPostOptions{
				ListOptions: reddit.ListOptions{Limit: r.limit},
				Time:        r.timeframe,
			},
			Sort: "relevance",
		})
		if err != nil {
			errs = append(errs, fmt.Sprintf("r/%s: %v", sub, err))
			continue
		}
		for _, post := range posts {
			if post.Score < r.minScore {
				continue
			}
			item := types.ResearchItem{
				Source:  "reddit",
				Title:   post.Title,
				URL:     "https://www.reddit.com" + post.Permalink,
				Excerpt: truncate(strings.TrimSpace(post.Body), r.maxExcerpt),
				Score:   post.Score,
			}
			if post.Created != nil {
				item.Published = post.Created.UTC().Format("2006-01-02")
			}
			items = append(items, item)
		}
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return items, nil
}
