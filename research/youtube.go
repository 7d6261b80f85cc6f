package research

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"script-studio/config"
	"script-studio/types"
)

var errNoYouTubeAuth = errors.New("YOUTUBE_API_KEY or YOUTUBE_CLIENT_ID/SECRET/REFRESH_TOKEN not set")

// YouTubeAuth takes either an API key or an OAuth refresh token
type YouTubeAuth struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// YouTube finds related videos through the Data API v3
type YouTube struct {
	svc        *youtube.Service
	maxResults int64
	maxExcerpt int
}

// NewYouTube builds the service. Extra options are appended after auth, so
// tests can point it at a local endpoint.
func NewYouTube(ctx context.Context, cfg config.ResearchConfig, auth YouTubeAuth, extra ...option.ClientOption) (*YouTube, error) {
	var opts []option.ClientOption
	switch {
	case auth.APIKey != "":
		opts = append(opts, option.WithAPIKey(auth.APIKey))
	case auth.ClientID != "" && auth.ClientSecret != "" && auth.RefreshToken != "":
		opts = append(opts, option.WithHTTPClient(oauthClient(ctx, auth)))
	default:
		return nil, errNoYouTubeAuth
	}
	opts = append(opts, extra...)

	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	n := cfg.YouTubeResults
	if n <= 0 {
		n = 5
	}
	return &YouTube{svc: svc, maxResults: n, maxExcerpt: cfg.MaxExcerptChars}, nil
}

// oauthClient refreshes an access token from the stored refresh token.
func oauthClient(ctx context.Context, auth YouTubeAuth) *http.Client {
	conf := &oauth2.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{youtube.YoutubeReadonlyScope},
	}
	token := &oauth2.Token{
		RefreshToken: auth.RefreshToken,
		Expiry:       time.Now().Add(-time.Hour), // force refresh
	}
	return oauth2.NewClient(ctx, conf.TokenSource(ctx, token))
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Search(ctx context.Context, topic string) ([]types.ResearchItem, error) {
	resp, err := y.svc.Search.List([]string{"snippet"}).
		Q(topic).
		Type("video").
		Order("relevance").
		MaxResults(y.maxResults).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	items := make([]types.ResearchItem, 0, len(resp.Items))
	for _, it := range resp.Items {
		if it.Id == nil || it.Id.VideoId == "" || it.Snippet == nil {
			continue
		}
		items = append(items, types.ResearchItem{
			Source:    "youtube",
			Title:     it.Snippet.Title,
			URL:       "https://www.youtube.com/watch?v=" + it.Id.VideoId,
			Excerpt:   truncate(it.Snippet.Description, y.maxExcerpt),
			Published: it.Snippet.PublishedAt,
		})
	}
	return items, nil
}
