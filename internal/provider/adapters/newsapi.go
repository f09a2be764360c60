package adapters

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/kiarashplusplus/fiml/internal/market"
	"github.com/kiarashplusplus/fiml/internal/provider"
)

const newsAPIBaseURL = "https://newsapi.org/v2"

// NewsAPI serves company and asset news from newsapi.org. It also
// advertises the sentiment capability so the engine can merge
// sentiment built on its article stream. Requires an api_key.
type NewsAPI struct {
	*provider.Base
	baseURL string
}

// NewNewsAPI constructs the NewsAPI adapter.
func NewNewsAPI(cfg provider.Config) *NewsAPI {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = newsAPIBaseURL
	}
	return &NewsAPI{Base: provider.NewBase(cfg), baseURL: baseURL}
}

func (n *NewsAPI) Initialize(ctx context.Context) error {
	if n.Config().APIKey == "" {
		return provider.NewError(n.Name(), provider.KindAuth, "api_key not configured")
	}
	return n.Base.Initialize(ctx)
}

func (n *NewsAPI) Capabilities() []market.DataType {
	return []market.DataType{market.DataTypeNews, market.DataTypeSentiment}
}

// SupportsAsset accepts every kind: news coverage is not keyed to an
// instrument class.
func (n *NewsAPI) SupportsAsset(asset market.Asset) bool { return true }

// newsAPIResponse is the /v2/everything response subset we consume.
type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string    `json:"title"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
		Description string    `json:"description"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (n *NewsAPI) FetchNews(ctx context.Context, asset market.Asset, limit int) (*market.ProviderResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := asset.Symbol
	if asset.Name != "" {
		query = fmt.Sprintf("%s OR %q", asset.Symbol, asset.Name)
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("pageSize", fmt.Sprintf("%d", limit))
	q.Set("sortBy", "publishedAt")
	q.Set("language", "en")

	var payload newsAPIResponse
	headers := map[string]string{"X-Api-Key": n.Config().APIKey}
	if err := getJSON(ctx, n.Base, fmt.Sprintf("%s/everything?%s", n.baseURL, q.Encode()), headers, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "ok" {
		kind := provider.KindProtocol
		if payload.Code == "rateLimited" {
			kind = provider.KindRateLimit
		} else if payload.Code == "apiKeyInvalid" || payload.Code == "apiKeyExhausted" {
			kind = provider.KindAuth
		}
		return nil, provider.NewError(n.Name(), kind,
			fmt.Sprintf("upstream status %s: %s", payload.Code, payload.Message))
	}

	articles := make([]market.Article, 0, len(payload.Articles))
	for _, a := range payload.Articles {
		if a.URL == "" {
			continue
		}
		articles = append(articles, market.Article{
			Title:       a.Title,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: a.PublishedAt,
			Summary:     a.Description,
		})
	}

	data := map[string]any{
		"articles": articles,
		"query":    query,
	}
	return n.NewResponse(asset, market.DataTypeNews, data, 0.90), nil
}

func (n *NewsAPI) Completeness(dt market.DataType) float64 {
	switch dt {
	case market.DataTypeNews:
		return 0.95
	case market.DataTypeSentiment:
		return 0.70
	}
	return 0
}
