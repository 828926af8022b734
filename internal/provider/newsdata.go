package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	newsDataName           = "newsdata"
	defaultProviderTimeout = 15 * time.Second
)

type newsDataResponse struct {
	Status  string          `json:"status"`
	Results json.RawMessage `json:"results"`
}

type newsDataArticle struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Content     string `json:"content"`
	PubDate     string `json:"pubDate"`
	SourceID    string `json:"source_id"`
}

type newsDataError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// NewsDataProvider queries the newsdata.io /news endpoint.
type NewsDataProvider struct {
	client *resty.Client
	apiKey string
	now    func() time.Time
}

func NewNewsDataProvider(baseURL, apiKey string, timeout time.Duration) (*NewsDataProvider, error) {
	client := resty.New()
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	client.SetTimeout(timeout)

	return NewNewsDataProviderWithClient(baseURL, apiKey, client)
}

func NewNewsDataProviderWithClient(baseURL, apiKey string, client *resty.Client) (*NewsDataProvider, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("news api url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid news api url: %w", err)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("news api key is required")
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultProviderTimeout)
	}
	client.SetBaseURL(trimmedURL)
	client.SetRetryCount(0)

	return &NewsDataProvider{
		client: client,
		apiKey: apiKey,
		now:    time.Now,
	}, nil
}

func (p *NewsDataProvider) Fetch(ctx context.Context, query ContentQuery) (*ContentBundle, error) {
	if p == nil || p.client == nil {
		return nil, fmt.Errorf("news provider is not initialized")
	}
	if len(query.Keywords) == 0 {
		return nil, &ProviderError{Provider: newsDataName, Message: "at least one keyword is required"}
	}

	params := map[string]string{
		"apikey": p.apiKey,
		"q":      strings.Join(query.Keywords, " OR "),
	}
	if query.CountryCode != "" {
		params["country"] = query.CountryCode
	}
	if query.Language != "" {
		params["language"] = query.Language
	}

	response, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetHeader("Accept", "application/json").
		Get("/news")
	if err != nil {
		return nil, requestError(newsDataName, err)
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return nil, &ProviderError{
			Provider:   newsDataName,
			StatusCode: statusCode,
			Message:    statusErrorMessage(statusCode, response.String()),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	var payload newsDataResponse
	if err := json.Unmarshal(response.Body(), &payload); err != nil {
		return nil, &ProviderError{
			Provider:   newsDataName,
			StatusCode: statusCode,
			Message:    "malformed response body",
			Cause:      err,
		}
	}

	if !strings.EqualFold(payload.Status, "success") {
		var apiErr newsDataError
		_ = json.Unmarshal(payload.Results, &apiErr)
		return nil, &ProviderError{
			Provider:   newsDataName,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("api status %q: %s", payload.Status, apiErr.Message),
			Transient:  apiErr.Code == "RateLimitExceeded",
		}
	}

	var articles []newsDataArticle
	if len(payload.Results) > 0 && string(payload.Results) != "null" {
		if err := json.Unmarshal(payload.Results, &articles); err != nil {
			return nil, &ProviderError{
				Provider:   newsDataName,
				StatusCode: statusCode,
				Message:    "malformed results",
				Cause:      err,
			}
		}
	}

	bundle := &ContentBundle{
		Articles:  make([]Article, 0, len(articles)),
		FetchedAt: p.now().UTC(),
	}
	for _, a := range articles {
		if strings.TrimSpace(a.Title) == "" {
			continue
		}
		description := a.Description
		if strings.TrimSpace(description) == "" {
			description = a.Content
		}
		bundle.Articles = append(bundle.Articles, Article{
			Title:       strings.TrimSpace(a.Title),
			Source:      a.SourceID,
			PublishedAt: a.PubDate,
			Link:        a.Link,
			Description: strings.TrimSpace(description),
		})
	}

	return bundle, nil
}
