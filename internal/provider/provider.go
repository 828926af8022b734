package provider

import (
	"context"
	"time"
)

// ContentProvider fetches the news bundle for a topic.
type ContentProvider interface {
	Fetch(ctx context.Context, query ContentQuery) (*ContentBundle, error)
}

// Transport delivers a rendered message to one WhatsApp number.
type Transport interface {
	Send(ctx context.Context, e164Phone, message string) (*SendResult, error)
}

type ContentQuery struct {
	Keywords    []string
	CountryCode string
	Language    string
}

type Article struct {
	Title       string
	Source      string
	PublishedAt string
	Link        string
	Description string
}

type ContentBundle struct {
	Articles  []Article
	FetchedAt time.Time
}

// Empty reports whether the provider matched nothing. An empty bundle is still a successful fetch.
func (b *ContentBundle) Empty() bool {
	return b == nil || len(b.Articles) == 0
}

// SendResult stores transport call metadata for the run audit trail.
type SendResult struct {
	StatusCode int
	MessageID  string
}
