package provider

import (
	"fmt"
	"strings"
)

const (
	MaxRenderedArticles = 3
	MaxMessageRunes     = 4096
	maxSummaryRunes     = 200

	NoNewsNotice = "⚠️ No news found for your topic."
)

// VerificationMessage is the body dispatched on number registration and code resend.
func VerificationMessage(code string) string {
	return "Your WhatsApp News Bot verification code is: " + code
}

// RenderDigest formats the first articles of a bundle as a single WhatsApp message.
func RenderDigest(topicName string, bundle *ContentBundle) string {
	if bundle.Empty() {
		return NoNewsNotice
	}

	articles := bundle.Articles
	if len(articles) > MaxRenderedArticles {
		articles = articles[:MaxRenderedArticles]
	}

	blocks := make([]string, 0, len(articles)+1)
	if name := strings.TrimSpace(topicName); name != "" {
		blocks = append(blocks, fmt.Sprintf("📰 *%s*", name))
	}
	for _, a := range articles {
		var b strings.Builder
		fmt.Fprintf(&b, "🗞️ *%s*", a.Title)
		if summary := truncateRunes(a.Description, maxSummaryRunes); summary != "" {
			fmt.Fprintf(&b, "\n📌 %s", summary)
		}
		source := a.Source
		if source == "" {
			source = "Unknown"
		}
		fmt.Fprintf(&b, "\n📍 %s", source)
		if a.PublishedAt != "" {
			fmt.Fprintf(&b, " | 🕒 %s", a.PublishedAt)
		}
		if a.Link != "" {
			fmt.Fprintf(&b, "\n🔗 %s", a.Link)
		}
		blocks = append(blocks, b.String())
	}

	return truncateRunes(strings.Join(blocks, "\n\n"), MaxMessageRunes)
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
