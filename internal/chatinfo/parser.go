// Package chatinfo scrapes the public t.me preview page of a group or
// channel. Best-effort only: it feeds extra context into admin dispute
// alerts and is never on any state-changing path.
package chatinfo

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

type ChatPreview struct {
	Username  string    `json:"username"`
	Title     string    `json:"title"`
	Members   *int      `json:"members,omitempty"`
	Verified  bool      `json:"verified"`
	FetchedAt time.Time `json:"fetched_at"`
}

type Parser struct {
	httpClient *http.Client
	log        *zap.Logger
	maxRetries int
}

func NewParser(timeoutMS, maxRetries int, log *zap.Logger) *Parser {
	return &Parser{
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		log:        log,
		maxRetries: maxRetries,
	}
}

func (p *Parser) FetchPreview(ctx context.Context, username string) (*ChatPreview, error) {
	url := fmt.Sprintf("https://t.me/%s", strings.TrimPrefix(username, "@"))

	var doc *goquery.Document
	var lastErr error

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
			time.Sleep(time.Duration(attempt+1) * 500 * time.Millisecond)
			continue
		}

		doc, err = goquery.NewDocumentFromReader(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		return nil, lastErr
	}

	preview := &ChatPreview{
		Username:  strings.TrimPrefix(username, "@"),
		FetchedAt: time.Now(),
	}

	preview.Title = strings.TrimSpace(doc.Find(".tgme_page_title span").First().Text())
	if preview.Title == "" {
		preview.Title = strings.TrimSpace(doc.Find(".tgme_page_title").First().Text())
	}

	doc.Find(".tgme_page_extra").Each(func(i int, s *goquery.Selection) {
		text := strings.ToLower(strings.TrimSpace(s.Text()))
		if strings.Contains(text, "member") || strings.Contains(text, "subscriber") {
			if n := parseCount(text); n > 0 {
				preview.Members = &n
			}
		}
	})

	if doc.Find(".verified-icon").Length() > 0 {
		preview.Verified = true
	}

	return preview, nil
}

// parseCount turns counters like "1.2K members" or "12,345" into an int.
func parseCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	// Strip everything after the number block ("2.5K members" -> "2.5K").
	// K/M suffixes only count right after a digit, so the leading 'm' of
	// "members" is not mistaken for millions.
	var b strings.Builder
	seen := false
	var prev rune
	for _, c := range s {
		isDigit := c >= '0' && c <= '9'
		isSuffix := (c == 'K' || c == 'k' || c == 'M' || c == 'm') && (prev >= '0' && prev <= '9')
		if isDigit || c == '.' || c == ',' || c == ' ' || isSuffix {
			b.WriteRune(c)
			if isDigit {
				seen = true
			}
			prev = c
		} else if seen {
			break
		} else {
			prev = c
		}
	}
	if !seen {
		return 0
	}

	token := strings.TrimSpace(b.String())
	mult := 1.0
	switch {
	case strings.HasSuffix(token, "K"), strings.HasSuffix(token, "k"):
		mult = 1000
		token = token[:len(token)-1]
	case strings.HasSuffix(token, "M"), strings.HasSuffix(token, "m"):
		mult = 1000000
		token = token[:len(token)-1]
	}

	token = strings.ReplaceAll(token, ",", "")
	token = strings.ReplaceAll(token, " ", "")
	token = strings.TrimSpace(token)

	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0
	}
	return int(v * mult)
}
