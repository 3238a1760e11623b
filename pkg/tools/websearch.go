package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/memory"
)

const noResultsText = "検索結果が見つかりませんでした"

type WebSearchConfig struct {
	Endpoint  string
	APIKey    string
	MaxLength int
	Client    *http.Client
}

// WebSearch queries a hosted search API, fetches the top hit and
// returns its readable text. Successful results are also stored as
// knowledge so later turns can recall them without re-searching.
type WebSearch struct {
	cfg WebSearchConfig
}

func NewWebSearch(cfg WebSearchConfig) *WebSearch {
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 4000
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebSearch{cfg: cfg}
}

func (w *WebSearch) Name() string { return "web_search" }

func (w *WebSearch) Description() string {
	return "Search the web for current information"
}

func (w *WebSearch) Execute(ctx context.Context, args string, store memory.Store) (string, error) {
	query := strings.TrimSpace(args)
	if query == "" {
		return "", errorsx.Wrap(fmt.Errorf("web_search: empty query"), errorsx.ReasonToolExec)
	}
	url, err := w.search(ctx, query)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonToolExec)
	}
	if url == "" {
		return noResultsText, nil
	}
	content, err := w.fetch(ctx, url)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonToolExec)
	}
	if content == "" {
		return noResultsText, nil
	}
	if store != nil {
		_ = store.AddKnowledge(ctx, content, "web_search:"+query)
	}
	return content, nil
}

func (w *WebSearch) search(ctx context.Context, query string) (string, error) {
	body, _ := json.Marshal(map[string]string{"query": query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	}
	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("search request failed: %s: %s", resp.Status, string(msg))
	}
	var payload struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if len(payload.Results) == 0 {
		return "", nil
	}
	return payload.Results[0].URL, nil
}

func (w *WebSearch) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch failed: %s", resp.Status)
	}
	text, err := extractText(resp.Body)
	if err != nil {
		return "", err
	}
	runes := []rune(text)
	if len(runes) > w.cfg.MaxLength {
		runes = runes[:w.cfg.MaxLength]
	}
	return string(runes), nil
}

// extractText walks the HTML tree collecting text nodes, skipping
// script and style subtrees, and collapsing whitespace.
func extractText(r io.Reader) (string, error) {
	root, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return strings.Join(strings.Fields(b.String()), " "), nil
}

var _ Tool = (*WebSearch)(nil)
