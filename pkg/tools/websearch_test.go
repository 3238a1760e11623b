package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kotoba-live/kotoba/pkg/errorsx"
	"github.com/kotoba-live/kotoba/pkg/memory"
)

func TestWebSearchFetchesTopResult(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><style>body{color:red}</style></head>`+
			`<body><script>alert(1)</script><p>ねこは  夜行性の

動物です。</p></body></html>`)
	}))
	defer page.Close()

	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing api key header, got %q", got)
		}
		var body struct {
			Query string `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Query != "ねこ 生態" {
			t.Errorf("unexpected query: %q", body.Query)
		}
		fmt.Fprintf(w, `{"results":[{"url":%q}]}`, page.URL)
	}))
	defer search.Close()

	ws := NewWebSearch(WebSearchConfig{Endpoint: search.URL, APIKey: "test-key"})
	store := memory.NewVectorStore(nil)
	out, err := ws.Execute(context.Background(), "ねこ 生態", store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "ねこは 夜行性の 動物です。" {
		t.Fatalf("expected collapsed page text, got %q", out)
	}
	if store.Len() == 0 {
		t.Fatal("fetched content should be stored as knowledge")
	}
}

func TestWebSearchTruncatesLongPages(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>%s</body></html>", strings.Repeat("あ", 500))
	}))
	defer page.Close()
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"results":[{"url":%q}]}`, page.URL)
	}))
	defer search.Close()

	ws := NewWebSearch(WebSearchConfig{Endpoint: search.URL, MaxLength: 100})
	out, err := ws.Execute(context.Background(), "長いページ", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := len([]rune(out)); got != 100 {
		t.Fatalf("expected output capped at 100 runes, got %d", got)
	}
}

func TestWebSearchNoResults(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":[]}`)
	}))
	defer search.Close()

	ws := NewWebSearch(WebSearchConfig{Endpoint: search.URL})
	out, err := ws.Execute(context.Background(), "誰も知らないこと", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != noResultsText {
		t.Fatalf("expected the no-results message, got %q", out)
	}
}

func TestWebSearchEmptyQuery(t *testing.T) {
	ws := NewWebSearch(WebSearchConfig{Endpoint: "http://unused"})
	_, err := ws.Execute(context.Background(), "  ", nil)
	if err == nil {
		t.Fatal("expected error for empty query")
	}
	if !errorsx.HasReason(err, errorsx.ReasonToolExec) {
		t.Fatalf("expected tool_exec reason, got %v", err)
	}
}

func TestWebSearchUpstreamFailure(t *testing.T) {
	search := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer search.Close()

	ws := NewWebSearch(WebSearchConfig{Endpoint: search.URL})
	_, err := ws.Execute(context.Background(), "ねこ", nil)
	if err == nil {
		t.Fatal("expected error when the search API fails")
	}
	if !errorsx.HasReason(err, errorsx.ReasonToolExec) {
		t.Fatalf("expected tool_exec reason, got %v", err)
	}
}
