package memory

import (
	"context"
	"log/slog"
	"strings"

	"github.com/kotoba-live/kotoba/pkg/llm"
	"github.com/kotoba-live/kotoba/pkg/logging"
)

// SegmentSize is how many conversation messages accumulate before a
// consolidation pass runs.
const SegmentSize = 8

const noMemoryMarker = "NO_MEMORY"

const summaryPromptHeader = "You are a memory consolidation assistant. Below is a conversation " +
	"transcript between a viewer and a streamer persona. Extract the single most important, " +
	"lasting piece of information from this exchange as one concise third-person statement " +
	"about the viewer's preferences, decisions, or feelings. Be strictly factual based only " +
	"on the transcript. If no significant new memory was formed, respond only with the word " +
	"NO_MEMORY.\n\nConversation transcript:\n---\n"

// Summarizer watches the rolling conversation and periodically
// distills a segment into one stored summary.
type Summarizer struct {
	adapter llm.StreamAdapter
	store   Store
	logger  *slog.Logger

	pending []llm.Message
}

func NewSummarizer(adapter llm.StreamAdapter, store Store) *Summarizer {
	return &Summarizer{
		adapter: adapter,
		store:   store,
		logger:  logging.NewComponentLogger(slog.Default(), "summarizer"),
	}
}

// Observe appends a message to the current segment and consolidates
// when the segment is full. Consolidation failures are logged and the
// segment is dropped; memory is best-effort.
func (s *Summarizer) Observe(ctx context.Context, msg llm.Message) {
	s.pending = append(s.pending, msg)
	if len(s.pending) < SegmentSize {
		return
	}
	segment := s.pending
	s.pending = nil
	if err := s.consolidate(ctx, segment); err != nil {
		s.logger.Warn("memory consolidation failed", slog.String("error", err.Error()))
	}
}

func (s *Summarizer) consolidate(ctx context.Context, segment []llm.Message) error {
	var transcript strings.Builder
	for _, m := range segment {
		transcript.WriteString(capitalize(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}
	prompt := summaryPromptHeader + transcript.String() + "---\n\nSingle most important memory:"

	stream, err := s.adapter.Stream(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, llm.Options{
		Temperature: 0.3,
		MaxTokens:   120,
	})
	if err != nil {
		return err
	}
	var out strings.Builder
	for chunk := range stream {
		out.WriteString(chunk)
	}
	summary := strings.TrimSpace(out.String())
	if summary == "" || strings.Contains(summary, noMemoryMarker) {
		s.logger.Debug("no significant memory in segment")
		return nil
	}
	if idx := strings.Index(summary, "(Note:"); idx >= 0 {
		summary = strings.TrimSpace(summary[:idx])
	}
	if err := s.store.AddSummary(ctx, summary); err != nil {
		return err
	}
	s.logger.Info("consolidated memory stored", slog.String("summary", summary))
	return nil
}
