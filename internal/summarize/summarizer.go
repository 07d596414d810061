// Package summarize turns a transcript into a structured markdown summary
// using an LLM, falling back across providers.
package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sightline/internal/model"
)

// Input is everything a summarizer sees for one video.
type Input struct {
	SourceID   string
	Title      string
	Channel    string
	Transcript string
}

// Output is the generated summary.
type Output struct {
	Content    string
	KeyPoints  []string
	Sections   []model.Section
	Summarizer string
	Model      string
}

// Summarizer produces a summary from a transcript.
type Summarizer interface {
	Name() string
	Summarize(ctx context.Context, in Input) (*Output, error)
}

// ErrEmptySummary is returned when a model replies with no usable text.
var ErrEmptySummary = eris.New("summarize: empty summary")

const systemPrompt = `You summarize YouTube videos from their transcripts.
Write GitHub-flavored markdown with exactly these sections, in order:

## TL;DR
One or two sentences.

## Key Points
5 to 10 bullet points, each a complete sentence.

## Key Moments
Bullets describing the important moments in the order they occur.

## Summary
Several paragraphs covering the full content.

Use only information present in the transcript. Do not invent timestamps.`

func userPrompt(in Input, maxChars int) string {
	transcript := in.Transcript
	if maxChars > 0 && len(transcript) > maxChars {
		transcript = truncateRunes(transcript, maxChars)
	}
	var sb strings.Builder
	if in.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", in.Title)
	}
	if in.Channel != "" {
		fmt.Fprintf(&sb, "Channel: %s\n", in.Channel)
	}
	sb.WriteString("\nTranscript:\n---\n")
	sb.WriteString(transcript)
	sb.WriteString("\n---")
	return sb.String()
}

// truncateRunes cuts s to at most n bytes on a rune boundary.
func truncateRunes(s string, n int) string {
	for n > 0 && n < len(s) && !utf8Start(s[n]) {
		n--
	}
	return s[:n]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// Fallback tries summarizers in order until one succeeds.
type Fallback struct {
	summarizers []Summarizer
	timeout     time.Duration
}

// NewFallback creates a Fallback over the given summarizers.
func NewFallback(s ...Summarizer) *Fallback {
	return &Fallback{summarizers: s}
}

// WithTimeout bounds each summarizer attempt. Zero means no bound.
func (f *Fallback) WithTimeout(d time.Duration) *Fallback {
	f.timeout = d
	return f
}

// Name implements Summarizer.
func (f *Fallback) Name() string {
	names := make([]string, len(f.summarizers))
	for i, s := range f.summarizers {
		names[i] = s.Name()
	}
	return strings.Join(names, ">")
}

// Summarize implements Summarizer.
func (f *Fallback) Summarize(ctx context.Context, in Input) (*Output, error) {
	if len(f.summarizers) == 0 {
		return nil, eris.New("summarize: no summarizers configured")
	}
	var lastErr error
	for _, s := range f.summarizers {
		out, err := f.attempt(ctx, s, in)
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "summarize: cancelled")
		}
		zap.L().Warn("summarize: summarizer failed, trying next",
			zap.String("summarizer", s.Name()),
			zap.String("source_id", in.SourceID),
			zap.Error(err),
		)
		lastErr = err
	}
	return nil, eris.Wrap(lastErr, "summarize: all summarizers failed")
}

func (f *Fallback) attempt(ctx context.Context, s Summarizer, in Input) (*Output, error) {
	if f.timeout <= 0 {
		return s.Summarize(ctx, in)
	}
	actx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return s.Summarize(actx, in)
}

func finish(name, modelName, content string) (*Output, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptySummary
	}
	sections := ParseSections(content)
	return &Output{
		Content:    content,
		KeyPoints:  KeyPoints(sections),
		Sections:   sections,
		Summarizer: name,
		Model:      modelName,
	}, nil
}
