// ABOUTME: Prompt Assembler: builds a provider request from a section template, excerpts and protocol metadata
// ABOUTME: Pure and deterministic; truncates context to a character budget, keeping the most relevant excerpts

package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/2389/docforge-gateway/internal/llm"
	"github.com/2389/docforge-gateway/internal/retrieval"
	"github.com/2389/docforge-gateway/internal/store"
	"github.com/2389/docforge-gateway/internal/templates"
)

// NoContextMarker stands in for context when retrieval produced nothing usable.
const NoContextMarker = "No specific protocol context available."

const (
	DefaultMaxExcerpts     = 5
	DefaultMaxContextChars = 12000
)

const excerptSeparator = "\n\n"

// Options bounds the assembled context.
type Options struct {
	MaxExcerpts     int
	MaxContextChars int
	MaxTokens       int
	Temperature     *float64
}

// Input is everything Assemble needs for one section.
type Input struct {
	DocumentTitle string
	Section       templates.Section
	Protocol      store.Protocol
	Excerpts      []retrieval.Excerpt // nil or empty means no context
}

// Assemble returns the provider request for one section.
func Assemble(in Input, opts Options) llm.Request {
	contextText, _ := FormatContext(in.Excerpts, opts.MaxExcerpts, opts.MaxContextChars)

	var system strings.Builder
	system.WriteString(strings.TrimSpace(in.Section.Prompt))
	if in.Section.EstimatedLength != "" {
		fmt.Fprintf(&system, "\n\nTarget length: %s.", in.Section.EstimatedLength)
	}
	if in.DocumentTitle != "" {
		fmt.Fprintf(&system, "\nThis section belongs to the %s.", in.DocumentTitle)
	}

	var user strings.Builder
	if in.Protocol.StudyAcronym != "" {
		fmt.Fprintf(&user, "Protocol: %s", in.Protocol.StudyAcronym)
		if in.Protocol.Title != "" {
			fmt.Fprintf(&user, " (%s)", in.Protocol.Title)
		}
		user.WriteString("\n\n")
	}
	fmt.Fprintf(&user, "Context: %s\n\nGenerate the %s section.", contextText, sectionLabel(in.Section))

	return llm.Request{
		System:      strings.TrimSpace(system.String()),
		User:        user.String(),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
}

// FormatContext renders the highest-relevance excerpts as
// "[Relevance: 0.87] text" blocks separated by blank lines, within maxChars
// runes. The first block that does not fit is clipped to the remaining
// budget and nothing after it is kept. It reports whether anything was cut.
// With nothing to render it returns NoContextMarker.
func FormatContext(excerpts []retrieval.Excerpt, maxExcerpts, maxChars int) (string, bool) {
	if maxExcerpts <= 0 {
		maxExcerpts = DefaultMaxExcerpts
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextChars
	}

	ranked := make([]retrieval.Excerpt, 0, len(excerpts))
	for _, e := range excerpts {
		if strings.TrimSpace(e.Text) != "" {
			ranked = append(ranked, e)
		}
	}
	if len(ranked) == 0 {
		return NoContextMarker, false
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Source.ChunkIndex < ranked[j].Source.ChunkIndex
	})

	truncated := false
	if len(ranked) > maxExcerpts {
		ranked = ranked[:maxExcerpts]
		truncated = true
	}

	var b strings.Builder
	used := 0
	for i, e := range ranked {
		block := []rune(fmt.Sprintf("[Relevance: %.2f] %s", e.Score, strings.TrimSpace(e.Text)))
		sep := 0
		if i > 0 {
			sep = len(excerptSeparator)
		}
		remaining := maxChars - used - sep
		if remaining <= 0 {
			truncated = true
			break
		}
		clipped := len(block) > remaining
		if clipped {
			block = block[:remaining]
			truncated = true
		}
		if i > 0 {
			b.WriteString(excerptSeparator)
		}
		b.WriteString(string(block))
		used += sep + len(block)
		if clipped {
			break
		}
	}

	if b.Len() == 0 {
		return NoContextMarker, truncated
	}
	return b.String(), truncated
}

func sectionLabel(s templates.Section) string {
	if s.Title != "" {
		return s.Title
	}
	return s.Key
}
