// Package chunk splits extracted page content into bounded, overlapping
// chunks sized by token count.
package chunk

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

const encodingName = "cl100k_base"

// Splitter produces ContentChunks targeting a fixed token size with overlap
// carried between adjacent chunks for context continuity.
type Splitter struct {
	targetTokens  int
	overlapTokens int
	encoder       *tiktoken.Tiktoken
}

// NewSplitter builds a Splitter. Overlap must be smaller than the target.
func NewSplitter(targetTokens, overlapTokens int) (*Splitter, error) {
	if targetTokens <= 0 {
		return nil, fmt.Errorf("target tokens must be > 0")
	}
	if overlapTokens < 0 || overlapTokens >= targetTokens {
		return nil, fmt.Errorf("overlap tokens must be in [0, target)")
	}
	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encodingName, err)
	}
	return &Splitter{
		targetTokens:  targetTokens,
		overlapTokens: overlapTokens,
		encoder:       encoder,
	}, nil
}

// Split divides a page's content into chunks. Paragraph boundaries are
// respected where possible; a single paragraph longer than the target is
// split on a raw token window.
func (s *Splitter) Split(page pipeline.PageRecord, meta pipeline.ChunkMetadata) []pipeline.ContentChunk {
	paragraphs := splitParagraphs(page.Content)
	if len(paragraphs) == 0 {
		return nil
	}

	var chunks []pipeline.ContentChunk
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, pipeline.ContentChunk{
			PageURL:  page.URL,
			Index:    len(chunks),
			Text:     strings.Join(current, "\n\n"),
			Metadata: meta,
		})
		current = s.overlapTail(current)
		currentTokens = s.CountTokens(strings.Join(current, "\n\n"))
	}

	for _, para := range paragraphs {
		tokens := s.CountTokens(para)
		if tokens > s.targetTokens {
			flush()
			for _, piece := range s.windowSplit(para) {
				chunks = append(chunks, pipeline.ContentChunk{
					PageURL:  page.URL,
					Index:    len(chunks),
					Text:     piece,
					Metadata: meta,
				})
			}
			current = nil
			currentTokens = 0
			continue
		}
		if currentTokens+tokens > s.targetTokens {
			flush()
		}
		current = append(current, para)
		currentTokens += tokens
	}
	if len(current) > 0 && currentTokens > 0 {
		chunks = append(chunks, pipeline.ContentChunk{
			PageURL:  page.URL,
			Index:    len(chunks),
			Text:     strings.Join(current, "\n\n"),
			Metadata: meta,
		})
	}
	return chunks
}

// CountTokens returns the token count of text under the model encoding.
func (s *Splitter) CountTokens(text string) int {
	return len(s.encoder.Encode(text, nil, nil))
}

// overlapTail returns the trailing paragraphs to carry into the next chunk,
// bounded by the overlap token budget.
func (s *Splitter) overlapTail(paragraphs []string) []string {
	if s.overlapTokens == 0 {
		return nil
	}
	var tail []string
	budget := s.overlapTokens
	for i := len(paragraphs) - 1; i >= 0; i-- {
		tokens := s.CountTokens(paragraphs[i])
		if tokens > budget {
			break
		}
		tail = append([]string{paragraphs[i]}, tail...)
		budget -= tokens
	}
	return tail
}

// windowSplit cuts an oversized paragraph on raw token windows with overlap.
func (s *Splitter) windowSplit(text string) []string {
	tokens := s.encoder.Encode(text, nil, nil)
	stride := s.targetTokens - s.overlapTokens
	var pieces []string
	for start := 0; start < len(tokens); start += stride {
		end := start + s.targetTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		piece := strings.TrimSpace(s.encoder.Decode(tokens[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
		if end == len(tokens) {
			break
		}
	}
	return pieces
}

func splitParagraphs(content string) []string {
	raw := strings.Split(content, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
