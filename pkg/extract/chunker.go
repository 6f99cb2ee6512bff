package extract

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

// Chunker splits page text into fixed-size token windows with overlap.
// Chunk ids are deterministic per (document, ordinal) so re-ingesting the
// same bytes produces the same chunk set.
type Chunker struct {
	chunkSize int
	overlap   int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	encName string
}

// NewChunker builds a chunker targeting chunkSize tokens with the given
// overlap (defaults: 384 tokens, 25% overlap).
func NewChunker(chunkSize, overlap int, encoding string) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 384
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap, encName: encoding}
}

// Chunk splits the document's pages into chunks carrying page number and
// token offset.
func (c *Chunker) Chunk(documentID string, pages []PageText) []domain.Chunk {
	var chunks []domain.Chunk
	ordinal := 0
	for _, page := range pages {
		tokens := c.tokenize(page.Text)
		if len(tokens) == 0 {
			continue
		}
		step := c.chunkSize - c.overlap
		for start := 0; start < len(tokens); start += step {
			end := start + c.chunkSize
			if end > len(tokens) {
				end = len(tokens)
			}
			content := strings.TrimSpace(c.detokenize(tokens[start:end]))
			if content != "" {
				chunks = append(chunks, domain.Chunk{
					ID:         fmt.Sprintf("%s_%d", documentID, ordinal),
					DocumentID: documentID,
					Content:    content,
					Page:       page.Page,
					Offset:     start,
				})
				ordinal++
			}
			if end == len(tokens) {
				break
			}
		}
	}
	return chunks
}

func (c *Chunker) encoder() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encName)
		if err != nil {
			log.Warnf("tiktoken encoding %q unavailable, falling back to word tokens: %v", c.encName, err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

// tokenize returns BPE token strings, or whitespace words when the
// encoding cannot be loaded.
func (c *Chunker) tokenize(text string) []string {
	if enc := c.encoder(); enc != nil {
		ids := enc.Encode(text, nil, nil)
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = enc.Decode([]int{id})
		}
		return out
	}
	return strings.Fields(text)
}

func (c *Chunker) detokenize(tokens []string) string {
	if c.enc != nil {
		return strings.Join(tokens, "")
	}
	return strings.Join(tokens, " ")
}
