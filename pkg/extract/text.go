// Package extract turns validated document bytes into a canonical
// entity/relationship graph, a structured summary, and searchable chunks.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	pdf "github.com/dslipak/pdf"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/log"
)

// PageText is extracted text for one page. Non-paginated formats produce a
// single page 1.
type PageText struct {
	Page int
	Text string
}

// ExtractText pulls plain text out of a validated blob. Image, audio and
// video types yield a single metadata-only page so the document still
// becomes searchable by filename and summary.
func ExtractText(fileType domain.FileType, filename string, data []byte) ([]PageText, error) {
	switch fileType {
	case domain.FileTypePDF:
		return extractPDFText(data)
	case domain.FileTypeText:
		return []PageText{{Page: 1, Text: string(data)}}, nil
	case domain.FileTypeOffice:
		// OOXML text extraction is out of core scope; index the filename so
		// the document is at least discoverable.
		return []PageText{{Page: 1, Text: fmt.Sprintf("Office document: %s", filename)}}, nil
	case domain.FileTypeImage, domain.FileTypeAudio, domain.FileTypeVideo:
		return []PageText{{Page: 1, Text: fmt.Sprintf("Media file: %s (%s)", filename, fileType)}}, nil
	default:
		return nil, fmt.Errorf("%w: no text extractor for file type %q", domain.ErrContentMalformed, fileType)
	}
}

func extractPDFText(data []byte) (pages []PageText, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: PDF text extraction panicked", domain.ErrContentMalformed)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrContentMalformed, err)
	}

	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			log.Warnf("failed to extract text from page %d: %v", i, err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, PageText{Page: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: PDF yields no extractable text", domain.ErrContentMalformed)
	}
	return pages, nil
}

// JoinPages concatenates page texts with page markers for prompting.
func JoinPages(pages []PageText) string {
	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "[page %d]\n%s\n", p.Page, p.Text)
	}
	return b.String()
}
