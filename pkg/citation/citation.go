// Package citation discovers visual artifacts (diagrams, tables, safety
// callouts, embedded images) referenced by a document and serves them as
// PNG previews. Discovery records metadata only; pixels are rendered the
// first time a citation is actually requested.
package citation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
	"github.com/linecook-ai/linecook/pkg/extract"
	"github.com/linecook-ai/linecook/pkg/log"
)

// ID derives the stable citation identifier from its provenance triple,
// so re-ingesting a document converges on the same IDs.
func ID(documentID string, page int, refText string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", documentID, page, refText)))
	return hex.EncodeToString(sum[:])[:16]
}

type refPattern struct {
	re  *regexp.Regexp
	typ domain.CitationType
}

var refPatterns = []refPattern{
	{regexp.MustCompile(`(?i)\b(?:diagram|figure|fig\.?)\s*(\d+)`), domain.CitationDiagram},
	{regexp.MustCompile(`(?i)\btable\s*(\d+)`), domain.CitationTable},
	{regexp.MustCompile(`(?i)\bsection\s*(\d+(?:\.\d+)*)`), domain.CitationTextSection},
	{regexp.MustCompile(`(?i)\b(?:see\s+)?page\s+(\d+)\b`), domain.CitationTextSection},
	{regexp.MustCompile(`(?i)\b(warning|caution|danger)\b[^.\n]{0,120}`), domain.CitationSafetyWarning},
	{regexp.MustCompile(`\b\d{2,3}\s*°F\b`), domain.CitationSafetyWarning},
}

// DetectReferences scans page text for citable references. Duplicate
// references on the same page collapse to one citation.
func DetectReferences(documentID string, pages []extract.PageText) []domain.VisualCitation {
	var out []domain.VisualCitation
	seen := map[string]bool{}

	for _, p := range pages {
		for _, pat := range refPatterns {
			for _, match := range pat.re.FindAllString(p.Text, -1) {
				ref := strings.TrimSpace(match)
				id := ID(documentID, p.Page, ref)
				if seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, domain.VisualCitation{
					ID:         id,
					Type:       pat.typ,
					DocumentID: documentID,
					Page:       p.Page,
					RefText:    ref,
				})
			}
		}
	}
	return out
}

// FindMatches picks the stored citations an answer text actually refers
// to, by running the same reference patterns over the answer and keying
// on reference text.
func FindMatches(answer string, stored []domain.VisualCitation) []domain.VisualCitation {
	if answer == "" || len(stored) == 0 {
		return nil
	}

	var refs []string
	for _, pat := range refPatterns {
		for _, m := range pat.re.FindAllString(answer, -1) {
			refs = append(refs, strings.ToLower(strings.TrimSpace(m)))
		}
	}
	if len(refs) == 0 {
		return nil
	}

	var out []domain.VisualCitation
	seen := map[string]bool{}
	for _, c := range stored {
		ref := strings.ToLower(c.RefText)
		for _, r := range refs {
			if ref == r || strings.Contains(ref, r) || strings.Contains(r, ref) {
				if !seen[c.ID] {
					seen[c.ID] = true
					out = append(out, c)
				}
				break
			}
		}
	}
	return out
}

// Service ties discovery and lazy materialization together.
type Service struct {
	graph    domain.GraphStore
	blobs    domain.BlobStore
	renderer domain.PageRenderer
}

func NewService(graph domain.GraphStore, blobs domain.BlobStore, renderer domain.PageRenderer) *Service {
	return &Service{graph: graph, blobs: blobs, renderer: renderer}
}

// Discover finds a document's citations: text references always, plus
// embedded page images when a renderer is available. PDFs only carry
// renderable artifacts; other formats get text references alone.
func (s *Service) Discover(ctx context.Context, doc domain.Document, pages []extract.PageText) ([]domain.VisualCitation, error) {
	citations := DetectReferences(doc.ID, pages)

	if s.renderer != nil && doc.FileType == domain.FileTypePDF {
		imgs, err := s.discoverImages(ctx, doc)
		if err != nil {
			// Renderer failures degrade to text-only citations.
			log.Warn("image discovery failed", "document_id", doc.ID, "error", err)
		} else {
			citations = append(citations, imgs...)
		}
	}
	return citations, nil
}

func (s *Service) discoverImages(ctx context.Context, doc domain.Document) ([]domain.VisualCitation, error) {
	blob, err := s.blobs.Get(ctx, doc.BlobPath)
	if err != nil {
		return nil, err
	}

	pageCount, err := s.renderer.PageCount(ctx, blob)
	if err != nil {
		return nil, err
	}

	var out []domain.VisualCitation
	for page := 1; page <= pageCount; page++ {
		images, err := s.renderer.PageImages(ctx, blob, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		for _, img := range images {
			ref := fmt.Sprintf("image xref %d", img.XRef)
			c := domain.VisualCitation{
				ID:         ID(doc.ID, page, ref),
				Type:       domain.CitationImage,
				DocumentID: doc.ID,
				Page:       page,
				RefText:    ref,
				BBox:       img.BBox,
				XRef:       img.XRef,
			}
			// Some renderers hand back pixels during enumeration; keep
			// them so Materialize is a cache hit.
			c.Content = img.PNG
			out = append(out, c)
		}
	}
	return out, nil
}

// Materialize returns the PNG for a citation, rendering and caching it
// on first access.
func (s *Service) Materialize(ctx context.Context, citationID string) ([]byte, error) {
	c, err := s.graph.GetCitation(ctx, citationID)
	if err != nil {
		return nil, err
	}
	if len(c.Content) > 0 {
		return c.Content, nil
	}
	if s.renderer == nil {
		return nil, fmt.Errorf("%w: citation content not rendered", domain.ErrNotFound)
	}

	doc, err := s.graph.GetDocument(ctx, c.DocumentID)
	if err != nil {
		return nil, err
	}
	blob, err := s.blobs.Get(ctx, doc.BlobPath)
	if err != nil {
		return nil, err
	}

	png, err := s.render(ctx, c, blob)
	if err != nil {
		return nil, err
	}

	c.Content = png
	if err := s.graph.UpsertCitation(ctx, c); err != nil {
		// Serving the render matters more than caching it.
		log.Warn("failed to cache citation content", "citation_id", citationID, "error", err)
	}
	return png, nil
}

func (s *Service) render(ctx context.Context, c domain.VisualCitation, blob []byte) ([]byte, error) {
	if len(c.BBox) == 4 {
		return s.renderer.RenderRegion(ctx, blob, c.Page, c.BBox)
	}
	// No bbox: fall back to the matching page artifact.
	images, err := s.renderer.PageImages(ctx, blob, c.Page)
	if err != nil {
		return nil, err
	}
	for _, img := range images {
		if c.XRef != 0 && img.XRef == c.XRef && len(img.PNG) > 0 {
			return img.PNG, nil
		}
	}
	for _, img := range images {
		if len(img.PNG) > 0 {
			return img.PNG, nil
		}
	}
	return nil, errors.New("no renderable artifact on page")
}
