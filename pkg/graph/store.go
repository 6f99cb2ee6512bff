// Package graph implements the property graph on SQLite: document nodes,
// canonical entity nodes, typed edges, and cached visual citations.
// (canonical_name, entity_type) is the entity primary key, so upserts
// merge instead of duplicating.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/linecook-ai/linecook/pkg/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_type TEXT NOT NULL,
	blob_path TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	page_count INTEGER NOT NULL DEFAULT 0,
	uploaded_at TIMESTAMP NOT NULL,
	executive_summary TEXT NOT NULL DEFAULT '',
	qsr_category TEXT NOT NULL DEFAULT 'general',
	document_type TEXT NOT NULL DEFAULT 'reference',
	sections TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS entities (
	canonical_name TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	surface_form TEXT NOT NULL DEFAULT '',
	hierarchy_level INTEGER NOT NULL DEFAULT 6,
	parent_entity TEXT NOT NULL DEFAULT '',
	source_doc_ids TEXT NOT NULL DEFAULT '[]',
	page_refs TEXT NOT NULL DEFAULT '[]',
	qsr_context TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0.5,
	PRIMARY KEY (canonical_name, entity_type)
);

CREATE TABLE IF NOT EXISTS relationships (
	source_name TEXT NOT NULL,
	source_type TEXT NOT NULL,
	target_name TEXT NOT NULL,
	target_type TEXT NOT NULL,
	rel_type TEXT NOT NULL,
	source_doc_ids TEXT NOT NULL DEFAULT '[]',
	confidence REAL NOT NULL DEFAULT 0.5,
	PRIMARY KEY (source_name, target_name, rel_type)
);

CREATE TABLE IF NOT EXISTS citations (
	id TEXT PRIMARY KEY,
	citation_type TEXT NOT NULL,
	document_id TEXT NOT NULL,
	page INTEGER NOT NULL,
	ref_text TEXT NOT NULL,
	bbox TEXT NOT NULL DEFAULT '[]',
	xref INTEGER NOT NULL DEFAULT 0,
	content BLOB
);

CREATE INDEX IF NOT EXISTS idx_citations_document ON citations(document_id);
CREATE INDEX IF NOT EXISTS idx_entities_parent ON entities(parent_entity);
`

// Store is the SQLite-backed GraphStore. Per-canonical-key locking keeps
// concurrent upserts of the same entity from losing provenance merges.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	keys map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open graph database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init graph schema: %w", err)
	}
	return &Store{db: db, keys: make(map[string]*keyedLock)}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// lockKey serializes work on one (canonical_name, entity_type) pair. The
// returned release func removes the table entry once nobody holds it, so
// the lock table does not grow with the entity count.
func (s *Store) lockKey(name string, typ domain.EntityType) func() {
	k := name + "|" + string(typ)
	s.mu.Lock()
	e, ok := s.keys[k]
	if !ok {
		e = &keyedLock{}
		s.keys[k] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.keys, k)
		}
		s.mu.Unlock()
	}
}

// ===== documents =====

func (s *Store) UpsertDocument(ctx context.Context, doc domain.Document) error {
	sections, _ := json.Marshal(doc.Sections)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, filename, file_type, blob_path, size_bytes, page_count,
			uploaded_at, executive_summary, qsr_category, document_type, sections)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			file_type = excluded.file_type,
			blob_path = excluded.blob_path,
			size_bytes = excluded.size_bytes,
			page_count = excluded.page_count,
			executive_summary = excluded.executive_summary,
			qsr_category = excluded.qsr_category,
			document_type = excluded.document_type,
			sections = excluded.sections`,
		doc.ID, doc.Filename, string(doc.FileType), doc.BlobPath, doc.SizeBytes, doc.PageCount,
		doc.UploadedAt, doc.ExecutiveSummary, string(doc.Category), string(doc.DocumentType), string(sections))
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filename, file_type, blob_path, size_bytes, page_count,
			uploaded_at, executive_summary, qsr_category, document_type, sections
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filename, file_type, blob_path, size_bytes, page_count,
			uploaded_at, executive_summary, qsr_category, document_type, sections
		FROM documents ORDER BY uploaded_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var docs []domain.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var doc domain.Document
	var fileType, category, docType, sections string
	var uploadedAt time.Time
	err := row.Scan(&doc.ID, &doc.Filename, &fileType, &doc.BlobPath, &doc.SizeBytes,
		&doc.PageCount, &uploadedAt, &doc.ExecutiveSummary, &category, &docType, &sections)
	if err == sql.ErrNoRows {
		return doc, fmt.Errorf("%w: document", domain.ErrNotFound)
	}
	if err != nil {
		return doc, err
	}
	doc.FileType = domain.FileType(fileType)
	doc.Category = domain.QSRCategory(category)
	doc.DocumentType = domain.DocumentType(docType)
	doc.UploadedAt = uploadedAt
	_ = json.Unmarshal([]byte(sections), &doc.Sections)
	return doc, nil
}

// ===== entities =====

// UpsertEntity merges provenance with any existing node for the same
// (canonical_name, entity_type) pair.
func (s *Store) UpsertEntity(ctx context.Context, e domain.Entity) error {
	release := s.lockKey(e.CanonicalName, e.Type)
	defer release()

	existing, err := s.GetEntity(ctx, e.CanonicalName, e.Type)
	if err == nil {
		e = mergeEntity(existing, e)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	docIDs, _ := json.Marshal(emptyIfNilStrings(e.SourceDocIDs))
	pages, _ := json.Marshal(emptyIfNilInts(e.PageRefs))
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entities (canonical_name, entity_type, surface_form, hierarchy_level,
			parent_entity, source_doc_ids, page_refs, qsr_context, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(canonical_name, entity_type) DO UPDATE SET
			surface_form = excluded.surface_form,
			hierarchy_level = excluded.hierarchy_level,
			parent_entity = excluded.parent_entity,
			source_doc_ids = excluded.source_doc_ids,
			page_refs = excluded.page_refs,
			qsr_context = excluded.qsr_context,
			confidence = excluded.confidence`,
		e.CanonicalName, string(e.Type), e.SurfaceForm, e.HierarchyLevel,
		e.ParentEntity, string(docIDs), string(pages), e.QSRContext, e.Confidence)
	if err != nil {
		return fmt.Errorf("upsert entity %s/%s: %w", e.CanonicalName, e.Type, err)
	}
	return nil
}

func mergeEntity(existing, incoming domain.Entity) domain.Entity {
	out := incoming
	out.SourceDocIDs = unionStrings(existing.SourceDocIDs, incoming.SourceDocIDs)
	out.PageRefs = unionInts(existing.PageRefs, incoming.PageRefs)
	if existing.Confidence > out.Confidence {
		out.Confidence = existing.Confidence
	}
	if out.QSRContext == "" {
		out.QSRContext = existing.QSRContext
	}
	if out.ParentEntity == "" {
		out.ParentEntity = existing.ParentEntity
	}
	if out.SurfaceForm == "" {
		out.SurfaceForm = existing.SurfaceForm
	}
	return out
}

func (s *Store) GetEntity(ctx context.Context, canonicalName string, typ domain.EntityType) (domain.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT canonical_name, entity_type, surface_form, hierarchy_level, parent_entity,
			source_doc_ids, page_refs, qsr_context, confidence
		FROM entities WHERE canonical_name = ? AND entity_type = ?`, canonicalName, string(typ))
	return scanEntity(row)
}

func scanEntity(row rowScanner) (domain.Entity, error) {
	var e domain.Entity
	var typ, docIDs, pages string
	err := row.Scan(&e.CanonicalName, &typ, &e.SurfaceForm, &e.HierarchyLevel,
		&e.ParentEntity, &docIDs, &pages, &e.QSRContext, &e.Confidence)
	if err == sql.ErrNoRows {
		return e, fmt.Errorf("%w: entity", domain.ErrNotFound)
	}
	if err != nil {
		return e, err
	}
	e.Type = domain.EntityType(typ)
	_ = json.Unmarshal([]byte(docIDs), &e.SourceDocIDs)
	_ = json.Unmarshal([]byte(pages), &e.PageRefs)
	return e, nil
}

// FindEntities returns entities whose name, surface form, or QSR context
// contains any of the terms. Relevance scoring happens in the retrieval
// layer, which sees the full entity.
func (s *Store) FindEntities(ctx context.Context, terms []string, limit int) ([]domain.Entity, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 25
	}

	var clauses []string
	var args []interface{}
	for _, term := range terms {
		pattern := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses, "(LOWER(canonical_name) LIKE ? OR LOWER(surface_form) LIKE ? OR LOWER(qsr_context) LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT canonical_name, entity_type, surface_form, hierarchy_level, parent_entity,
			source_doc_ids, page_refs, qsr_context, confidence
		FROM entities WHERE %s
		ORDER BY confidence DESC LIMIT ?`, strings.Join(clauses, " OR "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entities []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func (s *Store) EntitiesForDocument(ctx context.Context, documentID string) ([]domain.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT canonical_name, entity_type, surface_form, hierarchy_level, parent_entity,
			source_doc_ids, page_refs, qsr_context, confidence
		FROM entities WHERE source_doc_ids LIKE ?`, `%"`+documentID+`"%`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entities []domain.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		// LIKE over the JSON array can false-positive on id prefixes.
		if containsString(e.SourceDocIDs, documentID) {
			entities = append(entities, e)
		}
	}
	return entities, rows.Err()
}

// ===== relationships =====

func (s *Store) UpsertRelationship(ctx context.Context, r domain.Relationship) error {
	row := s.db.QueryRowContext(ctx, `
		SELECT source_doc_ids, confidence FROM relationships
		WHERE source_name = ? AND target_name = ? AND rel_type = ?`,
		r.SourceName, r.TargetName, string(r.Type))

	var existingDocs string
	var existingConf float64
	err := row.Scan(&existingDocs, &existingConf)
	if err == nil {
		var docs []string
		_ = json.Unmarshal([]byte(existingDocs), &docs)
		r.SourceDocIDs = unionStrings(docs, r.SourceDocIDs)
		if existingConf > r.Confidence {
			r.Confidence = existingConf
		}
	} else if err != sql.ErrNoRows {
		return err
	}

	docIDs, _ := json.Marshal(emptyIfNilStrings(r.SourceDocIDs))
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (source_name, source_type, target_name, target_type,
			rel_type, source_doc_ids, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_name, target_name, rel_type) DO UPDATE SET
			source_doc_ids = excluded.source_doc_ids,
			confidence = excluded.confidence`,
		r.SourceName, string(r.SourceType), r.TargetName, string(r.TargetType),
		string(r.Type), string(docIDs), r.Confidence)
	if err != nil {
		return fmt.Errorf("upsert relationship %s-%s->%s: %w", r.SourceName, r.Type, r.TargetName, err)
	}
	return nil
}

func (s *Store) RelationshipsFrom(ctx context.Context, canonicalName string, typ domain.EntityType, rel domain.RelationType) ([]domain.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_name, source_type, target_name, target_type, rel_type, source_doc_ids, confidence
		FROM relationships WHERE source_name = ? AND source_type = ? AND rel_type = ?`,
		canonicalName, string(typ), string(rel))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rels []domain.Relationship
	for rows.Next() {
		var r domain.Relationship
		var srcType, dstType, relType, docIDs string
		if err := rows.Scan(&r.SourceName, &srcType, &r.TargetName, &dstType, &relType, &docIDs, &r.Confidence); err != nil {
			return nil, err
		}
		r.SourceType = domain.EntityType(srcType)
		r.TargetType = domain.EntityType(dstType)
		r.Type = domain.RelationType(relType)
		_ = json.Unmarshal([]byte(docIDs), &r.SourceDocIDs)
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// ===== citations =====

func (s *Store) UpsertCitation(ctx context.Context, c domain.VisualCitation) error {
	bbox, _ := json.Marshal(c.BBox)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO citations (id, citation_type, document_id, page, ref_text, bbox, xref, content)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = COALESCE(excluded.content, citations.content)`,
		c.ID, string(c.Type), c.DocumentID, c.Page, c.RefText, string(bbox), c.XRef, c.Content)
	if err != nil {
		return fmt.Errorf("upsert citation %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetCitation(ctx context.Context, citationID string) (domain.VisualCitation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, citation_type, document_id, page, ref_text, bbox, xref, content
		FROM citations WHERE id = ?`, citationID)
	return scanCitation(row)
}

func (s *Store) CitationsForDocument(ctx context.Context, documentID string) ([]domain.VisualCitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, citation_type, document_id, page, ref_text, bbox, xref, content
		FROM citations WHERE document_id = ? ORDER BY page`, documentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var citations []domain.VisualCitation
	for rows.Next() {
		c, err := scanCitation(rows)
		if err != nil {
			return nil, err
		}
		citations = append(citations, c)
	}
	return citations, rows.Err()
}

func scanCitation(row rowScanner) (domain.VisualCitation, error) {
	var c domain.VisualCitation
	var typ, bbox string
	err := row.Scan(&c.ID, &typ, &c.DocumentID, &c.Page, &c.RefText, &bbox, &c.XRef, &c.Content)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("%w: citation", domain.ErrNotFound)
	}
	if err != nil {
		return c, err
	}
	c.Type = domain.CitationType(typ)
	_ = json.Unmarshal([]byte(bbox), &c.BBox)
	return c, nil
}

// ===== cascade delete =====

// DeleteDocumentCascade removes the document node, its citations, its
// provenance on entities (deleting sole-provenance entities), and any
// relationship left dangling.
func (s *Store) DeleteDocumentCascade(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM citations WHERE document_id = ?`, documentID); err != nil {
		return err
	}

	// Walk entities carrying this document's provenance.
	rows, err := tx.QueryContext(ctx, `
		SELECT canonical_name, entity_type, source_doc_ids FROM entities
		WHERE source_doc_ids LIKE ?`, `%"`+documentID+`"%`)
	if err != nil {
		return err
	}

	type entKey struct {
		name string
		typ  string
	}
	removed := map[string]bool{}
	var updates []struct {
		key  entKey
		docs []string
	}
	for rows.Next() {
		var name, typ, docsJSON string
		if err := rows.Scan(&name, &typ, &docsJSON); err != nil {
			_ = rows.Close()
			return err
		}
		var docs []string
		_ = json.Unmarshal([]byte(docsJSON), &docs)
		if !containsString(docs, documentID) {
			continue
		}
		remaining := removeString(docs, documentID)
		updates = append(updates, struct {
			key  entKey
			docs []string
		}{entKey{name, typ}, remaining})
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, u := range updates {
		if len(u.docs) == 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE canonical_name = ? AND entity_type = ?`,
				u.key.name, u.key.typ); err != nil {
				return err
			}
			removed[u.key.name+"|"+u.key.typ] = true
		} else {
			docsJSON, _ := json.Marshal(u.docs)
			if _, err := tx.ExecContext(ctx, `UPDATE entities SET source_doc_ids = ? WHERE canonical_name = ? AND entity_type = ?`,
				string(docsJSON), u.key.name, u.key.typ); err != nil {
				return err
			}
		}
	}

	// Relationships with a removed endpoint go away entirely; the rest
	// lose this document's provenance and go away when none is left.
	// Endpoints are matched on (name, type), the entity primary key.
	relRows, err := tx.QueryContext(ctx, `
		SELECT source_name, source_type, target_name, target_type, rel_type, source_doc_ids
		FROM relationships`)
	if err != nil {
		return err
	}
	type relUpdate struct {
		src, dst, typ string
		docs          []string
		drop          bool
	}
	var relUpdates []relUpdate
	for relRows.Next() {
		var src, srcType, dst, dstType, typ, docsJSON string
		if err := relRows.Scan(&src, &srcType, &dst, &dstType, &typ, &docsJSON); err != nil {
			_ = relRows.Close()
			return err
		}
		var docs []string
		_ = json.Unmarshal([]byte(docsJSON), &docs)
		switch {
		case removed[src+"|"+srcType] || removed[dst+"|"+dstType]:
			relUpdates = append(relUpdates, relUpdate{src: src, dst: dst, typ: typ, drop: true})
		case containsString(docs, documentID):
			remaining := removeString(docs, documentID)
			relUpdates = append(relUpdates, relUpdate{src: src, dst: dst, typ: typ, docs: remaining, drop: len(remaining) == 0})
		}
	}
	if err := relRows.Close(); err != nil {
		return err
	}

	for _, u := range relUpdates {
		if u.drop {
			if _, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE source_name = ? AND target_name = ? AND rel_type = ?`,
				u.src, u.dst, u.typ); err != nil {
				return err
			}
		} else {
			docsJSON, _ := json.Marshal(u.docs)
			if _, err := tx.ExecContext(ctx, `UPDATE relationships SET source_doc_ids = ? WHERE source_name = ? AND target_name = ? AND rel_type = ?`,
				string(docsJSON), u.src, u.dst, u.typ); err != nil {
				return err
			}
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return err
	}

	return tx.Commit()
}

// ===== stats =====

func (s *Store) Stats(ctx context.Context) (domain.GraphStats, error) {
	stats := domain.GraphStats{
		NodesByType: map[string]int{},
		EdgesByType: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type`)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			_ = rows.Close()
			return stats, err
		}
		stats.NodesByType[typ] = n
		stats.Nodes += n
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT rel_type, COUNT(*) FROM relationships GROUP BY rel_type`)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			_ = rows.Close()
			return stats, err
		}
		stats.EdgesByType[typ] = n
		stats.Edges += n
	}
	_ = rows.Close()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.Documents); err != nil {
		return stats, err
	}
	return stats, nil
}

// ===== helpers =====

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range append(append([]string{}, a...), b...) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func unionInts(a, b []int) []int {
	seen := map[int]bool{}
	var out []int
	for _, n := range append(append([]int{}, a...), b...) {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func emptyIfNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyIfNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
