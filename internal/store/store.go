// Package store persists ReportPortal records as embedded documents in
// PostgreSQL + pgvector and serves filtered similarity search over
// them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/pgvector/pgvector-go"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/log"
)

// Querier defines the database operations the store depends on.
// Consumer-defined so tests can substitute a mock for Queries.
type Querier interface {
	UpsertDocument(ctx context.Context, arg UpsertDocumentParams) error
	IDsByKind(ctx context.Context, kind string) ([]string, error)
	SearchDocuments(ctx context.Context, arg SearchDocumentsParams) ([]SearchDocumentsRow, error)
	DeleteByKind(ctx context.Context, kind string) (int64, error)
	KindCounts(ctx context.Context) (map[string]int64, error)
}

// Result is one similarity search hit.
type Result struct {
	ID        string
	Kind      entity.Kind
	Content   string
	Metadata  map[string]string
	Raw       entity.Record
	CreatedAt time.Time
	Distance  float64
}

// Statistics summarizes stored document counts.
type Statistics struct {
	Total  int64                `json:"total"`
	ByKind map[entity.Kind]int64 `json:"by_kind"`
}

// searchConfig collects search options.
type searchConfig struct {
	limit    int32
	kinds    []entity.Kind
	statuses []string
	timeout  time.Duration
}

// SearchOption customizes a Search call.
type SearchOption func(*searchConfig)

// WithLimit caps the number of results (default 20).
func WithLimit(n int) SearchOption {
	return func(c *searchConfig) {
		if n > 0 {
			c.limit = int32(n)
		}
	}
}

// WithKinds restricts results to the given entity kinds.
func WithKinds(kinds ...entity.Kind) SearchOption {
	return func(c *searchConfig) { c.kinds = kinds }
}

// WithStatuses restricts results to documents whose status metadata
// matches one of the given values.
func WithStatuses(statuses ...string) SearchOption {
	return func(c *searchConfig) { c.statuses = statuses }
}

func buildSearchConfig(opts []SearchOption) searchConfig {
	cfg := searchConfig{limit: 20, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Store manages embedded documents. Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder ai.Embedder
	logger   log.Logger
}

// New creates a Store.
func New(querier Querier, embedder ai.Embedder, logger log.Logger) *Store {
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
	}
}

// Upsert embeds and stores a batch of records of one kind. extra
// metadata entries (project name, parent ids) are merged into every
// document. Returns the number of documents written.
func (s *Store) Upsert(ctx context.Context, kind entity.Kind, records []entity.Record, extra map[string]string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	docs := make([]Document, 0, len(records))
	input := make([]*ai.Document, 0, len(records))
	for _, rec := range records {
		doc := BuildDocument(kind, rec, extra)
		docs = append(docs, doc)
		input = append(input, ai.DocumentFromText(doc.Content, nil))
	}

	// One embed request covers the whole batch
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{Input: input})
	if err != nil {
		return 0, fmt.Errorf("generating embeddings for %d %s documents: %w", len(docs), kind, err)
	}
	if len(resp.Embeddings) != len(docs) {
		return 0, fmt.Errorf("embedder returned %d embeddings for %d documents", len(resp.Embeddings), len(docs))
	}

	written := 0
	for i, doc := range docs {
		vec := pgvector.NewVector(resp.Embeddings[i].Embedding)

		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return written, fmt.Errorf("marshal metadata for %q: %w", doc.ID, err)
		}
		rawJSON, err := json.Marshal(doc.Raw)
		if err != nil {
			return written, fmt.Errorf("marshal raw record for %q: %w", doc.ID, err)
		}

		if err := s.queries.UpsertDocument(ctx, UpsertDocumentParams{
			ID:        doc.ID,
			Kind:      string(doc.Kind),
			Content:   doc.Content,
			Embedding: &vec,
			Metadata:  metadataJSON,
			Raw:       rawJSON,
		}); err != nil {
			return written, err
		}
		written++
	}

	s.logger.Debug("upserted documents", "kind", kind, "count", written)
	return written, nil
}

// ExistingIDs returns the set of stored document ids for one kind.
func (s *Store) ExistingIDs(ctx context.Context, kind entity.Kind) (map[string]struct{}, error) {
	ids, err := s.queries.IDsByKind(ctx, string(kind))
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// Search performs semantic search over stored documents.
// A 10-second timeout is applied so vector queries cannot block
// indefinitely.
//
// Example:
//
//	results, err := store.Search(ctx, "login failures",
//	    store.WithLimit(10),
//	    store.WithKinds(entity.KindTestItem))
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	resp, err := s.embedder.Embed(queryCtx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("embedding generation timeout: %w", err)
		}
		return nil, fmt.Errorf("generating query embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, errors.New("empty embedding returned for query")
	}
	vec := pgvector.NewVector(resp.Embeddings[0].Embedding)

	var kinds []string
	for _, k := range cfg.kinds {
		kinds = append(kinds, string(k))
	}

	rows, err := s.queries.SearchDocuments(queryCtx, SearchDocumentsParams{
		Embedding:   &vec,
		Kinds:       kinds,
		Statuses:    cfg.statuses,
		ResultLimit: cfg.limit,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("search query timeout: %w", err)
		}
		return nil, err
	}

	return s.rowsToResults(rows), nil
}

// DeleteKind removes every stored document of one kind.
func (s *Store) DeleteKind(ctx context.Context, kind entity.Kind) (int64, error) {
	n, err := s.queries.DeleteByKind(ctx, string(kind))
	if err != nil {
		return 0, err
	}
	s.logger.Debug("deleted documents", "kind", kind, "count", n)
	return n, nil
}

// Statistics returns stored document counts, total and per kind.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	counts, err := s.queries.KindCounts(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Statistics{ByKind: make(map[entity.Kind]int64, len(counts))}
	for kind, n := range counts {
		stats.ByKind[entity.Kind(kind)] = n
		stats.Total += n
	}
	return stats, nil
}

func (s *Store) rowsToResults(rows []SearchDocumentsRow) []Result {
	results := make([]Result, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]string
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			s.logger.Warn("failed to parse document metadata", "document_id", row.ID, "error", err)
			metadata = make(map[string]string)
		}
		var raw entity.Record
		if err := json.Unmarshal(row.Raw, &raw); err != nil {
			s.logger.Warn("failed to parse raw record", "document_id", row.ID, "error", err)
		}

		var createdAt time.Time
		if row.CreatedAt.Valid {
			createdAt = row.CreatedAt.Time
		}

		results = append(results, Result{
			ID:        row.ID,
			Kind:      entity.Kind(row.Kind),
			Content:   row.Content,
			Metadata:  metadata,
			Raw:       raw,
			CreatedAt: createdAt,
			Distance:  row.Distance,
		})
	}
	return results
}
