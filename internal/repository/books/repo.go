package books

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kailas-cloud/librarian/internal/db"
	"github.com/kailas-cloud/librarian/internal/domain"
)

const (
	indexName  = domain.KeyPrefix + "books:idx"
	keyPrefix  = domain.KeyPrefix + "books:"
	vectorFld  = "vector"
	contentFld = "__content"
)

var metadataFields = []string{
	domain.FieldTitle,
	domain.FieldAuthors,
	domain.FieldSubjects,
	domain.FieldPublishYear,
	domain.FieldLanguages,
}

// store is the consumer interface for the book index (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchTag(ctx context.Context, q *db.TagQuery) (*db.SearchResult, error)
}

// Repo is the vector index over ingested book records.
type Repo struct {
	store store
	dim   int
}

// New creates a book index repository. dim is the embedding dimension
// used when the FT index has to be created.
func New(s store, dim int) *Repo {
	return &Repo{store: s, dim: dim}
}

// EnsureIndex creates the FT index if it does not exist yet.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("probe index: %w", err)
	}
	if exists {
		return nil
	}

	def := &db.IndexDefinition{
		Name:     indexName,
		Prefixes: []string{keyPrefix},
		Fields: []db.IndexField{
			{Name: domain.FieldTitle, Type: db.IndexFieldTag},
			{Name: domain.FieldAuthors, Type: db.IndexFieldTag, TagSeparator: ","},
			{Name: domain.FieldSubjects, Type: db.IndexFieldTag, TagSeparator: ","},
			{Name: domain.FieldLanguages, Type: db.IndexFieldTag, TagSeparator: ","},
			{Name: domain.FieldPublishYear, Type: db.IndexFieldNumeric},
			{Name: vectorFld, Type: db.IndexFieldVector, VectorDim: r.dim, VectorDistance: db.DistanceCosine},
		},
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// Upsert stores book records with their vectors in one pipelined write.
func (r *Repo) Upsert(ctx context.Context, recs []domain.BookRecord) error {
	if len(recs) == 0 {
		return nil
	}

	items := make([]db.HashSetItem, 0, len(recs))
	for _, rec := range recs {
		fields := map[string]string{
			contentFld: rec.Text,
			vectorFld:  vectorToBytes(rec.Vector),
		}
		for k, v := range rec.Metadata {
			if v != "" {
				fields[k] = v
			}
		}
		items = append(items, db.HashSetItem{Key: recordKey(rec.ID), Fields: fields})
	}

	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("upsert books: %w", err)
	}
	return nil
}

// SearchKNN runs a similarity query and returns hits ordered by ascending
// distance. A missing index maps to domain.ErrCollectionNotFound.
func (r *Repo) SearchKNN(
	ctx context.Context, vector []float32, filter map[string]string, topK int,
) ([]domain.SearchResult, error) {
	// Summaries ride along as __content so nearest-neighbor hits can
	// answer the summary tool without a second lookup.
	q := &db.KNNQuery{
		IndexName:    indexName,
		Vector:       vector,
		K:            topK,
		Filter:       filter,
		ReturnFields: append([]string{contentFld}, metadataFields...),
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return nil, fmt.Errorf("book index absent: %w", domain.ErrCollectionNotFound)
		}
		return nil, fmt.Errorf("search knn: %w", err)
	}

	return toSearchResults(sr), nil
}

// GetByTitle looks up a single record by exact title match.
// Returns domain.ErrNotFound when no record carries the title.
func (r *Repo) GetByTitle(ctx context.Context, title string) (domain.SearchResult, error) {
	q := &db.TagQuery{
		IndexName:    indexName,
		Field:        domain.FieldTitle,
		Value:        title,
		Limit:        1,
		ReturnFields: append([]string{contentFld}, metadataFields...),
	}

	sr, err := r.store.SearchTag(ctx, q)
	if err != nil {
		if errors.Is(err, db.ErrIndexNotFound) {
			return domain.SearchResult{}, fmt.Errorf("book index absent: %w", domain.ErrCollectionNotFound)
		}
		return domain.SearchResult{}, fmt.Errorf("title lookup: %w", err)
	}
	if len(sr.Entries) == 0 {
		return domain.SearchResult{}, fmt.Errorf("title %q: %w", title, domain.ErrNotFound)
	}

	return toSearchResult(sr.Entries[0]), nil
}

func toSearchResults(sr *db.SearchResult) []domain.SearchResult {
	if sr == nil || len(sr.Entries) == 0 {
		return nil
	}
	out := make([]domain.SearchResult, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, toSearchResult(e))
	}
	return out
}

func toSearchResult(e db.SearchEntry) domain.SearchResult {
	meta := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		switch k {
		case vectorFld:
		case contentFld:
			meta["summary"] = v
		default:
			meta[k] = v
		}
	}
	return domain.SearchResult{
		ID:       strings.TrimPrefix(e.Key, keyPrefix),
		Distance: e.Distance,
		Metadata: meta,
	}
}

func recordKey(id string) string {
	return keyPrefix + id
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
