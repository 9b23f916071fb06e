package rag

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
)

var (
	// ErrEmptyStore is returned when querying a store with no documents.
	ErrEmptyStore = errors.New("rag: store is empty")
	// ErrNoDocuments is returned when a write carries no documents.
	ErrNoDocuments = errors.New("rag: no documents to index")
	// ErrEmptyQuery is returned for blank search queries.
	ErrEmptyQuery = errors.New("rag: empty query")
)

const snapshotFile = "store.gob"

// StoreConfig holds document store configuration.
type StoreConfig struct {
	Collection string // Collection name (default: "reports")
	PersistDir string // Empty keeps the store in memory only
}

// Document is a unit of indexed text.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Source returns the document's "source" metadata.
func (d Document) Source() string {
	return d.Metadata["source"]
}

// SearchResult is a document matched by a query.
type SearchResult struct {
	Document   Document
	Similarity float32 // cosine similarity, higher is closer
}

// Version identifies one generation of the indexed corpus.
type Version struct {
	ID         string    `json:"id"`
	Generation uint64    `json:"generation"`
	Documents  int       `json:"documents"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsZero reports whether nothing has been indexed yet.
func (v Version) IsZero() bool {
	return v.Generation == 0
}

// generation is an immutable index built from one document set.
type generation struct {
	version    Version
	docs       []Document
	collection *chromem.Collection
}

// Store owns the searchable corpus. Every write builds a new generation and
// swaps it in atomically; readers holding a Snapshot keep querying the
// generation they pinned.
type Store struct {
	config   StoreConfig
	embedder Embedder

	writeMu sync.Mutex // serializes Replace and Add
	current atomic.Pointer[generation]
}

// NewStore creates a Store. When PersistDir holds a previous snapshot it is
// loaded without re-embedding.
func NewStore(ctx context.Context, config StoreConfig, embedder Embedder) (*Store, error) {
	if config.Collection == "" {
		config.Collection = "reports"
	}
	s := &Store{config: config, embedder: embedder}
	s.current.Store(&generation{})

	if config.PersistDir == "" {
		return s, nil
	}
	if err := os.MkdirAll(config.PersistDir, 0o755); err != nil {
		return nil, fmt.Errorf("rag: create persist dir: %w", err)
	}
	saved, err := readSnapshot(filepath.Join(config.PersistDir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	gen, err := s.build(ctx, saved.Docs, saved.Version)
	if err != nil {
		return nil, fmt.Errorf("rag: restore snapshot: %w", err)
	}
	s.current.Store(gen)
	return s, nil
}

// Replace indexes docs as a new generation that supersedes the current one.
func (s *Store) Replace(ctx context.Context, docs []Document) (Version, error) {
	if len(docs) == 0 {
		return Version{}, ErrNoDocuments
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.swap(ctx, docs)
}

// Add indexes docs together with the current generation's documents.
func (s *Store) Add(ctx context.Context, docs []Document) (Version, error) {
	if len(docs) == 0 {
		return Version{}, ErrNoDocuments
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load().docs
	all := make([]Document, 0, len(prev)+len(docs))
	all = append(all, prev...)
	all = append(all, docs...)
	return s.swap(ctx, all)
}

// swap must be called with writeMu held.
func (s *Store) swap(ctx context.Context, docs []Document) (Version, error) {
	prev := s.current.Load().version
	next := Version{
		ID:         uuid.NewString(),
		Generation: prev.Generation + 1,
		Documents:  len(docs),
		CreatedAt:  time.Now().UTC(),
	}

	gen, err := s.build(ctx, docs, next)
	if err != nil {
		return Version{}, err
	}
	if s.config.PersistDir != "" {
		if err := writeSnapshot(filepath.Join(s.config.PersistDir, snapshotFile), persisted{Version: next, Docs: gen.docs}); err != nil {
			return Version{}, err
		}
	}
	s.current.Store(gen)
	return next, nil
}

// build embeds any documents lacking vectors and loads them into a fresh
// chromem collection.
func (s *Store) build(ctx context.Context, docs []Document, version Version) (*generation, error) {
	docs = append([]Document(nil), docs...)

	var missing []int
	for i, d := range docs {
		if len(d.Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = docs[idx].Content
		}
		embeddings, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("rag: embed documents: %w", err)
		}
		for i, idx := range missing {
			docs[idx].Embedding = embeddings[i]
		}
	}

	db := chromem.NewDB()
	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(s.config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("rag: create collection: %w", err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			docs[i].ID = uuid.NewString()
		}
		chromemDocs[i] = chromem.Document{
			ID:        docs[i].ID,
			Content:   d.Content,
			Metadata:  d.Metadata,
			Embedding: d.Embedding,
		}
	}
	if len(chromemDocs) > 0 {
		if err := collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("rag: add documents: %w", err)
		}
	}

	return &generation{version: version, docs: docs, collection: collection}, nil
}

// Snapshot pins the current generation.
func (s *Store) Snapshot() *Snapshot {
	return &Snapshot{gen: s.current.Load()}
}

// Version returns the current generation's version.
func (s *Store) Version() Version {
	return s.current.Load().version
}

// Snapshot is a read-only view of one store generation.
type Snapshot struct {
	gen *generation
}

// Version returns the pinned version.
func (sn *Snapshot) Version() Version {
	return sn.gen.version
}

// Count returns the number of indexed documents.
func (sn *Snapshot) Count() int {
	return len(sn.gen.docs)
}

// Query returns up to topK documents with similarity of at least
// minSimilarity, closest first.
func (sn *Snapshot) Query(ctx context.Context, query string, topK int, minSimilarity float32) ([]SearchResult, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if sn.gen.collection == nil || sn.Count() == 0 {
		return nil, ErrEmptyStore
	}
	if topK <= 0 {
		topK = 5
	}
	// chromem rejects nResults above the collection size.
	topK = min(topK, sn.gen.collection.Count())

	results, err := sn.gen.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("rag: query collection: %w", err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if r.Similarity < minSimilarity {
			continue
		}
		out = append(out, SearchResult{
			Document: Document{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

// ── Persistence ──

type persisted struct {
	Version Version
	Docs    []Document
}

func readSnapshot(path string) (persisted, error) {
	var p persisted
	f, err := os.Open(path)
	if err != nil {
		return p, err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return p, fmt.Errorf("rag: decode snapshot %s: %w", path, err)
	}
	return p, nil
}

// writeSnapshot writes to a temporary file and renames it over path.
func writeSnapshot(path string, p persisted) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".store-*.gob")
	if err != nil {
		return fmt.Errorf("rag: create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(p); err != nil {
		tmp.Close()
		return fmt.Errorf("rag: encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("rag: close snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rag: install snapshot: %w", err)
	}
	return nil
}
