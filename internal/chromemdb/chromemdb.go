package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"pdfchat/internal/config"
	"pdfchat/internal/helper"
	"pdfchat/internal/index"
	"pdfchat/internal/models"
)

const positionKey = "position"

var errPrecomputed = errors.New("documents must carry precomputed embeddings")

// Store keeps segments and their vectors in a chromem-go collection.
type Store struct {
	db            *chromem.DB
	collection    *chromem.Collection
	name          string
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
	dim           int
}

// NewStore opens the database described by cfg. A persistent database that
// already holds the collection is searchable right away.
func NewStore(cfg config.VectorStoreConfig) (*Store, error) {
	var db *chromem.DB
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(cfg.Path); err != nil {
			return nil, err
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	filePath := cfg.ExportFilePath
	if filePath == "" {
		filePath = filepath.Join(cfg.Path, cfg.Collection+".chromem")
	}
	s := &Store{
		db:            db,
		name:          cfg.Collection,
		dbPath:        cfg.Path,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filePath,
	}
	if err := s.attach(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errPrecomputed
}

// attach picks up an existing collection, if any.
func (s *Store) attach(ctx context.Context) error {
	s.collection = s.db.GetCollection(s.name, noEmbedding)
	s.dim = 0
	if s.collection == nil || s.collection.Count() == 0 {
		return nil
	}
	doc, err := s.collection.GetByID(ctx, strconv.Itoa(0))
	if err != nil {
		return fmt.Errorf("failed to read collection %s: %w", s.name, err)
	}
	s.dim = len(doc.Embedding)
	log.Debug().Str("collection", s.name).Int("documents", s.collection.Count()).Msg("Attached collection")
	return nil
}

func (s *Store) Build(ctx context.Context, segments []models.Segment, vectors [][]float32) error {
	dim, err := index.CheckBuild(segments, vectors)
	if err != nil {
		return err
	}
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	c, err := s.db.GetOrCreateCollection(s.name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create/get collection: %w", err)
	}
	s.collection = c
	s.dim = dim
	if len(segments) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(segments))
	for i, seg := range segments {
		docs[i] = chromem.Document{
			ID:        strconv.Itoa(i),
			Content:   seg.Content,
			Metadata:  map[string]string{positionKey: strconv.Itoa(i)},
			Embedding: append([]float32(nil), vectors[i]...),
		}
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Str("collection", s.name).Int("documents", len(docs)).Msg("Built collection")
	return nil
}

// Search ranks every document, then keeps the k nearest. Stored vectors are
// unit length, so the squared distance is computed against them directly.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.Neighbor, error) {
	if err := index.CheckSearch(s.Len(), s.dim, query, k); err != nil {
		return nil, err
	}
	n := s.collection.Count()
	results, err := s.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	hits := make([]models.Neighbor, 0, len(results))
	for _, r := range results {
		pos, err := strconv.Atoi(r.Metadata[positionKey])
		if err != nil {
			return nil, fmt.Errorf("document %s has no position: %w", r.ID, err)
		}
		hits = append(hits, models.Neighbor{Position: pos, Distance: index.SquaredL2(query, r.Embedding)})
	}
	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Distance != hits[b].Distance {
			return hits[a].Distance < hits[b].Distance
		}
		return hits[a].Position < hits[b].Position
	})
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (s *Store) Len() int {
	if s.collection == nil {
		return 0
	}
	return s.collection.Count()
}

// Segments reads the stored segments back in position order.
func (s *Store) Segments(ctx context.Context) ([]models.Segment, error) {
	n := s.Len()
	out := make([]models.Segment, n)
	for i := 0; i < n; i++ {
		doc, err := s.collection.GetByID(ctx, strconv.Itoa(i))
		if err != nil {
			return nil, fmt.Errorf("failed to read segment %d: %w", i, err)
		}
		out[i] = models.Segment{Position: i, Content: doc.Content}
	}
	return out, nil
}

// Export writes the collection to path, or to the configured export file
// when path is empty.
func (s *Store) Export(_ context.Context, path string) error {
	if s.collection == nil || s.collection.Count() == 0 {
		return fmt.Errorf("collection %s is empty", s.name)
	}
	if path == "" {
		path = s.filePath
	}
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return err
	}
	log.Debug().Str("collection", s.name).Str("file", path).Bool("compress", s.compress).Msg("Exporting collection")
	if err := s.db.ExportToFile(path, s.compress, s.encryptionKey, s.name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import replaces the collection with the one exported to path, or to the
// configured export file when path is empty.
func (s *Store) Import(ctx context.Context, path string) error {
	if path == "" {
		path = s.filePath
	}
	if err := s.db.ImportFromFile(path, s.encryptionKey, s.name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	if err := s.attach(ctx); err != nil {
		return err
	}
	if s.Len() == 0 {
		return fmt.Errorf("%s holds no collection %s", path, s.name)
	}
	log.Debug().Str("collection", s.name).Str("file", path).Int("documents", s.Len()).Msg("Imported collection")
	return nil
}
