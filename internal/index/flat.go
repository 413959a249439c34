package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"

	"pdfchat/internal/helper"
	"pdfchat/internal/models"
)

const fileVersion = 1

// Flat is a brute force in-memory index.
type Flat struct {
	dim      int
	vectors  [][]float32
	segments []models.Segment
}

type flatFile struct {
	Version   int              `msgpack:"version"`
	Dimension int              `msgpack:"dimension"`
	Vectors   [][]float32      `msgpack:"vectors"`
	Segments  []models.Segment `msgpack:"segments"`
}

func NewFlat() *Flat {
	return &Flat{}
}

func (f *Flat) Build(_ context.Context, segments []models.Segment, vectors [][]float32) error {
	dim, err := CheckBuild(segments, vectors)
	if err != nil {
		return err
	}
	vs := make([][]float32, len(vectors))
	for i, v := range vectors {
		vs[i] = append([]float32(nil), v...)
	}
	f.dim = dim
	f.vectors = vs
	f.segments = append([]models.Segment(nil), segments...)
	log.Debug().Int("vectors", len(vs)).Int("dimension", dim).Msg("Built flat index")
	return nil
}

func (f *Flat) Search(_ context.Context, query []float32, k int) ([]models.Neighbor, error) {
	if err := CheckSearch(len(f.vectors), f.dim, query, k); err != nil {
		return nil, err
	}
	hits := make([]models.Neighbor, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = models.Neighbor{Position: i, Distance: SquaredL2(query, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

func (f *Flat) Len() int { return len(f.vectors) }

func (f *Flat) Dimension() int { return f.dim }

// Segments returns the segments stored with the vectors.
func (f *Flat) Segments() []models.Segment { return f.segments }

// Save writes the index and its segments to path.
func (f *Flat) Save(path string) error {
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := msgpack.Marshal(flatFile{
		Version:   fileVersion,
		Dimension: f.dim,
		Vectors:   f.vectors,
		Segments:  f.segments,
	})
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	log.Info().Str("path", path).Int("vectors", len(f.vectors)).Msg("Saved index")
	return nil
}

// Load reads an index written by Save.
func Load(path string) (*Flat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var file flatFile
	if err := msgpack.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to decode index: %w", err)
	}
	if file.Version != fileVersion {
		return nil, fmt.Errorf("unsupported index version %d", file.Version)
	}
	f := NewFlat()
	if err := f.Build(context.Background(), file.Segments, file.Vectors); err != nil {
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	log.Info().Str("path", path).Int("vectors", f.Len()).Msg("Loaded index")
	return f, nil
}
