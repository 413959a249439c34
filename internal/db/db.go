package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"pdfchat/internal/config"
	"pdfchat/internal/index"
	"pdfchat/internal/models"
)

var ErrMissingURL = errors.New("database url is required")

// Segment is one row of the segment table.
type Segment struct {
	bun.BaseModel `bun:"table:segments,alias:s"`
	Position      int             `bun:"position,pk"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Distance      float64         `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a connection pool with the configured driver, pgdriver
// unless "pq" is asked for.
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	switch cfg.Driver {
	case "pq", "postgres":
		sqldb, err := sql.Open("postgres", cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sqldb, nil
	default:
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.URL)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	}
}

// Store keeps segments in a Postgres table and searches them with pgvector.
type Store struct {
	db    *bun.DB
	table string
	dim   int
	count int
}

// NewStore connects, makes sure the vector extension and table exist and
// picks up rows already stored.
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	s := &Store{db: NewDB(sqldb, cfg.Debug), table: cfg.Table, dim: cfg.Dimension}
	if err := s.init(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if err := s.createTable(ctx, true); err != nil {
		return err
	}
	n, err := s.db.NewSelect().Model((*Segment)(nil)).ModelTableExpr("? AS s", bun.Ident(s.table)).Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count segments: %w", err)
	}
	s.count = n
	return nil
}

func (s *Store) createTable(ctx context.Context, ifNotExists bool) error {
	q := s.db.NewCreateTable().Model((*Segment)(nil)).ModelTableExpr("?", bun.Ident(s.table))
	if ifNotExists {
		q = q.IfNotExists()
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	if s.dim > 0 {
		_, err := s.db.ExecContext(ctx, "ALTER TABLE ? ALTER COLUMN embedding TYPE vector(?)", bun.Ident(s.table), s.dim)
		if err != nil {
			return fmt.Errorf("failed to set vector dimension: %w", err)
		}
	}
	return nil
}

// Build drops and recreates the table, then inserts every segment.
func (s *Store) Build(ctx context.Context, segments []models.Segment, vectors [][]float32) error {
	dim, err := index.CheckBuild(segments, vectors)
	if err != nil {
		return err
	}
	if s.dim > 0 && dim > 0 && dim != s.dim {
		return fmt.Errorf("%w: table holds %d, got %d", index.ErrDimension, s.dim, dim)
	}

	_, err = s.db.NewDropTable().Model((*Segment)(nil)).ModelTableExpr("?", bun.Ident(s.table)).IfExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	if dim > 0 {
		s.dim = dim
	}
	if err := s.createTable(ctx, false); err != nil {
		return err
	}
	s.count = 0
	if len(segments) == 0 {
		return nil
	}

	rows := make([]Segment, len(segments))
	for i, seg := range segments {
		rows[i] = Segment{Position: i, Content: seg.Content, Embedding: pgvector.NewVector(vectors[i])}
	}
	if _, err := s.db.NewInsert().Model(&rows).ModelTableExpr("?", bun.Ident(s.table)).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert segments: %w", err)
	}
	s.count = len(rows)
	log.Debug().Str("table", s.table).Int("segments", len(rows)).Msg("Stored segments")
	return nil
}

func (s *Store) Search(ctx context.Context, query []float32, k int) ([]models.Neighbor, error) {
	if err := index.CheckSearch(s.count, s.dim, query, k); err != nil {
		return nil, err
	}
	var rows []Segment
	err := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS s", bun.Ident(s.table)).
		Column("position").
		ColumnExpr("s.embedding <-> ? AS distance", pgvector.NewVector(query)).
		OrderExpr("distance ASC").
		OrderExpr("s.position ASC").
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search segments: %w", err)
	}
	hits := make([]models.Neighbor, len(rows))
	for i, r := range rows {
		hits[i] = models.Neighbor{Position: r.Position, Distance: float32(r.Distance * r.Distance)}
	}
	return hits, nil
}

func (s *Store) Len() int { return s.count }

// Segments reads the stored segments in position order.
func (s *Store) Segments(ctx context.Context) ([]models.Segment, error) {
	var rows []Segment
	err := s.db.NewSelect().
		Model(&rows).
		ModelTableExpr("? AS s", bun.Ident(s.table)).
		Column("position", "content").
		Order("position").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}
	out := make([]models.Segment, len(rows))
	for i, r := range rows {
		out[i] = models.Segment{Position: r.Position, Content: r.Content}
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
