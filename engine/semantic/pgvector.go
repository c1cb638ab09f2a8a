package semantic

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/lorekeep/engine/domain"
)

type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const tableExistsSQL = `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// columns that filters may reference; payload keys double as column names.
var pgColumns = map[string]bool{
	domain.FieldRecordID: true,
	domain.FieldDocID:    true,
	domain.FieldDocName:  true,
	domain.FieldUnit:     true,
	domain.FieldChunk:    true,
}

// PGStore keeps records in a Postgres table with a pgvector column.
type PGStore struct {
	pool  *pgxpool.Pool
	db    pgxDB
	spec  domain.CollectionSpec
	table string
}

// NewPG connects to Postgres at dsn.
func NewPG(ctx context.Context, dsn string, spec domain.CollectionSpec) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("semantic: connect postgres: %w", err)
	}
	s, err := NewPGWithDB(pool, spec)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// NewPGWithDB builds a PGStore over an existing connection or pool.
func NewPGWithDB(db pgxDB, spec domain.CollectionSpec) (*PGStore, error) {
	if !identRe.MatchString(spec.Name) {
		return nil, fmt.Errorf("semantic: invalid table name %q", spec.Name)
	}
	if spec.Metric == "" {
		spec.Metric = domain.MetricCosine
	}
	return &PGStore{db: db, spec: spec, table: pgx.Identifier{spec.Name}.Sanitize()}, nil
}

// Close releases the pool opened by NewPG.
func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PGStore) operator() string {
	switch s.spec.Metric {
	case domain.MetricDot:
		return "<#>"
	case domain.MetricEuclidean:
		return "<->"
	default:
		return "<=>"
	}
}

func (s *PGStore) opsClass() string {
	switch s.spec.Metric {
	case domain.MetricDot:
		return "vector_ip_ops"
	case domain.MetricEuclidean:
		return "vector_l2_ops"
	default:
		return "vector_cosine_ops"
	}
}

// pgScore converts an operator result into a higher-is-more-similar score.
// <=> is cosine distance, <#> the negated inner product, <-> L2 distance.
func pgScore(m domain.Metric, d float64) float32 {
	if m == domain.MetricCosine || m == "" {
		return float32(1 - d)
	}
	return float32(-d)
}

func (s *PGStore) EnsureCollection(ctx context.Context) (domain.CollectionStatus, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, tableExistsSQL, s.spec.Name).Scan(&exists); err != nil {
		return 0, fmt.Errorf("semantic: check table %s: %w", s.spec.Name, err)
	}
	if exists {
		return domain.StatusAlreadyExists, nil
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	record_id TEXT PRIMARY KEY,
	doc_id    TEXT NOT NULL,
	doc_name  TEXT NOT NULL,
	unit      INTEGER NOT NULL,
	chunk     INTEGER NOT NULL,
	content   TEXT NOT NULL,
	embedding vector(%d) NOT NULL
)`, s.table, s.spec.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (doc_id)`,
			pgx.Identifier{s.spec.Name + "_doc_idx"}.Sanitize(), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s)`,
			pgx.Identifier{s.spec.Name + "_vec_idx"}.Sanitize(), s.table, s.opsClass()),
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return 0, fmt.Errorf("semantic: create table %s: %w", s.spec.Name, err)
		}
	}
	return domain.StatusCreated, nil
}

// LoadCollection is a no-op for Postgres beyond checking the table exists.
func (s *PGStore) LoadCollection(ctx context.Context) (domain.CollectionStatus, error) {
	var exists bool
	if err := s.db.QueryRow(ctx, tableExistsSQL, s.spec.Name).Scan(&exists); err != nil {
		return 0, fmt.Errorf("semantic: check table %s: %w", s.spec.Name, err)
	}
	if !exists {
		return 0, fmt.Errorf("semantic: table %s does not exist", s.spec.Name)
	}
	return domain.StatusAlreadyLoaded, nil
}

// Insert adds records, skipping ids already stored. The count excludes
// skipped rows.
func (s *PGStore) Insert(ctx context.Context, records []domain.Record) (int, error) {
	return s.write(ctx, records, `ON CONFLICT (record_id) DO NOTHING`)
}

// Upsert adds or replaces records.
func (s *PGStore) Upsert(ctx context.Context, records []domain.Record) (int, error) {
	return s.write(ctx, records, `ON CONFLICT (record_id) DO UPDATE SET
	doc_id = EXCLUDED.doc_id, doc_name = EXCLUDED.doc_name, unit = EXCLUDED.unit,
	chunk = EXCLUDED.chunk, content = EXCLUDED.content, embedding = EXCLUDED.embedding`)
}

func (s *PGStore) write(ctx context.Context, records []domain.Record, conflict string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	sql, args := insertSQL(s.table, records, conflict)
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("semantic: insert %d rows: %w: %w", len(records), domain.ErrStoreWrite, err)
	}
	return int(tag.RowsAffected()), nil
}

func insertSQL(table string, records []domain.Record, conflict string) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (record_id, doc_id, doc_name, unit, chunk, content, embedding) VALUES ", table)
	args := make([]any, 0, len(records)*7)
	for i, r := range records {
		if i > 0 {
			b.WriteString(", ")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d::vector)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, r.ID, r.DocumentID, r.DocumentName, r.Unit, r.Chunk, r.Text, vectorLiteral(r.Vector))
	}
	b.WriteString(" ")
	b.WriteString(conflict)
	return b.String(), args
}

func (s *PGStore) Search(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.RetrievedChunk, error) {
	where, args, err := whereSQL(filter, 1)
	if err != nil {
		return nil, err
	}
	args = append([]any{vectorLiteral(vector)}, args...)
	args = append(args, k)
	sql := fmt.Sprintf(`SELECT record_id, doc_id, doc_name, unit, chunk, content, embedding %s $1::vector AS distance
FROM %s%s ORDER BY distance, unit, chunk, record_id LIMIT $%d`, s.operator(), s.table, where, len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	defer rows.Close()

	var out []domain.RetrievedChunk
	for rows.Next() {
		var (
			c    domain.RetrievedChunk
			dist float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.DocumentName, &c.Unit, &c.Chunk, &c.Text, &dist); err != nil {
			return nil, fmt.Errorf("semantic: scan: %w", err)
		}
		c.Score = pgScore(s.spec.Metric, dist)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}
	return out, nil
}

func (s *PGStore) Delete(ctx context.Context, filter domain.Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, fmt.Errorf("semantic: delete requires a filter")
	}
	where, args, err := whereSQL(filter, 0)
	if err != nil {
		return 0, err
	}
	tag, err := s.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", s.table, where), args...)
	if err != nil {
		return 0, fmt.Errorf("semantic: delete: %w: %w", domain.ErrStoreWrite, err)
	}
	return int(tag.RowsAffected()), nil
}

// whereSQL renders filter as a WHERE clause whose placeholders start after
// offset existing arguments.
func whereSQL(f domain.Filter, offset int) (string, []any, error) {
	if f.IsEmpty() {
		return "", nil, nil
	}
	parts := make([]string, 0, len(f.Must))
	args := make([]any, 0, len(f.Must))
	for _, c := range f.Must {
		if !pgColumns[c.Key] {
			return "", nil, fmt.Errorf("semantic: cannot filter on %q", c.Key)
		}
		n := offset + len(args) + 1
		switch v := c.Value.(type) {
		case []string:
			parts = append(parts, fmt.Sprintf("%s = ANY($%d)", c.Key, n))
			args = append(args, v)
		default:
			parts = append(parts, fmt.Sprintf("%s = $%d", c.Key, n))
			args = append(args, v)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// vectorLiteral renders v in pgvector's text form, e.g. [1,0.5].
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
