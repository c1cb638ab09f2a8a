package repo

import (
	"context"
	"fmt"
	"regexp"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Result is the minimal interface needed from a neo4j result.
type Result interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// Session is the minimal interface needed from a neo4j session.
type Session interface {
	Run(ctx context.Context, cypher string, params map[string]any) (Result, error)
	Close(ctx context.Context) error
}

// Opener opens sessions; tests substitute a fake.
type Opener interface {
	OpenSession(ctx context.Context) Session
}

type driverOpener struct {
	driver neo4j.DriverWithContext
	db     string
}

// DriverOpener opens sessions on driver against database db ("" for the
// server default).
func DriverOpener(driver neo4j.DriverWithContext, db string) Opener {
	return &driverOpener{driver: driver, db: db}
}

func (o *driverOpener) OpenSession(ctx context.Context) Session {
	return &sessionAdapter{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: o.db})}
}

// sessionAdapter adapts neo4j.SessionWithContext to Session.
type sessionAdapter struct {
	sess neo4j.SessionWithContext
}

func (a *sessionAdapter) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	return a.sess.Run(ctx, cypher, params)
}

func (a *sessionAdapter) Close(ctx context.Context) error {
	return a.sess.Close(ctx)
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Neo4jRepo is a generic Neo4j-backed repository over nodes with one label.
type Neo4jRepo[T any, ID comparable] struct {
	opener     Opener
	label      string
	idKey      string
	toMap      func(T) map[string]any
	fromRecord func(*neo4j.Record) (T, error)
}

// Neo4jOption configures a Neo4jRepo.
type Neo4jOption[T any, ID comparable] func(*Neo4jRepo[T, ID])

// WithIDKey sets the property name used as the ID (default "id").
func WithIDKey[T any, ID comparable](key string) Neo4jOption[T, ID] {
	return func(r *Neo4jRepo[T, ID]) { r.idKey = key }
}

// NewNeo4jRepo creates a repository for nodes labelled label. fromRecord
// reads the node bound to "n". Label and ID key must be plain identifiers.
func NewNeo4jRepo[T any, ID comparable](
	opener Opener,
	label string,
	toMap func(T) map[string]any,
	fromRecord func(*neo4j.Record) (T, error),
	opts ...Neo4jOption[T, ID],
) (*Neo4jRepo[T, ID], error) {
	r := &Neo4jRepo[T, ID]{
		opener:     opener,
		label:      label,
		idKey:      "id",
		toMap:      toMap,
		fromRecord: fromRecord,
	}
	for _, o := range opts {
		o(r)
	}
	if !identRe.MatchString(r.label) || !identRe.MatchString(r.idKey) {
		return nil, fmt.Errorf("repo: invalid label %q or id key %q", r.label, r.idKey)
	}
	return r, nil
}

// Compile-time interface check.
var _ Repository[any, string] = (*Neo4jRepo[any, string])(nil)

// Label returns the node label.
func (r *Neo4jRepo[T, ID]) Label() string { return r.label }

// Query runs cypher in a fresh session and calls each for every record.
func (r *Neo4jRepo[T, ID]) Query(ctx context.Context, cypher string, params map[string]any, each func(*neo4j.Record) error) error {
	sess := r.opener.OpenSession(ctx)
	defer sess.Close(ctx)

	result, err := sess.Run(ctx, cypher, params)
	if err != nil {
		return fmt.Errorf("repo: %s: %w", r.label, err)
	}
	for result.Next(ctx) {
		if each == nil {
			continue
		}
		if err := each(result.Record()); err != nil {
			return err
		}
	}
	if err := result.Err(); err != nil {
		return fmt.Errorf("repo: %s: %w", r.label, err)
	}
	return nil
}

func (r *Neo4jRepo[T, ID]) Get(ctx context.Context, id ID) (T, error) {
	var (
		item  T
		found bool
	)
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) RETURN n", r.label, r.idKey)
	err := r.Query(ctx, cypher, map[string]any{"id": id}, func(rec *neo4j.Record) error {
		if found {
			return nil
		}
		v, err := r.fromRecord(rec)
		if err != nil {
			return err
		}
		item, found = v, true
		return nil
	})
	if err != nil {
		return item, err
	}
	if !found {
		return item, fmt.Errorf("%w: %s %v", ErrNotFound, r.label, id)
	}
	return item, nil
}

func (r *Neo4jRepo[T, ID]) List(ctx context.Context, opts ListOpts) ([]T, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	order := ""
	if opts.OrderBy != "" {
		if !identRe.MatchString(opts.OrderBy) {
			return nil, fmt.Errorf("repo: invalid order key %q", opts.OrderBy)
		}
		order = " ORDER BY n." + opts.OrderBy
	}
	cypher := fmt.Sprintf("MATCH (n:%s) RETURN n%s SKIP $offset LIMIT $limit", r.label, order)
	params := map[string]any{"offset": opts.Offset, "limit": limit}

	var items []T
	err := r.Query(ctx, cypher, params, func(rec *neo4j.Record) error {
		item, err := r.fromRecord(rec)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// Upsert merges the node on its ID and overwrites the mapped properties.
func (r *Neo4jRepo[T, ID]) Upsert(ctx context.Context, entity T) error {
	props := r.toMap(entity)
	cypher := fmt.Sprintf("MERGE (n:%s {%s: $id}) SET n += $props", r.label, r.idKey)
	return r.Query(ctx, cypher, map[string]any{"id": props[r.idKey], "props": props}, nil)
}

// Delete removes the node and its relationships.
func (r *Neo4jRepo[T, ID]) Delete(ctx context.Context, id ID) error {
	cypher := fmt.Sprintf("MATCH (n:%s {%s: $id}) DETACH DELETE n", r.label, r.idKey)
	return r.Query(ctx, cypher, map[string]any{"id": id}, nil)
}
