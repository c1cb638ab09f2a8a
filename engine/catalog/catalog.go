// Package catalog keeps a Neo4j ledger of ingested documents and their
// units: (:Document)-[:HAS_UNIT]->(:Unit).
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/lorekeep/lorekeep/engine/domain"
	"github.com/lorekeep/lorekeep/pkg/repo"
)

// Entry is a Document node.
type Entry struct {
	ID        string
	Name      string
	Units     int
	Records   int
	Completed bool
	UpdatedAt time.Time
}

// UnitEntry is a Unit node.
type UnitEntry struct {
	DocumentID string
	Index      int
	Chunks     int
	Written    int
}

// Catalog records ingestion progress. It satisfies the ingest ledger hook.
type Catalog struct {
	docs *repo.Neo4jRepo[Entry, string]
	log  *slog.Logger
	now  func() time.Time
}

// New returns a Catalog on driver.
func New(driver neo4j.DriverWithContext, database string, logger *slog.Logger) *Catalog {
	c, _ := NewWithOpener(repo.DriverOpener(driver, database), logger)
	return c
}

// NewWithOpener returns a Catalog on an arbitrary session opener.
func NewWithOpener(opener repo.Opener, logger *slog.Logger) (*Catalog, error) {
	docs, err := repo.NewNeo4jRepo[Entry, string](opener, "Document", entryToMap, entryFromRecord)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{docs: docs, log: logger, now: time.Now}, nil
}

const recordUnitCypher = `MERGE (d:Document {id: $doc_id})
SET d.name = $doc_name, d.updated_at = $now, d.completed = false
MERGE (u:Unit {key: $key})
SET u.doc_id = $doc_id, u.index = $unit, u.chunks = $chunks, u.written = $written
MERGE (d)-[:HAS_UNIT]->(u)
WITH d
MATCH (d)-[:HAS_UNIT]->(x:Unit)
WITH d, count(x) AS units, sum(x.written) AS records
SET d.units = units, d.records = records`

// RecordUnit marks one unit of doc as stored.
func (c *Catalog) RecordUnit(ctx context.Context, doc domain.Document, unit, chunks, written int) error {
	params := map[string]any{
		"doc_id":   doc.ID,
		"doc_name": doc.Name,
		"now":      c.now().UTC(),
		"key":      fmt.Sprintf("%s_%d", doc.ID, unit),
		"unit":     unit,
		"chunks":   chunks,
		"written":  written,
	}
	if err := c.docs.Query(ctx, recordUnitCypher, params, nil); err != nil {
		return fmt.Errorf("catalog: record unit %d of %s: %w", unit, doc.ID, err)
	}
	return nil
}

// Complete marks doc as fully ingested with records stored in total.
// Until then Ingested reports false, however many units were recorded.
func (c *Catalog) Complete(ctx context.Context, doc domain.Document, records int) error {
	params := map[string]any{
		"doc_id":   doc.ID,
		"doc_name": doc.Name,
		"now":      c.now().UTC(),
		"records":  records,
	}
	err := c.docs.Query(ctx, `MERGE (d:Document {id: $doc_id})
SET d.name = $doc_name, d.completed = true, d.records = $records, d.updated_at = $now`, params, nil)
	if err != nil {
		return fmt.Errorf("catalog: complete %s: %w", doc.ID, err)
	}
	return nil
}

// Forget removes a document and its units.
func (c *Catalog) Forget(ctx context.Context, docID string) error {
	err := c.docs.Query(ctx, `MATCH (:Document {id: $id})-[:HAS_UNIT]->(u:Unit) DETACH DELETE u`,
		map[string]any{"id": docID}, nil)
	if err == nil {
		err = c.docs.Delete(ctx, docID)
	}
	if err != nil {
		return fmt.Errorf("catalog: forget %s: %w", docID, err)
	}
	c.log.Info("catalog: forgot document", "doc_id", docID)
	return nil
}

// Ingested reports whether a run over docID completed.
func (c *Catalog) Ingested(ctx context.Context, docID string) (bool, error) {
	e, err := c.Get(ctx, docID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return e.Completed, nil
}

// Get returns one document entry; a missing document wraps repo.ErrNotFound.
func (c *Catalog) Get(ctx context.Context, docID string) (Entry, error) {
	e, err := c.docs.Get(ctx, docID)
	if err != nil {
		return e, fmt.Errorf("catalog: %w", err)
	}
	return e, nil
}

// List returns documents ordered by ID.
func (c *Catalog) List(ctx context.Context, offset, limit int) ([]Entry, error) {
	entries, err := c.docs.List(ctx, repo.ListOpts{Offset: offset, Limit: limit, OrderBy: "id"})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return entries, nil
}

// Units returns the recorded units of docID in index order.
func (c *Catalog) Units(ctx context.Context, docID string) ([]UnitEntry, error) {
	var out []UnitEntry
	err := c.docs.Query(ctx, `MATCH (:Document {id: $id})-[:HAS_UNIT]->(u:Unit) RETURN u ORDER BY u.index`,
		map[string]any{"id": docID}, func(rec *neo4j.Record) error {
			node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "u")
			if err != nil {
				return err
			}
			out = append(out, UnitEntry{
				DocumentID: strProp(node.Props, "doc_id"),
				Index:      intProp(node.Props, "index"),
				Chunks:     intProp(node.Props, "chunks"),
				Written:    intProp(node.Props, "written"),
			})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: units of %s: %w", docID, err)
	}
	return out, nil
}

func entryToMap(e Entry) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"name":       e.Name,
		"units":      e.Units,
		"records":    e.Records,
		"completed":  e.Completed,
		"updated_at": e.UpdatedAt,
	}
}

func entryFromRecord(rec *neo4j.Record) (Entry, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return Entry{}, err
	}
	p := node.Props
	e := Entry{
		ID:      strProp(p, "id"),
		Name:    strProp(p, "name"),
		Units:   intProp(p, "units"),
		Records: intProp(p, "records"),
	}
	e.Completed, _ = p["completed"].(bool)
	if t, ok := p["updated_at"].(time.Time); ok {
		e.UpdatedAt = t
	}
	return e, nil
}

func strProp(props map[string]any, key string) string {
	if s, ok := props[key].(string); ok {
		return s
	}
	return ""
}

// intProp reads an integer property; the driver decodes them as int64.
func intProp(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}
