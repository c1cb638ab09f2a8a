// Package domain defines the document, chunk, and record types shared by the
// ingestion and retrieval pipelines, together with the error taxonomy and the
// validation gates applied at pipeline entry points.
package domain

import (
	"fmt"
	"sort"
)

// Payload field names written alongside every vector.
const (
	FieldRecordID = "record_id"
	FieldDocID    = "doc_id"
	FieldDocName  = "doc_name"
	FieldUnit     = "unit"
	FieldChunk    = "chunk"
	FieldContent  = "content"
)

// OutputFields is the default projection requested from a store search.
var OutputFields = []string{FieldRecordID, FieldDocID, FieldDocName, FieldUnit, FieldChunk, FieldContent}

// Document is an ordered sequence of units loaded from one source file.
type Document struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Units []Unit `json:"units"`
}

// Unit is one addressable division of a document (a chapter, a diary entry).
type Unit struct {
	Index int    `json:"index"` // 1-based
	Text  string `json:"text"`
}

// Chunk is a bounded span of text derived from exactly one unit.
type Chunk struct {
	DocumentID string `json:"doc_id"`
	Unit       int    `json:"unit"`
	Index      int    `json:"chunk"` // 0-based within the unit
	Text       string `json:"content"`
}

// ID returns the composite record identifier of the chunk.
func (c Chunk) ID() string { return RecordID(c.DocumentID, c.Unit, c.Index) }

// RecordID renders the composite key (document, unit, chunk) as the persisted
// record identifier. Identical inputs always give identical identifiers.
func RecordID(docID string, unit, chunk int) string {
	return fmt.Sprintf("%s_%d_%d", docID, unit, chunk)
}

// Record is the persisted form of a chunk: text, vector, and metadata.
type Record struct {
	ID           string
	DocumentID   string
	DocumentName string
	Unit         int
	Chunk        int
	Text         string
	Vector       []float32
}

// NewRecord builds the record for chunk c.
func NewRecord(doc Document, c Chunk, vector []float32) Record {
	return Record{
		ID:           c.ID(),
		DocumentID:   doc.ID,
		DocumentName: doc.Name,
		Unit:         c.Unit,
		Chunk:        c.Index,
		Text:         c.Text,
		Vector:       vector,
	}
}

// Payload returns the metadata map stored next to the vector.
func (r Record) Payload() map[string]any {
	return map[string]any{
		FieldRecordID: r.ID,
		FieldDocID:    r.DocumentID,
		FieldDocName:  r.DocumentName,
		FieldUnit:     r.Unit,
		FieldChunk:    r.Chunk,
		FieldContent:  r.Text,
	}
}

// Query is a question bounded to at most K results.
type Query struct {
	Question string `json:"question"`
	K        int    `json:"k"`
}

// RetrievedChunk is a stored record returned by a similarity search.
type RetrievedChunk struct {
	ID           string  `json:"id"`
	DocumentID   string  `json:"doc_id"`
	DocumentName string  `json:"doc_name"`
	Unit         int     `json:"unit"`
	Chunk        int     `json:"chunk"`
	Text         string  `json:"content"`
	Score        float32 `json:"score"`
}

// SortRetrieved orders chunks by descending score. Ties fall back to
// ascending (unit, chunk) so results are deterministic.
func SortRetrieved(chunks []RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Unit != b.Unit {
			return a.Unit < b.Unit
		}
		return a.Chunk < b.Chunk
	})
}

// Metric is the similarity function a collection is indexed with.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

// CollectionSpec describes the collection the pipelines read and write.
type CollectionSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Condition restricts a filtered operation to records whose Key field
// matches Value. Value is a string, an int, or a []string (any-of).
type Condition struct {
	Key   string
	Value any
}

// Filter is a conjunction of conditions.
type Filter struct {
	Must []Condition
}

// ByDocument matches every record of one document.
func ByDocument(docID string) Filter {
	return Filter{Must: []Condition{{Key: FieldDocID, Value: docID}}}
}

// ByRecordIDs matches records by their composite identifiers.
func ByRecordIDs(ids ...string) Filter {
	return Filter{Must: []Condition{{Key: FieldRecordID, Value: ids}}}
}

// IsEmpty reports whether the filter has no conditions. Stores refuse empty
// filters on delete.
func (f Filter) IsEmpty() bool { return len(f.Must) == 0 }
