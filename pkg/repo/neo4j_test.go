package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

type mockResult struct {
	records []*neo4j.Record
	i       int
	err     error
}

func (r *mockResult) Next(context.Context) bool {
	if r.i >= len(r.records) {
		return false
	}
	r.i++
	return true
}

func (r *mockResult) Record() *neo4j.Record { return r.records[r.i-1] }
func (r *mockResult) Err() error            { return r.err }

type call struct {
	cypher string
	params map[string]any
}

type mockSession struct {
	result *mockResult
	runErr error
	calls  []call
	closed int
}

func (s *mockSession) Run(_ context.Context, cypher string, params map[string]any) (Result, error) {
	s.calls = append(s.calls, call{cypher, params})
	if s.runErr != nil {
		return nil, s.runErr
	}
	if s.result == nil {
		return &mockResult{}, nil
	}
	return s.result, nil
}

func (s *mockSession) Close(context.Context) error {
	s.closed++
	return nil
}

type mockOpener struct{ session *mockSession }

func (o *mockOpener) OpenSession(context.Context) Session { return o.session }

type book struct {
	ID    string
	Title string
}

func bookToMap(b book) map[string]any { return map[string]any{"id": b.ID, "title": b.Title} }

func bookFromRecord(rec *neo4j.Record) (book, error) {
	node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, "n")
	if err != nil {
		return book{}, err
	}
	id, _ := node.Props["id"].(string)
	title, _ := node.Props["title"].(string)
	return book{ID: id, Title: title}, nil
}

func nodeRecord(props map[string]any) *neo4j.Record {
	return &neo4j.Record{Keys: []string{"n"}, Values: []any{dbtype.Node{Labels: []string{"Book"}, Props: props}}}
}

func newBookRepo(t *testing.T, sess *mockSession) *Neo4jRepo[book, string] {
	t.Helper()
	r, err := NewNeo4jRepo[book, string](&mockOpener{session: sess}, "Book", bookToMap, bookFromRecord)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestNewNeo4jRepoRejectsBadIdentifiers(t *testing.T) {
	if _, err := NewNeo4jRepo[book, string](nil, "Book) DETACH DELETE (x", bookToMap, bookFromRecord); err == nil {
		t.Error("expected label error")
	}
	if _, err := NewNeo4jRepo[book, string](nil, "Book", bookToMap, bookFromRecord, WithIDKey[book, string]("bad key")); err == nil {
		t.Error("expected id key error")
	}
	r, err := NewNeo4jRepo[book, string](nil, "Book", bookToMap, bookFromRecord, WithIDKey[book, string]("uuid"))
	if err != nil || r.idKey != "uuid" || r.Label() != "Book" {
		t.Fatalf("repo = %+v, err = %v", r, err)
	}
}

func TestGet(t *testing.T) {
	sess := &mockSession{result: &mockResult{records: []*neo4j.Record{nodeRecord(map[string]any{"id": "b1", "title": "Demi-Gods"})}}}
	b, err := newBookRepo(t, sess).Get(context.Background(), "b1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Title != "Demi-Gods" {
		t.Errorf("book = %+v", b)
	}
	if sess.closed != 1 {
		t.Error("session not closed")
	}
	if got := sess.calls[0].cypher; got != "MATCH (n:Book {id: $id}) RETURN n" {
		t.Errorf("cypher = %q", got)
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := newBookRepo(t, &mockSession{}).Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestGetWrongType(t *testing.T) {
	sess := &mockSession{result: &mockResult{records: []*neo4j.Record{{Keys: []string{"n"}, Values: []any{"not-a-node"}}}}}
	if _, err := newBookRepo(t, sess).Get(context.Background(), "b1"); err == nil {
		t.Fatal("expected type error")
	}
}

func TestList(t *testing.T) {
	sess := &mockSession{result: &mockResult{records: []*neo4j.Record{
		nodeRecord(map[string]any{"id": "a"}),
		nodeRecord(map[string]any{"id": "b"}),
	}}}
	items, err := newBookRepo(t, sess).List(context.Background(), ListOpts{Offset: 5, OrderBy: "title"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 || items[1].ID != "b" {
		t.Errorf("items = %+v", items)
	}
	c := sess.calls[0]
	if !strings.Contains(c.cypher, "ORDER BY n.title") || c.params["limit"] != 100 || c.params["offset"] != 5 {
		t.Errorf("call = %+v", c)
	}
	if _, err := newBookRepo(t, sess).List(context.Background(), ListOpts{OrderBy: "x; DROP"}); err == nil {
		t.Error("expected order key error")
	}
}

func TestUpsertAndDelete(t *testing.T) {
	sess := &mockSession{}
	r := newBookRepo(t, sess)
	if err := r.Upsert(context.Background(), book{ID: "b1", Title: "T"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(context.Background(), "b1"); err != nil {
		t.Fatal(err)
	}
	if got := sess.calls[0]; !strings.HasPrefix(got.cypher, "MERGE (n:Book {id: $id})") || got.params["id"] != "b1" {
		t.Errorf("upsert call = %+v", got)
	}
	if got := sess.calls[1].cypher; !strings.Contains(got, "DETACH DELETE n") {
		t.Errorf("delete cypher = %q", got)
	}
	if sess.closed != 2 {
		t.Errorf("closed = %d", sess.closed)
	}
}

func TestQueryErrors(t *testing.T) {
	r := newBookRepo(t, &mockSession{runErr: errors.New("connection reset")})
	if err := r.Delete(context.Background(), "b1"); err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("err = %v", err)
	}
	r = newBookRepo(t, &mockSession{result: &mockResult{err: errors.New("stream broke")}})
	if _, err := r.List(context.Background(), ListOpts{}); err == nil {
		t.Error("expected result error")
	}
}
