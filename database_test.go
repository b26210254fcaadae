package kvdoc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

// KVDocSuite covers the seed scenarios from spec.md §8 end to end over a
// real bbolt-backed Database, grounded in test style on the teacher's
// CouchDBTestSuite (suite.Suite + SetupTest, table-free integration
// flows exercising the public surface in sequence).
type KVDocSuite struct {
	suite.Suite
	db  *Database
	ctx context.Context
}

func (s *KVDocSuite) SetupTest() {
	s.ctx = context.Background()
	path := filepath.Join(s.T().TempDir(), "kvdoc.db")
	db, err := Open(s.ctx, "default", WithDataDir(path))
	s.Require().NoError(err)
	s.db = db
}

func (s *KVDocSuite) TearDownTest() {
	s.Require().NoError(s.db.Close())
}

func userMapFn(doc Document, emit EmitFunc) {
	if doc["type"] == "user" {
		emit(doc["name"])
	}
}

// S1 — Basic CRUD.
func (s *KVDocSuite) TestBasicCRUD() {
	res, err := s.db.Insert(s.ctx, Document{"_id": "alice", "type": "user", "name": "Alice"})
	s.Require().NoError(err)
	s.True(res.OK)
	s.Equal("alice", res.ID)
	r1 := res.Rev

	doc, err := s.db.Get(s.ctx, "alice")
	s.Require().NoError(err)
	s.Equal("alice", doc.ID())
	s.Equal(r1, doc.Rev())
	s.Equal("Alice", doc["name"])

	_, err = s.db.Insert(s.ctx, Document{"_id": "alice", "type": "user", "name": "Alice2"})
	s.ErrorIs(err, ErrDuplicateDocument)

	res2, err := s.db.Replace(s.ctx, "alice", r1, Document{"type": "user", "name": "A2"})
	s.Require().NoError(err)
	r2 := res2.Rev
	s.NotEqual(r1, r2)

	_, err = s.db.Replace(s.ctx, "alice", r1, Document{"type": "user", "name": "A3"})
	s.ErrorIs(err, ErrRevisionConflict)
}

// S2 — Incremental view maintenance.
func (s *KVDocSuite) TestIncrementalViewMaintenance() {
	s.Require().NoError(s.db.DefineView(s.ctx, "by-name", userMapFn, nil))

	aliceRes, err := s.db.Insert(s.ctx, Document{"type": "user", "name": "Alice"})
	s.Require().NoError(err)
	_, err = s.db.Insert(s.ctx, Document{"type": "user", "name": "Bob"})
	s.Require().NoError(err)

	rows, _, err := s.db.Query(s.ctx, s.db.NewQuery("by-name"))
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal([]any{"Alice"}, rows[0].Key)
	s.Equal("Bob", rows[1].Key[0])

	_, err = s.db.Replace(s.ctx, aliceRes.ID, aliceRes.Rev, Document{"type": "user", "name": "Alicia"})
	s.Require().NoError(err)

	rows, _, err = s.db.Query(s.ctx, s.db.NewQuery("by-name").Key("Alice"))
	s.Require().NoError(err)
	s.Len(rows, 0)

	rows, _, err = s.db.Query(s.ctx, s.db.NewQuery("by-name").Key("Alicia"))
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal(aliceRes.ID, rows[0].ID)
}

// S3 — Compound prefix.
func (s *KVDocSuite) TestCompoundPrefix() {
	mapFn := func(doc Document, emit EmitFunc) {
		if doc["type"] == "user" {
			emit([]any{doc["department"], doc["name"]})
		}
	}
	s.Require().NoError(s.db.DefineView(s.ctx, "by-dept-name", mapFn, nil))

	_, err := s.db.Insert(s.ctx, Document{"type": "user", "name": "Alice", "department": "engineering"})
	s.Require().NoError(err)
	_, err = s.db.Insert(s.ctx, Document{"type": "user", "name": "Bob", "department": "engineering"})
	s.Require().NoError(err)
	_, err = s.db.Insert(s.ctx, Document{"type": "user", "name": "Charlie", "department": "sales"})
	s.Require().NoError(err)

	rows, _, err := s.db.Query(s.ctx, s.db.NewQuery("by-dept-name").Prefix("engineering"))
	s.Require().NoError(err)
	s.Len(rows, 2)
	for _, r := range rows {
		s.Equal("engineering", r.Key[0])
	}
}

// S4 — Grouped reduce.
func (s *KVDocSuite) TestGroupedReduce() {
	mapFn := func(doc Document, emit EmitFunc) {
		if doc["type"] == "user" {
			emit(doc["department"])
		}
	}
	s.Require().NoError(s.db.DefineView(s.ctx, "by-dept", mapFn, ReduceCount))

	for _, dept := range []string{"engineering", "engineering", "sales"} {
		_, err := s.db.Insert(s.ctx, Document{"type": "user", "department": dept})
		s.Require().NoError(err)
	}

	_, reduceRows, err := s.db.Query(s.ctx, s.db.NewQuery("by-dept").Reduce())
	s.Require().NoError(err)
	s.Require().Len(reduceRows, 1)
	s.Nil(reduceRows[0].Key)
	s.Equal(3, reduceRows[0].Value)

	_, grouped, err := s.db.Query(s.ctx, s.db.NewQuery("by-dept").Reduce().Group(true))
	s.Require().NoError(err)
	s.Require().Len(grouped, 2)
	s.Equal([]any{"engineering"}, grouped[0].Key)
	s.Equal(2, grouped[0].Value)
	s.Equal([]any{"sales"}, grouped[1].Key)
	s.Equal(1, grouped[1].Value)
}

// S5 — Descending + pagination.
func (s *KVDocSuite) TestDescendingAndPagination() {
	s.Require().NoError(s.db.DefineView(s.ctx, "by-name", userMapFn, nil))

	for _, name := range []string{"Alice", "Bob", "Charlie", "Diana"} {
		_, err := s.db.Insert(s.ctx, Document{"type": "user", "name": name})
		s.Require().NoError(err)
	}

	rows, _, err := s.db.Query(s.ctx, s.db.NewQuery("by-name").Order(Descending))
	s.Require().NoError(err)
	s.Require().Len(rows, 4)
	s.Equal([]string{"Diana", "Charlie", "Bob", "Alice"}, rowNames(rows))

	rows, _, err = s.db.Query(s.ctx, s.db.NewQuery("by-name").Skip(1).Limit(2))
	s.Require().NoError(err)
	s.Equal([]string{"Bob", "Charlie"}, rowNames(rows))
}

// S6 — Cursor pagination by id-range.
func (s *KVDocSuite) TestCursorPaginationByIdRange() {
	mapFn := func(doc Document, emit EmitFunc) {
		if doc["type"] == "user" {
			emit(doc["department"])
		}
	}
	s.Require().NoError(s.db.DefineView(s.ctx, "by-dept", mapFn, nil))

	for _, name := range []string{"Alice", "Bob", "Charlie", "Diana"} {
		_, err := s.db.Insert(s.ctx, Document{"type": "user", "name": name, "department": "engineering"})
		s.Require().NoError(err)
	}

	page1, _, err := s.db.Query(s.ctx, s.db.NewQuery("by-dept").
		Range([]any{"engineering"}, []any{"engineering\xff"}).Limit(2))
	s.Require().NoError(err)
	s.Require().Len(page1, 2)

	lastID := page1[1].ID
	page2, _, err := s.db.Query(s.ctx, s.db.NewQuery("by-dept").
		Range([]any{"engineering"}, []any{"engineering\xff"}).
		IdRange(lastID, "").Skip(1).Limit(2))
	s.Require().NoError(err)

	seen := map[string]bool{}
	for _, r := range page1 {
		seen[r.ID] = true
	}
	for _, r := range page2 {
		s.False(seen[r.ID], "page1 and page2 must be disjoint")
		seen[r.ID] = true
	}
	s.Len(seen, 4, "the two pages together must cover all four documents")
}

func (s *KVDocSuite) TestClosedDatabaseRejectsOperations() {
	s.Require().NoError(s.db.Close())
	_, err := s.db.Get(s.ctx, "alice")
	s.ErrorIs(err, ErrClosedDatabase)
}

func (s *KVDocSuite) TestAwaitViewReady() {
	s.Require().NoError(s.db.DefineView(s.ctx, "by-name", userMapFn, nil))
	s.Require().NoError(s.db.AwaitViewReady(s.ctx, "by-name"))
}

func (s *KVDocSuite) TestUndefinedViewFails() {
	_, _, err := s.db.Query(s.ctx, s.db.NewQuery("nope"))
	s.ErrorIs(err, ErrUndefinedView)
}

// The keys(...) shape is accepted by the builder but rejected at
// execution time, per spec.md §9.
func (s *KVDocSuite) TestKeysShapeNotImplemented() {
	s.Require().NoError(s.db.DefineView(s.ctx, "by-name", userMapFn, nil))
	_, _, err := s.db.Query(s.ctx, s.db.NewQuery("by-name").Keys([]any{"Alice"}, []any{"Bob"}))
	s.ErrorIs(err, ErrNotImplemented)
}

func (s *KVDocSuite) TestAllDocsAndBulk() {
	results, err := s.db.Bulk(s.ctx, []Document{
		{"type": "user", "name": "A"},
		{"type": "user", "name": "B"},
	})
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	for _, r := range results {
		s.Require().NoError(r.Err)
		s.NotEmpty(r.Result.ID)
	}

	docs, err := s.db.AllDocs(s.ctx)
	s.Require().NoError(err)
	s.Len(docs, 2)
}

func rowNames(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r.Key[0].(string)
	}
	return out
}

func TestKVDocSuite(t *testing.T) {
	suite.Run(t, new(KVDocSuite))
}
