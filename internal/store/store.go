// Package store persists the generated class/object snapshot into a single
// SQLite database file. All writes happen through bulk prepared statements
// inside explicit transactions; insert order follows the foreign-key
// dependency chain (categories → classes → class closures → objects →
// object closures) with tree rows in pre-order, so a parent row always
// exists before any row that references it.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/agentic-research/dumpforge/internal/registry"
	_ "modernc.org/sqlite"
)

// batchSize is how many rows go into one transaction during the big
// closure-table inserts.
const batchSize = 10000

var ErrObjectNotFound = errors.New("object not found")

const schema = `
CREATE TABLE category (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE COLLATE NOCASE NOT NULL
);
CREATE TABLE class (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE COLLATE NOCASE NOT NULL,
	category_id INTEGER NOT NULL REFERENCES category (id),
	parent_id INTEGER REFERENCES class (id),
	num_children INTEGER NOT NULL DEFAULT 0,
	total_children INTEGER NOT NULL DEFAULT 0,
	num_chunk_files INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE class_child (
	parent_id INTEGER NOT NULL REFERENCES class (id),
	child_id INTEGER NOT NULL REFERENCES class (id),
	UNIQUE (parent_id, child_id)
);
CREATE TABLE class_ancestor (
	class_id INTEGER NOT NULL REFERENCES class (id),
	ancestor_id INTEGER NOT NULL REFERENCES class (id),
	UNIQUE (class_id, ancestor_id)
);
CREATE TABLE class_descendant (
	class_id INTEGER NOT NULL REFERENCES class (id),
	descendant_id INTEGER NOT NULL REFERENCES class (id),
	UNIQUE (class_id, descendant_id)
);
CREATE TABLE object (
	id INTEGER PRIMARY KEY,
	name TEXT UNIQUE COLLATE NOCASE NOT NULL,
	short_name TEXT NOT NULL,
	class_id INTEGER REFERENCES class (id),
	parent_id INTEGER REFERENCES object (id),
	separator CHARACTER(1),
	chunk_index INTEGER,
	chunk_offset INTEGER,
	byte_length INTEGER,
	num_children INTEGER NOT NULL DEFAULT 0,
	total_children INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX idx_object_parent ON object (parent_id);
CREATE TABLE object_child (
	parent_id INTEGER NOT NULL REFERENCES object (id),
	child_id INTEGER NOT NULL REFERENCES object (id),
	UNIQUE (parent_id, child_id)
);
CREATE TABLE object_child_of_class (
	object_id INTEGER NOT NULL REFERENCES object (id),
	class_id INTEGER NOT NULL REFERENCES class (id),
	has_descendant_match INTEGER NOT NULL DEFAULT 0,
	UNIQUE (object_id, class_id)
);
`

// Store owns the database connection for one generation run.
type Store struct {
	db *sql.DB
}

// Create wipes any existing database file and opens a fresh one with the
// schema in place. Generation always rebuilds from scratch, never patches.
func Create(path string) (*Store, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale database %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Bulk-insert tuning: the run is the sole writer and a crash just
	// means rerunning from scratch anyway.
	for _, pragma := range []string{
		"PRAGMA synchronous = OFF",
		"PRAGMA journal_mode = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens an existing generated database read-only (the `show` path).
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertCategories writes the category table in creation (id) order.
func (s *Store) InsertCategories(idx *registry.CategoryIndex) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare("INSERT INTO category (id, name) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, cat := range idx.Categories() {
		if _, err := stmt.Exec(cat.ID, cat.Name); err != nil {
			return fmt.Errorf("insert category %s: %w", cat.Name, err)
		}
	}
	return tx.Commit()
}

// InsertClasses writes class rows in pre-order plus the direct-child link
// table. total_children and num_chunk_files carry placeholder zeros here;
// FixClassCounters patches them after object processing.
func (s *Store) InsertClasses(tree *registry.ClassTree) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	classStmt, err := tx.Prepare(`
		INSERT INTO class (id, name, category_id, parent_id, num_children)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = classStmt.Close() }()

	childStmt, err := tx.Prepare("INSERT INTO class_child (parent_id, child_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = childStmt.Close() }()

	err = tree.WalkPreOrder(func(n *registry.ClassNode) error {
		var parentID any
		if n.Parent != nil {
			parentID = n.Parent.ID
		}
		var categoryID any
		if n.Category != nil {
			categoryID = n.Category.ID
		}
		if _, err := classStmt.Exec(n.ID, n.Name, categoryID, parentID, n.NumChildren()); err != nil {
			return fmt.Errorf("insert class %s: %w", n.Name, err)
		}
		if n.Parent != nil {
			if _, err := childStmt.Exec(n.Parent.ID, n.ID); err != nil {
				return fmt.Errorf("insert class_child %s: %w", n.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// InsertClassClosures writes one class_ancestor row per aggregate id and
// one class_descendant row per subclass id, batching commits.
func (s *Store) InsertClassClosures(tree *registry.ClassTree) error {
	anc := newBulk(s.db, "INSERT INTO class_ancestor (class_id, ancestor_id) VALUES (?, ?)")
	for _, n := range tree.All() {
		it := n.AggregateIDs.Iterator()
		for it.HasNext() {
			if err := anc.exec(n.ID, it.Next()); err != nil {
				return fmt.Errorf("insert class_ancestor for %s: %w", n.Name, err)
			}
		}
	}
	if err := anc.close(); err != nil {
		return err
	}

	desc := newBulk(s.db, "INSERT INTO class_descendant (class_id, descendant_id) VALUES (?, ?)")
	for _, n := range tree.All() {
		it := n.SubclassIDs.Iterator()
		for it.HasNext() {
			if err := desc.exec(n.ID, it.Next()); err != nil {
				return fmt.Errorf("insert class_descendant for %s: %w", n.Name, err)
			}
		}
	}
	return desc.close()
}

// InsertObjects writes object rows in pre-order plus the direct-child link
// table. Folder-only nodes get NULL class and location columns. Both
// statements share one transaction: the database allows a single writer,
// so a second concurrent write transaction would deadlock the run.
func (s *Store) InsertObjects(tree *registry.ObjectTree) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	objStmt, err := tx.Prepare(`
		INSERT INTO object (id, name, short_name, class_id, parent_id, separator,
		                    chunk_index, chunk_offset, byte_length,
		                    num_children, total_children)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = objStmt.Close() }()

	childStmt, err := tx.Prepare("INSERT INTO object_child (parent_id, child_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer func() { _ = childStmt.Close() }()

	err = tree.WalkPreOrder(func(n *registry.ObjectNode) error {
		var classID, parentID, separator, chunkIndex, chunkOffset, byteLength any
		if n.Class != nil {
			classID = n.Class.ID
		}
		if n.Parent != nil {
			parentID = n.Parent.ID
		}
		if n.Separator != 0 {
			separator = string(n.Separator)
		}
		if n.HasDump() {
			chunkIndex = n.ChunkIndex
			chunkOffset = n.ChunkOffset
			byteLength = n.ByteLength
		}
		if _, err := objStmt.Exec(n.ID, n.Name, n.ShortName, classID, parentID, separator,
			chunkIndex, chunkOffset, byteLength, n.NumChildren(), n.TotalChildren); err != nil {
			return fmt.Errorf("insert object %s: %w", n.Name, err)
		}
		if n.Parent != nil {
			if _, err := childStmt.Exec(n.Parent.ID, n.ID); err != nil {
				return fmt.Errorf("insert object_child %s: %w", n.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// InsertObjectShowClasses writes one object_child_of_class row per show
// class id, flagging ids whose match sits on a descendant. This is by far
// the biggest table; batching matters here.
func (s *Store) InsertObjectShowClasses(tree *registry.ObjectTree) error {
	b := newBulk(s.db, `
		INSERT INTO object_child_of_class (object_id, class_id, has_descendant_match)
		VALUES (?, ?, ?)
	`)
	for _, n := range tree.All() {
		if n.ShowClassIDs == nil {
			continue
		}
		it := n.ShowClassIDs.Iterator()
		for it.HasNext() {
			classID := it.Next()
			hasDescendant := 0
			if n.HasClassChildren != nil && n.HasClassChildren.Contains(classID) {
				hasDescendant = 1
			}
			if err := b.exec(n.ID, classID, hasDescendant); err != nil {
				return fmt.Errorf("insert object_child_of_class for %s: %w", n.Name, err)
			}
		}
	}
	return b.close()
}

// FixClassCounters patches total_children and num_chunk_files onto class
// rows. Neither is known during the class-first insert pass; both are only
// final once every object archive has been processed.
func (s *Store) FixClassCounters(tree *registry.ClassTree) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare("UPDATE class SET total_children = ?, num_chunk_files = ? WHERE id = ?")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, n := range tree.All() {
		if _, err := stmt.Exec(n.TotalChildren, n.NumChunkFiles, n.ID); err != nil {
			return fmt.Errorf("update class counters for %s: %w", n.Name, err)
		}
	}
	return tx.Commit()
}

// bulk batches prepared-statement inserts into transactions of batchSize
// rows each, re-beginning as needed.
type bulk struct {
	db    *sql.DB
	query string
	tx    *sql.Tx
	stmt  *sql.Stmt
	count int
	err   error
}

func newBulk(db *sql.DB, query string) *bulk {
	return &bulk{db: db, query: query}
}

func (b *bulk) exec(args ...any) error {
	if b.err != nil {
		return b.err
	}
	if b.tx == nil {
		if b.err = b.begin(); b.err != nil {
			return b.err
		}
	}
	if _, err := b.stmt.Exec(args...); err != nil {
		b.err = err
		return err
	}
	b.count++
	if b.count >= batchSize {
		b.err = b.commit()
	}
	return b.err
}

func (b *bulk) begin() error {
	tx, err := b.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(b.query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	b.tx, b.stmt, b.count = tx, stmt, 0
	return nil
}

func (b *bulk) commit() error {
	if b.tx == nil {
		return nil
	}
	_ = b.stmt.Close()
	err := b.tx.Commit()
	b.tx, b.stmt = nil, nil
	return err
}

func (b *bulk) close() error {
	if b.err != nil {
		if b.tx != nil {
			_ = b.stmt.Close()
			_ = b.tx.Rollback()
			b.tx, b.stmt = nil, nil
		}
		return b.err
	}
	return b.commit()
}
