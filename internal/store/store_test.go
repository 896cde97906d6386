package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/agentic-research/dumpforge/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixture builds and fully computes the small reference world:
//
//	classes: Object ── Weapon
//	objects: Foo (folder), Foo.Weapon1 (Weapon, chunk 1 @ 0, 120 bytes)
func fixture(t *testing.T) (*registry.CategoryIndex, *registry.ClassTree, *registry.ObjectTree) {
	t.Helper()

	cats := registry.NewCategoryIndex()
	require.NoError(t, cats.Add("Core", []string{"Object"}))

	classes := registry.NewClassTree()
	object := classes.GetOrCreate("Object")
	object.Defined = true
	object.Category = cats.Classify("Object")
	classes.DeclareRoot(object)
	weapon := classes.GetOrCreate("Weapon")
	weapon.Defined = true
	weapon.Category = cats.Classify("Weapon") // lands in Others
	require.NoError(t, classes.SetParent(weapon, object))
	require.NoError(t, classes.Validate())
	require.NoError(t, classes.AssignIDs())
	require.NoError(t, classes.ComputeAggregates())
	require.NoError(t, classes.ComputeSubclasses())

	objects := registry.NewObjectTree(classes)
	n, err := objects.GetOrCreate("Foo.Weapon1", weapon, 1, 0)
	require.NoError(t, err)
	objects.FinalizeSpan(n, 120)
	weapon.NumChunkFiles = 1
	objects.AssignIDs()
	require.NoError(t, objects.ComputeShowClassIDs())
	return cats, classes, objects
}

func persist(t *testing.T, path string) (*registry.ClassTree, *registry.ObjectTree) {
	t.Helper()
	cats, classes, objects := fixture(t)

	s, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, s.InsertCategories(cats))
	require.NoError(t, s.InsertClasses(classes))
	require.NoError(t, s.InsertClassClosures(classes))
	require.NoError(t, s.InsertObjects(objects))
	require.NoError(t, s.InsertObjectShowClasses(objects))
	require.NoError(t, s.FixClassCounters(classes))
	require.NoError(t, s.Close())
	return classes, objects
}

func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestStore_ParentRowsAlwaysPrecedeChildren(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	persist(t, path)
	db := openRaw(t, path)

	for _, table := range []string{"class", "object"} {
		rows, err := db.Query("SELECT id, parent_id FROM " + table)
		require.NoError(t, err)
		for rows.Next() {
			var id int64
			var parent sql.NullInt64
			require.NoError(t, rows.Scan(&id, &parent))
			if parent.Valid {
				assert.Less(t, parent.Int64, id, "%s row %d references later parent", table, id)
			}
		}
		require.NoError(t, rows.Err())
		require.NoError(t, rows.Close())
	}
}

// Object rows and their object_child links are written interleaved during
// one tree walk; both must land through the same write transaction, since
// sqlite allows only one writer at a time.
func TestStore_InsertObjectsWritesChildLinksInOneTransaction(t *testing.T) {
	cats, classes, _ := fixture(t)
	weapon, _ := classes.Lookup("Weapon")

	objects := registry.NewObjectTree(classes)
	for i, name := range []string{"Foo.Weapon1", "Foo.Weapon2", "Foo.Weapon2:Scope", "Bar.Weapon3"} {
		n, err := objects.GetOrCreate(name, weapon, 1, int64(i*100))
		require.NoError(t, err)
		objects.FinalizeSpan(n, int64(i*100+100))
	}
	objects.AssignIDs()
	require.NoError(t, objects.ComputeShowClassIDs())

	path := filepath.Join(t.TempDir(), "data.db")
	s, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, s.InsertCategories(cats))
	require.NoError(t, s.InsertClasses(classes))
	require.NoError(t, s.InsertClassClosures(classes))
	require.NoError(t, s.InsertObjects(objects))
	require.NoError(t, s.Close())
	db := openRaw(t, path)

	var objRows, linkRows int
	require.NoError(t, db.QueryRow("SELECT count(*) FROM object").Scan(&objRows))
	require.NoError(t, db.QueryRow("SELECT count(*) FROM object_child").Scan(&linkRows))
	assert.Equal(t, objects.Len(), objRows)

	var parented int
	for _, n := range objects.All() {
		if n.Parent != nil {
			parented++
		}
	}
	assert.Equal(t, parented, linkRows)

	// Every link pairs a real parent with a real child.
	var orphans int
	require.NoError(t, db.QueryRow(`
		SELECT count(*) FROM object_child l
		WHERE NOT EXISTS (SELECT 1 FROM object p WHERE p.id = l.parent_id)
		   OR NOT EXISTS (SELECT 1 FROM object c WHERE c.id = l.child_id)
	`).Scan(&orphans))
	assert.Zero(t, orphans)
}

func TestStore_ClassClosureTablesMatchBitmaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	classes, _ := persist(t, path)
	db := openRaw(t, path)

	for _, n := range classes.All() {
		rows, err := db.Query("SELECT ancestor_id FROM class_ancestor WHERE class_id = ? ORDER BY ancestor_id", n.ID)
		require.NoError(t, err)
		var got []uint32
		for rows.Next() {
			var id uint32
			require.NoError(t, rows.Scan(&id))
			got = append(got, id)
		}
		require.NoError(t, rows.Close())
		assert.Equal(t, n.AggregateIDs.ToArray(), got, "class %s", n.Name)
	}

	// The two closure tables are exact duals.
	var mismatches int
	require.NoError(t, db.QueryRow(`
		SELECT count(*) FROM class_ancestor a
		WHERE NOT EXISTS (
			SELECT 1 FROM class_descendant d
			WHERE d.class_id = a.ancestor_id AND d.descendant_id = a.class_id
		)
	`).Scan(&mismatches))
	assert.Zero(t, mismatches)
}

func TestStore_FolderObjectsHaveNullLocation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	persist(t, path)
	db := openRaw(t, path)

	var classID, chunkIndex sql.NullInt64
	require.NoError(t, db.QueryRow(
		"SELECT class_id, chunk_index FROM object WHERE name = 'Foo'").
		Scan(&classID, &chunkIndex))
	assert.False(t, classID.Valid)
	assert.False(t, chunkIndex.Valid)

	var byteLength int64
	require.NoError(t, db.QueryRow(
		"SELECT byte_length FROM object WHERE name = 'Foo.Weapon1'").
		Scan(&byteLength))
	assert.Equal(t, int64(120), byteLength)
}

func TestStore_FixClassCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	persist(t, path)
	db := openRaw(t, path)

	var total, chunks int
	require.NoError(t, db.QueryRow(
		"SELECT total_children, num_chunk_files FROM class WHERE name = 'Weapon'").
		Scan(&total, &chunks))
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, chunks)

	// The root saw the same instance through propagation but wrote no
	// chunk files of its own.
	require.NoError(t, db.QueryRow(
		"SELECT total_children, num_chunk_files FROM class WHERE name = 'Object'").
		Scan(&total, &chunks))
	assert.Equal(t, 1, total)
	assert.Equal(t, 0, chunks)
}

func TestStore_LookupAndVisibility(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	classes, objects := persist(t, path)

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	rec, err := s.LookupObject("foo.weapon1") // case-insensitive
	require.NoError(t, err)
	assert.Equal(t, "Foo.Weapon1", rec.Name)
	assert.Equal(t, "Weapon", rec.ClassName)
	assert.Equal(t, 1, rec.ChunkIndex)
	assert.Equal(t, int64(120), rec.ByteLength)

	_, err = s.LookupObject("Foo") // folder: no record
	require.ErrorIs(t, err, ErrObjectNotFound)
	_, err = s.LookupObject("Nope")
	require.ErrorIs(t, err, ErrObjectNotFound)

	weapon, _ := classes.Lookup("Weapon")
	top, err := s.TopLevelVisible(weapon.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo"}, top)

	foo, _ := objects.Lookup("Foo")
	children, err := s.ChildrenVisible(weapon.ID, foo.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Foo.Weapon1"}, children)
}

func TestStore_RerunProducesIdenticalRowSets(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "one.db")
	second := filepath.Join(dir, "two.db")
	persist(t, first)
	persist(t, second)

	dump := func(path string) map[string][]string {
		db := openRaw(t, path)
		out := make(map[string][]string)
		for _, q := range []string{
			"SELECT id, name, category_id, parent_id, num_children, total_children, num_chunk_files FROM class ORDER BY id",
			"SELECT id, name, short_name, class_id, parent_id, separator, chunk_index, chunk_offset, byte_length FROM object ORDER BY id",
			"SELECT object_id, class_id, has_descendant_match FROM object_child_of_class ORDER BY object_id, class_id",
			"SELECT class_id, ancestor_id FROM class_ancestor ORDER BY class_id, ancestor_id",
		} {
			rows, err := db.Query(q)
			require.NoError(t, err)
			cols, err := rows.Columns()
			require.NoError(t, err)
			for rows.Next() {
				vals := make([]any, len(cols))
				ptrs := make([]any, len(cols))
				for i := range vals {
					ptrs[i] = &vals[i]
				}
				require.NoError(t, rows.Scan(ptrs...))
				out[q] = append(out[q], fmtRow(vals))
			}
			require.NoError(t, rows.Close())
		}
		return out
	}
	assert.Equal(t, dump(first), dump(second))
}

func fmtRow(vals []any) string {
	var row string
	for _, v := range vals {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row += fmt.Sprint(v) + "|"
	}
	return row
}
