package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ObjectRecord is the positional index entry for one dumped object: enough
// to open exactly one chunk file and read exactly one record.
type ObjectRecord struct {
	Name        string
	ClassName   string
	ChunkIndex  int
	ChunkOffset int64
	ByteLength  int64
}

// LookupObject resolves an object's record location by (case-insensitive)
// fully-qualified name. Folder-only nodes have no record and are reported
// as not found for retrieval purposes.
func (s *Store) LookupObject(name string) (*ObjectRecord, error) {
	row := s.db.QueryRow(`
		SELECT o.name, c.name, o.chunk_index, o.chunk_offset, o.byte_length
		FROM object o
		JOIN class c ON c.id = o.class_id
		WHERE o.name = ?
	`, name)

	var rec ObjectRecord
	var idx, off, length sql.NullInt64
	if err := row.Scan(&rec.Name, &rec.ClassName, &idx, &off, &length); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, name)
		}
		return nil, err
	}
	if !idx.Valid {
		return nil, fmt.Errorf("%w: %s exists but carries no dump record", ErrObjectNotFound, name)
	}
	rec.ChunkIndex = int(idx.Int64)
	rec.ChunkOffset = off.Int64
	rec.ByteLength = length.Int64
	return &rec, nil
}

// TopLevelVisible lists top-level object names visible when classID is
// selected — the dominant consumer query, shaped so it resolves with one
// indexed join and no full scan.
func (s *Store) TopLevelVisible(classID uint32) ([]string, error) {
	return s.visible(`
		SELECT o.name
		FROM object o
		JOIN object_child_of_class s ON s.object_id = o.id
		WHERE s.class_id = ? AND o.parent_id IS NULL
		ORDER BY o.id
	`, classID)
}

// ChildrenVisible lists the children of parentID visible when classID is
// selected.
func (s *Store) ChildrenVisible(classID uint32, parentID uint32) ([]string, error) {
	return s.visible(`
		SELECT o.name
		FROM object o
		JOIN object_child_of_class s ON s.object_id = o.id
		WHERE s.class_id = ? AND o.parent_id = ?
		ORDER BY o.id
	`, classID, parentID)
}

func (s *Store) visible(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
