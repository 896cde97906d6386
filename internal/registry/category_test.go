package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryIndex_AddAndClassify(t *testing.T) {
	idx := NewCategoryIndex()
	require.NoError(t, idx.Add("Meshes", []string{"StaticMesh", "SkeletalMesh"}))
	require.NoError(t, idx.Add("Sounds", []string{"SoundCue"}))

	assert.Equal(t, "Meshes", idx.Classify("StaticMesh").Name)
	assert.Equal(t, "Meshes", idx.Classify("staticmesh").Name, "lookup is case-insensitive")
	assert.Equal(t, "Sounds", idx.Classify("SoundCue").Name)
}

func TestCategoryIndex_ConflictIsFatal(t *testing.T) {
	idx := NewCategoryIndex()
	require.NoError(t, idx.Add("Meshes", []string{"StaticMesh"}))
	err := idx.Add("Sounds", []string{"staticmesh"})
	require.ErrorIs(t, err, ErrCategoryConflict)
	assert.Contains(t, err.Error(), "staticmesh")

	// Re-stating an existing membership in the same category is fine.
	require.NoError(t, idx.Add("Meshes", []string{"STATICMESH"}))
}

func TestCategoryIndex_OthersBucketIsMemoized(t *testing.T) {
	idx := NewCategoryIndex()
	require.NoError(t, idx.Add("Meshes", []string{"StaticMesh"}))

	first := idx.Classify("WeirdUnknownThing")
	assert.Equal(t, OthersCategory, first.Name)
	second := idx.Classify("weirdunknownthing")
	assert.Same(t, first, second)
	assert.Contains(t, first.Members(), "weirdunknownthing")
}

func TestCategoryIndex_IDsStartAtOneInCreationOrder(t *testing.T) {
	idx := NewCategoryIndex()
	require.NoError(t, idx.Add("Meshes", nil))
	require.NoError(t, idx.Add("Sounds", nil))
	idx.Classify("Mystery") // creates Others lazily

	cats := idx.Categories()
	require.Len(t, cats, 3)
	assert.Equal(t, uint32(1), cats[0].ID)
	assert.Equal(t, "Meshes", cats[0].Name)
	assert.Equal(t, uint32(3), cats[2].ID)
	assert.Equal(t, OthersCategory, cats[2].Name)
}

func TestDefaultCategories(t *testing.T) {
	idx := DefaultCategories()
	assert.Equal(t, "Core", idx.Classify("Object").Name)
	assert.Equal(t, "Meshes", idx.Classify("StaticMeshComponent").Name)
	assert.Equal(t, OthersCategory, idx.Classify("TotallyNovelClass").Name)
}

func TestLoadCategoryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.hcl")
	src := `
category "Meshes" {
  classes = ["StaticMesh", "SkeletalMesh"]
}

category "Sounds" {
  classes = ["SoundCue"]
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	idx, err := LoadCategoryFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Meshes", idx.Classify("SkeletalMesh").Name)
	assert.Equal(t, "Sounds", idx.Classify("soundcue").Name)
}

func TestLoadCategoryFile_Conflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "categories.hcl")
	src := `
category "Meshes" {
  classes = ["StaticMesh"]
}

category "Sounds" {
  classes = ["StaticMesh"]
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	_, err := LoadCategoryFile(path)
	require.ErrorIs(t, err, ErrCategoryConflict)
}
