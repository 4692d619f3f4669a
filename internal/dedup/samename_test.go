package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSameNameGroup(t *testing.T) {
	names := []string{
		"a (10).png",
		"a.png",
		"a (2).png",
		"a (1).png",
		"a (01).png", // leading zero
		"a (0).png",  // zero is not a rename index
		"a (1).PNG",  // extension is case-sensitive
		"a (1).jpg",
		"ab.png",
		"a(3).png",
		"a (x).png",
		"b (1).png",
	}

	g := NewSameNameGroup("a.png", names)
	assert.Equal(t, []string{"a.png", "a (1).png", "a (2).png", "a (10).png"}, g.Names())

	original, ok := g.Original()
	assert.True(t, ok)
	assert.Equal(t, "a.png", original)

	last, ok := g.LastRename()
	assert.True(t, ok)
	assert.Equal(t, "a (10).png", last)
}

func TestSameNameGroupWithoutRenames(t *testing.T) {
	g := NewSameNameGroup("photo.jpg", []string{"photo.jpg", "other.jpg"})
	_, ok := g.LastRename()
	assert.False(t, ok)

	original, ok := g.Original()
	assert.True(t, ok)
	assert.Equal(t, "photo.jpg", original)
}

func TestSameNameGroupRenamesOnly(t *testing.T) {
	g := NewSameNameGroup("photo.jpg", []string{"photo (3).jpg", "photo (1).jpg"})
	_, ok := g.Original()
	assert.False(t, ok)

	last, ok := g.LastRename()
	assert.True(t, ok)
	assert.Equal(t, "photo (3).jpg", last)
}

func TestSameNameGroupStemWithParentheses(t *testing.T) {
	g := NewSameNameGroup("shot (1).png", []string{"shot (1).png", "shot (1) (1).png", "shot (2).png"})
	assert.Equal(t, []string{"shot (1).png", "shot (1) (1).png"}, g.Names())
}

func TestFindSameNameGroupSkipsDirectories(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.png"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a (1).png"), 0755))

	g, err := FindSameNameGroup(dir, "a.png")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png"}, g.Names())

	g, err = FindSameNameGroup(filepath.Join(dir, "missing"), "a.png")
	require.NoError(t, err)
	assert.Empty(t, g.Members)
}

func TestRenameName(t *testing.T) {
	assert.Equal(t, "photo (1).jpg", RenameName("photo.jpg", 1))
	assert.Equal(t, "archive.tar (12).gz", RenameName("archive.tar.gz", 12))
	assert.Equal(t, "noext (2)", RenameName("noext", 2))
}
