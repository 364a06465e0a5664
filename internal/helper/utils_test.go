package helper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexName_OrderIndependent(t *testing.T) {
	a := IndexName([]string{"./docs/who.pdf", "./docs/glossary.pdf"})
	b := IndexName([]string{"/other/glossary.pdf", "who.pdf"})

	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "idx_"))
	assert.Len(t, a, len("idx_")+12)
}

func TestIndexName_DifferentSets(t *testing.T) {
	a := IndexName([]string{"who.pdf"})
	b := IndexName([]string{"who.pdf", "glossary.pdf"})

	assert.NotEqual(t, a, b)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "line one line two", Preview("  line one\nline two \n", 500))
	assert.Equal(t, "모르핀", Preview("모르핀(morphine)", 3))
	assert.Equal(t, "", Preview("anything", 0))
}

func TestCreateFolderAndMissingFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, CreateFolder(dir))

	present := filepath.Join(dir, "who.pdf")
	require.NoError(t, os.WriteFile(present, []byte("%PDF"), 0o644))

	missing := MissingFiles([]string{present, filepath.Join(dir, "nope.pdf")})
	assert.Equal(t, []string{filepath.Join(dir, "nope.pdf")}, missing)
}

func TestGenerateUUID(t *testing.T) {
	a, err := GenerateUUID()
	require.NoError(t, err)
	b, err := GenerateUUID()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
