package csvinput

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/mintdoi/errors"
)

const (
	uuidA = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	uuidB = "9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d"
	uuidC = "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestReadIDs(t *testing.T) {
	ids, err := ReadIDs(strings.NewReader("title,item_uuid\nA, "+uuidA+" \nB,\nC,"+uuidB+"\nD,"+uuidA+"\n"), "item_uuid")
	require.NoError(t, err)
	assert.Equal(t, []string{uuidA, uuidB, uuidA}, ids)
}

func TestReadIDsStripsByteOrderMark(t *testing.T) {
	ids, err := ReadIDs(strings.NewReader("\ufeffitem_uuid\n"+uuidA+"\n"), "item_uuid")
	require.NoError(t, err)
	assert.Equal(t, []string{uuidA}, ids)
}

func TestReadIDsShortRows(t *testing.T) {
	ids, err := ReadIDs(strings.NewReader("a,b,item_uuid\n1,2,"+uuidA+"\n1\n"), "item_uuid")
	require.NoError(t, err)
	assert.Equal(t, []string{uuidA}, ids)
}

func TestReadIDsErrors(t *testing.T) {
	_, err := ReadIDs(strings.NewReader(""), "item_uuid")
	assert.True(t, errors.Is(err, errors.ErrNoInput))

	_, err = ReadIDs(strings.NewReader("uuid\n"+uuidA+"\n"), "item_uuid")
	assert.True(t, errors.Is(err, errors.ErrNoInput))
	assert.Contains(t, errors.FlattenHints(err), "MINT__CSV__COLUMN")
}

func TestDiscoverRecursesAndKeysByStem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "spring.csv"), "item_uuid\n")
	writeFile(t, filepath.Join(dir, "nested", "deeper", "fall.CSV"), "item_uuid\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	single := filepath.Join(t.TempDir(), "extra.csv")
	writeFile(t, single, "item_uuid\n")

	found, err := Discover([]string{dir, single})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"spring": filepath.Join(dir, "spring.csv"),
		"fall":   filepath.Join(dir, "nested", "deeper", "fall.CSV"),
		"extra":  single,
	}, found)
}

func TestDiscoverMissingPath(t *testing.T) {
	_, err := Discover([]string{filepath.Join(t.TempDir(), "absent")})
	assert.True(t, errors.Is(err, errors.ErrNoInput))
}

func TestLoadDeduplicatesAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.csv"), "item_uuid\n"+uuidB+"\n"+uuidC+"\n")
	writeFile(t, filepath.Join(dir, "a.csv"), "item_uuid\n"+uuidA+"\n"+uuidB+"\n\n")

	in, err := Load([]string{dir}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{uuidA, uuidB, uuidC}, in.IDs)
	require.Len(t, in.Files, 2)
	assert.Equal(t, "a", in.Files[0].Name)
	assert.Equal(t, filepath.Join(dir, "a.csv")+","+filepath.Join(dir, "b.csv"), in.Source())
}

func TestLoadNoIdentifiers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "empty.csv"), "item_uuid\n , \n")

	_, err := Load([]string{dir}, DefaultColumn)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNoInput))
	assert.True(t, errors.IsOperatorError(err))
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := Load([]string{t.TempDir()}, DefaultColumn)
	assert.True(t, errors.Is(err, errors.ErrNoInput))
}

func TestNonUUIDs(t *testing.T) {
	assert.Equal(t, []string{"not-a-uuid", "12345"}, NonUUIDs([]string{uuidA, "not-a-uuid", uuidB, "12345"}))
	assert.Empty(t, NonUUIDs([]string{uuidA}))
}
