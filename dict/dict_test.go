package dict

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	d, err := Parse(strings.NewReader("a\nb\n c \n'\n"))
	require.NoError(t, err)
	assert.Equal(t, 4, d.Len())

	idx, err := d.Index("c")
	require.NoError(t, err)
	assert.Equal(t, int32(2), idx)

	e, err := d.Entry(3)
	require.NoError(t, err)
	assert.Equal(t, "'", e)
}

func TestParseDuplicate(t *testing.T) {
	_, err := Parse(strings.NewReader("a\nb\na\n"))
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}

func TestRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "letters.txt")
	require.NoError(t, os.WriteFile(path, []byte("x\ny\n"), 0o644))

	d, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	_, err = Read(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestAddAt(t *testing.T) {
	d := New()
	require.NoError(t, d.AddAt("blank", 1))

	// index 1 is taken so the next entry skips it
	idx, err := d.Add("a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), idx)

	idx, err = d.Add("b")
	require.NoError(t, err)
	assert.Equal(t, int32(3), idx)

	assert.ErrorIs(t, d.AddAt("c", 2), ErrDuplicateEntry)
	assert.Equal(t, int32(3), d.MaxIndex())

	assert.ErrorIs(t, d.AddAt("c", -1), ErrNegativeIndex)
	_, err = d.Index("c")
	assert.ErrorIs(t, err, ErrMissingEntry)
	assert.Equal(t, 3, d.Len())
}

func TestMissing(t *testing.T) {
	d, err := FromEntries("a", "b")
	require.NoError(t, err)

	_, err = d.Entry(5)
	assert.ErrorIs(t, err, ErrMissingIndex)

	_, err = d.Index("z")
	assert.ErrorIs(t, err, ErrMissingEntry)

	assert.Equal(t, int32(-1), New().MaxIndex())
}

func TestRange(t *testing.T) {
	d, err := FromEntries("c", "b", "a")
	require.NoError(t, err)

	var got []string
	d.Range(func(entry string, idx int32) bool {
		got = append(got, entry)
		return idx < 1
	})

	assert.Equal(t, []string{"c", "b"}, got)
}
