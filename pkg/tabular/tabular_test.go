package tabular

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_TrimsHeaderAndStripsBOM(t *testing.T) {
	ds, err := Validate([]byte("\xEF\xBB\xBF orgFullName ,emissionSourceName,amount\nAcme,Boiler,10\nAcme,Boiler,12\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"orgFullName", "emissionSourceName", "amount"}, ds.Header)
	assert.Equal(t, 2, ds.Len())
	assert.Equal(t, 3, ds.Width())
	assert.Equal(t, 1, ds.Column("emissionSourceName"))
	assert.Equal(t, -1, ds.Column("missing"))
	assert.True(t, ds.HasColumns("orgFullName", "amount"))
	assert.False(t, ds.HasColumns("orgFullName", "EsFullName"))
}

func TestValidate_HeaderOnly(t *testing.T) {
	ds, err := Validate([]byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, ds.Len())
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"ragged long":  "a,b\n1,2,3\n",
		"ragged short": "a,b,c\n1,2,3\n4,5\n",
		"bad quote":    "a,b\n\"1,2\n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate([]byte(input))
			require.ErrorIs(t, err, ErrMalformedInput)
		})
	}
}

func TestValidateFile_Missing(t *testing.T) {
	_, err := ValidateFile(filepath.Join(t.TempDir(), "nope.csv"))
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestSplit_ConservesRowsAndOrder(t *testing.T) {
	ds := &Dataset{Header: []string{"id", "v"}}
	for i := range 7 {
		ds.Rows = append(ds.Rows, []string{string(rune('a' + i)), "x"})
	}

	chunks, err := Split(ds, 3)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Rows, 3)
	assert.Len(t, chunks[1].Rows, 3)
	assert.Len(t, chunks[2].Rows, 1)

	var joined [][]string
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, ds.Header, c.Header)
		joined = append(joined, c.Rows...)
	}
	assert.Equal(t, ds.Rows, joined)

	chunks[0].Header[0] = "changed"
	assert.Equal(t, "id", ds.Header[0])
}

func TestSplit_Edges(t *testing.T) {
	ds := &Dataset{Header: []string{"a"}, Rows: [][]string{{"1"}, {"2"}}}

	chunks, err := Split(ds, 2)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)

	chunks, err = Split(&Dataset{Header: []string{"a"}}, 5)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = Split(ds, 0)
	require.Error(t, err)
}

func TestWriteChunks(t *testing.T) {
	ds, err := Validate([]byte("a,b\n1,\"x,y\"\n2,z\n3,w\n"))
	require.NoError(t, err)
	chunks, err := Split(ds, 2)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "chunks")
	paths, err := WriteChunks(dir, "emissions", chunks)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(dir, "emissions_chunk_0.csv"),
		filepath.Join(dir, "emissions_chunk_1.csv"),
	}, paths)

	b, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,\"x,y\"\n2,z\n", string(b))

	back, err := ValidateFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"3", "w"}}, back.Rows)
}

func TestEncode(t *testing.T) {
	text, err := Encode([]string{"h"}, [][]string{{"v1"}, {"v 2"}})
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(text, "\n"))
	assert.True(t, strings.HasPrefix(text, "h\n"))
}
