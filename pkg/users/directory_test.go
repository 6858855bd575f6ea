package users

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDirectory_Resolve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "u1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stray"), []byte("x"), 0o644))
	d := NewLocalDirectory(root)

	p, err := d.Resolve(context.Background(), " u1 ")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)

	for _, ref := range []string{"", "u2", "stray", "..", "u1/../u1"} {
		_, err := d.Resolve(context.Background(), ref)
		require.ErrorIs(t, err, ErrUnknownPrincipal, ref)
	}
}
