package blob

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutGetProbe(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref := Ref("m-1", 3)
	n, err := store.Put(ctx, ref, strings.NewReader("audio-bytes"))
	require.NoError(t, err)
	assert.EqualValues(t, len("audio-bytes"), n)

	exists, err := store.Probe(ctx, ref)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := store.Get(ctx, ref)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "audio-bytes", string(data))
}

func TestLocalStore_GetMissingReturnsErrNotFound(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), Ref("m-missing", 0))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_ProbeMissingIsFalseNotError(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	exists, err := store.Probe(context.Background(), Ref("m-missing", 0))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStore_PathTraversalIsContained(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root)
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../../etc/passwd", strings.NewReader("x"))
	require.NoError(t, err)

	exists, err := store.Probe(context.Background(), "etc/passwd")
	require.NoError(t, err)
	assert.True(t, exists, "traversal must resolve under the store root")
}
