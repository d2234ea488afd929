package content

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buffer bytes.Buffer
	require.NoError(t, png.Encode(&buffer, img))
	return buffer.Bytes()
}

func TestFileStoreRoundTrip(t *testing.T) {
	filesystem := afero.NewMemMapFs()
	store, err := NewFileStore(filesystem, "/content")
	require.NoError(t, err)

	data := pngBytes(t)
	ref, err := store.Save(context.Background(), data, "page-1", "version-1")
	require.NoError(t, err)
	assert.Equal(t, "page-1_version-1.png", ref)

	exists, err := afero.Exists(filesystem, "/content/page-1_version-1.png.partial")
	require.NoError(t, err)
	assert.False(t, exists, "staging file must not survive a successful save")

	loaded, err := store.Read(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, data, loaded)

	require.NoError(t, store.Delete(context.Background(), ref))
	_, err = store.Read(context.Background(), ref)
	assert.True(t, errors.Is(err, ErrNotFound), "expected not found, got %v", err)

	assert.NoError(t, store.Delete(context.Background(), ref), "deleting a missing reference succeeds")
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(afero.NewMemMapFs(), "/content")
	require.NoError(t, err)

	_, err = store.Read(context.Background(), "../secrets")
	assert.ErrorIs(t, err, ErrInvalidReference)

	err = store.Delete(context.Background(), "nested/file.png")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestReferenceForFallsBackToBinaryExtension(t *testing.T) {
	ref, err := ReferenceFor("owner", "version", []byte{0x00, 0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, "owner_version.bin", ref)

	_, err = ReferenceFor(" ", "version", []byte("x"))
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestFileStoreHonoursCancelledContext(t *testing.T) {
	store, err := NewFileStore(afero.NewMemMapFs(), "/content")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Save(ctx, []byte("data"), "owner", "version")
	assert.ErrorIs(t, err, context.Canceled)
}
