package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)
	key := "attachments/1/2024-03-10/photo.jpg"

	require.NoError(t, s.Put(ctx, key, strings.NewReader("jpegdata"), PutOptions{ContentType: "image/jpeg"}))

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)
}

func TestLocalStorage_PutExisting(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	require.NoError(t, s.Put(ctx, "a.jpg", strings.NewReader("1"), PutOptions{}))
	err := s.Put(ctx, "a.jpg", strings.NewReader("2"), PutOptions{})
	assert.ErrorIs(t, err, ErrKeyExists)

	require.NoError(t, s.Put(ctx, "a.jpg", strings.NewReader("3"), PutOptions{Overwrite: true}))
}

func TestLocalStorage_MaxSize(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	err := s.Put(ctx, "big.jpg", bytes.NewReader(make([]byte, 11)), PutOptions{MaxSize: 10})
	assert.ErrorIs(t, err, ErrTooLarge)

	exists, err := s.Exists(ctx, "big.jpg")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalStorage_InvalidKeys(t *testing.T) {
	ctx := context.Background()
	s := newLocal(t)

	for _, key := range []string{"", "../escape.jpg", "a/../../escape.jpg", "/etc/passwd"} {
		err := s.Put(ctx, key, strings.NewReader("x"), PutOptions{})
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestLocalStorage_GetMissing(t *testing.T) {
	_, _, err := newLocal(t).Get(context.Background(), "missing.jpg")
	assert.True(t, IsNotFound(err))
}

func TestAttachmentKey(t *testing.T) {
	at := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	key := AttachmentKey(42, at, "image/jpeg")

	assert.True(t, strings.HasPrefix(key, "attachments/42/2024-03-10/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.NotEqual(t, key, AttachmentKey(42, at, "image/jpeg"))
}

func TestContentTypes(t *testing.T) {
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg; charset=binary"))
	assert.Equal(t, "image/webp", ContentTypeFor("x/y.webp"))
	assert.True(t, IsAllowedImageType("IMAGE/JPEG"))
	assert.False(t, IsAllowedImageType("application/pdf"))
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := New(Config{Provider: ProviderNone}, logger)
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = New(Config{Provider: ProviderLocal, Local: LocalConfig{BasePath: t.TempDir()}}, logger)
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(Config{Provider: "ftp"}, logger)
	assert.Error(t, err)
}
