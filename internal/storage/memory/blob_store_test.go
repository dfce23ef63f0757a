package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("path/page.html")
	require.True(t, ok)
	assert.Equal(t, "content", string(stored))
	assert.Equal(t, 1, store.Len())
}

func TestBlobStoreRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewBlobStore().PutObject(context.Background(), "", "text/plain", bytes.NewReader(nil))
	assert.Error(t, err)
}
