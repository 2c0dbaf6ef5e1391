package cas

import (
	"context"
	"testing"

	"github.com/cohesix/root/internal/bytesize"
	"github.com/cohesix/root/internal/cerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helloChunkSha = "f1543f54eb28cdcb28b2b45d4edd0daec677684761af33a4b8899f346ae146a8"
	sameBytesSha  = "58100dc8fc06562ce3e578231dc948e083520ee49c4b4ee5a5a28bb4b4003feb"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{DBPath: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Put(helloChunkSha, []byte("hello chunk")))

	data, err := s.Get(context.Background(), helloChunkSha)
	require.NoError(t, err)
	assert.Equal(t, "hello chunk", string(data))
}

func TestGetMissingChunkWithoutMirrorReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "nope")

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.NotFound))
}

func TestPutSameContentUnderWrongShaIsRejected(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Put(sameBytesSha, []byte("same bytes")))

	// A second write claiming the same bytes under a sha that doesn't
	// match their actual digest fails hash verification before the
	// xxhash dedup check ever runs.
	const otherSha = "0000000000000000000000000000000000000000000000000000000000000"
	require.Error(t, s.Put(otherSha, []byte("same bytes")))

	_, err := s.Get(context.Background(), otherSha)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.NotFound))

	data, err := s.Get(context.Background(), sameBytesSha)
	require.NoError(t, err)
	assert.Equal(t, "same bytes", string(data))
}

func TestPutRejectsHashMismatchAndQuarantines(t *testing.T) {
	s := newTestStore(t)

	err := s.Put(helloChunkSha, []byte("not the right bytes"))
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Invalid))

	_, getErr := s.Get(context.Background(), helloChunkSha)
	require.Error(t, getErr)
	assert.True(t, cerr.Is(getErr, cerr.NotFound))
}

func TestPutRejectsWrongChunkSize(t *testing.T) {
	s, err := Open(context.Background(), Options{DBPath: t.TempDir(), ChunkBytes: 4 * bytesize.KiB})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	err = s.Put(helloChunkSha, []byte("hello chunk"))
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.TooBig))
}
