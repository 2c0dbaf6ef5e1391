package providers

import (
	"testing"

	"github.com/cohesix/root/internal/cerr"
	"github.com/cohesix/root/internal/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenericProviderDescribeRoot(t *testing.T) {
	p := NewGenericProvider("/host", map[string]*FileNode{})

	qid, err := p.Describe(nil)

	require.NoError(t, err)
	assert.Equal(t, codec.KindDir, qid.Kind)
}

func TestGenericProviderReadsRegisteredFile(t *testing.T) {
	p := NewGenericProvider("/host", map[string]*FileNode{
		"uptime": {
			Kind: codec.KindRegReadOnly,
			Read: func(offset uint64, count uint32) ([]byte, error) {
				return []byte("42s\n"), nil
			},
		},
	})

	qid, err := p.Describe([]string{"uptime"})
	require.NoError(t, err)
	assert.Equal(t, codec.KindRegReadOnly, qid.Kind)

	data, err := p.Read([]string{"uptime"}, 0, 64)
	require.NoError(t, err)
	assert.Equal(t, "42s\n", string(data))
}

func TestGenericProviderDescribeMissingFileReturnsNotFound(t *testing.T) {
	p := NewGenericProvider("/host", map[string]*FileNode{})

	_, err := p.Describe([]string{"nope"})

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.NotFound))
}

func TestGenericProviderWriteWithoutSinkReturnsPermission(t *testing.T) {
	p := NewGenericProvider("/host", map[string]*FileNode{
		"uptime": {Kind: codec.KindRegReadOnly, Read: func(uint64, uint32) ([]byte, error) { return nil, nil }},
	})

	_, err := p.Write([]string{"uptime"}, 0, []byte("x"))

	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Permission))
}

func TestGenericProviderWritesThroughSink(t *testing.T) {
	var got []byte
	p := NewGenericProvider("/queen", map[string]*FileNode{
		"ctl": {
			Kind: codec.KindRegAppendOnly,
			Write: func(offset uint64, data []byte) (uint32, error) {
				got = append(got, data...)
				return uint32(len(data)), nil
			},
		},
	})

	n, err := p.Write([]string{"ctl"}, 0, []byte("spawn x\n"))

	require.NoError(t, err)
	assert.Equal(t, uint32(8), n)
	assert.Equal(t, "spawn x\n", string(got))
}
