package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateAndReadWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.bin")

	buf, err := Allocate(path, 64)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.WriteUint64(0, 0xdeadbeefcafef00d))
	require.NoError(t, buf.WriteUint32(8, 42))
	require.NoError(t, buf.WriteBytes(16, []byte("hello")))

	v64, err := buf.ReadUint64(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeefcafef00d), v64)

	v32, err := buf.ReadUint32(8)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v32)

	b, err := buf.ReadBytes(16, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestWriteGrowsBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.bin")

	buf, err := Allocate(path, 4)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.WriteUint64(100, 7))
	assert.GreaterOrEqual(t, buf.Size(), int64(108))
}

func TestOpenExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seg.bin")

	buf, err := Allocate(path, 16)
	require.NoError(t, err)
	require.NoError(t, buf.WriteUint8(0, 9))
	require.NoError(t, buf.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, err := reopened.ReadUint8(0)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), v)
}
