package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesCopyConsume(t *testing.T) {
	r := NewBytes(8)
	n := r.Write([]byte("abcd"))
	require.Equal(t, 4, n)

	buf := make([]byte, 4)
	require.NoError(t, r.Copy(buf, 4))
	assert.Equal(t, "abcd", string(buf))
	// Copy never consumes.
	assert.Equal(t, 4, r.Occupied())

	r.Consume(2)
	assert.Equal(t, 2, r.Occupied())
	require.NoError(t, r.Copy(buf[:2], 2))
	assert.Equal(t, "cd", string(buf[:2]))
}

func TestBytesCopyShort(t *testing.T) {
	r := NewBytes(8)
	r.Write([]byte("ab"))
	err := r.Copy(make([]byte, 4), 4)
	assert.ErrorIs(t, err, ErrShort)
}

func TestBytesWraparound(t *testing.T) {
	r := NewBytes(4)
	r.Write([]byte("abcd"))
	r.Consume(3)
	n := r.Write([]byte("xy"))
	assert.Equal(t, 2, n)

	buf := make([]byte, 3)
	require.NoError(t, r.Copy(buf, 3))
	assert.Equal(t, "dxy", string(buf))
}

func TestBytesBackpressure(t *testing.T) {
	r := NewBytes(4)
	n := r.Write([]byte("abcde"))
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, r.Space())
}

func TestFDsOrder(t *testing.T) {
	q := NewFDs(2)
	q.Push(11, 0)
	q.Push(12, 4)
	fd, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 11, fd)
	fd, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, 12, fd)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestFDsDrainClose(t *testing.T) {
	q := NewFDs(2)
	q.Push(1, 0)
	q.Push(2, 0)
	var closed []int
	q.DrainClose(func(fd int) error {
		closed = append(closed, fd)
		return nil
	})
	assert.Equal(t, []int{1, 2}, closed)
	assert.Equal(t, 0, q.Len())
}
