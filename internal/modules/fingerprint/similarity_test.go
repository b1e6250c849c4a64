package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity(t *testing.T) {
	t.Run("identical fingerprints score 1.0", func(t *testing.T) {
		fp := EncodeRaw([]int32{0x1234, -42, 0x7FFFFFFF, 0})
		assert.Equal(t, 1.0, Similarity(fp, fp))
	})

	t.Run("empty input scores 0", func(t *testing.T) {
		fp := EncodeRaw([]int32{1, 2, 3})
		assert.Equal(t, 0.0, Similarity(nil, fp))
		assert.Equal(t, 0.0, Similarity(fp, nil))
		assert.Equal(t, 0.0, Similarity(nil, nil))
	})

	t.Run("is symmetric", func(t *testing.T) {
		a := EncodeRaw([]int32{100, 200, 300})
		b := EncodeRaw([]int32{100, 250, 300, 400})
		assert.Equal(t, Similarity(a, b), Similarity(b, a))
	})

	t.Run("complementary values score 0", func(t *testing.T) {
		a := EncodeRaw([]int32{0})
		b := EncodeRaw([]int32{-1}) // all 32 bits set
		assert.Equal(t, 0.0, Similarity(a, b))
	})

	t.Run("single differing bit", func(t *testing.T) {
		a := EncodeRaw([]int32{0})
		b := EncodeRaw([]int32{1})
		assert.InDelta(t, 31.0/32.0, Similarity(a, b), 1e-9)
	})

	t.Run("compares only the common prefix", func(t *testing.T) {
		a := EncodeRaw([]int32{7, 7})
		b := EncodeRaw([]int32{7, 7, 9999, -1})
		assert.Equal(t, 1.0, Similarity(a, b))
	})

	t.Run("buffers shorter than one integer score 0", func(t *testing.T) {
		assert.Equal(t, 0.0, Similarity([]byte{1, 2}, []byte{1, 2, 3}))
	})
}

func TestEncodeRaw(t *testing.T) {
	t.Run("little endian layout", func(t *testing.T) {
		buf := EncodeRaw([]int32{1})
		assert.Equal(t, []byte{1, 0, 0, 0}, buf)
	})

	t.Run("negative values round trip through similarity", func(t *testing.T) {
		fp := EncodeRaw([]int32{-1, -2, -3})
		assert.Len(t, fp, 12)
		assert.Equal(t, 1.0, Similarity(fp, fp))
	})
}
