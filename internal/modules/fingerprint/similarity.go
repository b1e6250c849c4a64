package fingerprint

import (
	"encoding/binary"
	"math/bits"
)

// Similarity compares two raw fingerprints and returns the fraction of
// matching bits in [0,1]. Fingerprints are sequences of 32-bit signed
// integers serialized as little-endian bytes. Comparison runs over the
// common prefix; trailing bytes that do not form a complete integer are
// ignored. Returns 0 when either input is empty or no complete integer
// pair exists.
func Similarity(fp1, fp2 []byte) float64 {
	if len(fp1) == 0 || len(fp2) == 0 {
		return 0
	}

	n := len(fp1) / 4
	if m := len(fp2) / 4; m < n {
		n = m
	}
	if n == 0 {
		return 0
	}

	var matchingBits, totalBits int
	for i := 0; i < n; i++ {
		a := binary.LittleEndian.Uint32(fp1[i*4:])
		b := binary.LittleEndian.Uint32(fp2[i*4:])
		matchingBits += 32 - bits.OnesCount32(a^b)
		totalBits += 32
	}

	return float64(matchingBits) / float64(totalBits)
}
