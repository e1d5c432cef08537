package patch

import (
	"bytes"
	"compress/zlib"
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func zlibCompress(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(b)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func writeTriple(buf *bytes.Buffer, diffLen, extraLen, seek int64) {
	var b [24]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(diffLen))
	binary.LittleEndian.PutUint64(b[8:16], uint64(extraLen))
	binary.LittleEndian.PutUint64(b[16:24], uint64(seek))
	buf.Write(b[:])
}

// TestApplyReconstructsTarget builds a zbsdiff1 patch by hand (spec.md §8
// scenario 6's source/target pair, using two control triples since the
// declared diff+extra byte counts of a single triple cannot by themselves
// sum to the full 12-byte output) and checks the applied result matches
// the target bytes and its CKey.
func TestApplyReconstructsTarget(t *testing.T) {
	source := []byte("HelloWorld!!")
	target := []byte("HelloRust!!!")

	var control bytes.Buffer
	writeTriple(&control, 5, 4, 3)
	writeTriple(&control, 3, 0, 0)

	diff := make([]byte, 0, 8)
	diff = append(diff, 0, 0, 0, 0, 0) // source[0:5] "Hello" == target[0:5] "Hello"
	for i := 0; i < 3; i++ {
		diff = append(diff, target[9+i]^source[8+i])
	}

	extra := []byte("Rust")

	controlC := zlibCompress(t, control.Bytes())
	diffC := zlibCompress(t, diff)
	extraC := zlibCompress(t, extra)

	var patch bytes.Buffer
	patch.WriteString("ZBSDIFF1")
	var sizes [24]byte
	binary.LittleEndian.PutUint64(sizes[0:8], uint64(len(controlC)))
	binary.LittleEndian.PutUint64(sizes[8:16], uint64(len(diffC)))
	binary.LittleEndian.PutUint64(sizes[16:24], uint64(len(target)))
	patch.Write(sizes[:])
	patch.Write(controlC)
	patch.Write(diffC)
	patch.Write(extraC)

	targetCKey := md5.Sum(target)
	out, err := Apply(patch.Bytes(), source, targetCKey, true)
	require.NoError(t, err)
	require.Equal(t, target, out)
}
