package bpsv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersionsDocument(t *testing.T) {
	doc, err := Parse([]byte(
		"Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|KeyRing!HEX:16|BuildId!DEC:4|VersionsName!STRING:0|ProductConfig!HEX:16\n" +
			"## seqn = 2245405\n" +
			"us|ae66faee0ac786fdd7d8b4cf90a8d5b9|abcd1234abcd1234abcd1234abcd1234||61582|1.15.7.61582|12345678123456781234567812345678\n",
	))
	require.NoError(t, err)
	require.Equal(t, int64(2245405), doc.Seqn)
	require.Len(t, doc.Rows, 1)
	v, ok := doc.Value(0, "BuildId")
	require.True(t, ok)
	require.Equal(t, "61582", v)
}

func TestHexWidthEnforced(t *testing.T) {
	_, err := Parse([]byte("Hash!HEX:16\nabcdef0123456789\n"))
	require.Error(t, err, "16 hex chars should be rejected for HEX:16 (needs 32)")
}

func TestDuplicateFieldNameRejected(t *testing.T) {
	_, err := Parse([]byte("A!STRING:0|A!STRING:0\nx|y\n"))
	require.Error(t, err)
}

func TestEmptyFieldsValidForEveryType(t *testing.T) {
	doc, err := Parse([]byte("A!STRING:0|B!HEX:16|C!DEC:4\n||\n"))
	require.NoError(t, err)
	require.Len(t, doc.Rows, 1)
}

func TestRoundTrip(t *testing.T) {
	src := "Region!STRING:0|BuildId!DEC:4\n## seqn = 42\nus|61582\neu|61582\n"
	doc, err := Parse([]byte(src))
	require.NoError(t, err)
	out := string(Emit(doc))
	require.Equal(t, src, out)
}
