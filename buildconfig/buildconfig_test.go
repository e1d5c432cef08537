package buildconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sample = `# comment
root = ae66faee0ac786fdd7d8b4cf90a8d5b9
install = 7f6f1a3e... bbf06e74...
encoding = cfdabb9902b09b23384de1c6c5c6c8a1 bbf06e7476382cfaa396cff0049d356b
size = 2f1e1a3e... 89c8a0b1...
build-name = WOW-61582patch1.15.7_ClassicRetail
build-uid =
`

func TestParseBuildConfig(t *testing.T) {
	doc, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.Equal(t, "ae66faee0ac786fdd7d8b4cf90a8d5b9", doc.Value("root"))
	require.Equal(t, []string{"cfdabb9902b09b23384de1c6c5c6c8a1", "bbf06e7476382cfaa396cff0049d356b"}, doc.Values("encoding"))
	require.True(t, doc.Has("build-uid"))
	require.Equal(t, "", doc.Value("build-uid"))
	require.False(t, doc.Has("nonexistent"))

	bc := DecodeBuildConfig(doc)
	require.Equal(t, "WOW-61582patch1.15.7_ClassicRetail", bc.BuildName)
	require.Equal(t, "bbf06e7476382cfaa396cff0049d356b", bc.Encoding[1])
}

func TestParseMissingSeparatorIsError(t *testing.T) {
	_, err := Parse([]byte("root ae66faee0ac786fdd7d8b4cf90a8d5b9\n"))
	require.Error(t, err)
}

func TestEmitRoundTripsFieldOrder(t *testing.T) {
	doc, err := Parse([]byte("root = abc\ninstall = def ghi\n"))
	require.NoError(t, err)
	again, err := Parse(Emit(doc))
	require.NoError(t, err)
	require.Equal(t, doc.Keys(), again.Keys())
	require.Equal(t, doc.Values("install"), again.Values("install"))
}
