package espec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []string{
		"n",
		"z",
		"z:{9}",
		"z:{6,1}",
		"e:{FA505078126ACB3E,12345678,z}",
		"b:{22=n,2069=z,65536=n,8388608=n,43008=n,5505024=n,*=z}",
		"c",
		"g",
	}
	for _, s := range cases {
		node, err := Parse(s)
		require.NoError(t, err, s)
		require.Equal(t, s, Serialize(node), "round trip for %q", s)
	}
}

func TestBlockSizeKMUnitsParsed(t *testing.T) {
	node, err := Parse("b:{64K=n,1M*3=z,*=n}")
	require.NoError(t, err)
	require.Equal(t, int64(64*1024), node.Parts[0].Size)
	require.Equal(t, int64(1024*1024), node.Parts[1].Size)
	require.Equal(t, 3, node.Parts[1].Count)
	require.True(t, node.Parts[2].Variable)
	require.Equal(t, "b:{64K=n,1M*3=z,*=n}", Serialize(node))
}

func TestEvaluateProducesLayout(t *testing.T) {
	node, err := Parse("b:{22=n,10=z,*=z}")
	require.NoError(t, err)
	layout, err := Evaluate(node, 100)
	require.NoError(t, err)
	require.Len(t, layout.Segments, 3)
	require.Equal(t, int64(68), layout.Segments[2].Size)
}
