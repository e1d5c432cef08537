package uri

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKinds(t *testing.T) {
	s, err := Parse("Interface/Glue/GlueTop.blp")
	require.NoError(t, err)
	require.Equal(t, KindPath, s.Kind)

	s, err = Parse("1302850")
	require.NoError(t, err)
	require.Equal(t, KindFileDataID, s.Kind)
	require.Equal(t, uint32(1302850), s.FileDataID)

	s, err = Parse("ae66faee0ac786fdd7d8b4cf90a8d5b9")
	require.NoError(t, err)
	require.Equal(t, KindCKey, s.Kind)

	s, err = Parse("ekey:bbf06e7476382cfaa396cff0049d356b")
	require.NoError(t, err)
	require.Equal(t, KindEKey, s.Kind)
}

func TestParseBadHashIsError(t *testing.T) {
	_, err := Parse("ekey:tooshort")
	require.Error(t, err)
}

func TestRefMapsFields(t *testing.T) {
	s, err := Parse("fdid:42")
	require.NoError(t, err)
	ref := s.Ref(0xFFFFFFFF, 0)
	require.True(t, ref.HasFileDataID)
	require.Equal(t, uint32(42), ref.FileDataID)
}
