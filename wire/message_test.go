package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPropertyListGetReturnsFirstMatch(t *testing.T) {
	p := PropertyList{{Key: "a", Value: "1"}, {Key: "a", Value: "2"}}
	v, ok := p.Get("a")
	require.True(t, ok)
	require.Equal(t, "1", v)

	_, ok = p.Get("missing")
	require.False(t, ok)
}

func TestPropertyListGetAllPreservesDuplicates(t *testing.T) {
	p := PropertyList{{Key: "a", Value: "1"}, {Key: "b", Value: "x"}, {Key: "a", Value: "2"}}
	require.Equal(t, []string{"1", "2"}, p.GetAll("a"))
}

func TestPropertyListWithoutKeyRemovesAllOccurrences(t *testing.T) {
	p := PropertyList{{Key: "a", Value: "1"}, {Key: "b", Value: "x"}, {Key: "a", Value: "2"}}
	out := p.WithoutKey("a")
	require.Len(t, out, 1)
	require.Equal(t, "b", out[0].Key)
}

func TestPropertyListToMapKeepsLastValue(t *testing.T) {
	p := PropertyList{{Key: "a", Value: "1"}, {Key: "a", Value: "2"}}
	m := p.ToMap()
	require.Equal(t, "2", m["a"])
}

func TestIsReservedKey(t *testing.T) {
	require.True(t, IsReservedKey(UserPropTimestamp))
	require.True(t, IsReservedKey("__anything"))
	require.False(t, IsReservedKey("room"))
	require.False(t, IsReservedKey("_"))
}
