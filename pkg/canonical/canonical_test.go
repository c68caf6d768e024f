package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	type packet struct {
		Zeta  string `json:"zeta"`
		Alpha string `json:"alpha"`
		Mid   int    `json:"mid"`
	}

	out, err := Marshal(packet{Zeta: "z", Alpha: "a", Mid: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","mid":3,"zeta":"z"}`, string(out))
}

func TestMarshalDeterministic(t *testing.T) {
	v := map[string]any{
		"b": []int{3, 1, 2},
		"a": map[string]string{"y": "1", "x": "2"},
	}

	first, err := Marshal(v)
	require.NoError(t, err)
	second, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHashChangesWithContent(t *testing.T) {
	h1, err := Hash(map[string]string{"cmd": "summarize"})
	require.NoError(t, err)
	h2, err := Hash(map[string]string{"cmd": "summarizf"})
	require.NoError(t, err)

	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, h2)
}
