package canonicalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_KeyOrderIndependent(t *testing.T) {
	a, err := JCS(map[string]any{"b": 1, "a": "x", "c": []int{1, 2}})
	require.NoError(t, err)
	b, err := JCS(map[string]any{"c": []int{1, 2}, "a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":"x","b":1,"c":[1,2]}`, string(a))
}

func TestHash_StableAndSensitive(t *testing.T) {
	type payload struct {
		ID    string `json:"id"`
		Count int    `json:"count"`
	}

	h1, err := Hash(payload{ID: "x", Count: 3})
	require.NoError(t, err)
	h2, err := Hash(payload{ID: "x", Count: 3})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex sha256

	h3, err := Hash(payload{ID: "x", Count: 4})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHash_Unmarshalable(t *testing.T) {
	_, err := Hash(func() {})
	assert.Error(t, err)
}
