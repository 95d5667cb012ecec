package datastore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_LabelSet_AddRemoveContains(t *testing.T) {
	t.Parallel()

	var set LabelSet
	set.Add("pancreas", "cel-seq2")
	set.Add("pancreas")

	assert.Equal(t, 2, set.Length())
	assert.True(t, set.Contains("pancreas"))
	assert.False(t, set.Contains("retina"))

	set.Remove("cel-seq2")
	assert.Equal(t, []string{"pancreas"}, set.List())
}

func Test_LabelSet_StringIsSorted(t *testing.T) {
	t.Parallel()

	set := NewLabelSet("smart-seq2", "pancreas", "human")
	assert.Equal(t, "human pancreas smart-seq2", set.String())

	empty := NewLabelSet()
	assert.Empty(t, empty.String())
	assert.True(t, empty.IsEmpty())
}

func Test_LabelSet_Equal(t *testing.T) {
	t.Parallel()

	a := NewLabelSet("x", "y")
	b := NewLabelSet("y", "x")
	c := NewLabelSet("x")

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func Test_LabelSet_CloneIsIndependent(t *testing.T) {
	t.Parallel()

	orig := NewLabelSet("pancreas")
	cloned := orig.Clone()
	cloned.Add("retina")

	assert.False(t, orig.Contains("retina"))
	assert.True(t, cloned.Contains("pancreas"))
}

func Test_LabelSet_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	set := NewLabelSet("b", "a")

	data, err := json.Marshal(set)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(data))

	var restored LabelSet
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.True(t, set.Equal(restored))
}
