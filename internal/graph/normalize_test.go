package graph

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Nike", "nike"},
		{"@Nike", "nike"},
		{"  @Steve_Lamacq  ", "steve_lamacq"},
		{"@@double", "double"},
		{"@ @spaced", "spaced"},
		{"", ""},
		{"   ", ""},
		{"#Vintage", "#vintage"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeID(tt.in))
		})
	}
}

func TestNormalizeIDIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"@Nike ", " @ @A", "MAIN_0 ", "\t@x\n", "@", "a b", "@@ @ b @"}
	for _, in := range inputs {
		once := NormalizeID(in)
		assert.Equal(t, once, NormalizeID(once), "input %q", in)
		assert.Equal(t, strings.TrimSpace(once), once)
		assert.False(t, strings.HasPrefix(once, "@"), "input %q", in)
	}
}

func TestCompositeID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "MAIN_0", CompositeID("MAIN", "0"))
	assert.Equal(t, "MAIN_0", CompositeID("MAIN ", " 0 "))
	assert.Equal(t, "cluster_x", CompositeID("cluster", "", "x"))
	assert.Equal(t, "MAIN_3", MainID(3))
}

func TestNodeKeyKeepsMainCase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "MAIN_0", nodeKey("MAIN_0 "))
	assert.Equal(t, "main_street", nodeKey("Main_Street"))
	assert.Equal(t, "nike", nodeKey("@NIKE"))
}

func TestHandleLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "@nike", HandleLabel(" @Nike"))
	assert.Equal(t, "", HandleLabel("@"))
}
