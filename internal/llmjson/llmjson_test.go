package llmjson

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"leading prose", `Here is the result: {"a":[1,2]}`, `{"a":[1,2]}`},
		{"trailing commentary", `{"a":1} Let me know if you need more {detail}.`, `{"a":1}`},
		{"braces inside strings", `{"a":"}{","b":"[x"}`, `{"a":"}{","b":"[x"}`},
		{"escaped quote", `{"a":"say \"hi\"}"} tail`, `{"a":"say \"hi\"}"}`},
		{"truncated string", `{"a": [1, 2, {"b": "hel`, `{"a": [1, 2, {"b": "hel"}]}`},
		{"truncated after comma", `{"items": [1, 2,`, `{"items": [1, 2]}`},
		{"dangling key", `{"a": 1, "b`, `{"a": 1}`},
		{"dangling colon", `{"a": 1, "b":`, `{"a": 1}`},
		{"open array", `{"items": [`, `{"items": []}`},
		{"only an open key", `{"a`, `{}`},
		{"trailing backslash", `{"a": "x\`, `{"a": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Extract(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestExtractNoJSON(t *testing.T) {
	t.Parallel()

	_, err := Extract("I could not find anything relevant.")
	require.Error(t, err)

	var pe *ParseError
	assert.True(t, errors.As(err, &pe))
}

func TestUnmarshal(t *testing.T) {
	t.Parallel()

	var out struct {
		Clusters []struct {
			Name string `json:"name"`
		} `json:"clusters"`
	}
	err := Unmarshal("```json\n{\"clusters\":[{\"name\":\"Runners\"},{\"name\":\"Sneak", &out)
	require.NoError(t, err)
	require.Len(t, out.Clusters, 2)
	assert.Equal(t, "Runners", out.Clusters[0].Name)
	assert.Equal(t, "Sneak", out.Clusters[1].Name)
}

func TestUnmarshalTypeMismatch(t *testing.T) {
	t.Parallel()

	var out struct {
		Count int `json:"count"`
	}
	err := Unmarshal(`{"count":"many"}`, &out)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Snippet, "many")
}

func TestDecodeReturnsZeroOnFailure(t *testing.T) {
	t.Parallel()

	got, err := Decode[map[string]int]("nothing")
	assert.Error(t, err)
	assert.Nil(t, got)

	got, err = Decode[map[string]int](`{"a": 3}`)
	require.NoError(t, err)
	assert.Equal(t, 3, got["a"])
}
