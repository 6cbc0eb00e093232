package simpleasset_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func TestContentSize(t *testing.T) {
	tests := []struct {
		name    string
		content func(t *testing.T) simpleasset.Content
		want    int64
	}{
		{
			name:    "zero value is empty",
			content: func(t *testing.T) simpleasset.Content { return simpleasset.Content{} },
			want:    0,
		},
		{
			name:    "text counts utf-8 bytes",
			content: func(t *testing.T) simpleasset.Content { return simpleasset.TextContent("héllo") },
			want:    6,
		},
		{
			name:    "invalid utf-8 is replaced",
			content: func(t *testing.T) simpleasset.Content { return simpleasset.TextContent("a\xffb") },
			want:    5,
		},
		{
			name: "structured uses compact sorted form",
			content: func(t *testing.T) simpleasset.Content {
				c, err := simpleasset.StructuredContentJSON([]byte("{\n  \"z\": [1, 2],\n  \"a\": \"<b>\"\n}"))
				require.NoError(t, err)
				return c
			},
			want: int64(len(`{"a":"<b>","z":[1,2]}`)),
		},
		{
			name: "numbers keep their written form",
			content: func(t *testing.T) simpleasset.Content {
				c, err := simpleasset.StructuredContentJSON([]byte(`{"n": 1.50}`))
				require.NoError(t, err)
				return c
			},
			want: int64(len(`{"n":1.50}`)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.content(t).Size())
		})
	}
}

func TestStructuredContent_Canonical(t *testing.T) {
	a, err := simpleasset.StructuredContent(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := simpleasset.StructuredContentJSON([]byte(`{"a":1,   "b":2}`))
	require.NoError(t, err)

	assert.True(t, a.Equal(b))
	doc, ok := a.Document()
	require.True(t, ok)
	assert.Equal(t, `{"a":1,"b":2}`, string(doc))

	_, err = simpleasset.StructuredContentJSON([]byte(`{"a":`))
	assert.ErrorIs(t, err, simpleasset.ErrInvalidRequest)
	_, err = simpleasset.StructuredContentJSON([]byte(`{} {}`))
	assert.ErrorIs(t, err, simpleasset.ErrInvalidRequest)
}

func TestContent_JSON(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		raw, err := json.Marshal(simpleasset.TextContent("hi"))
		require.NoError(t, err)
		assert.JSONEq(t, `{"kind":"text","text":"hi"}`, string(raw))

		var c simpleasset.Content
		require.NoError(t, json.Unmarshal(raw, &c))
		text, ok := c.Text()
		assert.True(t, ok)
		assert.Equal(t, "hi", text)
	})

	t.Run("EmptyText", func(t *testing.T) {
		var c simpleasset.Content
		require.NoError(t, json.Unmarshal([]byte(`{"kind":"text","text":""}`), &c))
		assert.Equal(t, simpleasset.ContentText, c.Kind())
		assert.Equal(t, int64(0), c.Size())
	})

	t.Run("StructuredIsCanonicalized", func(t *testing.T) {
		var c simpleasset.Content
		require.NoError(t, json.Unmarshal([]byte(`{"kind":"structured","document":{"y":true, "x":null}}`), &c))
		doc, ok := c.Document()
		require.True(t, ok)
		assert.Equal(t, `{"x":null,"y":true}`, string(doc))
	})

	t.Run("NullIsEmpty", func(t *testing.T) {
		var c simpleasset.Content
		require.NoError(t, json.Unmarshal([]byte(`null`), &c))
		assert.Equal(t, simpleasset.ContentEmpty, c.Kind())
	})

	t.Run("Invalid", func(t *testing.T) {
		var c simpleasset.Content
		assert.ErrorIs(t, json.Unmarshal([]byte(`{"kind":"video"}`), &c), simpleasset.ErrInvalidRequest)
		assert.ErrorIs(t, json.Unmarshal([]byte(`{"kind":"structured"}`), &c), simpleasset.ErrInvalidRequest)
	})
}

func TestContent_Equal(t *testing.T) {
	assert.True(t, simpleasset.EmptyContent().Equal(simpleasset.Content{}))
	assert.False(t, simpleasset.TextContent("").Equal(simpleasset.EmptyContent()))
	assert.False(t, simpleasset.TextContent("a").Equal(simpleasset.TextContent("b")))
}
