package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApply(t *testing.T) {
	t.Run("Append", func(t *testing.T) {
		list := Apply(nil, Message{Key: "u", Role: RoleUser, Content: "hi"}, false)
		assert.Len(t, list, 1)
	})

	t.Run("Replace Last", func(t *testing.T) {
		list := []Message{{Key: "u"}, {Key: "a", Content: Placeholder}}
		list = Apply(list, Message{Key: "a", Content: "text"}, true)
		assert.Len(t, list, 2)
		assert.Equal(t, "text", list[1].Content)
	})

	t.Run("Replace Last On Empty List Appends", func(t *testing.T) {
		list := Apply(nil, Message{Key: "a"}, true)
		assert.Len(t, list, 1)
	})

	t.Run("Same Key Updates In Place", func(t *testing.T) {
		list := []Message{{Key: "u", Content: "hi"}, {Key: "a", Content: Placeholder}}
		list = Apply(list, Message{Key: "u", Content: "hi", ID: 9}, false)
		assert.Len(t, list, 2)
		assert.EqualValues(t, 9, list[0].ID)
		assert.True(t, IsPlaceholder(list[1].Content))
	})

	t.Run("Empty Key Always Appends", func(t *testing.T) {
		list := []Message{{Content: "x"}}
		list = Apply(list, Message{Content: "y"}, false)
		assert.Len(t, list, 2)
	})
}

func TestSinkFuncs(t *testing.T) {
	var got []bool
	s := SinkFuncs{Loading: func(l bool) { got = append(got, l) }}
	s.AppendMessage(Message{}, false)
	s.SetLoading(true)
	assert.Equal(t, []bool{true}, got)
}

func TestMarkers(t *testing.T) {
	assert.True(t, IsPlaceholder(Placeholder))
	assert.False(t, IsPlaceholder("plain"))
	assert.True(t, IsError(ErrorPrefix+"boom"))
}
