package detail

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/heritage-client/internal/keys"
	"github.com/nhle/heritage-client/internal/model"
)

func TestRenderShowsTargetAndMedia(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	assert.Contains(t, m.View(), "No notification selected")

	m.SetNotification(model.Notification{
		ID:        "12",
		Message:   "Ada commented on your photo",
		Type:      model.NotificationComment,
		ItemID:    "99",
		CommentID: "5",
		Thumbnail: "http://cdn/thumb.jpg",
		CreatedAt: model.Timestamp{Time: time.Date(2024, 5, 1, 9, 30, 0, 0, time.Local)},
	})

	v := m.View()
	assert.Contains(t, v, "COMMENT")
	assert.Contains(t, v, "UNREAD")
	assert.Contains(t, v, "item 99")
	assert.Contains(t, v, "http://cdn/thumb.jpg")
	assert.Contains(t, v, "2024-05-01 09:30")
	assert.Contains(t, v, "Ada commented on your photo")
}

func TestKeys(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 30)
	m.SetNotification(model.Notification{ID: "3", Message: "hi"})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, MarkReadMsg{ID: "3"}, cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, BackMsg{}, cmd())

	m.MarkRead("other")
	n, _ := m.Notification()
	assert.False(t, n.Read)

	m.MarkRead("3")
	n, ok := m.Notification()
	require.True(t, ok)
	assert.True(t, n.Read)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd, "already read")
}
