package events

import (
	"os"
	"testing"

	"github.com/kapnodes/kapimage/pkg/logger"
	"github.com/kapnodes/kapimage/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	logger.Set(zap.NewNop())
	os.Exit(m.Run())
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(4)
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	event := models.PreviewEvent{Path: "/x/a.psd", PreviewFilename: "preview_abc.png", PreviewType: "temp"}
	hub.PublishPreview(event)

	for _, ch := range []<-chan Message{a, b} {
		msg := <-ch
		assert.Equal(t, models.EventTypeUpdatePreview, msg.Type)
		assert.Equal(t, event, msg.Data)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(1)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.PublishPreview(models.PreviewEvent{Path: "one"})
	hub.PublishPreview(models.PreviewEvent{Path: "two"})

	msg := <-ch
	assert.Equal(t, "one", msg.Data.Path)
	assert.Equal(t, int64(1), hub.Stats()["dropped"])
	assert.Equal(t, int64(2), hub.Stats()["published"])
}

func TestCancelClosesChannel(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe()
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())

	hub.PublishPreview(models.PreviewEvent{Path: "ignored"})
}

func TestCloseEndsSubscriptions(t *testing.T) {
	hub := NewHub(0)
	ch, cancel := hub.Subscribe()
	hub.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := hub.Subscribe()
	_, ok = <-late
	require.False(t, ok)
}
