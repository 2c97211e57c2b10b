package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"tunetable/internal/nowplaying"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                     { return !t.timeout }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timeout }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTTClient struct {
	connected    bool
	token        *fakeToken
	published    []published
	disconnected bool
}

func (c *fakeMQTTClient) IsConnected() bool { return c.connected }

func (c *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	c.published = append(c.published, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeMQTTClient) Disconnect(uint) { c.disconnected = true }

func newTestSink() (*MQTTMediaSink, *fakeMQTTClient) {
	client := &fakeMQTTClient{connected: true, token: &fakeToken{}}
	sink := newMQTTMediaSink(client, "tunetable/nowplaying")
	sink.now = func() time.Time { return time.Unix(1700000000, 0) }
	return sink, client
}

func TestMQTTSetNowPlaying(t *testing.T) {
	sink, client := newTestSink()

	err := sink.SetNowPlaying(nowplaying.Item{
		Title:   "Moanin'",
		Artist:  "Art Blakey",
		Artwork: nowplaying.Artwork{URL: "https://img.example/moanin.jpg"},
	})
	require.NoError(t, err)
	require.Len(t, client.published, 1)

	p := client.published[0]
	assert.Equal(t, "tunetable/nowplaying", p.topic)
	assert.True(t, p.retained)
	assert.Equal(t, byte(1), p.qos)

	var msg mediaMessage
	require.NoError(t, json.Unmarshal(p.payload, &msg))
	assert.Equal(t, mediaMessage{
		State:      "playing",
		Title:      "Moanin'",
		Artist:     "Art Blakey",
		ArtworkURL: "https://img.example/moanin.jpg",
		UpdatedAt:  1700000000,
	}, msg)
}

func TestMQTTClearNowPlaying(t *testing.T) {
	sink, client := newTestSink()

	require.NoError(t, sink.ClearNowPlaying())
	require.Len(t, client.published, 1)
	assert.JSONEq(t, `{"state":"stopped","updated_at":1700000000}`, string(client.published[0].payload))
}

func TestMQTTPublishErrors(t *testing.T) {
	sink, client := newTestSink()

	client.connected = false
	assert.ErrorContains(t, sink.ClearNowPlaying(), "not connected")

	client.connected = true
	client.token.timeout = true
	assert.ErrorContains(t, sink.ClearNowPlaying(), "publish timeout")

	client.token.timeout = false
	client.token.err = errors.New("not authorized")
	assert.ErrorContains(t, sink.ClearNowPlaying(), "not authorized")
}

func TestMQTTClose(t *testing.T) {
	sink, client := newTestSink()
	require.NoError(t, sink.Close())
	assert.True(t, client.disconnected)
}

func TestMQTTRepublishesOnReconnect(t *testing.T) {
	sink, client := newTestSink()

	// Nothing published yet, nothing to restore.
	sink.republish()
	assert.Empty(t, client.published)

	client.connected = false
	err := sink.SetNowPlaying(nowplaying.Item{Title: "Footprints", Artist: "Wayne Shorter"})
	assert.ErrorContains(t, err, "not connected")
	assert.Empty(t, client.published)

	client.connected = true
	sink.republish()
	require.Len(t, client.published, 1)
	assert.True(t, client.published[0].retained)

	var msg mediaMessage
	require.NoError(t, json.Unmarshal(client.published[0].payload, &msg))
	assert.Equal(t, "playing", msg.State)
	assert.Equal(t, "Footprints", msg.Title)

	// The latest state wins, including a clear.
	require.NoError(t, sink.ClearNowPlaying())
	sink.republish()
	require.Len(t, client.published, 3)
	assert.JSONEq(t, `{"state":"stopped","updated_at":1700000000}`, string(client.published[2].payload))
}
