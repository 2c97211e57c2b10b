package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"tunetable/internal/config"
	"tunetable/internal/nowplaying"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 10 * time.Second
	mqttQoS            = 1
)

// mqttClient is the subset of mqtt.Client the sink uses.
type mqttClient interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

// mediaMessage is the retained payload on the now-playing topic.
type mediaMessage struct {
	State         string `json:"state"` // "playing" or "stopped"
	Title         string `json:"title,omitempty"`
	Artist        string `json:"artist,omitempty"`
	ArtworkURL    string `json:"artwork_url,omitempty"`
	ArtworkHandle string `json:"artwork_handle,omitempty"`
	UpdatedAt     int64  `json:"updated_at"`
}

// MQTTMediaSink publishes the now-playing item as a retained message, so
// home-automation displays and remotes always see the current track. The
// latest message is kept and published again on every (re)connect, so an
// update made while the broker was away is not lost.
type MQTTMediaSink struct {
	client mqttClient
	topic  string
	now    func() time.Time

	mu   sync.Mutex
	last *mediaMessage
}

// NewMQTTMediaSink connects to cfg.MQTTBroker. The client keeps retrying in
// the background if the broker is unreachable at startup.
func NewMQTTMediaSink(cfg config.PublishConfig) (*MQTTMediaSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(cfg.MQTTClientID)
	opts.SetUsername(cfg.MQTTUsername)
	opts.SetPassword(cfg.MQTTPassword)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	sink := &MQTTMediaSink{topic: cfg.MQTTTopic, now: time.Now}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Infof("connected to MQTT broker %s", cfg.MQTTBroker)
		sink.republish()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warnf("connection to MQTT broker lost: %v", err)
	})

	client := mqtt.NewClient(opts)
	sink.client = client
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		logger.Warnf("MQTT broker %s not reachable yet, retrying in background", cfg.MQTTBroker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection error: %w", err)
	}

	return sink, nil
}

func newMQTTMediaSink(client mqttClient, topic string) *MQTTMediaSink {
	return &MQTTMediaSink{client: client, topic: topic, now: time.Now}
}

// SetNowPlaying implements nowplaying.MediaSink.
func (s *MQTTMediaSink) SetNowPlaying(item nowplaying.Item) error {
	return s.publish(mediaMessage{
		State:         "playing",
		Title:         item.Title,
		Artist:        item.Artist,
		ArtworkURL:    item.Artwork.URL,
		ArtworkHandle: item.Artwork.Handle,
		UpdatedAt:     s.now().Unix(),
	})
}

// ClearNowPlaying implements nowplaying.MediaSink.
func (s *MQTTMediaSink) ClearNowPlaying() error {
	return s.publish(mediaMessage{State: "stopped", UpdatedAt: s.now().Unix()})
}

// publish remembers msg as the latest state and sends it. mu is held
// while sending so a republish never overtakes a newer message.
func (s *MQTTMediaSink) publish(msg mediaMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &msg
	return s.send(msg)
}

// republish sends the latest state again. It runs on the client's connect
// handler goroutine.
func (s *MQTTMediaSink) republish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := s.last
	if last == nil {
		return
	}
	if err := s.send(*last); err != nil {
		logger.Warnf("republishing now playing: %v", err)
		return
	}
	logger.Debugf("republished now playing (%s)", last.State)
}

func (s *MQTTMediaSink) send(msg mediaMessage) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	token := s.client.Publish(s.topic, mqttQoS, true, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout on %s", s.topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *MQTTMediaSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

var _ nowplaying.MediaSink = (*MQTTMediaSink)(nil)
