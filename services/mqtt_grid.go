package services

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// MQTTGridSource feeds grid incidents from an MQTT topic into the grid
// watcher, for deployments where the grid operator publishes incidents to a
// broker instead of signalling the process. Payload convention:
//
//	outage:<message>   report an incident
//	resolved           clear it
type MQTTGridSource struct {
	broker  string
	topic   string
	watcher *GridWatcher
	client  mqtt.Client
}

func NewMQTTGridSource(broker, topic string, watcher *GridWatcher) *MQTTGridSource {
	return &MQTTGridSource{broker: broker, topic: topic, watcher: watcher}
}

func (ms *MQTTGridSource) Start() error {
	clientID := fmt.Sprintf("smart-meter-server-%d", time.Now().Unix())

	opts := mqtt.NewClientOptions()
	opts.AddBroker(ms.broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("lost connection to grid event broker")
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.WithField("broker", ms.broker).Info("connected to grid event broker")
		if token := client.Subscribe(ms.topic, 1, ms.handleMessage); token.Wait() && token.Error() != nil {
			log.WithError(token.Error()).Errorf("failed to subscribe to %s", ms.topic)
		}
	})

	ms.client = mqtt.NewClient(opts)
	if token := ms.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to grid event broker %s: %w", ms.broker, token.Error())
	}
	return nil
}

func (ms *MQTTGridSource) Stop() {
	if ms.client != nil && ms.client.IsConnected() {
		ms.client.Disconnect(250)
	}
}

func (ms *MQTTGridSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := strings.TrimSpace(string(msg.Payload()))
	switch {
	case strings.HasPrefix(payload, "outage:"):
		ms.watcher.ReportOutage(strings.TrimSpace(strings.TrimPrefix(payload, "outage:")))
	case payload == "resolved":
		ms.watcher.Resolve()
	default:
		log.WithField("payload", payload).Warn("ignoring unknown grid event payload")
	}
}
