// Package mqttbridge is spec.md §4.6's plumbing: the state publisher and
// action dispatcher that connect the core to the external MQTT broker
// (spec.md §1 "out of scope... transport", §6 topic tree).
package mqttbridge

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/opensleep/podcore/internal/common/logger"
)

// MQTTClient is the minimal MQTT surface the publisher and dispatcher
// need, generalized from the teacher's protocols.MQTTClient
// (Connect/Disconnect/Publish/Subscribe/Unsubscribe/IsConnected) with a
// topic-keyed subscribe handler in place of the teacher's single
// byte-slice callback, since podcore routes five distinct action topics.
type MQTTClient interface {
	Connect() error
	Disconnect()
	Publish(topic string, payload []byte, retain bool) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Unsubscribe(topic string) error
	IsConnected() bool
}

// ClientOptions configures a PahoClient.
type ClientOptions struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	QoS               byte
	AvailabilityTopic string // LWT topic; "offline" is published retained on ungraceful disconnect
}

// PahoClient wraps github.com/eclipse/paho.mqtt.golang behind MQTTClient.
type PahoClient struct {
	client mqtt.Client
	qos    byte
}

// NewPahoClient builds a paho client configured with spec.md §6's LWT
// contract: opensleep/availability retained "offline" as the will.
func NewPahoClient(opts ClientOptions) *PahoClient {
	o := mqtt.NewClientOptions()
	o.AddBroker(opts.Broker)
	o.SetClientID(opts.ClientID)
	if opts.Username != "" {
		o.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		o.SetPassword(opts.Password)
	}
	if opts.AvailabilityTopic != "" {
		o.SetWill(opts.AvailabilityTopic, "offline", opts.QoS, true)
	}
	o.SetAutoReconnect(true)
	o.SetConnectRetry(true)
	o.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("mqttbridge: connected to %s", opts.Broker)
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqttbridge: connection lost: %v", err)
	})

	return &PahoClient{client: mqtt.NewClient(o), qos: opts.QoS}
}

func (p *PahoClient) Connect() error {
	tok := p.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqttbridge: connect: %w", err)
	}
	return nil
}

func (p *PahoClient) Disconnect() { p.client.Disconnect(250) }

func (p *PahoClient) Publish(topic string, payload []byte, retain bool) error {
	tok := p.client.Publish(topic, p.qos, retain, payload)
	tok.Wait()
	return tok.Error()
}

func (p *PahoClient) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	tok := p.client.Subscribe(topic, p.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	tok.Wait()
	return tok.Error()
}

func (p *PahoClient) Unsubscribe(topic string) error {
	tok := p.client.Unsubscribe(topic)
	tok.Wait()
	return tok.Error()
}

func (p *PahoClient) IsConnected() bool { return p.client.IsConnected() }
