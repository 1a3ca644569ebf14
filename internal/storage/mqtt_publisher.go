package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"visa-instrument/pkg/protocol"
)

// MQTTPublisher 把事件发布到 <topic>/<device>
type MQTTPublisher struct {
	client  MQTT.Client
	topic   string
	qos     byte
	timeout time.Duration
	log     *logrus.Logger
}

// NewMQTTPublisher 连接broker。broker 形如 tcp://localhost:1883，缺省协议时补 tcp://
func NewMQTTPublisher(broker, clientID, username, password, topic string, qos byte, log *logrus.Logger) (*MQTTPublisher, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	if clientID == "" {
		clientID = fmt.Sprintf("visa_sim_%d", time.Now().Unix())
	}
	opts := MQTT.NewClientOptions().AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		log.Warnf("MQTT连接断开: %v", err)
	})

	client := MQTT.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("连接MQTT失败: %w", token.Error())
	}
	log.Infof("MQTT连接成功: %s", broker)

	return &MQTTPublisher{
		client:  client,
		topic:   strings.TrimSuffix(topic, "/"),
		qos:     qos,
		timeout: 5 * time.Second,
		log:     log,
	}, nil
}

// Topic 设备事件的主题
func (p *MQTTPublisher) Topic(device string) string {
	return eventTopic(p.topic, device)
}

func eventTopic(base, device string) string {
	if base == "" {
		base = "visa/events"
	}
	return base + "/" + device
}

// Publish 发布一条事件
func (p *MQTTPublisher) Publish(ctx context.Context, event *protocol.StateEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	token := p.client.Publish(p.Topic(event.Device), p.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return fmt.Errorf("发布到MQTT超时")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("发布到MQTT失败: %w", err)
	}
	return nil
}

// Close 断开连接
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	p.log.Info("MQTT已断开")
	return nil
}
