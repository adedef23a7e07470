package source

import (
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// MQTTConfig параметры подписки на телеметрию через брокер
type MQTTConfig struct {
	Server         string
	Topic          string
	QoS            byte
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	Backlog        int
}

// MQTTSource принимает строки телеметрии из MQTT-топика
type MQTTSource struct {
	*LineSource
	client MQTT.Client
	log    logrus.FieldLogger
}

// OpenMQTT подключается к брокеру и подписывается на топик. Потеря
// соединения фиксируется как ErrSourceUnavailable; автопереподключения нет
func OpenMQTT(cfg MQTTConfig, log logrus.FieldLogger) (*MQTTSource, error) {
	if cfg.Server == "" {
		cfg.Server = "tcp://127.0.0.1:1883"
	}
	if cfg.Topic == "" {
		return nil, errors.New("mqtt topic is empty")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	s := &MQTTSource{
		LineSource: newLineSource(cfg.Backlog),
		log:        log.WithField("broker", cfg.Server),
	}

	opts := MQTT.NewClientOptions().
		AddBroker(cfg.Server).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(cfg.ConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		s.log.WithError(err).Error("mqtt connection lost")
		s.fail(err)
	})

	s.client = MQTT.NewClient(opts)
	if err := waitToken(s.client.Connect(), cfg.ConnectTimeout); err != nil {
		return nil, errors.Wrapf(err, "connect %s", cfg.Server)
	}

	if err := waitToken(s.client.Subscribe(cfg.Topic, cfg.QoS, s.onMessage), cfg.ConnectTimeout); err != nil {
		s.client.Disconnect(250)
		return nil, errors.Wrapf(err, "subscribe %s", cfg.Topic)
	}
	s.log.WithField("topic", cfg.Topic).Info("mqtt subscribed")

	return s, nil
}

// waitToken ждет завершения операции брокера; таймаут и ошибка
// одинаково означают ErrSourceUnavailable
func waitToken(token MQTT.Token, timeout time.Duration) error {
	if !token.WaitTimeout(timeout) {
		return errors.Wrap(ErrSourceUnavailable, "timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(ErrSourceUnavailable, err.Error())
	}
	return nil
}

func (s *MQTTSource) onMessage(_ MQTT.Client, msg MQTT.Message) {
	for _, line := range strings.Split(string(msg.Payload()), "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			s.push(line)
		}
	}
}

// Close отписывается и отключается от брокера
func (s *MQTTSource) Close() error {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return s.LineSource.Close()
}
