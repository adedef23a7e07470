// Package config загружает конфигурацию: встроенный профиль, YAML-файл,
// затем переменные окружения
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"flowscope/internal/ingest"
	"flowscope/internal/models"
)

// ErrInvalid возвращается при некорректной конфигурации
var ErrInvalid = errors.New("invalid config")

// Политики реакции на отказ источника
const (
	PolicyFail      = "fail"
	PolicyReconnect = "reconnect"
)

// Типы источников
const (
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceStdin  = "stdin"
)

// Channel описывает, как поле записи превращается в значение серии
type Channel struct {
	Field int     `yaml:"field"`
	Scale float64 `yaml:"scale"`
}

// Profile набор параметров обработки и отрисовки для одного вида телеметрии
type Profile struct {
	Name             string        `yaml:"name"`
	Mode             string        `yaml:"mode"`
	Primary          Channel       `yaml:"primary"`
	Secondary        *Channel      `yaml:"secondary,omitempty"`
	Capacity         int           `yaml:"capacity"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	WindowSec        float64       `yaml:"window_sec"`
	Alpha            float64       `yaml:"alpha"`
	ClampMin         *float64      `yaml:"clamp_min,omitempty"`
	PrimaryAxis      models.Axis   `yaml:"primary_axis"`
	SecondaryAxis    *models.Axis  `yaml:"secondary_axis,omitempty"`
}

// LineMode возвращает разобранный режим строки
func (p Profile) LineMode() ingest.Mode {
	m, _ := ingest.ParseMode(p.Mode)
	return m
}

// VisibleSeconds ширина видимого окна по оси X
func (p Profile) VisibleSeconds() float64 {
	if p.WindowSec > 0 {
		return p.WindowSec
	}
	return float64(p.Capacity) * p.SamplingInterval.Seconds()
}

// Config конфигурация сервиса
type Config struct {
	Profile Profile `yaml:"profile"`

	Source            string        `yaml:"source"`
	Serial            SerialConfig  `yaml:"serial"`
	MQTT              MQTTConfig    `yaml:"mqtt"`
	Backlog           int           `yaml:"backlog"`
	SourceErrorPolicy string        `yaml:"source_error_policy"`
	ReconnectMin      time.Duration `yaml:"reconnect_min"`
	ReconnectMax      time.Duration `yaml:"reconnect_max"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`

	ServerAddr    string `yaml:"server_addr"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RecordLimit   int64  `yaml:"record_limit"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// SerialConfig параметры последовательного порта
type SerialConfig struct {
	Port        string        `yaml:"port"`
	Baud        int           `yaml:"baud"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// MQTTConfig параметры MQTT-брокера
type MQTTConfig struct {
	Server   string `yaml:"server"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default возвращает конфигурацию по умолчанию с профилем flow-pwm
func Default() Config {
	p, _ := LookupProfile("flow-pwm")
	return Config{
		Profile: p,
		Source:  SourceSerial,
		Serial: SerialConfig{
			Port:        "/dev/ttyACM0",
			Baud:        9600,
			ReadTimeout: 50 * time.Millisecond,
			SettleDelay: 2 * time.Second,
		},
		MQTT: MQTTConfig{
			Server: "tcp://127.0.0.1:1883",
			Topic:  "flowscope/telemetry",
		},
		SourceErrorPolicy: PolicyFail,
		ReconnectMin:      time.Second,
		ReconnectMax:      30 * time.Second,
		ReconnectAttempts: 10,
		ServerAddr:        ":8080",
		RedisAddr:         "",
		RecordLimit:       1000,
		LogLevel:          "info",
		LogFormat:         "text",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Load собирает конфигурацию: значения по умолчанию, затем YAML (если path
// не пуст), затем переменные окружения FLOWSCOPE_*
func Load(path string) (*Config, error) {
	cfg := Default()

	// Профиль из окружения выбирается до чтения файла, чтобы файл мог
	// переопределить отдельные поля профиля
	if name := getEnv("FLOWSCOPE_PROFILE", ""); name != "" {
		p, err := LookupProfile(name)
		if err != nil {
			return nil, err
		}
		cfg.Profile = p
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		if err := cfg.parseYAML(data); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseYAML(data []byte) error {
	// Имя профиля в файле заменяет базовый профиль целиком
	var head struct {
		Profile struct {
			Name string `yaml:"name"`
		} `yaml:"profile"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Profile.Name != "" && head.Profile.Name != c.Profile.Name {
		p, err := LookupProfile(head.Profile.Name)
		if err != nil {
			return err
		}
		c.Profile = p
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv() {
	c.Source = getEnv("FLOWSCOPE_SOURCE", c.Source)
	c.Serial.Port = getEnv("FLOWSCOPE_SERIAL_PORT", c.Serial.Port)
	c.Serial.Baud = getEnvInt("FLOWSCOPE_SERIAL_BAUD", c.Serial.Baud)
	c.MQTT.Server = getEnv("FLOWSCOPE_MQTT_SERVER", c.MQTT.Server)
	c.MQTT.Topic = getEnv("FLOWSCOPE_MQTT_TOPIC", c.MQTT.Topic)
	c.SourceErrorPolicy = getEnv("FLOWSCOPE_SOURCE_ERROR_POLICY", c.SourceErrorPolicy)
	c.ServerAddr = getEnv("FLOWSCOPE_SERVER_ADDR", c.ServerAddr)
	c.RedisAddr = getEnv("FLOWSCOPE_REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("FLOWSCOPE_REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("FLOWSCOPE_REDIS_DB", c.RedisDB)
	c.LogLevel = getEnv("FLOWSCOPE_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("FLOWSCOPE_LOG_FORMAT", c.LogFormat)
}

// Validate проверяет, что конфигурация пригодна для запуска
func (c *Config) Validate() error {
	p := c.Profile
	if _, err := ingest.ParseMode(p.Mode); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	arity := p.LineMode().Arity()
	if p.Primary.Field < 0 || p.Primary.Field >= arity {
		return errors.Wrapf(ErrInvalid, "primary field %d out of range for %s mode", p.Primary.Field, p.Mode)
	}
	if p.Secondary != nil && (p.Secondary.Field < 0 || p.Secondary.Field >= arity) {
		return errors.Wrapf(ErrInvalid, "secondary field %d out of range for %s mode", p.Secondary.Field, p.Mode)
	}
	if p.Capacity <= 0 {
		return errors.Wrapf(ErrInvalid, "capacity must be > 0 (got %d)", p.Capacity)
	}
	if p.SamplingInterval <= 0 {
		return errors.Wrapf(ErrInvalid, "sampling_interval must be > 0 (got %s)", p.SamplingInterval)
	}
	if p.Alpha < 0 || p.Alpha > 1 {
		return errors.Wrapf(ErrInvalid, "alpha must be in [0, 1], 0 disables smoothing (got %v)", p.Alpha)
	}

	switch c.Source {
	case SourceSerial:
		if c.Serial.Port == "" {
			return errors.Wrap(ErrInvalid, "serial.port must be set")
		}
	case SourceMQTT:
		if c.MQTT.Topic == "" {
			return errors.Wrap(ErrInvalid, "mqtt.topic must be set")
		}
	case SourceStdin:
	default:
		return errors.Wrapf(ErrInvalid, "unknown source %q", c.Source)
	}

	switch c.SourceErrorPolicy {
	case PolicyFail:
	case PolicyReconnect:
		if c.ReconnectMin <= 0 || c.ReconnectMax < c.ReconnectMin {
			return errors.Wrap(ErrInvalid, "reconnect_min must be > 0 and <= reconnect_max")
		}
	default:
		return errors.Wrapf(ErrInvalid, "unknown source_error_policy %q", c.SourceErrorPolicy)
	}
	return nil
}

// getEnv получает переменную окружения со значением по умолчанию
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает целочисленную переменную окружения
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return defaultValue
}
