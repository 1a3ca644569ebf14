package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Simulator SimulatorConfig `yaml:"simulator"`
	Resource  ResourceConfig  `yaml:"resource"`
	Redis     RedisConfig     `yaml:"redis"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Log       LogConfig       `yaml:"log"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	API       APIConfig       `yaml:"api"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	MaxConnections int           `yaml:"max_connections"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	BufferSize     int           `yaml:"buffer_size"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	Terminator     string        `yaml:"terminator"`
}

// SimulatorConfig 模拟仪器
type SimulatorConfig struct {
	Device       string `yaml:"device"` // daq | vna | psu
	IDN          string `yaml:"idn"`
	NumSlots     int    `yaml:"num_slots"`
	NumChannels  int    `yaml:"num_channels"`
	NumPorts     int    `yaml:"num_ports"`
	SweepPolls   int    `yaml:"sweep_polls"`
	AcquirePolls int    `yaml:"acquire_polls"`
	Seed         int64  `yaml:"seed"`
}

// ResourceConfig 客户端连接
type ResourceConfig struct {
	Address      string        `yaml:"address"`
	Name         string        `yaml:"name"`
	Delay        time.Duration `yaml:"delay"`
	Timeout      time.Duration `yaml:"timeout"`
	ReadTerm     string        `yaml:"read_term"`
	WriteTerm    string        `yaml:"write_term"`
	BaudRate     int           `yaml:"baud_rate"`
	MaxAttempts  int           `yaml:"max_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
	AsyncTimeout time.Duration `yaml:"async_timeout"`
	DoneTimeout  time.Duration `yaml:"done_timeout"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Channel  string `yaml:"channel"`
	History  int    `yaml:"history"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	MetricsPort int  `yaml:"metrics_port"`
}

type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoadConfig 加载配置文件，未写出的字段取默认值
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.ApplyEnv()
	return config, nil
}

// ApplyEnv 环境变量覆盖
func (c *Config) ApplyEnv() {
	if addr := os.Getenv("VISA_ADDRESS"); addr != "" {
		c.Resource.Address = addr
	}
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           5025,
			MaxConnections: 16,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     4096,
			KeepAlive:      180 * time.Second,
			Terminator:     "\n",
		},
		Simulator: SimulatorConfig{
			Device:       "daq",
			NumSlots:     3,
			NumChannels:  20,
			NumPorts:     4,
			SweepPolls:   2,
			AcquirePolls: 2,
			Seed:         1,
		},
		Resource: ResourceConfig{
			Address:      "TCPIP::localhost::5025::SOCKET",
			Name:         "instrument",
			Delay:        35 * time.Millisecond,
			Timeout:      2 * time.Second,
			ReadTerm:     "\n",
			WriteTerm:    "\n",
			BaudRate:     9600,
			MaxAttempts:  3,
			PollInterval: 100 * time.Millisecond,
			AsyncTimeout: 300 * time.Second,
			DoneTimeout:  2 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  false,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			Channel:  "visa_events",
			History:  1000,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker:  "tcp://localhost:1883",
			Topic:   "visa/events",
			QoS:     0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Monitor: MonitorConfig{
			Enabled:     true,
			MetricsPort: 9090,
		},
		API: APIConfig{
			Enabled: true,
			Port:    8080,
		},
	}
}
