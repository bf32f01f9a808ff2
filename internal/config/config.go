package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env    string       `yaml:"env" env:"ENV" env-default:"local"`
	HTTP   HTTPConfig   `yaml:"http"`
	WebRTC WebRTCConfig `yaml:"webrtc"`
	Relay  RelayConfig  `yaml:"relay"`
	Redis  RedisConfig  `yaml:"redis"`
}

type HTTPConfig struct {
	Address        string   `yaml:"address" env:"HTTP_ADDRESS" env-default:""`
	AllowedOrigins []string `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:","`
}

// WebRTCConfig is shared by the relay (advertised in logs) and participants.
type WebRTCConfig struct {
	STUNServers        []string      `yaml:"stun_servers" env:"WEBRTC_STUN_SERVERS" env-separator:","`
	TURNServers        []string      `yaml:"turn_servers" env:"WEBRTC_TURN_SERVERS" env-separator:","`
	TURNUsername       string        `yaml:"turn_username" env:"WEBRTC_TURN_USERNAME"`
	TURNPassword       string        `yaml:"turn_password" env:"WEBRTC_TURN_PASSWORD"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout" env:"WEBRTC_NEGOTIATION_TIMEOUT" env-default:"30s"`
}

type RelayConfig struct {
	EventBuffer     int   `yaml:"event_buffer" env:"RELAY_EVENT_BUFFER" env-default:"256"`
	MaxMessageBytes int64 `yaml:"max_message_bytes" env:"RELAY_MAX_MESSAGE_BYTES" env-default:"65536"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"false"`
	Address  string        `yaml:"address" env:"REDIS_ADDRESS" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TTL      time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"24h"`
}

// Client configures a participant process. It is read from the environment
// and then overridden by command line flags.
type Client struct {
	Env        string `env:"ENV" env-default:"local"`
	ServerURL  string `env:"MESH_SERVER_URL" env-default:"ws://localhost:8080/ws"`
	APIURL     string `env:"MESH_API_URL" env-default:"http://localhost:8080"`
	Room       string `env:"MESH_ROOM"`
	Name       string `env:"MESH_NAME"`
	SendBuffer int    `env:"MESH_SEND_BUFFER" env-default:"64"`
	WebRTC     WebRTCConfig
}

func MustLoad() *Config {
	configPath := fetchConfigPath()
	if configPath == "" {
		panic("config path is empty")
	}

	return MustLoadPath(configPath)
}

func MustLoadPath(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("cannot read config: " + err.Error())
	}

	cfg.setDefaults()

	return &cfg
}

// LoadClient reads participant settings from the environment.
func LoadClient() (*Client, error) {
	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.WebRTC.setDefaults()
	return &cfg, nil
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}

	if res == "" {
		res = "config/local.yaml"
	}

	return res
}

func (c *Config) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if c.Relay.EventBuffer <= 0 {
		c.Relay.EventBuffer = 256
	}
	if c.Relay.MaxMessageBytes <= 0 {
		c.Relay.MaxMessageBytes = 64 * 1024
	}
	c.WebRTC.setDefaults()
}

func (w *WebRTCConfig) setDefaults() {
	if len(w.STUNServers) == 0 {
		w.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
}
