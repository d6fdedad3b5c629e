package config

import "time"

type Config struct {
	Server    ServerConfig
	Auth      AuthConfig
	Store     StoreConfig
	Transport TransportConfig
	Activity  ActivityConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address         string
	AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtSecret"`
	TokenTTL  time.Duration `mapstructure:"tokenTTL"`
	Issuer    string        `mapstructure:"issuer"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type TransportConfig struct {
	ReadTimeout time.Duration `mapstructure:"readTimeout"` // 0 disables the per-frame deadline
	SendBuffer  int           `mapstructure:"sendBuffer"`
}

// ActivityConfig sizes the background worker that stamps conversation
// last-activity after a message is sent.
type ActivityConfig struct {
	QueueSize int           `mapstructure:"queueSize"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}
