package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// config holds cmd/a314d's own settings. None of this is protocol
// state -- the wire format and ring geometry are ABI-frozen and never
// appear here.
type config struct {
	// Listen is the address this daemon accepts the peer connection
	// on (TCP only for this demonstration bridge).
	Listen string `yaml:"listen"`

	// LogLevel is parsed by logrus.ParseLevel.
	LogLevel string `yaml:"log_level"`

	// Compress enables snappy framing on the bridged connection.
	Compress bool `yaml:"compress"`

	// PSK, if set, enables chacha20 encryption of the bridged
	// connection.
	PSK string `yaml:"psk"`
}

func defaultConfig() *config {
	return &config{
		Listen:   "127.0.0.1:7314",
		LogLevel: "info",
	}
}

func loadConfig(path string) (*config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
