package apiconfig

import (
	"time"

	"pow-node/pow"
)

type Config struct {
	Api       ApiConfig       `koanf:"api"`
	Poc       PocConfig       `koanf:"poc"`
	ChainNode ChainNodeConfig `koanf:"chain_node"`
}

type ApiConfig struct {
	Port int `koanf:"port"`
}

// PocConfig drives the Sender and the compute-worker sizing.
type PocConfig struct {
	// CallbackUrl is the coordinator's HTTP base url for fallback
	// delivery.
	CallbackUrl    string  `koanf:"callback_url"`
	RTarget        float64 `koanf:"r_target"`
	FraudThreshold float64 `koanf:"fraud_threshold"`

	// SendIntervalSeconds is the Sender's tick cadence.
	SendIntervalSeconds int `koanf:"send_interval_seconds"`
	// AckTimeoutSeconds bounds the wait for a websocket ack before a
	// delivery attempt falls back to HTTP.
	AckTimeoutSeconds int `koanf:"ack_timeout_seconds"`

	ParamsVersion int `koanf:"params_version"`
	QueueSize     int `koanf:"queue_size"`
}

type ChainNodeConfig struct {
	Url string `koanf:"url"`
}

// DefaultConfig carries the production defaults; file and env values
// are layered on top of it.
var DefaultConfig = Config{
	Api: ApiConfig{
		Port: 8080,
	},
	Poc: PocConfig{
		CallbackUrl:         "http://localhost:9100",
		RTarget:             1.3971164020989417,
		FraudThreshold:      0.01,
		SendIntervalSeconds: 5,
		AckTimeoutSeconds:   30,
		ParamsVersion:       2,
		QueueSize:           1024,
	},
	ChainNode: ChainNodeConfig{
		Url: "http://localhost:8000",
	},
}

// SenderConfig converts the config section into the Sender's own
// config type.
func (c PocConfig) SenderConfig() pow.SenderConfig {
	return pow.SenderConfig{
		CallbackUrl:    c.CallbackUrl,
		RTarget:        c.RTarget,
		FraudThreshold: c.FraudThreshold,
		SendInterval:   time.Duration(c.SendIntervalSeconds) * time.Second,
		AckTimeout:     time.Duration(c.AckTimeoutSeconds) * time.Second,
	}
}
