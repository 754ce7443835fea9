package ops

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"main/internal/chat"
	"main/pkg/conn"
	"main/pkg/realtime"
)

// FileConfig mirrors the JSON config layout shared by the relay server
// and the terminal client. Durations are milliseconds.
type FileConfig struct {
	Endpoint EndpointConfig `json:"endpoint"`
	Server   ServerConfig   `json:"server"`
	Session  SessionConfig  `json:"session"`
	Postgres PostgresConfig `json:"postgres"`
	Probe    ProbeConfig    `json:"probe"`
}

// EndpointConfig describes the relay a client dials.
type EndpointConfig struct {
	URL                string `json:"url"`
	Token              string `json:"token"`
	HandshakeTimeoutMs int64  `json:"handshakeTimeoutMs"`
	ReadWaitMs         int64  `json:"readWaitMs"`
	WriteWaitMs        int64  `json:"writeWaitMs"`
}

// ServerConfig describes the relay listener.
type ServerConfig struct {
	Listen         string `json:"listen"`
	Token          string `json:"token"`
	ReadLimit      int64  `json:"readLimit"`
	PingIntervalMs int64  `json:"pingIntervalMs"`
}

// SessionConfig carries the chat session tuning knobs. Zero values keep
// the session defaults.
type SessionConfig struct {
	UserID           string  `json:"userId"`
	OutboxSize       int     `json:"outboxSize"`
	MaxSendAttempts  int     `json:"maxSendAttempts"`
	TypingDebounceMs int64   `json:"typingDebounceMs"`
	TypingTTLMs      int64   `json:"typingTtlMs"`
	PingIntervalMs   int64   `json:"pingIntervalMs"`
	WarmTopicTTLMs   int64   `json:"warmTopicTtlMs"`
	EventBuffer      int     `json:"eventBuffer"`
	TopicBuffer      int     `json:"topicBuffer"`
	BackoffMinMs     int64   `json:"backoffMinMs"`
	BackoffMaxMs     int64   `json:"backoffMaxMs"`
	BackoffFactor    float64 `json:"backoffFactor"`
	BackoffJitter    float64 `json:"backoffJitter"`
	MaxAttempts      int     `json:"maxAttempts"`
}

// PostgresConfig enables message history in Postgres.
type PostgresConfig struct {
	Enable            bool              `json:"enable"`
	Host              string            `json:"host"`
	Port              int               `json:"port"`
	User              string            `json:"user"`
	Password          string            `json:"password"`
	Database          string            `json:"database"`
	SSLMode           string            `json:"sslMode"`
	Params            map[string]string `json:"params"`
	ConnString        string            `json:"connString"`
	MaxOpenConns      int               `json:"maxOpenConns"`
	MaxIdleConns      int               `json:"maxIdleConns"`
	ConnMaxLifetimeMs int64             `json:"connMaxLifetimeMs"`
}

// ProbeConfig enables the reachability probe pausing reconnects while
// the network is down. An empty addr disables it.
type ProbeConfig struct {
	Addr          string `json:"addr"`
	IntervalMs    int64  `json:"intervalMs"`
	TimeoutMs     int64  `json:"timeoutMs"`
	FailThreshold int    `json:"failThreshold"`
}

// Loaded is the resolved configuration ready for use. Sections a binary
// does not consume may stay at their zero value; required fields are
// checked by the binary that needs them.
type Loaded struct {
	Endpoint EndpointSpec
	Server   ServerSpec
	Session  chat.Config
	Postgres *conn.Option
	Probe    *ProbeSpec
}

// EndpointSpec is the resolved dial target.
type EndpointSpec struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	ReadWait         time.Duration
	WriteWait        time.Duration
}

// ServerSpec is the resolved listener definition.
type ServerSpec struct {
	Listen       string
	Token        string
	ReadLimit    int64
	PingInterval time.Duration
}

// ProbeSpec is the resolved reachability probe definition.
type ProbeSpec struct {
	Addr          string
	Interval      time.Duration
	Timeout       time.Duration
	FailThreshold int
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}
	session, err := resolveSession(cfg.Session)
	if err != nil {
		return Loaded{}, err
	}
	probe, err := resolveProbe(cfg.Probe)
	if err != nil {
		return Loaded{}, err
	}
	return Loaded{
		Endpoint: resolveEndpoint(cfg.Endpoint),
		Server:   resolveServer(cfg.Server),
		Session:  session,
		Postgres: resolvePostgres(cfg.Postgres),
		Probe:    probe,
	}, nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func resolveEndpoint(cfg EndpointConfig) EndpointSpec {
	return EndpointSpec{
		URL:              cfg.URL,
		Token:            cfg.Token,
		HandshakeTimeout: millis(cfg.HandshakeTimeoutMs),
		ReadWait:         millis(cfg.ReadWaitMs),
		WriteWait:        millis(cfg.WriteWaitMs),
	}
}

func resolveServer(cfg ServerConfig) ServerSpec {
	spec := ServerSpec{
		Listen:       cfg.Listen,
		Token:        cfg.Token,
		ReadLimit:    cfg.ReadLimit,
		PingInterval: millis(cfg.PingIntervalMs),
	}
	if spec.Listen == "" {
		spec.Listen = ":8737"
	}
	return spec
}

func resolveSession(cfg SessionConfig) (chat.Config, error) {
	if cfg.OutboxSize < 0 {
		return chat.Config{}, fmt.Errorf("outboxSize must be >= 0")
	}
	if cfg.MaxSendAttempts < 0 {
		return chat.Config{}, fmt.Errorf("maxSendAttempts must be >= 0")
	}
	if cfg.BackoffFactor < 0 {
		return chat.Config{}, fmt.Errorf("backoffFactor must be >= 0")
	}
	if cfg.BackoffJitter < 0 || cfg.BackoffJitter > 1 {
		return chat.Config{}, fmt.Errorf("backoffJitter must be within [0, 1]")
	}
	if cfg.TypingDebounceMs > 0 && cfg.TypingTTLMs > 0 && cfg.TypingTTLMs < cfg.TypingDebounceMs {
		return chat.Config{}, fmt.Errorf("typingTtlMs must be >= typingDebounceMs")
	}
	return chat.Config{
		UserID:          cfg.UserID,
		MaxAttempts:     cfg.MaxAttempts,
		PingInterval:    millis(cfg.PingIntervalMs),
		WarmTopicTTL:    millis(cfg.WarmTopicTTLMs),
		OutboxSize:      cfg.OutboxSize,
		MaxSendAttempts: cfg.MaxSendAttempts,
		TypingDebounce:  millis(cfg.TypingDebounceMs),
		TypingTTL:       millis(cfg.TypingTTLMs),
		EventBuffer:     cfg.EventBuffer,
		TopicBuffer:     cfg.TopicBuffer,
		Backoff: realtime.Backoff{
			Min:    millis(cfg.BackoffMinMs),
			Max:    millis(cfg.BackoffMaxMs),
			Factor: cfg.BackoffFactor,
			Jitter: cfg.BackoffJitter,
		},
	}, nil
}

func resolvePostgres(cfg PostgresConfig) *conn.Option {
	if !cfg.Enable {
		return nil
	}
	return &conn.Option{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Params:          cfg.Params,
		ConnString:      cfg.ConnString,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: millis(cfg.ConnMaxLifetimeMs),
	}
}

func resolveProbe(cfg ProbeConfig) (*ProbeSpec, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	if cfg.FailThreshold < 0 {
		return nil, fmt.Errorf("probe failThreshold must be >= 0")
	}
	return &ProbeSpec{
		Addr:          cfg.Addr,
		Interval:      millis(cfg.IntervalMs),
		Timeout:       millis(cfg.TimeoutMs),
		FailThreshold: cfg.FailThreshold,
	}, nil
}
