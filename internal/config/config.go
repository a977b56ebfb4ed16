package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"

	"github.com/zhouzirui/chatty/backend/internal/model/user"
	"github.com/zhouzirui/chatty/backend/internal/service/broadcast"
)

const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	Store  StoreConfig
	Hub    HubConfig
	Log    LogConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// StoreConfig 描述用户存储配置。
type StoreConfig struct {
	Backend   string
	SeedUsers bool
}

// HubConfig 描述广播中心的投递参数。
type HubConfig struct {
	DeliveryTimeout  time.Duration
	SubscriberBuffer int
	MaxConcurrency   int
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level string
}

type environment struct {
	Port             string        `env:"PORT,default=8080"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	UserStore        string        `env:"USER_STORE,default=memory"`
	SeedUsers        bool          `env:"SEED_USERS,default=true"`
	DeliveryTimeout  time.Duration `env:"HUB_DELIVERY_TIMEOUT,default=2s"`
	SubscriberBuffer int           `env:"HUB_SUBSCRIBER_BUFFER,default=64"`
	MaxConcurrency   int           `env:"HUB_MAX_CONCURRENCY,default=32"`
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	return loadFrom(es)
}

func loadFrom(es env.EnvSet) (*Config, error) {
	var raw environment
	if err := env.Unmarshal(es, &raw); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	server, err := loadServerConfig(raw)
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig(raw)
	if err != nil {
		return nil, err
	}

	hub, err := loadHubConfig(raw)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Store:  store,
		Hub:    hub,
		Log:    LogConfig{Level: strings.ToUpper(strings.TrimSpace(raw.LogLevel))},
	}, nil
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig(raw environment) (ServerConfig, error) {
	port := strings.TrimSpace(raw.Port)
	if port == "" {
		port = "8080"
	}
	if raw.ShutdownTimeout <= 0 {
		return ServerConfig{}, fmt.Errorf("invalid SHUTDOWN_TIMEOUT value: %s", raw.ShutdownTimeout)
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, ShutdownTimeout: raw.ShutdownTimeout}, nil
	}

	return ServerConfig{Addr: ":" + port, ShutdownTimeout: raw.ShutdownTimeout}, nil
}

func loadStoreConfig(raw environment) (StoreConfig, error) {
	backend := strings.ToLower(strings.TrimSpace(raw.UserStore))
	switch backend {
	case StoreMemory, StoreBadger:
	default:
		return StoreConfig{}, fmt.Errorf("invalid USER_STORE value %q: want %s or %s", raw.UserStore, StoreMemory, StoreBadger)
	}
	return StoreConfig{Backend: backend, SeedUsers: raw.SeedUsers}, nil
}

func loadHubConfig(raw environment) (HubConfig, error) {
	if raw.DeliveryTimeout <= 0 {
		return HubConfig{}, fmt.Errorf("invalid HUB_DELIVERY_TIMEOUT value: %s", raw.DeliveryTimeout)
	}
	if raw.SubscriberBuffer < 1 {
		return HubConfig{}, fmt.Errorf("invalid HUB_SUBSCRIBER_BUFFER value: %d", raw.SubscriberBuffer)
	}
	if raw.MaxConcurrency < 1 {
		return HubConfig{}, fmt.Errorf("invalid HUB_MAX_CONCURRENCY value: %d", raw.MaxConcurrency)
	}
	return HubConfig{
		DeliveryTimeout:  raw.DeliveryTimeout,
		SubscriberBuffer: raw.SubscriberBuffer,
		MaxConcurrency:   raw.MaxConcurrency,
	}, nil
}

// Options 转换为广播中心参数。
func (c HubConfig) Options() broadcast.Options {
	return broadcast.Options{
		DeliveryTimeout: c.DeliveryTimeout,
		BufferSize:      c.SubscriberBuffer,
		MaxConcurrency:  c.MaxConcurrency,
	}
}

// OpenStore 按配置创建用户存储，返回的 close 函数在进程退出前调用。
func (c StoreConfig) OpenStore() (user.Store, func() error, error) {
	var seed []user.User
	if c.SeedUsers {
		seed = user.Seed()
	}

	switch c.Backend {
	case StoreBadger:
		store, err := user.NewBadgerStore(seed)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return user.NewMemoryStore(seed), func() error { return nil }, nil
	}
}
