package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go-kyc-intake/face"
	"go-kyc-intake/flow"
	"go-kyc-intake/logging"
	"go-kyc-intake/redis"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig ServerConfig `json:"server_config"`

	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`

	JwtPublicKeyPath   string `json:"jwt_public_key_path"`
	SubmissionEndpoint string `json:"submission_endpoint"`

	// FaceCheckDelayMS controls how long the capture check pretends to work.
	FaceCheckDelayMS int `json:"face_check_delay_ms,omitempty"`
	// ProgressTickMS is the interval of cosmetic progress updates during
	// submission.
	ProgressTickMS int `json:"progress_tick_ms,omitempty"`

	StorageType         string                    `json:"storage_type"`
	RedisConfig         redis.RedisConfig         `json:"redis_config,omitempty"`
	RedisSentinelConfig redis.RedisSentinelConfig `json:"redis_sentinel_config,omitempty"`
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	configPath := flag.String("config", "", "Path for the config.json to use")
	flag.Parse()

	if *configPath == "" {
		slog.Error("please provide a config path using the --config flag")
		os.Exit(1)
	}

	config, err := readConfigFile(*configPath)
	if err != nil {
		slog.Error("failed to read config file", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logging.InitLogger(config.LogLevel, config.LogFormat)
	slog.Info("using config", "path", *configPath)
	slog.Info("hosting on", "host", config.ServerConfig.Host, "port", config.ServerConfig.Port)

	identity, err := NewJwtIdentityProvider(config.JwtPublicKeyPath)
	if err != nil {
		slog.Error("failed to instantiate identity provider", "error", err)
		os.Exit(1)
	}

	storage, err := createDraftStorage(&config)
	if err != nil {
		slog.Error("failed to instantiate draft storage", "error", err)
		os.Exit(1)
	}

	faceCfg := face.Config{CheckDelay: 3 * time.Second}
	if config.FaceCheckDelayMS > 0 {
		faceCfg.CheckDelay = time.Duration(config.FaceCheckDelayMS) * time.Millisecond
	}
	tick := 400 * time.Millisecond
	if config.ProgressTickMS > 0 {
		tick = time.Duration(config.ProgressTickMS) * time.Millisecond
	}

	hub := NewProgressHub()
	client := NewHttpSubmissionClient(config.SubmissionEndpoint)
	submitter := NewSubmitter(client, storage, hub, tick)
	flows := flow.NewManager(storage, faceCfg, func() face.Camera {
		return face.NewFrameBuffer()
	})

	serverState := ServerState{
		flows:     flows,
		storage:   storage,
		submitter: submitter,
		identity:  identity,
		hub:       hub,
	}

	server, err := NewServer(&serverState, config.ServerConfig)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	err = server.ListenAndServe()
	if err != nil {
		slog.Error("failed to listen and serve", "error", err)
		os.Exit(1)
	}
}

func readConfigFile(path string) (Config, error) {
	configBytes, err := os.ReadFile(path)

	if err != nil {
		return Config{}, err
	}

	var config Config
	err = json.Unmarshal(configBytes, &config)

	if err != nil {
		return Config{}, err
	}

	return config, nil
}

func createDraftStorage(config *Config) (DraftStorage, error) {
	if config.StorageType == "redis" {
		slog.Info("Using redis draft storage")
		client, err := redis.NewRedisClient(&config.RedisConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisDraftStorage(client, config.RedisConfig.Namespace), nil
	}
	if config.StorageType == "redis_sentinel" {
		slog.Info("Using redis sentinel draft storage")
		client, err := redis.NewRedisSentinelClient(&config.RedisSentinelConfig)
		if err != nil {
			return nil, err
		}
		return NewRedisDraftStorage(client, config.RedisSentinelConfig.Namespace), nil
	}
	if config.StorageType == "memory" {
		slog.Info("Using in memory draft storage")
		return NewInMemoryDraftStorage(), nil
	}
	return nil, fmt.Errorf("%v is not a valid storage type", config.StorageType)
}
