package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"walletlink/go-client/internal/deeplink"
	"walletlink/go-client/pkg/models"

	"gopkg.in/yaml.v3"
)

const (
	DefaultRedirectScheme = "walletlink"
	DefaultRedirectPath   = "onConnect"
	DefaultInboundRPS     = 5.0
	DefaultInboundBurst   = 10
	DefaultInboundIdleTTL = 10 * time.Minute
	DefaultEventBuffer    = 32
	DefaultLogLevel       = "info"
)

type Config struct {
	Wallet  WalletConfig
	State   StateConfig
	Inbound InboundConfig
	Metrics MetricsConfig
	Log     LogConfig
}

type WalletConfig struct {
	BaseURL        string
	Cluster        string
	AppURL         string
	RedirectLink   string
	RedirectScheme string
	RedirectPath   string
}

type StateConfig struct {
	Path       string
	Passphrase string
}

type InboundConfig struct {
	RatePerSecond float64
	Burst         int
	IdleTTL       time.Duration
	EventBuffer   int
}

type MetricsConfig struct {
	TextfilePath string
}

type LogConfig struct {
	Level string
}

func DefaultConfig() Config {
	return Config{
		Wallet: WalletConfig{
			BaseURL:        deeplink.DefaultBaseURL,
			Cluster:        models.ClusterDevnet,
			RedirectScheme: DefaultRedirectScheme,
			RedirectPath:   DefaultRedirectPath,
		},
		State: StateConfig{Path: defaultStatePath()},
		Inbound: InboundConfig{
			RatePerSecond: DefaultInboundRPS,
			Burst:         DefaultInboundBurst,
			IdleTTL:       DefaultInboundIdleTTL,
			EventBuffer:   DefaultEventBuffer,
		},
		Log: LogConfig{Level: DefaultLogLevel},
	}
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || strings.TrimSpace(dir) == "" {
		return filepath.Join(".walletlink", "session.json")
	}
	return filepath.Join(dir, "walletlink", "session.json")
}

// RedirectLink is the link the wallet returns to, with development (exp://)
// links replaced by the app scheme.
func (c Config) RedirectLink() string {
	return deeplink.RedirectLink(c.Wallet.RedirectLink, c.Wallet.RedirectScheme, c.Wallet.RedirectPath)
}

func (c Config) Validate() error {
	if _, err := deeplink.BuildURL(c.Wallet.BaseURL, deeplink.PathConnect, nil); err != nil {
		return err
	}
	if strings.TrimSpace(c.Wallet.AppURL) == "" {
		return errors.New("wallet.appUrl is required")
	}
	if strings.TrimSpace(c.State.Path) == "" {
		return errors.New("state.path is required")
	}
	if c.Inbound.RatePerSecond < 0 || c.Inbound.Burst < 0 {
		return errors.New("inbound rate and burst must not be negative")
	}
	return nil
}

type FileConfig struct {
	Wallet  FileWalletConfig  `yaml:"wallet"`
	State   FileStateConfig   `yaml:"state"`
	Inbound FileInboundConfig `yaml:"inbound"`
	Metrics FileMetricsConfig `yaml:"metrics"`
	Log     FileLogConfig     `yaml:"log"`
}

type FileWalletConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	Cluster        string `yaml:"cluster"`
	AppURL         string `yaml:"appUrl"`
	RedirectLink   string `yaml:"redirectLink"`
	RedirectScheme string `yaml:"redirectScheme"`
	RedirectPath   string `yaml:"redirectPath"`
}

type FileStateConfig struct {
	Path string `yaml:"path"`
}

type FileInboundConfig struct {
	RatePerSecond *float64      `yaml:"ratePerSecond"`
	Burst         *int          `yaml:"burst"`
	IdleTTL       time.Duration `yaml:"idleTTL"`
	EventBuffer   int           `yaml:"eventBuffer"`
}

type FileMetricsConfig struct {
	TextfilePath string `yaml:"textfilePath"`
}

type FileLogConfig struct {
	Level string `yaml:"level"`
}

// LoadFromPath reads configPath (or the first default location that exists),
// merges it over the defaults and applies WALLETLINK_* environment overrides.
// An explicit path that cannot be read or parsed is an error.
func LoadFromPath(configPath string) (Config, error) {
	cfg := DefaultConfig()

	candidates := []string{"configs/walletlink.yaml"}
	if configPath != "" {
		candidates = []string{configPath}
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	cfg.Wallet.Cluster = models.NormalizeCluster(cfg.Wallet.Cluster)
	return cfg, nil
}

func Merge(dst *Config, src FileConfig) {
	mergeString(&dst.Wallet.BaseURL, src.Wallet.BaseURL)
	mergeString(&dst.Wallet.Cluster, src.Wallet.Cluster)
	mergeString(&dst.Wallet.AppURL, src.Wallet.AppURL)
	mergeString(&dst.Wallet.RedirectLink, src.Wallet.RedirectLink)
	mergeString(&dst.Wallet.RedirectScheme, src.Wallet.RedirectScheme)
	mergeString(&dst.Wallet.RedirectPath, src.Wallet.RedirectPath)
	mergeString(&dst.State.Path, src.State.Path)
	mergeString(&dst.Metrics.TextfilePath, src.Metrics.TextfilePath)
	mergeString(&dst.Log.Level, src.Log.Level)
	if src.Inbound.RatePerSecond != nil {
		dst.Inbound.RatePerSecond = *src.Inbound.RatePerSecond
	}
	if src.Inbound.Burst != nil {
		dst.Inbound.Burst = *src.Inbound.Burst
	}
	if src.Inbound.IdleTTL != 0 {
		dst.Inbound.IdleTTL = src.Inbound.IdleTTL
	}
	if src.Inbound.EventBuffer != 0 {
		dst.Inbound.EventBuffer = src.Inbound.EventBuffer
	}
}

func mergeString(dst *string, src string) {
	if v := strings.TrimSpace(src); v != "" {
		*dst = v
	}
}

// ApplyEnvOverrides applies WALLETLINK_* variables. The state passphrase is
// only read from the environment.
func ApplyEnvOverrides(cfg *Config) {
	mergeString(&cfg.Wallet.BaseURL, envString("WALLETLINK_BASE_URL"))
	mergeString(&cfg.Wallet.Cluster, envString("WALLETLINK_CLUSTER"))
	mergeString(&cfg.Wallet.AppURL, envString("WALLETLINK_APP_URL"))
	mergeString(&cfg.Wallet.RedirectLink, envString("WALLETLINK_REDIRECT_LINK"))
	mergeString(&cfg.Wallet.RedirectScheme, envString("WALLETLINK_REDIRECT_SCHEME"))
	mergeString(&cfg.Wallet.RedirectPath, envString("WALLETLINK_REDIRECT_PATH"))
	mergeString(&cfg.State.Path, envString("WALLETLINK_STATE_PATH"))
	mergeString(&cfg.State.Passphrase, os.Getenv("WALLETLINK_STATE_PASSPHRASE"))
	mergeString(&cfg.Metrics.TextfilePath, envString("WALLETLINK_METRICS_TEXTFILE"))
	mergeString(&cfg.Log.Level, envString("WALLETLINK_LOG_LEVEL"))

	cfg.Inbound.RatePerSecond = envFloatWithFallback("WALLETLINK_INBOUND_RPS", cfg.Inbound.RatePerSecond)
	cfg.Inbound.Burst = envBoundedIntWithFallback("WALLETLINK_INBOUND_BURST", cfg.Inbound.Burst, 0, 10_000)
	cfg.Inbound.EventBuffer = envBoundedIntWithFallback("WALLETLINK_EVENT_BUFFER", cfg.Inbound.EventBuffer, 1, 4096)
}
