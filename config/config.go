package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"microescrow/crypto"
)

const (
	// EnvJWTSecret overrides RPC.JWTSecret.
	EnvJWTSecret = "ESCROW_RPC_JWT_SECRET"
	// EnvKeystorePassphrase supplies the operator keystore passphrase.
	EnvKeystorePassphrase = "ESCROW_KEYSTORE_PASS"

	DefaultChainID    = uint64(187001)
	DefaultRPCAddress = "127.0.0.1:8545"
)

type Config struct {
	RPCAddress           string   `toml:"RPCAddress"`
	DataDir              string   `toml:"DataDir"`
	ChainID              uint64   `toml:"ChainID"`
	Environment          string   `toml:"Environment"`
	GenesisFile          string   `toml:"GenesisFile"`
	OperatorKeystorePath string   `toml:"OperatorKeystorePath"`
	PausedPrograms       []string `toml:"PausedPrograms"`

	Storage   StorageConfig   `toml:"storage"`
	RPC       RPCConfig       `toml:"rpc"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Indexer   IndexerConfig   `toml:"indexer"`
}

// StorageConfig selects the state backend. Backend is "leveldb" or
// "memory".
type StorageConfig struct {
	Backend      string `toml:"Backend"`
	ReceiptsPath string `toml:"ReceiptsPath"`
}

type RPCConfig struct {
	JWTSecret         string   `toml:"JWTSecret"`
	JWTIssuer         string   `toml:"JWTIssuer"`
	RateLimitPerSec   float64  `toml:"RateLimitPerSec"`
	RateLimitBurst    int      `toml:"RateLimitBurst"`
	ReadHeaderTimeout int      `toml:"ReadHeaderTimeout"`
	ReadTimeout       int      `toml:"ReadTimeout"`
	WriteTimeout      int      `toml:"WriteTimeout"`
	IdleTimeout       int      `toml:"IdleTimeout"`
	TrustedProxies    []string `toml:"TrustedProxies"`
}

type LoggingConfig struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

type TelemetryConfig struct {
	Enabled     bool    `toml:"Enabled"`
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// IndexerConfig points the event index at a database. DSNs starting with
// postgres:// select Postgres; anything else is a sqlite path. Empty
// defaults to a sqlite file under DataDir.
type IndexerConfig struct {
	Enabled bool   `toml:"Enabled"`
	DSN     string `toml:"DSN"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
		return finish(cfg)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "OperatorKey" {
			return nil, fmt.Errorf("config file %s embeds a raw OperatorKey; move it to a keystore and set OperatorKeystorePath", path)
		}
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = DefaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./escrow-data"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	if cfg.PausedPrograms == nil {
		cfg.PausedPrograms = []string{}
	}
	if strings.TrimSpace(cfg.Storage.Backend) == "" {
		cfg.Storage.Backend = "leveldb"
	}
	if strings.TrimSpace(cfg.Storage.ReceiptsPath) == "" {
		cfg.Storage.ReceiptsPath = filepath.Join(cfg.DataDir, "receipts.db")
	}
	if cfg.RPC.RateLimitPerSec == 0 {
		cfg.RPC.RateLimitPerSec = 20
	}
	if cfg.RPC.RateLimitBurst == 0 {
		cfg.RPC.RateLimitBurst = 40
	}
	if cfg.RPC.ReadHeaderTimeout == 0 {
		cfg.RPC.ReadHeaderTimeout = 5
	}
	if cfg.RPC.ReadTimeout == 0 {
		cfg.RPC.ReadTimeout = 15
	}
	if cfg.RPC.WriteTimeout == 0 {
		cfg.RPC.WriteTimeout = 15
	}
	if cfg.RPC.IdleTimeout == 0 {
		cfg.RPC.IdleTimeout = 60
	}
	if strings.TrimSpace(cfg.RPC.JWTIssuer) == "" {
		cfg.RPC.JWTIssuer = "microescrow"
	}
	if strings.TrimSpace(cfg.Indexer.DSN) == "" {
		cfg.Indexer.DSN = filepath.Join(cfg.DataDir, "events.sqlite")
	}
}

func applyEnv(cfg *Config) {
	if secret, ok := os.LookupEnv(EnvJWTSecret); ok && strings.TrimSpace(secret) != "" {
		cfg.RPC.JWTSecret = secret
	}
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "leveldb", "memory":
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	if c.RPC.RateLimitPerSec < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	for _, program := range c.PausedPrograms {
		if strings.TrimSpace(program) == "" {
			return fmt.Errorf("PausedPrograms: empty program name")
		}
	}
	return nil
}

// KeystorePassphrase returns the operator keystore passphrase from the
// environment. An unset variable yields an empty passphrase.
func KeystorePassphrase() string {
	return os.Getenv(EnvKeystorePassphrase)
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OperatorKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, KeystorePassphrase()); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OperatorKeystorePath != keystorePath {
		cfg.OperatorKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, KeystorePassphrase()); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:     DefaultRPCAddress,
		DataDir:        "./escrow-data",
		ChainID:        DefaultChainID,
		Environment:    "local",
		PausedPrograms: []string{},
		Storage:        StorageConfig{Backend: "leveldb"},
		Logging:        LoggingConfig{Level: "info"},
		Indexer:        IndexerConfig{Enabled: true},
	}
	cfg.OperatorKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "operator.keystore")
}
