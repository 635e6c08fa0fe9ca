package internal

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/tessera-health/ledgerseal/internal/crypto"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Ledger backends.
const (
	LedgerModeSimulation = "simulation"
	LedgerModeChaincode  = "chaincode"
)

// File store providers.
const (
	StoreProviderFS      = "fs"
	StoreProviderLevelDB = "leveldb"
	StoreProviderNode    = "node"
	StoreProviderGateway = "gateway"
	StoreProviderPinning = "pinning"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Ledger   LedgerConfig      `yaml:"ledger"`
	Store    StoreConfig       `yaml:"store"`
	Crypto   CryptoConfig      `yaml:"crypto"`
	CrossRef CrossRefConfig    `yaml:"crossref"`
	Events   EventsConfig      `yaml:"events"`
	Auth     AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Ledger.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Crypto.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// LedgerConfig selects and configures the ledger backend.
//
// Mode controls which backend handles appends and reads:
//   - "simulation" (default): in-process ledger, no external deps.
//   - "chaincode": invoke an external peer CLI; Chaincode section applies.
type LedgerConfig struct {
	Mode      string          `yaml:"mode"`
	Chaincode ChaincodeConfig `yaml:"chaincode"`
}

// Validate validates the ledger configuration.
func (c *LedgerConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = LedgerModeSimulation
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(LedgerModeSimulation, LedgerModeChaincode)),
	); err != nil {
		return err
	}
	if c.Mode == LedgerModeChaincode {
		return c.Chaincode.Validate()
	}
	return nil
}

// Simulation returns true when the in-process ledger backend is selected.
func (c *LedgerConfig) Simulation() bool {
	return c.Mode != LedgerModeChaincode
}

// ChaincodeConfig holds the external chaincode invocation settings.
type ChaincodeConfig struct {
	Channel         string        `yaml:"channel"`
	Name            string        `yaml:"name"`
	PeerBinary      string        `yaml:"peer_binary"`
	OrdererEndpoint string        `yaml:"orderer_endpoint"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	TLSCertFile     string        `yaml:"tls_cert_file"`
	CertFile        string        `yaml:"cert_file"`
	KeyFile         string        `yaml:"key_file"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Validate validates the chaincode configuration.
func (c *ChaincodeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Channel, validation.Required),
		validation.Field(&c.Name, validation.Required),
	)
}

// StoreConfig selects and configures the encrypted-file store provider.
type StoreConfig struct {
	Provider string             `yaml:"provider"`
	Timeout  time.Duration      `yaml:"timeout"`
	FS       FSStoreConfig      `yaml:"fs"`
	LevelDB  LevelDBStoreConfig `yaml:"leveldb"`
	Node     NodeStoreConfig    `yaml:"node"`
	Gateway  GatewayStoreConfig `yaml:"gateway"`
	Pinning  PinningStoreConfig `yaml:"pinning"`
}

// Validate validates the store configuration. Provider credentials are
// deliberately not validated here; availability is reported at runtime
// through the status endpoint.
func (c *StoreConfig) Validate() error {
	if c.Provider == "" {
		c.Provider = StoreProviderFS
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(
			StoreProviderFS, StoreProviderLevelDB, StoreProviderNode,
			StoreProviderGateway, StoreProviderPinning,
		)),
	); err != nil {
		return err
	}
	switch c.Provider {
	case StoreProviderFS:
		return validation.ValidateStruct(&c.FS,
			validation.Field(&c.FS.Root, validation.Required),
		)
	case StoreProviderLevelDB:
		return validation.ValidateStruct(&c.LevelDB,
			validation.Field(&c.LevelDB.Path, validation.Required),
		)
	case StoreProviderGateway:
		return validation.ValidateStruct(&c.Gateway,
			validation.Field(&c.Gateway.Endpoint, validation.Required),
		)
	case StoreProviderPinning:
		return validation.ValidateStruct(&c.Pinning,
			validation.Field(&c.Pinning.Endpoint, validation.Required),
		)
	}
	return nil
}

// FSStoreConfig holds the local filesystem store settings.
type FSStoreConfig struct {
	Root string `yaml:"root"`
}

// LevelDBStoreConfig holds the embedded key-value store settings.
type LevelDBStoreConfig struct {
	Path string `yaml:"path"`
}

// NodeStoreConfig holds the self-hosted node settings.
type NodeStoreConfig struct {
	URL     string `yaml:"url"`
	Gateway string `yaml:"gateway"`
}

// GatewayStoreConfig holds the hosted-API provider settings.
type GatewayStoreConfig struct {
	Endpoint      string `yaml:"endpoint"`
	ProjectID     string `yaml:"project_id"`
	ProjectSecret string `yaml:"project_secret"`
	Gateway       string `yaml:"gateway"`
}

// PinningStoreConfig holds the pinning-service provider settings.
type PinningStoreConfig struct {
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
	Gateway   string `yaml:"gateway"`
}

// CryptoConfig holds the file-encryption master key settings. The key
// is resolved in order: KeyHex, then KeyFile, then (when AllowEphemeral
// is set) a generated throwaway key.
type CryptoConfig struct {
	KeyHex         string `yaml:"key_hex"`
	KeyFile        string `yaml:"key_file"`
	AllowEphemeral bool   `yaml:"allow_ephemeral"`
}

// Validate validates the crypto configuration.
func (c *CryptoConfig) Validate() error {
	if c.KeyHex == "" {
		return nil
	}
	raw, err := hex.DecodeString(c.KeyHex)
	if err != nil {
		return fmt.Errorf("crypto: key_hex is not valid hex: %w", err)
	}
	if len(raw) != crypto.KeySize {
		return fmt.Errorf("crypto: key_hex must decode to %d bytes, got %d", crypto.KeySize, len(raw))
	}
	return nil
}

// CrossRefConfig holds the SQLite cross-reference store settings. An
// empty path disables the store.
type CrossRefConfig struct {
	Path string `yaml:"path"`
}

// Enabled returns true when a cross-reference store path is set.
func (c *CrossRefConfig) Enabled() bool {
	return c.Path != ""
}

// EventsConfig holds SSE broker settings.
type EventsConfig struct {
	LedgerThrottle time.Duration `yaml:"ledger_throttle"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Ledger: LedgerConfig{
			Mode: LedgerModeSimulation,
			Chaincode: ChaincodeConfig{
				Channel:    "records-channel",
				Name:       "medical_records",
				PeerBinary: "peer",
				Timeout:    30 * time.Second,
			},
		},
		Store: StoreConfig{
			Provider: StoreProviderFS,
			Timeout:  30 * time.Second,
			FS: FSStoreConfig{
				Root: "./data/files",
			},
			LevelDB: LevelDBStoreConfig{
				Path: "./data/files.db",
			},
		},
		Crypto: CryptoConfig{
			AllowEphemeral: true,
		},
		CrossRef: CrossRefConfig{
			Path: "./data/crossref.db",
		},
		Events: EventsConfig{
			LedgerThrottle: 2 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
