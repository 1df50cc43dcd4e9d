package config

import (
	"time"

	"github.com/go-i2p/logger"
)

// ConfigDefaults contains all default configuration values for go-swbn.
// This centralizes default values to make them easy to discover, document, and modify.
type ConfigDefaults struct {
	// Reader cache defaults
	Registry RegistryDefaults

	// Per-bundle reader defaults
	Reader ReaderDefaults

	// Trust and signature verification defaults
	Verification VerificationDefaults

	// Bundle parser limits
	Parser ParserDefaults

	// Local HTTP server defaults
	Serve ServeDefaults
}

// RegistryDefaults contains default values for the reader cache
type RegistryDefaults struct {
	// CleanupInterval is how often idle readers are swept. A reader unused
	// for a whole interval is evicted.
	// Default: 10 minutes
	CleanupInterval time.Duration
}

// ReaderDefaults contains default values for bundle readers
type ReaderDefaults struct {
	// OperationTimeout bounds every file, parser and verifier call
	// Default: 30 seconds
	OperationTimeout time.Duration

	// ReconnectInterval is the minimum spacing of parser reconnections
	// Default: 1 second
	ReconnectInterval time.Duration

	// ReconnectBurst is how many reconnections may happen back to back
	// Default: 1
	ReconnectBurst int

	// ReconnectTimeout bounds one reconnection, including the wait for the limiter
	// Default: 30 seconds
	ReconnectTimeout time.Duration
}

// VerificationDefaults contains default values for signature handling
type VerificationDefaults struct {
	// SkipVerifiedThisSession skips signature verification for bundle paths
	// already verified by this process
	// Default: false
	SkipVerifiedThisSession bool

	// AllowDevMode trusts proxy-mode bundle IDs without a matching key
	// Default: false
	AllowDevMode bool

	// TrustedPublicKeys are hex encoded Ed25519 keys trusted for every bundle ID
	// Default: none
	TrustedPublicKeys []string
}

// ParserDefaults contains default limits for the bundle parser
type ParserDefaults struct {
	// MaxIntegrityBlockSize is the largest integrity block accepted
	// Default: 64 KiB
	MaxIntegrityBlockSize uint64

	// MaxMetadataSize is the largest metadata section accepted
	// Default: 16 MiB
	MaxMetadataSize uint64

	// MaxEntries is the largest number of index entries accepted
	// Default: 100000
	MaxEntries int
}

// BundleSource is one bundle served by the local HTTP server.
type BundleSource struct {
	Path string `mapstructure:"path" yaml:"path"`
	ID   string `mapstructure:"id" yaml:"id"`
}

// ServeDefaults contains default values for the local HTTP server
type ServeDefaults struct {
	// Address is the listen address
	// Default: localhost:7680
	Address string

	// Bundles lists the bundles to serve
	// Default: none
	Bundles []BundleSource

	// ShutdownTimeout bounds the graceful shutdown of the server
	// Default: 10 seconds
	ShutdownTimeout time.Duration
}

// Defaults returns the default configuration.
func Defaults() ConfigDefaults {
	return ConfigDefaults{
		Registry:     buildRegistryDefaults(),
		Reader:       buildReaderDefaults(),
		Verification: buildVerificationDefaults(),
		Parser:       buildParserDefaults(),
		Serve:        buildServeDefaults(),
	}
}

func buildRegistryDefaults() RegistryDefaults {
	return RegistryDefaults{
		CleanupInterval: 10 * time.Minute,
	}
}

func buildReaderDefaults() ReaderDefaults {
	return ReaderDefaults{
		OperationTimeout:  30 * time.Second,
		ReconnectInterval: 1 * time.Second,
		ReconnectBurst:    1,
		ReconnectTimeout:  30 * time.Second,
	}
}

func buildVerificationDefaults() VerificationDefaults {
	return VerificationDefaults{
		SkipVerifiedThisSession: false,
		AllowDevMode:            false,
		TrustedPublicKeys:       []string{},
	}
}

func buildParserDefaults() ParserDefaults {
	return ParserDefaults{
		MaxIntegrityBlockSize: 64 << 10,
		MaxMetadataSize:       16 << 20,
		MaxEntries:            100000,
	}
}

func buildServeDefaults() ServeDefaults {
	return ServeDefaults{
		Address:         "localhost:7680",
		Bundles:         []BundleSource{},
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks if the provided configuration values are reasonable.
// Returns an error describing the first invalid value found.
func Validate(cfg ConfigDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "verification_requested",
	}).Debug("validating configuration")
	return runConfigValidators(cfg)
}

// runConfigValidators executes all configuration validators in sequence.
// Returns the first error encountered or nil if all validations pass.
func runConfigValidators(cfg ConfigDefaults) error {
	validators := []func() error{
		func() error { return validateRegistry(cfg.Registry) },
		func() error { return validateReader(cfg.Reader) },
		func() error { return validateVerification(cfg.Verification) },
		func() error { return validateParser(cfg.Parser) },
		func() error { return validateServe(cfg.Serve) },
	}

	for _, validator := range validators {
		if err := validator(); err != nil {
			log.WithError(err).Error("Configuration validation failed")
			return err
		}
	}
	log.WithFields(logger.Fields{
		"at":     "Validate",
		"reason": "all_validators_passed",
	}).Debug("all configuration validations passed")
	return nil
}

func validateRegistry(registry RegistryDefaults) error {
	if registry.CleanupInterval < time.Second {
		log.WithField("cleanup_interval", registry.CleanupInterval).Error("Invalid registry configuration")
		return newValidationError("Registry.CleanupInterval must be at least 1 second")
	}
	return nil
}

func validateReader(reader ReaderDefaults) error {
	log.WithFields(logger.Fields{
		"at":     "validateReader",
		"reason": "validating_reader_settings",
	}).Debug("validating reader configuration")
	if reader.OperationTimeout < time.Second {
		log.WithField("operation_timeout", reader.OperationTimeout).Error("Invalid reader configuration")
		return newValidationError("Reader.OperationTimeout must be at least 1 second")
	}
	if reader.ReconnectInterval <= 0 {
		log.WithField("reconnect_interval", reader.ReconnectInterval).Error("Invalid reader configuration")
		return newValidationError("Reader.ReconnectInterval must be positive")
	}
	if reader.ReconnectBurst < 1 {
		log.WithField("reconnect_burst", reader.ReconnectBurst).Error("Invalid reader configuration")
		return newValidationError("Reader.ReconnectBurst must be at least 1")
	}
	if reader.ReconnectTimeout < reader.ReconnectInterval {
		log.WithField("reconnect_timeout", reader.ReconnectTimeout).Error("Invalid reader configuration")
		return newValidationError("Reader.ReconnectTimeout must be >= ReconnectInterval")
	}
	return nil
}

func validateVerification(verification VerificationDefaults) error {
	for _, key := range verification.TrustedPublicKeys {
		if len(key) != 64 || !isHex(key) {
			log.WithField("trusted_public_key", key).Error("Invalid verification configuration")
			return newValidationError("Verification.TrustedPublicKeys entries must be 64 hex characters")
		}
	}
	return nil
}

func validateParser(parser ParserDefaults) error {
	if parser.MaxIntegrityBlockSize < 64 {
		log.WithField("max_integrity_block_size", parser.MaxIntegrityBlockSize).Error("Invalid parser configuration")
		return newValidationError("Parser.MaxIntegrityBlockSize must be at least 64 bytes")
	}
	if parser.MaxMetadataSize < 64 {
		log.WithField("max_metadata_size", parser.MaxMetadataSize).Error("Invalid parser configuration")
		return newValidationError("Parser.MaxMetadataSize must be at least 64 bytes")
	}
	if parser.MaxEntries < 1 {
		log.WithField("max_entries", parser.MaxEntries).Error("Invalid parser configuration")
		return newValidationError("Parser.MaxEntries must be at least 1")
	}
	return nil
}

func validateServe(serve ServeDefaults) error {
	if serve.Address == "" {
		return newValidationError("Serve.Address must be set")
	}
	for _, b := range serve.Bundles {
		if b.Path == "" || b.ID == "" {
			log.WithFields(logger.Fields{
				"at":   "validateServe",
				"path": b.Path,
				"id":   b.ID,
			}).Error("Invalid serve configuration")
			return newValidationError("Serve.Bundles entries need both a path and an id")
		}
	}
	if serve.ShutdownTimeout <= 0 {
		return newValidationError("Serve.ShutdownTimeout must be positive")
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// validationError is returned when configuration validation fails
type validationError struct {
	message string
}

func newValidationError(message string) error {
	return &validationError{message: message}
}

func (e *validationError) Error() string {
	return "configuration validation failed: " + e.message
}
