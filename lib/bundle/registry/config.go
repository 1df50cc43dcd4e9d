package registry

import (
	"github.com/go-i2p/go-swbn/lib/bundle/files"
	"github.com/go-i2p/go-swbn/lib/bundle/parser"
	"github.com/go-i2p/go-swbn/lib/bundle/validator"
	"github.com/go-i2p/go-swbn/lib/bundle/verifier"
	"github.com/go-i2p/go-swbn/lib/config"
)

// OptionsFromConfig wires the default collaborators for cfg: bundles on the
// operating system filesystem, the CBOR parser with cfg's limits, Ed25519
// verification and key-derived trust.
func OptionsFromConfig(cfg config.ConfigDefaults) (Options, error) {
	parsers, err := parser.NewCBORFactory(parser.Limits{
		MaxIntegrityBlockSize: cfg.Parser.MaxIntegrityBlockSize,
		MaxMetadataSize:       cfg.Parser.MaxMetadataSize,
		MaxEntries:            cfg.Parser.MaxEntries,
	})
	if err != nil {
		return Options{}, err
	}
	trust, err := validator.NewKeyDerivedTrust(cfg.Verification.TrustedPublicKeys, cfg.Verification.AllowDevMode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Files:                   files.NewOsProvider(),
		Parsers:                 parsers,
		Verifier:                verifier.NewEd25519Verifier(),
		Validator:               validator.New(trust),
		CleanupInterval:         cfg.Registry.CleanupInterval,
		SkipVerifiedThisSession: cfg.Verification.SkipVerifiedThisSession,
		OperationTimeout:        cfg.Reader.OperationTimeout,
		ReconnectInterval:       cfg.Reader.ReconnectInterval,
		ReconnectBurst:          cfg.Reader.ReconnectBurst,
		ReconnectTimeout:        cfg.Reader.ReconnectTimeout,
	}, nil
}
