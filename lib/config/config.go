package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/viper"

	"github.com/go-i2p/go-swbn/lib/util"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const (
	GOSWBN_BASE_DIR = ".go-swbn"
	EnvPrefix       = "SWBN"
)

// InitConfig loads the configuration file, creating a default one under
// BuildConfigDirPath when none exists and CfgFile is unset.
func InitConfig() error {
	if CfgFile != "" {
		viper.SetConfigFile(CfgFile)
	} else {
		viper.AddConfigPath(BuildConfigDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	return handleConfigFile()
}

func setDefaults() {
	d := Defaults()

	viper.SetDefault("registry.cleanup_interval", d.Registry.CleanupInterval)

	viper.SetDefault("reader.operation_timeout", d.Reader.OperationTimeout)
	viper.SetDefault("reader.reconnect_interval", d.Reader.ReconnectInterval)
	viper.SetDefault("reader.reconnect_burst", d.Reader.ReconnectBurst)
	viper.SetDefault("reader.reconnect_timeout", d.Reader.ReconnectTimeout)

	viper.SetDefault("verification.skip_verified_this_session", d.Verification.SkipVerifiedThisSession)
	viper.SetDefault("verification.allow_dev_mode", d.Verification.AllowDevMode)
	viper.SetDefault("verification.trusted_public_keys", d.Verification.TrustedPublicKeys)

	viper.SetDefault("parser.max_integrity_block_size", d.Parser.MaxIntegrityBlockSize)
	viper.SetDefault("parser.max_metadata_size", d.Parser.MaxMetadataSize)
	viper.SetDefault("parser.max_entries", d.Parser.MaxEntries)

	viper.SetDefault("serve.address", d.Serve.Address)
	viper.SetDefault("serve.bundles", []BundleSource{})
	viper.SetDefault("serve.shutdown_timeout", d.Serve.ShutdownTimeout)
}

// NewBundleConfigFromViper builds the configuration from current viper
// settings and validates it.
func NewBundleConfigFromViper() (ConfigDefaults, error) {
	var bundles []BundleSource
	if err := viper.UnmarshalKey("serve.bundles", &bundles); err != nil {
		log.Warnf("Error parsing served bundles: %s", err)
		bundles = []BundleSource{}
	}
	if bundles == nil {
		bundles = []BundleSource{}
	}
	trusted := viper.GetStringSlice("verification.trusted_public_keys")
	if trusted == nil {
		trusted = []string{}
	}

	cfg := ConfigDefaults{
		Registry: RegistryDefaults{
			CleanupInterval: viper.GetDuration("registry.cleanup_interval"),
		},
		Reader: ReaderDefaults{
			OperationTimeout:  viper.GetDuration("reader.operation_timeout"),
			ReconnectInterval: viper.GetDuration("reader.reconnect_interval"),
			ReconnectBurst:    viper.GetInt("reader.reconnect_burst"),
			ReconnectTimeout:  viper.GetDuration("reader.reconnect_timeout"),
		},
		Verification: VerificationDefaults{
			SkipVerifiedThisSession: viper.GetBool("verification.skip_verified_this_session"),
			AllowDevMode:            viper.GetBool("verification.allow_dev_mode"),
			TrustedPublicKeys:       trusted,
		},
		Parser: ParserDefaults{
			MaxIntegrityBlockSize: viper.GetUint64("parser.max_integrity_block_size"),
			MaxMetadataSize:       viper.GetUint64("parser.max_metadata_size"),
			MaxEntries:            viper.GetInt("parser.max_entries"),
		},
		Serve: ServeDefaults{
			Address:         viper.GetString("serve.address"),
			Bundles:         bundles,
			ShutdownTimeout: viper.GetDuration("serve.shutdown_timeout"),
		},
	}
	if err := Validate(cfg); err != nil {
		return ConfigDefaults{}, err
	}
	return cfg, nil
}

func createDefaultConfig(defaultConfigDir string) error {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	if err := os.MkdirAll(defaultConfigDir, StandardDirPermissions); err != nil {
		return oops.Wrapf(err, "could not create config directory")
	}
	if err := viper.SafeWriteConfigAs(defaultConfigFile); err != nil {
		return oops.Wrapf(err, "could not write default config file")
	}
	log.Debugf("Created default configuration at: %s", defaultConfigFile)
	return nil
}

func handleConfigFile() error {
	err := viper.ReadInConfig()
	if err == nil {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
		return nil
	}
	if _, ok := err.(viper.ConfigFileNotFoundError); ok && CfgFile == "" {
		return createDefaultConfig(BuildConfigDirPath())
	}
	if CfgFile != "" && os.IsNotExist(err) {
		return oops.Wrapf(err, "config file %s is not found", CfgFile)
	}
	return oops.Wrapf(err, "error reading config file")
}

// BuildConfigDirPath returns $HOME/.go-swbn.
func BuildConfigDirPath() string {
	return filepath.Join(util.UserHome(), GOSWBN_BASE_DIR)
}
