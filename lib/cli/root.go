// Package cli implements the swbn command line: key generation, bundle
// building, inspection, reading single responses and serving bundles over
// local HTTP.
package cli

import (
	"github.com/go-i2p/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-i2p/go-swbn/lib/config"
)

var log = logger.GetGoI2PLogger()

// NewRootCommand builds the swbn command tree.
func NewRootCommand() *cobra.Command {
	var cfg config.ConfigDefaults
	root := &cobra.Command{
		Use:           "swbn",
		Short:         "Build, verify and serve Signed Web Bundles",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.InitConfig(); err != nil {
				return err
			}
			loaded, err := config.NewBundleConfigFromViper()
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&config.CfgFile, "config", "", "config file (default is $HOME/.go-swbn/config.yaml)")
	root.PersistentFlags().Bool("skip-verified", false, "skip signature verification for bundles verified earlier in this process")
	if err := viper.BindPFlag("verification.skip_verified_this_session", root.PersistentFlags().Lookup("skip-verified")); err != nil {
		log.WithError(err).Error("Failed to bind flag")
	}

	current := func() config.ConfigDefaults { return cfg }
	root.AddCommand(
		newKeygenCommand(),
		newBuildCommand(),
		newInspectCommand(current),
		newCatCommand(current),
		newServeCommand(current),
	)
	return root
}

// Execute runs the swbn command line.
func Execute() error {
	return NewRootCommand().Execute()
}
