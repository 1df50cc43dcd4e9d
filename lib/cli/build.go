package cli

import (
	"fmt"
	"net/url"
	"os"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/go-i2p/go-swbn/lib/bundle/builder"
	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/config"
	"github.com/go-i2p/go-swbn/lib/util"
)

func newBuildCommand() *cobra.Command {
	var (
		keyPath string
		dir     string
		out     string
		primary string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bundle a directory and sign it",
		Long: `Bundle every file below --dir as a response of the app origin derived
from the signing key, then sign the bundle with a v2 integrity block.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !util.CheckRegularFile(keyPath) {
				return oops.Errorf("key file %s not found (run keygen first)", keyPath)
			}
			signer, err := loadKeyFile(keyPath)
			if err != nil {
				return err
			}
			id := identity.FromEd25519PublicKey(signer.PublicKey())
			data, count, err := buildBundle(afero.NewOsFs(), dir, id, primary, signer)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, config.StandardFilePermissions); err != nil {
				return oops.Wrapf(err, "writing bundle")
			}
			log.WithFields(logger.Fields{
				"at":        "build",
				"out":       out,
				"responses": count,
				"size":      len(data),
			}).Info("wrote signed web bundle")
			fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s (%d responses, %d bytes)\n", id, out, count, len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "key.yaml", "signing key written by keygen")
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to bundle")
	cmd.Flags().StringVar(&out, "out", "app.swbn", "where to write the bundle")
	cmd.Flags().StringVar(&primary, "primary", "/", "path of the primary URL")
	return cmd
}

func buildBundle(fs afero.Fs, dir string, id identity.BundleID, primary string, signer builder.Signer) ([]byte, int, error) {
	origin := id.URL()
	b := builder.New()
	if err := b.AddDirectory(fs, dir, origin); err != nil {
		return nil, 0, oops.Wrapf(err, "bundling %s", dir)
	}
	if b.Len() == 0 {
		return nil, 0, oops.Errorf("%s contains no files", dir)
	}
	b.SetPrimaryURL(origin.ResolveReference(&url.URL{Path: primary}).String())
	webBundle, err := b.Build()
	if err != nil {
		return nil, 0, err
	}
	signed, err := builder.Sign(webBundle, id, signer)
	if err != nil {
		return nil, 0, err
	}
	return signed, b.Len(), nil
}
