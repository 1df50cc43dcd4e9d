package cli

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/go-swbn/lib/bundle/builder"
	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/config"
	"github.com/go-i2p/go-swbn/lib/util"
)

// keyFile is the on-disk form of a signing key.
type keyFile struct {
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
	BundleID   string `yaml:"bundle_id"`
}

func newKeygenCommand() *cobra.Command {
	var (
		out   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key and print its bundle ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if util.CheckFileExists(out) && !force {
				return oops.Errorf("%s already exists (use --force to overwrite)", out)
			}
			signer, err := builder.GenerateEd25519Signer()
			if err != nil {
				return err
			}
			id, err := writeKeyFile(out, signer)
			if err != nil {
				return err
			}
			log.WithField("path", out).Debug("wrote signing key")
			fmt.Fprintln(cmd.OutOrStdout(), id.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "key.yaml", "where to write the key")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func writeKeyFile(path string, signer *builder.Ed25519Signer) (identity.BundleID, error) {
	id := identity.FromEd25519PublicKey(signer.PublicKey())
	data, err := yaml.Marshal(keyFile{
		PrivateKey: hex.EncodeToString(signer.PrivateKeyBytes()),
		PublicKey:  signer.PublicKey().String(),
		BundleID:   id.String(),
	})
	if err != nil {
		return identity.BundleID{}, oops.Wrapf(err, "encoding key file")
	}
	if err := os.WriteFile(path, data, config.SecureFilePermissions); err != nil {
		return identity.BundleID{}, oops.Wrapf(err, "writing key file")
	}
	return id, nil
}

func loadKeyFile(path string) (*builder.Ed25519Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Wrapf(err, "reading key file")
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return nil, oops.Wrapf(err, "parsing key file %s", path)
	}
	raw, err := hex.DecodeString(kf.PrivateKey)
	if err != nil {
		return nil, oops.Wrapf(err, "private key in %s is not hex", path)
	}
	signer, err := builder.NewEd25519Signer(raw)
	if err != nil {
		return nil, err
	}
	if kf.PublicKey != "" && kf.PublicKey != signer.PublicKey().String() {
		return nil, oops.Errorf("public key in %s does not match its private key", path)
	}
	return signer, nil
}
