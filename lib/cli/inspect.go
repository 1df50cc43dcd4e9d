package cli

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/go-swbn/lib/bundle/files"
	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/integrity"
	"github.com/go-i2p/go-swbn/lib/bundle/parser"
	"github.com/go-i2p/go-swbn/lib/bundle/registry"
	"github.com/go-i2p/go-swbn/lib/bundle/validator"
	"github.com/go-i2p/go-swbn/lib/bundle/verifier"
	"github.com/go-i2p/go-swbn/lib/config"
)

type signatureReport struct {
	PublicKey string `yaml:"public_key"`
	DerivedID string `yaml:"derived_id"`
}

type integrityReport struct {
	Version     string            `yaml:"version"`
	Size        uint64            `yaml:"size"`
	WebBundleID string            `yaml:"web_bundle_id,omitempty"`
	Signatures  []signatureReport `yaml:"signatures"`
}

type entryReport struct {
	URL    string `yaml:"url"`
	Offset uint64 `yaml:"offset"`
	Length uint64 `yaml:"length"`
}

type inspectReport struct {
	Path           string          `yaml:"path"`
	BundleID       string          `yaml:"bundle_id"`
	IntegrityBlock integrityReport `yaml:"integrity_block"`
	PrimaryURL     string          `yaml:"primary_url,omitempty"`
	Entries        []entryReport   `yaml:"entries"`
	Verified       bool            `yaml:"signatures_verified"`
	Valid          bool            `yaml:"valid"`
	Problems       []string        `yaml:"problems,omitempty"`
}

func newInspectCommand(current func() config.ConfigDefaults) *cobra.Command {
	var rawID string
	cmd := &cobra.Command{
		Use:   "inspect <bundle>",
		Short: "Print the integrity block and index of a bundle as YAML",
		Long: `Parse a bundle, verify its signatures and validate it for --id. Without
--id the web bundle ID of the integrity block is used, or the ID derived from
the first signing key of a v1 block.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id identity.BundleID
			if rawID != "" {
				parsed, err := identity.Parse(rawID)
				if err != nil {
					return err
				}
				id = parsed
			}
			report, err := inspectBundle(cmd.Context(), files.NewOsProvider(), current(), args[0], id)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return oops.Wrapf(err, "encoding report")
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&rawID, "id", "", "expected Signed Web Bundle ID")
	return cmd
}

// inspectBundle reports on the bundle at path. Parse failures are returned
// as errors; verification and validation failures end up in Problems.
func inspectBundle(ctx context.Context, provider files.Provider, cfg config.ConfigDefaults, path string, id identity.BundleID) (*inspectReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	factory, err := parser.NewCBORFactory(parser.Limits{
		MaxIntegrityBlockSize: cfg.Parser.MaxIntegrityBlockSize,
		MaxMetadataSize:       cfg.Parser.MaxMetadataSize,
		MaxEntries:            cfg.Parser.MaxEntries,
	})
	if err != nil {
		return nil, err
	}
	file, err := provider.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	dup, err := provider.Duplicate(file)
	if err != nil {
		return nil, err
	}
	p, err := factory.Open(ctx, dup)
	if err != nil {
		dup.Close()
		return nil, err
	}
	defer p.Close()

	raw, err := p.ParseIntegrityBlock(ctx)
	if err != nil {
		return nil, oops.Wrapf(err, "Failed to parse integrity block")
	}
	report := &inspectReport{
		Path: path,
		IntegrityBlock: integrityReport{
			Version:     strings.TrimRight(raw.Version, "\x00"),
			Size:        raw.Size,
			WebBundleID: raw.WebBundleID,
			Signatures:  []signatureReport{},
		},
		Entries: []entryReport{},
	}
	block, err := integrity.NewIntegrityBlock(raw)
	if err != nil {
		return nil, oops.Wrapf(err, "Failed to parse integrity block")
	}
	keys := block.PublicKeys()
	for _, key := range keys {
		report.IntegrityBlock.Signatures = append(report.IntegrityBlock.Signatures, signatureReport{
			PublicKey: key.String(),
			DerivedID: identity.FromEd25519PublicKey(key).String(),
		})
	}

	if id.IsZero() {
		if raw.WebBundleID != "" {
			if id, err = identity.Parse(raw.WebBundleID); err != nil {
				return nil, err
			}
		} else {
			id = identity.FromEd25519PublicKey(keys[0])
		}
	}
	report.BundleID = id.String()

	metadata, err := p.ParseMetadata(ctx, block.Size())
	if err != nil {
		return nil, oops.Wrapf(err, "Failed to parse metadata")
	}
	if metadata.PrimaryURL != nil {
		report.PrimaryURL = metadata.PrimaryURL.String()
	}
	keysByURL := make([]string, 0, len(metadata.Requests))
	for k := range metadata.Requests {
		keysByURL = append(keysByURL, k)
	}
	sort.Strings(keysByURL)
	entryURLs := make([]*url.URL, 0, len(keysByURL))
	for _, k := range keysByURL {
		loc := metadata.Requests[k]
		report.Entries = append(report.Entries, entryReport{URL: k, Offset: loc.Offset, Length: loc.Length})
		u, err := url.Parse(k)
		if err != nil {
			return nil, oops.Wrapf(err, "Failed to parse metadata")
		}
		entryURLs = append(entryURLs, u)
	}

	if err := verifier.NewEd25519Verifier().VerifySignatures(ctx, file, block); err != nil {
		report.Problems = append(report.Problems, "Failed to verify signatures: "+err.Error())
	} else {
		report.Verified = true
	}
	trust, err := validator.NewKeyDerivedTrust(cfg.Verification.TrustedPublicKeys, cfg.Verification.AllowDevMode)
	if err != nil {
		return nil, err
	}
	v := validator.New(trust)
	if err := v.ValidateIntegrityBlock(id, keys); err != nil {
		report.Problems = append(report.Problems, registry.UntrustedKeysPrefix+err.Error())
	}
	if err := v.ValidateMetadata(id, metadata.PrimaryURL, entryURLs); err != nil {
		report.Problems = append(report.Problems, err.Error())
	}
	report.Valid = len(report.Problems) == 0
	return report, nil
}
