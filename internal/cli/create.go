package cli

import (
	"context"
	"fmt"

	"github.com/ralt/apkbuild/internal/apk"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/signer"
	"github.com/ralt/apkbuild/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewCreateCmd creates the create command
func NewCreateCmd() *cobra.Command {
	var config models.BuildConfig
	var metadataPath string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Assemble a package",
		Long: `Packs the installation root into an APK v2 package described by the
metadata file. Scriptlets named <pkgname>.<hook> are taken from the scriptlet
directory. Every timestamp in the output comes from --epoch or
SOURCE_DATE_EPOCH, so equal inputs give byte-identical packages.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := resolveEpoch(cmd, config.Epoch)
			if err != nil {
				return err
			}
			config.Epoch = epoch

			meta, err := models.LoadMetadata(metadataPath)
			if err != nil {
				return err
			}

			if err := validateBuildConfig(&config, meta); err != nil {
				return err
			}

			logrus.Debugf("Configuration: %+v", config)

			return runCreate(cmd.Context(), &config, meta)
		},
	}

	// Input/Output flags
	cmd.Flags().StringVarP(&config.DestDir, "destdir", "d", "", "Installation root to package")
	cmd.Flags().StringVarP(&metadataPath, "metadata", "m", "", "Package metadata file (YAML or JSON)")
	cmd.Flags().StringVarP(&config.ScriptletDir, "scriptlets", "s", "", "Directory holding <pkgname>.<hook> scriptlets")
	cmd.Flags().StringVar(&config.TempDir, "tmpdir", "", "Directory for the data segment staging file")
	cmd.Flags().StringVarP(&config.OutputPath, "output", "o", "", "Output package path (defaults to <pkgname>-<pkgver>.apk)")

	// Build flags
	cmd.Flags().Int64Var(&config.Epoch, "epoch", 0, "Build time in seconds since the epoch (defaults to $SOURCE_DATE_EPOCH)")
	cmd.Flags().StringVar(&config.Arch, "arch", "", "Architecture, overriding the metadata")

	// RSA signing flags
	cmd.Flags().StringVar(&config.RSAKeyPath, "rsa-key", "", "Path to the apk RSA private key")
	cmd.Flags().StringVar(&config.RSAPassphrase, "rsa-passphrase", "", "RSA key passphrase")
	cmd.Flags().StringVar(&config.RSAKeyName, "key-name", "", "Public key name in the signature (defaults to <key file>.pub)")

	// GPG signing flags
	cmd.Flags().StringVar(&config.GPGKeyPath, "gpg-key", "", "Path to a GPG private key for a detached .asc signature")
	cmd.Flags().StringVar(&config.GPGPassphrase, "gpg-passphrase", "", "GPG key passphrase")

	cmd.MarkFlagRequired("destdir")
	cmd.MarkFlagRequired("metadata")

	return cmd
}

func validateBuildConfig(config *models.BuildConfig, meta *models.PackageMetadata) error {
	if config.DestDir == "" {
		return &models.BuildError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("destdir is required"),
		}
	}

	if config.OutputPath == "" {
		config.OutputPath = utils.PackageFilename(meta.Name, meta.Version)
	}

	if config.RSAKeyPath == "" && (config.RSAPassphrase != "" || config.RSAKeyName != "") {
		return &models.BuildError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("rsa-passphrase and key-name need rsa-key"),
		}
	}

	if config.GPGKeyPath == "" && config.GPGPassphrase != "" {
		return &models.BuildError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("gpg-passphrase needs gpg-key"),
		}
	}

	return nil
}

func runCreate(ctx context.Context, config *models.BuildConfig, meta *models.PackageMetadata) error {
	var blockSigner signer.BlockSigner
	var detachedSigner signer.DetachedSigner

	if config.RSAKeyPath != "" {
		rsaSigner, err := signer.NewAlpineRSASigner(config.RSAKeyPath, config.RSAPassphrase, config.RSAKeyName)
		if err != nil {
			return &models.BuildError{
				Type: models.ErrSigning,
				Path: config.RSAKeyPath,
				Err:  fmt.Errorf("failed to initialize RSA signer: %w", err),
			}
		}
		blockSigner = rsaSigner
		logrus.Info("RSA signer initialized")
	}

	if config.GPGKeyPath != "" {
		gpgSigner, err := signer.NewGPGSigner(config.GPGKeyPath, config.GPGPassphrase)
		if err != nil {
			return &models.BuildError{
				Type: models.ErrSigning,
				Path: config.GPGKeyPath,
				Err:  fmt.Errorf("failed to initialize GPG signer: %w", err),
			}
		}
		detachedSigner = gpgSigner
		logrus.Info("GPG signer initialized")
	}

	return apk.NewAssembler(blockSigner, detachedSigner).Create(ctx, config, meta)
}
