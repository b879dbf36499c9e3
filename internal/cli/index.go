package cli

import (
	"fmt"

	"github.com/ralt/apkbuild/internal/index"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/signer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewIndexCmd creates the index command
func NewIndexCmd() *cobra.Command {
	var config models.IndexConfig

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Generate an APKINDEX for a directory of packages",
		Long: `Scans the input directory for packages and writes one APKINDEX.tar.gz
per architecture below the output directory, next to a copy of every package.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := resolveEpoch(cmd, config.Epoch)
			if err != nil {
				return err
			}
			config.Epoch = epoch

			if err := validateIndexConfig(&config); err != nil {
				return err
			}

			var blockSigner signer.BlockSigner
			if config.RSAKeyPath != "" {
				s, err := signer.NewAlpineRSASigner(config.RSAKeyPath, config.RSAPassphrase, config.RSAKeyName)
				if err != nil {
					return &models.BuildError{
						Type: models.ErrSigning,
						Path: config.RSAKeyPath,
						Err:  fmt.Errorf("failed to initialize RSA signer: %w", err),
					}
				}
				blockSigner = s
				logrus.Info("RSA signer initialized")
			}

			return index.NewGenerator(blockSigner).Generate(cmd.Context(), &config)
		},
	}

	cmd.Flags().StringVarP(&config.InputDir, "input-dir", "i", ".", "Input directory to scan")
	cmd.Flags().StringVarP(&config.OutputDir, "output-dir", "o", "./repo", "Output directory")
	cmd.Flags().StringVar(&config.Description, "description", "", "Index description")
	cmd.Flags().Int64Var(&config.Epoch, "epoch", 0, "Index time in seconds since the epoch (defaults to $SOURCE_DATE_EPOCH)")

	cmd.Flags().StringVar(&config.RSAKeyPath, "rsa-key", "", "Path to the apk RSA private key")
	cmd.Flags().StringVar(&config.RSAPassphrase, "rsa-passphrase", "", "RSA key passphrase")
	cmd.Flags().StringVar(&config.RSAKeyName, "key-name", "", "Public key name in the signature (defaults to <key file>.pub)")

	return cmd
}

func validateIndexConfig(config *models.IndexConfig) error {
	if config.InputDir == "" {
		return &models.BuildError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("input-dir is required"),
		}
	}

	if config.OutputDir == "" {
		return &models.BuildError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("output-dir is required"),
		}
	}

	return nil
}
