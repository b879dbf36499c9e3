package cli

import (
	"crypto/rsa"
	"fmt"

	"github.com/ralt/apkbuild/internal/apk"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/signer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewVerifyCmd creates the verify command
func NewVerifyCmd() *cobra.Command {
	var publicKeyPath string

	cmd := &cobra.Command{
		Use:   "verify FILE...",
		Short: "Check built packages",
		Long: `Re-reads packages and checks the datahash recorded in .PKGINFO and the
checksum of every data entry. With --public-key the RSA signature over the
control segment is checked too, and unsigned packages fail.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pub *rsa.PublicKey
			if publicKeyPath != "" {
				var err error
				pub, err = signer.LoadPublicKey(publicKeyPath)
				if err != nil {
					return &models.BuildError{Type: models.ErrInvalidConfig, Path: publicKeyPath, Err: err}
				}
			}

			return runVerify(args, pub)
		},
	}

	cmd.Flags().StringVarP(&publicKeyPath, "public-key", "k", "", "PEM encoded RSA public key to check signatures with")

	return cmd
}

func runVerify(paths []string, pub *rsa.PublicKey) error {
	failed := 0
	for _, path := range paths {
		pkg, err := apk.Open(path)
		if err == nil {
			err = pkg.Verify(pub)
		}
		if err != nil {
			logrus.Errorf("%s: %v", path, err)
			failed++
			continue
		}

		logrus.Infof("%s: OK (%s-%s, %d entries)", path, pkg.Info.Name, pkg.Info.Version, len(pkg.Entries))
		if pkg.SignatureName != "" && pub == nil {
			logrus.Warnf("%s: signature %s not checked, no public key given", path, pkg.SignatureName)
		}
	}

	if failed > 0 {
		return &models.BuildError{
			Type: models.ErrPackageParse,
			Err:  fmt.Errorf("%d of %d packages failed verification", failed, len(paths)),
		}
	}
	return nil
}
