package apk

import (
	"archive/tar"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ralt/apkbuild/internal/signer"
)

// Verify checks the internal consistency of a package: the datahash in
// .PKGINFO, the per-entry checksums and, when pub is set, the signature over
// the control segment.
func (p *Package) Verify(pub *rsa.PublicKey) error {
	var errs []error

	if pub != nil {
		switch {
		case p.SignatureName == "":
			errs = append(errs, errors.New("package is not signed"))
		case !strings.HasPrefix(p.SignatureName, signer.SignaturePrefix):
			errs = append(errs, fmt.Errorf("unsupported signature %s", p.SignatureName))
		default:
			if err := signer.VerifyRSA(pub, p.Control, p.Signature); err != nil {
				errs = append(errs, fmt.Errorf("bad signature %s: %w", p.SignatureName, err))
			}
		}
	}

	if p.Info.DataHash != p.DataHash {
		errs = append(errs, fmt.Errorf("datahash mismatch: recorded %s, computed %s", p.Info.DataHash, p.DataHash))
	}

	for _, e := range p.Entries {
		switch e.Typeflag {
		case tar.TypeReg, tar.TypeSymlink:
			if e.Recorded == "" {
				errs = append(errs, fmt.Errorf("%s: missing checksum", e.Name))
			} else if e.Recorded != e.Computed {
				errs = append(errs, fmt.Errorf("%s: checksum mismatch", e.Name))
			}
		}
	}

	return errors.Join(errs...)
}
