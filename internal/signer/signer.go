package signer

import "io"

// BlockSigner produces the self-contained signature block that is written in
// front of a package's control segment.
type BlockSigner interface {
	// SignatureBlock signs data (the compressed control segment) and wraps
	// the signature in a gzip'd tar member stamped with epoch.
	SignatureBlock(data []byte, epoch int64) ([]byte, error)

	// KeyName is the public key name apk looks the signature up by
	KeyName() string

	// GetPublicKey returns the public key apk verifies the signature with
	GetPublicKey() ([]byte, error)
}

// DetachedSigner creates detached signatures over whole files
type DetachedSigner interface {
	// SignDetached writes an armored signature of r to w
	SignDetached(w io.Writer, r io.Reader, epoch int64) error

	// GetPublicKey returns the public key
	GetPublicKey() ([]byte, error)
}
