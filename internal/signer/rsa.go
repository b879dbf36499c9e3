package signer

import (
	"archive/tar"
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralt/apkbuild/internal/archive"
	"github.com/ralt/apkbuild/internal/utils"
)

// SignaturePrefix starts the name of the signature entry in a signature block
const SignaturePrefix = ".SIGN.RSA."

// AlpineRSASigner implements BlockSigner for apk RSA keys
type AlpineRSASigner struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	keyName    string
}

// NewAlpineRSASigner creates a new RSA signer for Alpine from a private key file.
// An empty keyName defaults to the key file name plus ".pub", which is what
// abuild-keygen names the matching public key.
func NewAlpineRSASigner(keyPath, passphrase, keyName string) (*AlpineRSASigner, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("key path is empty")
	}

	// Read private key file
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	privateKey, err := ParsePrivateKey(keyData, passphrase)
	if err != nil {
		return nil, err
	}

	if keyName == "" {
		keyName = filepath.Base(keyPath) + ".pub"
	}
	if strings.ContainsAny(keyName, "/\x00") {
		return nil, fmt.Errorf("invalid key name %q", keyName)
	}

	return &AlpineRSASigner{
		privateKey: privateKey,
		publicKey:  &privateKey.PublicKey,
		keyName:    keyName,
	}, nil
}

// ParsePrivateKey decodes a PEM encoded RSA private key, decrypting it with
// passphrase if the block is encrypted.
func ParsePrivateKey(keyData []byte, passphrase string) (*rsa.PrivateKey, error) {
	// Parse PEM block
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) {
		if passphrase == "" {
			return nil, fmt.Errorf("key is encrypted but no passphrase provided")
		}

		var err error
		der, err = x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key: %w", err)
		}
	}

	return parseRSAPrivateKey(der)
}

// parseRSAPrivateKey tries to parse RSA private key in PKCS1 or PKCS8 format
func parseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	// Try PKCS1 first
	key, err := x509.ParsePKCS1PrivateKey(data)
	if err == nil {
		return key, nil
	}

	// Try PKCS8
	parsedKey, err := x509.ParsePKCS8PrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaKey, ok := parsedKey.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA private key")
	}

	return rsaKey, nil
}

// KeyName returns the public key name recorded in signature blocks
func (s *AlpineRSASigner) KeyName() string {
	return s.keyName
}

// SignRSA creates an RSA PKCS1v15 signature using SHA1 (Alpine APK standard).
// PKCS1v15 is deterministic, so equal input yields equal signatures.
func (s *AlpineRSASigner) SignRSA(data []byte) ([]byte, error) {
	hashed := sha1.Sum(data)

	signature, err := rsa.SignPKCS1v15(rand.Reader, s.privateKey, crypto.SHA1, hashed[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	return signature, nil
}

// SignatureBlock signs data and returns the gzip member apk expects in front
// of the control segment: a terminator-less tar holding the signature as
// .SIGN.RSA.<key name>.
func (s *AlpineRSASigner) SignatureBlock(data []byte, epoch int64) ([]byte, error) {
	signature, err := s.SignRSA(data)
	if err != nil {
		return nil, err
	}

	n, err := archive.NewNormalizer(epoch, nil)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := n.Normalize(&tar.Header{
		Name:     SignaturePrefix + s.keyName,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(signature)),
	})
	if err := tw.WriteHeader(hdr); err != nil {
		return nil, err
	}
	if _, err := tw.Write(signature); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	stripped, err := archive.StripEndBlocks(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return utils.GzipCompress(stripped, epoch)
}

// GetPublicKey returns the public key in PEM format
func (s *AlpineRSASigner) GetPublicKey() ([]byte, error) {
	pubKeyBytes, err := x509.MarshalPKIXPublicKey(s.publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	block := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubKeyBytes,
	}

	return pem.EncodeToMemory(block), nil
}

// LoadPublicKey reads a PEM encoded RSA public key (PKIX or PKCS1)
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if pub, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return pub, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("key is not an RSA public key")
	}
	return pub, nil
}

// VerifyRSA checks an apk RSA signature over data
func VerifyRSA(pub *rsa.PublicKey, data, signature []byte) error {
	hashed := sha1.Sum(data)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA1, hashed[:], signature)
}
