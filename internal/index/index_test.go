package index

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/apkbuild/internal/apk"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPackage(t *testing.T, dir string, meta *models.PackageMetadata) string {
	t.Helper()
	dest := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dest, "usr", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "usr", "bin", meta.Name), []byte(meta.Name+" binary"), 0755))

	out := filepath.Join(dir, meta.Name+"-"+meta.Version+".apk")
	cfg := &models.BuildConfig{
		DestDir:    dest,
		TempDir:    t.TempDir(),
		OutputPath: out,
		Epoch:      1700000000,
	}
	require.NoError(t, apk.NewAssembler(nil, nil).Create(context.Background(), cfg, meta))
	return out
}

// readIndex returns the entries of an unsigned index, or of the index part
// following a signature block.
func readIndex(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(zr)

	files := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return files
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(content)
	}
}

func TestGenerate(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()

	fooPath := buildPackage(t, in, &models.PackageMetadata{
		Name:        "foo",
		Version:     "1.0-r0",
		Arch:        "x86_64",
		Description: "Foo tool",
		License:     "MIT",
		Depends:     []string{"bar", "so:libc.so.6"},
		Provides:    []string{"cmd:foo"},
	})
	buildPackage(t, in, &models.PackageMetadata{Name: "bar", Version: "2.0-r1", Arch: "x86_64"})
	buildPackage(t, in, &models.PackageMetadata{Name: "baz", Version: "0.1-r0", Arch: "aarch64"})
	// not a package
	require.NoError(t, os.WriteFile(filepath.Join(in, "notes.txt"), []byte("x"), 0644))

	cfg := &models.IndexConfig{InputDir: in, OutputDir: out, Epoch: 1700000000}
	require.NoError(t, NewGenerator(nil).Generate(context.Background(), cfg))

	data, err := os.ReadFile(filepath.Join(out, "x86_64", "APKINDEX.tar.gz"))
	require.NoError(t, err)
	files := readIndex(t, data)
	assert.Equal(t, "Package index for x86_64", files["DESCRIPTION"])

	records := strings.Split(strings.TrimSuffix(files["APKINDEX"], "\n\n"), "\n\n")
	require.Len(t, records, 2)
	assert.True(t, strings.Contains(records[0], "\nP:bar\n"), records[0])

	foo, err := apk.Open(fooPath)
	require.NoError(t, err)
	checksum, err := IndexChecksum(foo.Info.ControlSHA1)
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		"C:" + checksum,
		"P:foo",
		"V:1.0-r0",
		"A:x86_64",
		"S:" + strconv.FormatInt(foo.Info.Size, 10),
		"I:" + strconv.FormatInt(foo.Info.InstalledSize, 10),
		"T:Foo tool",
		"L:MIT",
		"o:foo",
		"t:1700000000",
		"D:bar so:libc.so.6",
		"p:cmd:foo",
	}, "\n"), records[1])

	_, err = os.Stat(filepath.Join(out, "x86_64", "foo-1.0-r0.apk"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(out, "aarch64", "APKINDEX.tar.gz"))
	assert.NoError(t, err)

	// equal input, equal index
	again := t.TempDir()
	cfg.OutputDir = again
	require.NoError(t, NewGenerator(nil).Generate(context.Background(), cfg))
	second, err := os.ReadFile(filepath.Join(again, "x86_64", "APKINDEX.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, data, second)
}

func TestGenerateRejectsDuplicates(t *testing.T) {
	in := t.TempDir()
	meta := &models.PackageMetadata{Name: "foo", Version: "1.0-r0", Arch: "x86_64"}
	buildPackage(t, filepath.Join(in, "a"), meta)
	buildPackage(t, filepath.Join(in, "b"), meta)

	err := NewGenerator(nil).Generate(context.Background(), &models.IndexConfig{InputDir: in, OutputDir: t.TempDir()})
	assert.ErrorContains(t, err, "duplicate package foo:1.0-r0:x86_64")
}

func TestGenerateSigned(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	buildPackage(t, in, &models.PackageMetadata{Name: "foo", Version: "1.0-r0", Arch: "x86_64"})

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "repo.rsa")
	require.NoError(t, os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0600))

	s, err := signer.NewAlpineRSASigner(keyPath, "", "")
	require.NoError(t, err)

	cfg := &models.IndexConfig{InputDir: in, OutputDir: out, Epoch: 1700000000}
	require.NoError(t, NewGenerator(s).Generate(context.Background(), cfg))

	data, err := os.ReadFile(filepath.Join(out, "x86_64", "APKINDEX.tar.gz"))
	require.NoError(t, err)

	// split off the signature member
	br := bytes.NewReader(data)
	zr, err := gzip.NewReader(br)
	require.NoError(t, err)
	zr.Multistream(false)
	sigTar, err := io.ReadAll(zr)
	require.NoError(t, err)
	rest := data[len(data)-br.Len():]

	tr := tar.NewReader(bytes.NewReader(sigTar))
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, ".SIGN.RSA.repo.rsa.pub", hdr.Name)
	sig, err := io.ReadAll(tr)
	require.NoError(t, err)

	assert.NoError(t, signer.VerifyRSA(&key.PublicKey, rest, sig))
	assert.Contains(t, readIndex(t, rest)["APKINDEX"], "P:foo\n")

	pub, err := signer.LoadPublicKey(filepath.Join(out, "repo.rsa.pub"))
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))
}

func TestIndexChecksum(t *testing.T) {
	got, err := IndexChecksum("da39a3ee5e6b4b0d3255bfef95601890afd80709")
	require.NoError(t, err)
	assert.Equal(t, "Q12jmj7l5rSw0yVb/vlWAYkK/YBwk=", got)

	_, err = IndexChecksum("zz")
	assert.Error(t, err)
}
