package apk

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEpoch = 1700000000

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
}

// setupBuild lays out an installation root and a scriptlet directory for the
// "foo" package.
func setupBuild(t *testing.T) (*models.BuildConfig, *models.PackageMetadata) {
	t.Helper()
	base := t.TempDir()
	dest := filepath.Join(base, "dest")
	scripts := filepath.Join(base, "scripts")

	writeFile(t, filepath.Join(dest, "usr", "bin", "foo"), "#!/bin/sh\necho foo\n", 0755)
	writeFile(t, filepath.Join(dest, "usr", "share", "foo", "data"), strings.Repeat("x", 5000), 0644)
	require.NoError(t, os.Symlink("foo", filepath.Join(dest, "usr", "bin", "foo-link")))
	require.NoError(t, os.Link(filepath.Join(dest, "usr", "bin", "foo"), filepath.Join(dest, "usr", "bin", "foo-hard")))

	writeFile(t, filepath.Join(scripts, "foo.post-install"), "#!/bin/sh\ntrue\n", 0644)
	writeFile(t, filepath.Join(scripts, "foo.pre-install"), "#!/bin/sh\ntrue\n", 0644)
	// belongs to another package
	writeFile(t, filepath.Join(scripts, "foobar.post-install"), "#!/bin/sh\nfalse\n", 0644)

	cfg := &models.BuildConfig{
		DestDir:      dest,
		ScriptletDir: scripts,
		TempDir:      base,
		OutputPath:   filepath.Join(base, "out", "foo-1.0-r0.apk"),
		Epoch:        testEpoch,
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.OutputPath), 0755))

	meta := &models.PackageMetadata{
		Name:        "foo",
		Version:     "1.0-r0",
		Description: "Foo package",
		Arch:        "x86_64",
		License:     "MIT",
		Depends:     []string{"bar"},
		Provides:    []string{"foo-bin"},
	}
	return cfg, meta
}

func writeRSAKey(t *testing.T) (string, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "builder.rsa")
	data := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path, key
}

// gzipMembers splits raw into its gzip members.
func gzipMembers(t *testing.T, raw []byte) [][]byte {
	t.Helper()
	br := bytes.NewReader(raw)
	zr, err := gzip.NewReader(br)
	require.NoError(t, err)

	var members [][]byte
	start := 0
	for {
		zr.Multistream(false)
		_, err := io.Copy(io.Discard, zr)
		require.NoError(t, err)

		end := len(raw) - br.Len()
		members = append(members, raw[start:end])
		start = end

		err = zr.Reset(br)
		if err == io.EOF {
			return members
		}
		require.NoError(t, err)
	}
}

func tarEntries(t *testing.T, member []byte) []*tar.Header {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(member))
	require.NoError(t, err)
	tr := tar.NewReader(zr)

	var hdrs []*tar.Header
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return hdrs
		}
		require.NoError(t, err)
		hdrs = append(hdrs, hdr)
	}
}

func TestCreateUnsigned(t *testing.T) {
	cfg, meta := setupBuild(t)

	require.NoError(t, NewAssembler(nil, nil).Create(context.Background(), cfg, meta))

	raw, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, raw[:2])

	members := gzipMembers(t, raw)
	require.Len(t, members, 2)

	control := tarEntries(t, members[0])
	var controlNames []string
	for _, h := range control {
		controlNames = append(controlNames, h.Name)
		assert.Equal(t, "root", h.Uname)
		assert.Equal(t, int64(testEpoch), h.ModTime.Unix())
	}
	assert.Equal(t, []string{".PKGINFO", ".post-install", ".pre-install"}, controlNames)
	assert.Equal(t, int64(0755), control[1].Mode)

	pkg, err := Open(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, "foo", pkg.Info.Name)
	assert.Equal(t, "1.0-r0", pkg.Info.Version)
	assert.Equal(t, "x86_64", pkg.Info.Architecture)
	assert.Equal(t, "foo", pkg.Info.Origin)
	assert.Equal(t, []string{"bar"}, pkg.Info.Dependencies)
	assert.Equal(t, int64(testEpoch), pkg.Info.BuildDate)
	assert.Equal(t, int64(len(raw)), pkg.Info.Size)
	assert.Positive(t, pkg.Info.InstalledSize)
	assert.Empty(t, pkg.SignatureName)

	sum := sha1.Sum(members[0])
	assert.Equal(t, hex.EncodeToString(sum[:]), pkg.Info.ControlSHA1)
	assert.Equal(t, pkg.DataHash, pkg.Info.DataHash)

	assert.NoError(t, pkg.Verify(nil))
}

func TestCreateDataSegment(t *testing.T) {
	cfg, meta := setupBuild(t)
	require.NoError(t, NewAssembler(nil, nil).Create(context.Background(), cfg, meta))

	raw, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	members := gzipMembers(t, raw)

	byName := make(map[string]*tar.Header)
	var order []string
	for _, h := range tarEntries(t, members[1]) {
		byName[h.Name] = h
		order = append(order, h.Name)
	}

	assert.Equal(t, []string{
		"usr/",
		"usr/bin/",
		"usr/bin/foo",
		"usr/bin/foo-hard",
		"usr/bin/foo-link",
		"usr/share/",
		"usr/share/foo/",
		"usr/share/foo/data",
	}, order)

	foo := byName["usr/bin/foo"]
	assert.Equal(t, byte(tar.TypeReg), foo.Typeflag)
	assert.Equal(t, hex.EncodeToString(sha1Of("#!/bin/sh\necho foo\n")), foo.PAXRecords["APK-TOOLS.checksum.SHA1"])

	link := byName["usr/bin/foo-link"]
	assert.Equal(t, byte(tar.TypeSymlink), link.Typeflag)
	assert.Equal(t, hex.EncodeToString(sha1Of("foo")), link.PAXRecords["APK-TOOLS.checksum.SHA1"])

	hard := byName["usr/bin/foo-hard"]
	assert.Equal(t, byte(tar.TypeLink), hard.Typeflag)
	assert.Equal(t, "usr/bin/foo", hard.Linkname)
	assert.Empty(t, hard.PAXRecords["APK-TOOLS.checksum.SHA1"])

	for _, h := range byName {
		assert.Equal(t, 0, h.Uid, h.Name)
		assert.Equal(t, "root", h.Gname, h.Name)
		assert.Equal(t, int64(testEpoch), h.ModTime.Unix(), h.Name)
	}
}

func sha1Of(s string) []byte {
	sum := sha1.Sum([]byte(s))
	return sum[:]
}

func TestCreateReproducible(t *testing.T) {
	cfg, meta := setupBuild(t)
	a := NewAssembler(nil, nil)

	require.NoError(t, a.Create(context.Background(), cfg, meta))
	first, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)

	// touch every file; only content and layout may matter
	require.NoError(t, filepath.Walk(cfg.DestDir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.Mode()&os.ModeSymlink != 0 {
			return err
		}
		return os.Chtimes(p, info.ModTime().Add(3600e9), info.ModTime().Add(7200e9))
	}))

	require.NoError(t, a.Create(context.Background(), cfg, meta))
	second, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCreateSigned(t *testing.T) {
	cfg, meta := setupBuild(t)
	keyPath, key := writeRSAKey(t)

	s, err := signer.NewAlpineRSASigner(keyPath, "", "")
	require.NoError(t, err)
	require.NoError(t, NewAssembler(s, nil).Create(context.Background(), cfg, meta))

	raw, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	members := gzipMembers(t, raw)
	require.Len(t, members, 3)

	sig := tarEntries(t, members[0])
	require.Len(t, sig, 1)
	assert.Equal(t, ".SIGN.RSA.builder.rsa.pub", sig[0].Name)

	pkg, err := Open(cfg.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, ".SIGN.RSA.builder.rsa.pub", pkg.SignatureName)
	assert.Equal(t, members[1], pkg.Control)
	assert.NoError(t, pkg.Verify(&key.PublicKey))

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	assert.Error(t, pkg.Verify(&other.PublicKey))
}

func TestVerifyUnsignedWithKey(t *testing.T) {
	cfg, meta := setupBuild(t)
	_, key := writeRSAKey(t)
	require.NoError(t, NewAssembler(nil, nil).Create(context.Background(), cfg, meta))

	pkg, err := Open(cfg.OutputPath)
	require.NoError(t, err)
	assert.ErrorContains(t, pkg.Verify(&key.PublicKey), "not signed")
}

func TestVerifyDetectsTampering(t *testing.T) {
	cfg, meta := setupBuild(t)
	require.NoError(t, NewAssembler(nil, nil).Create(context.Background(), cfg, meta))

	pkg, err := Open(cfg.OutputPath)
	require.NoError(t, err)

	pkg.Info.DataHash = strings.Repeat("0", 64)
	assert.ErrorContains(t, pkg.Verify(nil), "datahash mismatch")

	pkg.Info.DataHash = pkg.DataHash
	for i := range pkg.Entries {
		if pkg.Entries[i].Name == "usr/share/foo/data" {
			pkg.Entries[i].Computed = strings.Repeat("0", 40)
		}
	}
	assert.ErrorContains(t, pkg.Verify(nil), "usr/share/foo/data: checksum mismatch")
}

func TestCreateFileModes(t *testing.T) {
	cfg, meta := setupBuild(t)
	meta.FileModes = map[string]models.FileMode{
		"usr/bin/foo": {Owner: "daemon:2", Group: "wheel:10", Mode: 04755},
		// zero mode changes ownership only
		"usr/share/foo/data": {Owner: "bin:2", Group: "bin:2"},
	}
	require.NoError(t, NewAssembler(nil, nil).Create(context.Background(), cfg, meta))

	raw, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	members := gzipMembers(t, raw)

	st, err := os.Stat(filepath.Join(cfg.DestDir, "usr", "share", "foo", "data"))
	require.NoError(t, err)

	byName := make(map[string]*tar.Header)
	for _, h := range tarEntries(t, members[1]) {
		byName[h.Name] = h
	}

	foo := byName["usr/bin/foo"]
	require.NotNil(t, foo)
	assert.Equal(t, "daemon", foo.Uname)
	assert.Equal(t, 2, foo.Uid)
	assert.Equal(t, "wheel", foo.Gname)
	assert.Equal(t, 10, foo.Gid)
	assert.Equal(t, int64(04755), foo.Mode)

	data := byName["usr/share/foo/data"]
	require.NotNil(t, data)
	assert.Equal(t, "bin", data.Uname)
	assert.Equal(t, 2, data.Uid)
	assert.Equal(t, int64(st.Mode().Perm()), data.Mode)
}

func TestCreateScriptletOwnership(t *testing.T) {
	cfg, meta := setupBuild(t)
	meta.FileModes = map[string]models.FileMode{
		".post-install": {Owner: "bin:2", Group: "daemon:3", Mode: 0700},
	}
	require.NoError(t, NewAssembler(nil, nil).Create(context.Background(), cfg, meta))

	raw, err := os.ReadFile(cfg.OutputPath)
	require.NoError(t, err)
	members := gzipMembers(t, raw)

	var post, pre *tar.Header
	for _, h := range tarEntries(t, members[0]) {
		switch h.Name {
		case ".post-install":
			post = h
		case ".pre-install":
			pre = h
		}
	}
	require.NotNil(t, post)
	require.NotNil(t, pre)

	assert.Equal(t, "bin", post.Uname)
	assert.Equal(t, 2, post.Uid)
	assert.Equal(t, "daemon", post.Gname)
	assert.Equal(t, 3, post.Gid)
	// scriptlets are always executable
	assert.Equal(t, int64(0755), post.Mode)

	assert.Equal(t, "root", pre.Uname)
	assert.Equal(t, 0, pre.Uid)

	pkg, err := Open(cfg.OutputPath)
	require.NoError(t, err)
	assert.NoError(t, pkg.Verify(nil))
}

func TestCreateBadFileModesLeavesNoOutput(t *testing.T) {
	cfg, meta := setupBuild(t)
	meta.FileModes = map[string]models.FileMode{
		"usr/bin/foo": {Owner: "daemon", Group: "daemon:2"},
	}

	err := NewAssembler(nil, nil).Create(context.Background(), cfg, meta)
	require.Error(t, err)

	var be *models.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, models.ErrMetadata, be.Type)

	_, statErr := os.Stat(cfg.OutputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestCreateCancelled(t *testing.T) {
	cfg, meta := setupBuild(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewAssembler(nil, nil).Create(ctx, cfg, meta)
	assert.ErrorIs(t, err, context.Canceled)

	_, statErr := os.Stat(cfg.OutputPath)
	assert.True(t, os.IsNotExist(statErr))

	// no staging files left behind either
	entries, err := os.ReadDir(cfg.TempDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "apk-data-"), e.Name())
	}
}

func TestCreateMissingDestDir(t *testing.T) {
	cfg, meta := setupBuild(t)
	cfg.DestDir = filepath.Join(cfg.TempDir, "missing")

	err := NewAssembler(nil, nil).Create(context.Background(), cfg, meta)
	var be *models.BuildError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, models.ErrFileSystem, be.Type)
}

func TestReadRejectsGarbage(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("not a package")))
	assert.Error(t, err)
}
