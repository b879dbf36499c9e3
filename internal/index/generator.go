// Package index writes APKINDEX.tar.gz repository indexes for built packages.
package index

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ralt/apkbuild/internal/apk"
	"github.com/ralt/apkbuild/internal/archive"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/scanner"
	"github.com/ralt/apkbuild/internal/signer"
	"github.com/ralt/apkbuild/internal/utils"
	"github.com/sirupsen/logrus"
)

// DefaultArch is used for packages that do not record an architecture
const DefaultArch = "noarch"

// Generator builds per-architecture repository indexes
type Generator struct {
	signer  signer.BlockSigner
	scanner scanner.Scanner
}

// NewGenerator creates a Generator. A nil signer leaves indexes unsigned.
func NewGenerator(s signer.BlockSigner) *Generator {
	return &Generator{
		signer:  s,
		scanner: scanner.NewFileSystemScanner(),
	}
}

// Generate scans cfg.InputDir for packages and writes
// <OutputDir>/<arch>/APKINDEX.tar.gz for every architecture found, copying
// each package next to its index under its canonical file name.
func (g *Generator) Generate(ctx context.Context, cfg *models.IndexConfig) error {
	logrus.Info("Generating APK repository index...")

	scanned, err := g.scanner.Scan(ctx, cfg.InputDir)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.InputDir, Err: err}
	}

	var packages []models.Package
	for _, sp := range scanned {
		pkg, err := apk.Open(sp.Path)
		if err != nil {
			return err
		}
		pkg.Info.Filename = sp.Path
		if pkg.Info.Architecture == "" {
			pkg.Info.Architecture = DefaultArch
		}
		packages = append(packages, *pkg.Info)
	}

	if conflicts := utils.DetectConflicts(packages); len(conflicts) > 0 {
		c := conflicts[0]
		return &models.BuildError{
			Type: models.ErrPackageParse,
			Path: c.Filename,
			Err:  fmt.Errorf("duplicate package %s (%d duplicates in total)", utils.PackageIdentity(c), len(conflicts)),
		}
	}

	// Group packages by architecture
	archPackages := make(map[string][]models.Package)
	for _, pkg := range packages {
		archPackages[pkg.Architecture] = append(archPackages[pkg.Architecture], pkg)
	}

	arches := make([]string, 0, len(archPackages))
	for arch := range archPackages {
		arches = append(arches, arch)
	}
	sort.Strings(arches)

	for _, arch := range arches {
		if err := g.generateForArch(ctx, cfg, arch, archPackages[arch]); err != nil {
			return fmt.Errorf("failed to generate for %s: %w", arch, err)
		}
	}

	if g.signer != nil {
		if err := g.writePublicKey(cfg.OutputDir); err != nil {
			return err
		}
	}

	logrus.Infof("Indexed %d packages for %d architectures", len(packages), len(arches))
	return nil
}

// writePublicKey publishes the signing key at the repository root under the
// name signatures refer to it by
func (g *Generator) writePublicKey(outputDir string) error {
	pub, err := g.signer.GetPublicKey()
	if err != nil {
		return &models.BuildError{Type: models.ErrSigning, Err: fmt.Errorf("failed to export public key: %w", err)}
	}

	path := filepath.Join(outputDir, g.signer.KeyName())
	if err := utils.WriteFile(path, pub, 0644); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: path, Err: err}
	}
	logrus.Infof("Public key written to %s", path)
	return nil
}

// generateForArch copies the packages of one architecture and writes their
// index
func (g *Generator) generateForArch(ctx context.Context, cfg *models.IndexConfig, arch string, packages []models.Package) error {
	logrus.Infof("Generating for architecture: %s", arch)

	archDir := filepath.Join(cfg.OutputDir, arch)
	if err := utils.EnsureDir(archDir); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: archDir, Err: err}
	}

	sort.Slice(packages, func(i, j int) bool {
		if packages[i].Name != packages[j].Name {
			return packages[i].Name < packages[j].Name
		}
		return packages[i].Version < packages[j].Version
	})

	for i := range packages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkg := &packages[i]
		dst := filepath.Join(archDir, utils.PackageFilename(pkg.Name, pkg.Version))
		if err := copyPackage(pkg.Filename, dst); err != nil {
			return err
		}
		pkg.Filename = filepath.Base(dst)
	}

	apkindex, err := generateAPKINDEX(packages)
	if err != nil {
		return &models.BuildError{Type: models.ErrPackageParse, Err: err}
	}

	description := cfg.Description
	if description == "" {
		description = fmt.Sprintf("Package index for %s", arch)
	}

	data, err := createAPKINDEXTarGz([]byte(description), apkindex, cfg.Epoch)
	if err != nil {
		return &models.BuildError{Type: models.ErrArchive, Err: fmt.Errorf("failed to create %s: %w", scanner.IndexName, err)}
	}

	if g.signer != nil {
		sig, err := g.signer.SignatureBlock(data, cfg.Epoch)
		if err != nil {
			return &models.BuildError{Type: models.ErrSigning, Err: fmt.Errorf("failed to sign %s: %w", scanner.IndexName, err)}
		}
		data = append(sig, data...)
		logrus.Infof("%s signed with %s", scanner.IndexName, g.signer.KeyName())
	}

	indexPath := filepath.Join(archDir, scanner.IndexName)
	if err := utils.WriteFile(indexPath, data, 0644); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: indexPath, Err: err}
	}

	logrus.Infof("Generated %s for %s (%d packages)", scanner.IndexName, arch, len(packages))
	return nil
}

// copyPackage copies src to dst unless both name the same file
func copyPackage(src, dst string) error {
	if a, err := os.Stat(src); err == nil {
		if b, err := os.Stat(dst); err == nil && os.SameFile(a, b) {
			return nil
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: src, Err: err}
	}
	defer in.Close()

	out, err := utils.CreateAtomic(dst, 0644)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: dst, Err: err}
	}
	defer out.Abort()

	buf := make([]byte, utils.ChunkSize)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: dst, Err: fmt.Errorf("failed to copy %s: %w", src, err)}
	}
	if err := out.Commit(); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: dst, Err: err}
	}
	return nil
}

// createAPKINDEXTarGz creates a tar.gz archive containing DESCRIPTION and
// APKINDEX with reproducible headers
func createAPKINDEXTarGz(description, apkindex []byte, epoch int64) ([]byte, error) {
	n, err := archive.NewNormalizer(epoch, nil)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if err := addTarFile(tw, n, "DESCRIPTION", description); err != nil {
		return nil, err
	}
	if err := addTarFile(tw, n, "APKINDEX", apkindex); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	return utils.GzipCompress(buf.Bytes(), epoch)
}

// addTarFile adds a file to a tar archive
func addTarFile(tw *tar.Writer, n *archive.Normalizer, name string, data []byte) error {
	header := n.Normalize(&tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(data)),
	})

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}
