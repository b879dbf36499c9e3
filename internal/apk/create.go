// Package apk assembles APK v2 packages and reads them back.
//
// An APK is a plain concatenation of gzip members:
//
//	[signature block] ++ gzip(control tar) ++ gzip(data tar)
//
// The control tar holds .PKGINFO and the scriptlets and has its end-of-archive
// marker removed so the data member can follow. .PKGINFO embeds the SHA-256 of
// the compressed data member, so the data member is always built first.
package apk

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/ralt/apkbuild/internal/archive"
	"github.com/ralt/apkbuild/internal/filelist"
	"github.com/ralt/apkbuild/internal/models"
	"github.com/ralt/apkbuild/internal/pkginfo"
	"github.com/ralt/apkbuild/internal/signer"
	"github.com/ralt/apkbuild/internal/utils"
	"github.com/sirupsen/logrus"
)

// Assembler builds package files.
type Assembler struct {
	blockSigner    signer.BlockSigner
	detachedSigner signer.DetachedSigner
}

// NewAssembler creates an Assembler. A nil blockSigner produces unsigned
// packages; a nil detachedSigner skips the .asc sidecar.
func NewAssembler(blockSigner signer.BlockSigner, detachedSigner signer.DetachedSigner) *Assembler {
	return &Assembler{
		blockSigner:    blockSigner,
		detachedSigner: detachedSigner,
	}
}

// Create assembles the package described by meta from cfg.DestDir and writes
// it to cfg.OutputPath. On error nothing is left at the output path.
func (a *Assembler) Create(ctx context.Context, cfg *models.BuildConfig, meta *models.PackageMetadata) error {
	if err := meta.Validate(); err != nil {
		return &models.BuildError{Type: models.ErrMetadata, Err: err}
	}

	// malformed ownership overrides fail before anything is written
	norm, err := archive.NewNormalizer(cfg.Epoch, meta.FileModes)
	if err != nil {
		return err
	}

	logrus.Infof("Assembling %s-%s from %s", meta.Name, meta.Version, cfg.DestDir)

	files, err := filelist.Collect(cfg.DestDir)
	if err != nil {
		return models.NewError(models.ErrFileSystem, cfg.DestDir, err)
	}

	size, err := filelist.DiskUsage(files)
	if err != nil {
		return models.NewError(models.ErrFileSystem, cfg.DestDir, err)
	}
	logrus.Debugf("Collected %d entries, installed size %d", len(files), size)

	staging, err := os.CreateTemp(cfg.TempDir, "apk-data-*.tar.gz")
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.TempDir, Err: err}
	}
	defer func() {
		staging.Close()
		os.Remove(staging.Name())
	}()

	dataHash, err := writeData(ctx, staging, files, norm)
	if err != nil {
		return err
	}
	logrus.Debugf("Data segment datahash %s", dataHash)

	record := pkginfo.Build(meta, pkginfo.Fields{
		Arch:      cfg.Arch,
		BuildDate: cfg.Epoch,
		Size:      size,
		DataHash:  dataHash,
	})

	scriptlets, err := archive.FindScriptlets(cfg.ScriptletDir, meta.Name)
	if err != nil {
		return err
	}
	for _, s := range scriptlets {
		logrus.Debugf("Including scriptlet %s", s.ArchiveName())
	}

	control, err := buildControl(record, scriptlets, norm)
	if err != nil {
		return err
	}

	if err := a.writePackage(cfg, control, staging); err != nil {
		return err
	}

	if a.detachedSigner != nil {
		if err := a.writeSidecar(cfg); err != nil {
			return err
		}
	}

	logrus.Infof("Wrote %s", cfg.OutputPath)
	return nil
}

// writeData builds the data segment into staging, then rewinds and hashes it.
// The returned digest covers exactly the bytes later copied to the output.
func writeData(ctx context.Context, staging *os.File, files filelist.List, norm *archive.Normalizer) (string, error) {
	if err := archive.WriteDataSegment(ctx, staging, files, norm); err != nil {
		return "", err
	}

	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		return "", &models.BuildError{Type: models.ErrFileSystem, Path: staging.Name(), Err: err}
	}
	dataHash, err := utils.HashReader(staging, sha256.New())
	if err != nil {
		return "", &models.BuildError{Type: models.ErrFileSystem, Path: staging.Name(), Err: err}
	}
	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		return "", &models.BuildError{Type: models.ErrFileSystem, Path: staging.Name(), Err: err}
	}
	return dataHash, nil
}

// buildControl returns the compressed, terminator-less control segment.
func buildControl(record []byte, scriptlets []archive.Scriptlet, norm *archive.Normalizer) ([]byte, error) {
	ctrl, err := archive.WriteControlSegment(record, scriptlets, norm)
	if err != nil {
		return nil, err
	}

	stripped, err := archive.StripEndBlocks(ctrl)
	if err != nil {
		return nil, &models.BuildError{Type: models.ErrArchive, Err: err}
	}

	compressed, err := utils.GzipCompress(stripped, norm.Epoch())
	if err != nil {
		return nil, &models.BuildError{Type: models.ErrArchive, Err: err}
	}
	return compressed, nil
}

func (a *Assembler) writePackage(cfg *models.BuildConfig, control []byte, data io.Reader) error {
	out, err := utils.CreateAtomic(cfg.OutputPath, 0644)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.OutputPath, Err: err}
	}
	defer out.Abort()

	if a.blockSigner != nil {
		sig, err := a.blockSigner.SignatureBlock(control, cfg.Epoch)
		if err != nil {
			return &models.BuildError{Type: models.ErrSigning, Path: cfg.OutputPath, Err: err}
		}
		if _, err := out.Write(sig); err != nil {
			return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.OutputPath, Err: err}
		}
		logrus.Debugf("Signed with %s", a.blockSigner.KeyName())
	}

	if _, err := out.Write(control); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.OutputPath, Err: err}
	}

	buf := make([]byte, utils.ChunkSize)
	if _, err := io.CopyBuffer(out, data, buf); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.OutputPath, Err: err}
	}

	if err := out.Commit(); err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.OutputPath, Err: err}
	}
	return nil
}

// writeSidecar writes <output>.asc next to a committed package.
func (a *Assembler) writeSidecar(cfg *models.BuildConfig) error {
	sigPath := cfg.OutputPath + ".asc"

	in, err := os.Open(cfg.OutputPath)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: cfg.OutputPath, Err: err}
	}
	defer in.Close()

	out, err := utils.CreateAtomic(sigPath, 0644)
	if err != nil {
		return &models.BuildError{Type: models.ErrFileSystem, Path: sigPath, Err: err}
	}
	defer out.Abort()

	if err := a.detachedSigner.SignDetached(out, in, cfg.Epoch); err != nil {
		// the package itself is signed by the sidecar, so it goes too
		os.Remove(cfg.OutputPath)
		return &models.BuildError{Type: models.ErrSigning, Path: sigPath, Err: fmt.Errorf("failed to sign %s: %w", cfg.OutputPath, err)}
	}
	if err := out.Commit(); err != nil {
		os.Remove(cfg.OutputPath)
		return &models.BuildError{Type: models.ErrFileSystem, Path: sigPath, Err: err}
	}
	return nil
}
