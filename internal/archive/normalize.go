// Package archive builds the tar segments of an APK: the data segment
// holding the installation root and the control segment holding .PKGINFO and
// the scriptlets.
package archive

import (
	"archive/tar"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ralt/apkbuild/internal/models"
)

// ChecksumRecord is the PAX record apk reads per-file checksums from.
const ChecksumRecord = "APK-TOOLS.checksum.SHA1"

// ScriptletMode is the mode every scriptlet is archived with.
const ScriptletMode = 0755

type owner struct {
	name string
	id   int
}

var root = owner{name: "root", id: 0}

type override struct {
	user  owner
	group owner
	mode  int64
}

// Normalizer rewrites tar headers so that nothing about the build host ends
// up in an archive: times come from the build epoch, ownership from the
// file_modes table or root.
type Normalizer struct {
	epoch     int64
	overrides map[string]override
}

// NewNormalizer validates fileModes and returns a Normalizer for epoch.
func NewNormalizer(epoch int64, fileModes map[string]models.FileMode) (*Normalizer, error) {
	n := &Normalizer{
		epoch:     epoch,
		overrides: make(map[string]override, len(fileModes)),
	}

	for path, fm := range fileModes {
		user, err := parseOwner(fm.Owner)
		if err != nil {
			return nil, &models.BuildError{Type: models.ErrMetadata, Path: path, Err: fmt.Errorf("owner: %w", err)}
		}
		group, err := parseOwner(fm.Group)
		if err != nil {
			return nil, &models.BuildError{Type: models.ErrMetadata, Path: path, Err: fmt.Errorf("group: %w", err)}
		}
		n.overrides[strings.TrimSuffix(path, "/")] = override{user: user, group: group, mode: fm.Mode}
	}

	return n, nil
}

// parseOwner splits a "name:id" spec. An empty spec means root.
func parseOwner(spec string) (owner, error) {
	if spec == "" {
		return root, nil
	}

	name, idStr, ok := strings.Cut(spec, ":")
	if !ok {
		return owner{}, fmt.Errorf("%q is not of the form name:id", spec)
	}
	id, err := strconv.Atoi(idStr)
	if err != nil || id < 0 {
		return owner{}, fmt.Errorf("%q has an invalid numeric id", spec)
	}
	return owner{name: name, id: id}, nil
}

// Epoch returns the build time applied to entries.
func (n *Normalizer) Epoch() int64 {
	return n.epoch
}

// Normalize returns a copy of hdr with reproducible metadata. The header name
// is used without any trailing slash to look up ownership overrides.
func (n *Normalizer) Normalize(hdr *tar.Header) *tar.Header {
	out := *hdr
	out.PAXRecords = make(map[string]string, len(hdr.PAXRecords))
	for k, v := range hdr.PAXRecords {
		out.PAXRecords[k] = v
	}

	out.Format = tar.FormatPAX
	out.ModTime = time.Unix(n.epoch, 0)
	// Non-zero times are emitted as PAX atime/ctime records, here both "0"
	out.AccessTime = time.Unix(0, 0)
	out.ChangeTime = time.Unix(0, 0)

	user, group := root, root
	if o, ok := n.overrides[strings.TrimSuffix(hdr.Name, "/")]; ok {
		user, group = o.user, o.group
		if o.mode != 0 {
			out.Mode = o.mode
		}
	}
	out.Uname, out.Uid = user.name, user.id
	out.Gname, out.Gid = group.name, group.id

	return &out
}

// Scriptlet normalizes a scriptlet header and makes it executable.
func (n *Normalizer) Scriptlet(hdr *tar.Header) *tar.Header {
	out := n.Normalize(hdr)
	out.Mode = ScriptletMode
	return out
}

// WithChecksum normalizes a data header and tags it with a content checksum.
// An empty checksum adds nothing.
func (n *Normalizer) WithChecksum(hdr *tar.Header, checksum string) *tar.Header {
	out := n.Normalize(hdr)
	if checksum != "" {
		out.PAXRecords[ChecksumRecord] = checksum
	}
	return out
}
