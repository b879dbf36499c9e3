// Package pkginfo reads and writes .PKGINFO, the key = value control record
// of an APK.
package pkginfo

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ralt/apkbuild/internal/models"
)

// Generator is named in the first comment line of every record.
const Generator = "apkbuild"

// Fields are the values computed during assembly rather than taken from the
// metadata.
type Fields struct {
	Arch      string
	BuildDate int64
	Size      int64
	DataHash  string
}

// Record is an append-only .PKGINFO under construction. Empty values never
// produce a line.
type Record struct {
	buf bytes.Buffer
}

// NewRecord starts a record with the generator and build time comments.
func NewRecord(epoch int64) *Record {
	r := &Record{}
	fmt.Fprintf(&r.buf, "# Generated by %s\n", Generator)
	fmt.Fprintf(&r.buf, "# %s\n", time.Unix(epoch, 0).UTC().Format("2006-01-02 15:04:05"))
	return r
}

// Add appends one key = value line unless value is empty.
func (r *Record) Add(key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(&r.buf, "%s = %s\n", key, value)
}

// Bytes returns the record so far.
func (r *Record) Bytes() []byte {
	return r.buf.Bytes()
}

// Build writes every field of m in the order apk tooling expects. The
// datahash line is left out when f.DataHash is empty.
func Build(m *models.PackageMetadata, f Fields) []byte {
	r := NewRecord(f.BuildDate)

	r.Add("pkgname", m.Name)
	r.Add("pkgver", m.Version)
	r.Add("pkgdesc", m.Description)
	r.Add("url", m.URL)
	r.Add("builddate", strconv.FormatInt(f.BuildDate, 10))
	r.Add("packager", m.Packager)
	r.Add("maintainer", m.Maintainer)
	r.Add("size", strconv.FormatInt(f.Size, 10))

	arch := f.Arch
	if arch == "" {
		arch = m.Arch
	}
	r.Add("arch", arch)

	origin := m.Origin
	if origin == "" {
		origin = m.Name
	}
	r.Add("origin", origin)

	r.Add("commit", m.Commit)
	r.Add("license", m.License)

	for _, v := range m.Replaces {
		r.Add("replaces", v)
	}

	for _, v := range m.Depends {
		r.Add("depend", v)
	}
	for _, v := range m.ShlibRequires {
		r.Add("depend", "so:"+v)
	}
	for _, v := range m.PCRequires {
		r.Add("depend", "pc:"+v)
	}

	for _, v := range m.Provides {
		r.Add("provides", v)
	}
	for _, so := range m.ShlibProvides {
		r.Add("provides", "so:"+so.Soname+"="+so.Version)
	}
	for _, v := range m.CmdProvides {
		r.Add("provides", "cmd:"+v)
	}
	for _, v := range m.PCProvides {
		r.Add("provides", "pc:"+v)
	}

	if m.ProviderPriority != nil {
		r.Add("provider_priority", strconv.Itoa(*m.ProviderPriority))
	}

	r.Add("install_if", strings.Join(m.InstallIf, " "))
	r.Add("triggers", strings.Join(m.Triggers, " "))

	r.Add("datahash", f.DataHash)

	return r.Bytes()
}
