package models

// Package represents a built APK as seen by readers of its .PKGINFO, plus the
// file information needed to index it.
type Package struct {
	// Core metadata
	Name             string
	Version          string
	Architecture     string
	Description      string
	Homepage         string
	License          string
	Origin           string
	Maintainer       string
	Packager         string
	Commit           string
	BuildDate        int64
	InstalledSize    int64
	ProviderPriority string
	Dependencies     []string
	Provides         []string
	Replaces         []string
	InstallIf        []string
	Triggers         []string
	DataHash         string

	// File information
	Filename string
	Size     int64

	// ControlSHA1 is the hex SHA-1 of the compressed control segment, the
	// identity apk uses in APKINDEX.
	ControlSHA1 string

	// Unrecognized .PKGINFO keys, in file order
	Extra map[string][]string
}
