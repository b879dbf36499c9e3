package models

// BuildConfig contains configuration for assembling one package
type BuildConfig struct {
	// Input
	DestDir      string // installation root
	ScriptletDir string // holds <pkgname>.<hook> files
	TempDir      string // staging area for the data segment

	// Output
	OutputPath string

	// Arch overrides the arch from the metadata when set
	Arch string

	// Epoch is the fixed build time, in seconds, stamped on every entry
	Epoch int64

	// Signing
	RSAKeyPath    string
	RSAPassphrase string
	RSAKeyName    string // defaults to <key file>.pub
	GPGKeyPath    string
	GPGPassphrase string
}

// IndexConfig contains configuration for APKINDEX generation
type IndexConfig struct {
	InputDir    string
	OutputDir   string
	Description string
	Epoch       int64

	RSAKeyPath    string
	RSAPassphrase string
	RSAKeyName    string
}
