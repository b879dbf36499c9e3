package index

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ralt/apkbuild/internal/models"
)

// ChecksumPrefix marks a base64 SHA-1 in the C: field
const ChecksumPrefix = "Q1"

// IndexChecksum converts the hex SHA-1 of a control segment to the C: value
func IndexChecksum(controlSHA1 string) (string, error) {
	raw, err := hex.DecodeString(controlSHA1)
	if err != nil {
		return "", fmt.Errorf("invalid control checksum %q: %w", controlSHA1, err)
	}
	return ChecksumPrefix + base64.StdEncoding.EncodeToString(raw), nil
}

// generateAPKINDEX creates an APKINDEX in apk's letter:value format. Every
// record, the last one included, ends with a blank line.
func generateAPKINDEX(packages []models.Package) ([]byte, error) {
	var buf bytes.Buffer

	for _, pkg := range packages {
		checksum, err := IndexChecksum(pkg.ControlSHA1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pkg.Name, err)
		}

		fmt.Fprintf(&buf, "C:%s\n", checksum)
		fmt.Fprintf(&buf, "P:%s\n", pkg.Name)
		fmt.Fprintf(&buf, "V:%s\n", pkg.Version)
		fmt.Fprintf(&buf, "A:%s\n", pkg.Architecture)
		fmt.Fprintf(&buf, "S:%d\n", pkg.Size)
		fmt.Fprintf(&buf, "I:%d\n", pkg.InstalledSize)

		writeField(&buf, 'T', pkg.Description)
		writeField(&buf, 'U', pkg.Homepage)
		writeField(&buf, 'L', pkg.License)
		writeField(&buf, 'o', pkg.Origin)
		writeField(&buf, 'm', pkg.Maintainer)
		if pkg.BuildDate != 0 {
			fmt.Fprintf(&buf, "t:%d\n", pkg.BuildDate)
		}
		writeField(&buf, 'c', pkg.Commit)
		writeField(&buf, 'k', pkg.ProviderPriority)
		writeField(&buf, 'D', strings.Join(pkg.Dependencies, " "))
		writeField(&buf, 'p', strings.Join(pkg.Provides, " "))
		writeField(&buf, 'r', strings.Join(pkg.Replaces, " "))
		writeField(&buf, 'i', strings.Join(pkg.InstallIf, " "))

		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key byte, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(buf, "%c:%s\n", key, value)
}
