package pkginfo

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/ralt/apkbuild/internal/models"
)

// Parse decodes a .PKGINFO record. Comment and blank lines are skipped;
// unknown keys are kept in Extra.
func Parse(data []byte) (*models.Package, error) {
	pkg := &models.Package{
		Extra: make(map[string][]string),
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))

	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, " = ")
		if !ok {
			return nil, fmt.Errorf("line %d: missing ' = ' separator", lineNo)
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "pkgname":
			pkg.Name = value
		case "pkgver":
			pkg.Version = value
		case "pkgdesc":
			pkg.Description = value
		case "url":
			pkg.Homepage = value
		case "builddate":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid builddate: %w", lineNo, err)
			}
			pkg.BuildDate = n
		case "packager":
			pkg.Packager = value
		case "maintainer":
			pkg.Maintainer = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid size: %w", lineNo, err)
			}
			pkg.InstalledSize = n
		case "arch":
			pkg.Architecture = value
		case "origin":
			pkg.Origin = value
		case "commit":
			pkg.Commit = value
		case "license":
			pkg.License = value
		case "replaces":
			pkg.Replaces = append(pkg.Replaces, value)
		case "depend":
			pkg.Dependencies = append(pkg.Dependencies, value)
		case "provides":
			pkg.Provides = append(pkg.Provides, value)
		case "provider_priority":
			pkg.ProviderPriority = value
		case "install_if":
			pkg.InstallIf = strings.Fields(value)
		case "triggers":
			pkg.Triggers = strings.Fields(value)
		case "datahash":
			pkg.DataHash = value
		default:
			pkg.Extra[key] = append(pkg.Extra[key], value)
		}
	}

	return pkg, scanner.Err()
}
