package utils

import (
	"fmt"

	"github.com/ralt/apkbuild/internal/models"
)

// PackageIdentity returns the key apk uses to tell packages apart in an index
func PackageIdentity(pkg models.Package) string {
	return fmt.Sprintf("%s:%s:%s", pkg.Name, pkg.Version, pkg.Architecture)
}

// PackageFilename returns the canonical file name of a package
func PackageFilename(name, version string) string {
	return fmt.Sprintf("%s-%s.apk", name, version)
}

// DetectConflicts returns every package whose identity was already taken by
// an earlier package in the list
func DetectConflicts(packages []models.Package) []models.Package {
	seen := make(map[string]bool)

	var conflicts []models.Package
	for _, pkg := range packages {
		id := PackageIdentity(pkg)
		if seen[id] {
			conflicts = append(conflicts, pkg)
			continue
		}
		seen[id] = true
	}
	return conflicts
}
