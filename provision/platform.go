package provision

import (
	"runtime"
	"strings"

	"github.com/teranos/roslyn-wrapper/errors"
)

// BinaryBaseName is the language server executable without extension.
const BinaryBaseName = "Microsoft.CodeAnalysis.LanguageServer"

// Platform is a GOOS/GOARCH pair.
type Platform struct {
	OS   string
	Arch string
}

// CurrentPlatform returns the platform this binary was built for.
func CurrentPlatform() Platform {
	return Platform{OS: runtime.GOOS, Arch: runtime.GOARCH}
}

var ridOS = map[string]string{
	"windows": "win",
	"linux":   "linux",
	"darwin":  "osx",
}

var ridArch = map[string]string{
	"amd64": "x64",
	"arm64": "arm64",
}

// RID returns the NuGet runtime identifier for p, e.g. linux-x64.
func (p Platform) RID() (string, error) {
	osPart, okOS := ridOS[p.OS]
	arch, okArch := ridArch[p.Arch]
	if !okOS || !okArch {
		return "", errors.Mark(
			errors.WithHint(
				errors.Newf("no language server package for %s/%s", p.OS, p.Arch),
				"install it with: dotnet tool install --global Microsoft.CodeAnalysis.LanguageServer",
			),
			ErrUnsupportedPlatform,
		)
	}
	return osPart + "-" + arch, nil
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// binaryName returns the executable file name inside a package for rid.
func binaryName(rid string) string {
	if strings.HasPrefix(rid, "win-") {
		return BinaryBaseName + ".exe"
	}
	return BinaryBaseName
}

// PackageID returns the lower-cased NuGet package id for rid.
func PackageID(rid string) string {
	return strings.ToLower(BinaryBaseName) + "." + rid
}
