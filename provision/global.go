package provision

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/teranos/roslyn-wrapper/errors"
)

// ErrNoGlobalInstall means no dotnet global tool install was found.
var ErrNoGlobalInstall = errors.New("no global language server install found")

// FindGlobalInstall looks for the server installed with
// `dotnet tool install --global Microsoft.CodeAnalysis.LanguageServer`.
func FindGlobalInstall() (string, error) {
	var homes []string
	if home, err := os.UserHomeDir(); err == nil {
		homes = append(homes, home)
	}
	if runtime.GOOS == "windows" {
		if profile := os.Getenv("USERPROFILE"); profile != "" {
			homes = append(homes, profile)
		}
	}
	return findGlobalInstall(homes, binaryNameFor(runtime.GOOS))
}

func findGlobalInstall(homes []string, name string) (string, error) {
	for _, home := range homes {
		path := filepath.Join(home, ".dotnet", "tools", name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", errors.WithHint(ErrNoGlobalInstall,
		"install it with: dotnet tool install --global Microsoft.CodeAnalysis.LanguageServer")
}

func binaryNameFor(goos string) string {
	if goos == "windows" {
		return BinaryBaseName + ".exe"
	}
	return BinaryBaseName
}
