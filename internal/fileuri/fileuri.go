// Package fileuri converts between filesystem paths and file:// URIs as they
// appear in LSP messages.
package fileuri

import (
	"path/filepath"
	"strings"

	"github.com/teranos/roslyn-wrapper/errors"
	"go.lsp.dev/uri"
)

// ErrNotFileURI is returned for URIs with a scheme other than file
var ErrNotFileURI = errors.New("not a file URI")

// FromPath returns the file:// URI for path, made absolute first.
func FromPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to make %s absolute", path)
	}
	return string(uri.File(abs)), nil
}

// ToPath returns the filesystem path named by a file:// URI.
func ToPath(s string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(s), uri.FileScheme+"://") {
		return "", errors.Wrapf(ErrNotFileURI, "%q", s)
	}
	u, err := uri.Parse(s)
	if err != nil {
		return "", errors.Wrapf(err, "invalid file URI %q", s)
	}
	return u.Filename(), nil
}

// Resolve accepts either a file URI or a plain path and returns a path.
// Relative paths are resolved against base.
func Resolve(s, base string) (string, error) {
	if strings.Contains(s, "://") {
		return ToPath(s)
	}
	if !filepath.IsAbs(s) && base != "" {
		s = filepath.Join(base, s)
	}
	return filepath.Clean(s), nil
}
