package provision

import (
	"github.com/teranos/roslyn-wrapper/errors"
)

// Failure kinds. Every error returned by Acquire matches exactly one of these
// with errors.Is, except an invalid version string and context cancellation.
var (
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	ErrNetwork             = errors.New("package download failed")
	ErrDiskWrite           = errors.New("cache write failed")
	ErrArtifactFormat      = errors.New("unexpected package layout")
)

func markDisk(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrDiskWrite)
}

func markArtifact(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrArtifactFormat)
}
