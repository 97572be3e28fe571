package provision

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
	"github.com/teranos/roslyn-wrapper/errors"
)

const stagingPrefix = ".tmp_"

// State of a cache slot.
type State int

const (
	Absent State = iota
	Downloading
	Ready
)

func (s State) String() string {
	switch s {
	case Downloading:
		return "downloading"
	case Ready:
		return "ready"
	default:
		return "absent"
	}
}

// Entry describes one (version, rid) slot of the cache.
type Entry struct {
	Version string
	RID     string
	Dir     string
	// Path is the executable; set only when State is Ready
	Path  string
	State State
}

// Cache is the on-disk binary cache:
//
//	<root>/<version>/<rid>/            extracted server, ready to run
//	<root>/<version>-<rid>.lock        cross-process install lock
//	<root>/.tmp_<uuid>/                staging for one install
type Cache struct {
	root string
	fs   afero.Fs
}

// DefaultCacheRoot returns <user cache dir>/roslyn-wrapper.
func DefaultCacheRoot() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to determine user cache directory")
	}
	return filepath.Join(dir, "roslyn-wrapper"), nil
}

// NewCache returns a cache rooted at root. Nothing is created until an install.
func NewCache(root string) (*Cache, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid cache root %s", root)
	}
	return &Cache{root: abs, fs: afero.NewOsFs()}, nil
}

func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) SlotDir(version, rid string) string {
	return filepath.Join(c.root, version, rid)
}

func (c *Cache) LockPath(version, rid string) string {
	return filepath.Join(c.root, version+"-"+rid+".lock")
}

// Lookup reports the state of a slot without blocking.
func (c *Cache) Lookup(version, rid string) Entry {
	e := Entry{Version: version, RID: rid, Dir: c.SlotDir(version, rid)}
	if path, ok := c.findBinary(e.Dir, binaryName(rid), true); ok {
		e.Path = path
		e.State = Ready
		return e
	}
	if lockHeld(c.LockPath(version, rid)) {
		e.State = Downloading
	}
	return e
}

// findBinary searches dir for a file called name. Packages have shipped
// the server both directly in the content directory and one level below it.
func (c *Cache) findBinary(dir, name string, executable bool) (string, bool) {
	var found string
	_ = afero.Walk(c.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && info.Name() == name && (!executable || isExecutable(info)) {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	return found, found != ""
}

func isExecutable(info os.FileInfo) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
