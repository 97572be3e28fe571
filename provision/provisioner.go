// Package provision resolves the language server executable, downloading
// and caching it on first use.
package provision

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/teranos/roslyn-wrapper/errors"
	"github.com/teranos/roslyn-wrapper/internal/httpclient"
	"github.com/teranos/roslyn-wrapper/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// contentDir is where a server package keeps the runnable server.
var contentDir = filepath.Join("content", "LanguageServer")

// Options configures a Provisioner.
type Options struct {
	// Origin is the NuGet v3 flat-container base URL
	Origin string
	// Retries is how many times a failed download is retried
	Retries int
	// RetryInterval is the first backoff interval between download attempts
	RetryInterval time.Duration
	// Timeout bounds each download attempt when HTTPClient is nil
	Timeout time.Duration
	// Prune removes older versions after a successful install
	Prune bool
	// Platform overrides the running platform
	Platform *Platform
	// HTTPClient overrides the default download client
	HTTPClient *http.Client
	// LockRetryInterval is the first poll interval while another process installs
	LockRetryInterval time.Duration
	// Progress, if set, receives user-facing status lines during an install
	Progress func(message string)
}

// Provisioner acquires server binaries into a Cache.
// Safe for concurrent use; at most one install per (version, rid) runs at a
// time within a process, and the lockfile extends that across processes.
type Provisioner struct {
	cache    *Cache
	opts     Options
	platform Platform
	client   *http.Client
	group    singleflight.Group
	logger   *zap.SugaredLogger
}

// New creates a Provisioner over cache.
func New(cache *Cache, opts Options) *Provisioner {
	platform := CurrentPlatform()
	if opts.Platform != nil {
		platform = *opts.Platform
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = httpclient.New(opts.Timeout, httpclient.Options{})
	}
	client = withStatusErrors(client)
	return &Provisioner{
		cache:    cache,
		opts:     opts,
		platform: platform,
		client:   client,
		logger:   logger.ComponentLogger("provision"),
	}
}

// Acquire returns the path of a ready-to-run server executable for version,
// downloading it if the cache does not have it. Concurrent callers asking
// for the same version share one download and receive the same result.
func (p *Provisioner) Acquire(ctx context.Context, version string) (string, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return "", errors.Wrapf(err, "invalid server version %q", version)
	}
	rid, err := p.platform.RID()
	if err != nil {
		p.logger.Errorw("platform not supported", "platform", p.platform.String(), logger.FieldError, err)
		return "", err
	}

	if e := p.cache.Lookup(version, rid); e.State == Ready {
		p.logger.Debugw("using cached server", logger.FieldVersion, version, logger.FieldRID, rid, logger.FieldPath, e.Path)
		return e.Path, nil
	}

	key := version + "/" + rid
	ch := p.group.DoChan(key, func() (interface{}, error) {
		return p.install(ctx, version, rid)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", errors.Wrapf(ctx.Err(), "waiting for server %s install", key)
	}
}

// install runs under the single-flight for (version, rid).
func (p *Provisioner) install(ctx context.Context, version, rid string) (string, error) {
	log := logger.ChildLogger(p.logger, logger.FieldVersion, version, logger.FieldRID, rid)

	if err := os.MkdirAll(p.cache.Root(), 0o755); err != nil {
		return "", markDisk(err, "failed to create cache root %s", p.cache.Root())
	}

	lock := newLockfile(p.cache.LockPath(version, rid))
	defer lock.Close()
	if err := lock.Lock(ctx, p.opts.LockRetryInterval); err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(ctx.Err(), "waiting for install lock")
		}
		return "", markDisk(err, "failed to lock %s", lock.path)
	}

	// Another process may have finished while we waited
	if e := p.cache.Lookup(version, rid); e.State == Ready {
		log.Infow("server installed by another process", logger.FieldPath, e.Path)
		return e.Path, nil
	}

	start := time.Now()
	staging := filepath.Join(p.cache.Root(), stagingPrefix+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", markDisk(err, "failed to create staging directory")
	}
	defer os.RemoveAll(staging)

	url := PackageURL(p.opts.Origin, version, rid)
	archive := filepath.Join(staging, PackageID(rid)+".nupkg")
	log.Infow("downloading server", logger.FieldURL, url)
	p.progress("Downloading Roslyn language server %s (%s)...", version, rid)
	if err := p.download(ctx, url, archive); err != nil {
		log.Errorw("download failed", logger.FieldURL, url, logger.FieldError, err)
		return "", err
	}

	extracted := filepath.Join(staging, "pkg")
	if err := unpack(archive, extracted); err != nil {
		log.Errorw("extraction failed", logger.FieldError, err)
		return "", err
	}

	content := filepath.Join(extracted, contentDir)
	name := binaryName(rid)
	binary, ok := p.cache.findBinary(content, name, false)
	if !ok {
		err := errors.Mark(errors.Newf("%s not found under %s in package", name, filepath.ToSlash(contentDir)), ErrArtifactFormat)
		log.Errorw("bad package", logger.FieldError, err)
		return "", err
	}
	if err := os.Chmod(binary, 0o755); err != nil {
		return "", markDisk(err, "failed to mark %s executable", binary)
	}
	rel, err := filepath.Rel(content, binary)
	if err != nil {
		return "", markArtifact(err, "binary outside content directory")
	}

	slot := p.cache.SlotDir(version, rid)
	if err := os.MkdirAll(filepath.Dir(slot), 0o755); err != nil {
		return "", markDisk(err, "failed to create %s", filepath.Dir(slot))
	}
	// A slot that is not Ready is debris from an interrupted install
	if err := os.RemoveAll(slot); err != nil {
		return "", markDisk(err, "failed to clear %s", slot)
	}
	if err := os.Rename(content, slot); err != nil {
		return "", markDisk(err, "failed to move server into %s", slot)
	}

	path := filepath.Join(slot, rel)
	log.Infow("server installed",
		logger.FieldPath, path,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	p.progress("Roslyn language server %s installation complete", version)

	if p.opts.Prune {
		p.prune(version)
	}
	return path, nil
}

// download fetches url to dst, retrying transient network failures with
// backoff. Local write failures and client errors are not retried.
func (p *Provisioner) download(ctx context.Context, url, dst string) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(p.opts.RetryInterval),
				backoff.WithMaxInterval(30*time.Second),
			),
			uint64(p.opts.Retries),
		),
		ctx,
	)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		_ = os.Remove(dst)
		err := fetch(ctx, p.client, url, dst)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, b, func(err error, next time.Duration) {
		p.logger.Warnw("download attempt failed, retrying",
			logger.FieldURL, url,
			"attempt", attempt,
			"retry_in", next.String(),
			logger.FieldError, err)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Wrap(ctx.Err(), "download interrupted")
	}
	if errors.IsAny(err, ErrDiskWrite, ErrNetwork) {
		return err
	}
	return errors.Mark(errors.Wrapf(err, "after %d attempts", attempt), ErrNetwork)
}

func (p *Provisioner) progress(format string, args ...interface{}) {
	if p.opts.Progress != nil {
		p.opts.Progress(fmt.Sprintf(format, args...))
	}
}

// prune removes cached versions older than keep. Directory names that are not
// versions, staging directories, and lock files are left alone.
func (p *Provisioner) prune(keep string) {
	current, err := semver.NewVersion(keep)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(p.cache.Root())
	if err != nil {
		p.logger.Debugw("prune skipped", logger.FieldError, err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		v, err := semver.NewVersion(e.Name())
		if err != nil || !v.LessThan(current) {
			continue
		}
		dir := filepath.Join(p.cache.Root(), e.Name())
		if err := os.RemoveAll(dir); err != nil {
			p.logger.Debugw("failed to remove old version", logger.FieldPath, dir, logger.FieldError, err)
			continue
		}
		p.logger.Infow("removed old server version", logger.FieldVersion, e.Name())
	}
}
