package provision

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v4"
	getter "github.com/hashicorp/go-getter"
	"github.com/teranos/roslyn-wrapper/errors"
)

// PackageURL returns the NuGet v3 flat-container URL of the server package.
func PackageURL(origin, version, rid string) string {
	id := PackageID(rid)
	return strings.TrimRight(origin, "/") + "/" + id + "/" + strings.ToLower(version) + "/" + id + "." + strings.ToLower(version) + ".nupkg"
}

// statusError is an HTTP response outside 2xx/3xx.
type statusError struct {
	Code   int
	Status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// transient reports whether retrying the same request may succeed.
func (e *statusError) transient() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// statusTransport turns error statuses into a typed error. go-getter only
// reports them as text.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &statusError{Code: resp.StatusCode, Status: resp.Status}
	}
	return resp, nil
}

func withStatusErrors(c *http.Client) *http.Client {
	cp := *c
	base := cp.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp.Transport = statusTransport{base: base}
	return &cp
}

// fetch downloads src to the file dst. It calls the HTTP getter directly
// because getter.Client flattens errors to strings, and the caller needs to
// tell local write failures from network ones. Failures that a retry cannot
// fix come back as backoff.Permanent.
func fetch(ctx context.Context, client *http.Client, src, dst string) error {
	u, err := url.Parse(src)
	if err != nil {
		return backoff.Permanent(errors.Mark(errors.Wrapf(err, "invalid package URL %s", src), ErrNetwork))
	}
	g := &getter.HttpGetter{
		Client:              client,
		Netrc:               false,
		DoNotCheckHeadFirst: true,
	}
	g.SetClient(&getter.Client{Ctx: ctx, Mode: getter.ClientModeFile})

	err = g.GetFile(dst, u)
	if err == nil {
		return nil
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return backoff.Permanent(markDisk(err, "failed to write %s", dst))
	}
	err = errors.Wrapf(err, "GET %s", src)
	var se *statusError
	if errors.As(err, &se) && !se.transient() {
		return backoff.Permanent(errors.Mark(err, ErrNetwork))
	}
	return err
}

// unpack extracts the zip archive src into the directory dst.
func unpack(src, dst string) error {
	zip := &getter.ZipDecompressor{}
	if err := zip.Decompress(dst, src, true, 0); err != nil {
		return markArtifact(err, "failed to extract %s", src)
	}
	return nil
}
