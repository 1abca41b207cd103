// Package ociclient is a minimal subset of the OCI distribution
// protocol sufficient to push and pull mcpkit's two-layer bundles:
// authenticated manifest push, blob upload (monolithic or chunked),
// manifest pull, and blob pull, generalized from the teacher's
// registry.Client (authenticate/fetchManifest/downloadBlob) with push
// support and pluggable credential sources added.
package ociclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/mcpkit/mcpkit/pkg/bundle"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/logger"
)

var log = logger.New("ociclient")

// chunkSize bounds how much of a blob is sent per PATCH request
// during a chunked upload.
const chunkSize = 4 << 20 // 4 MiB

// maxRetries bounds the retries after the first attempt of a transient
// failure (at most maxRetries+1 attempts in all), per spec.md §4.7's
// "small bounded number of attempts".
const maxRetries = 5

// Client is a registry client scoped to one registry host.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      Credentials
	token      string
}

// NewClient constructs a client for the given registry host (e.g.
// "registry.example.com") using creds as given; credential resolution
// is the caller's job (see ResolveCredentials).
func NewClient(registryHost string, creds Credentials) *Client {
	return &Client{
		baseURL: "https://" + registryHost,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
		creds: creds,
	}
}

// Push uploads every blob referenced by manifest, then the manifest
// itself. Blobs are uploaded before the manifest that references them
// and the push is considered committed only once the registry accepts
// the manifest PUT, per spec.md §4.7's ordering guarantee.
func (c *Client) Push(ctx context.Context, ref *Reference, manifest *bundle.Manifest, blobs map[digest.Digest][]byte) error {
	if err := c.authenticate(ctx, ref, "push,pull"); err != nil {
		return err
	}

	for _, d := range append([]ocispec.Descriptor{manifest.Config}, manifest.Layers...) {
		data, ok := blobs[d.Digest]
		if !ok {
			return errors.New(errors.ErrBundleInvalid, "manifest references a blob not present in the push set").
				WithField("digest", d.Digest.String())
		}
		if err := c.retryTransient(ctx, func() error {
			return c.uploadBlob(ctx, ref, d.Digest, data)
		}); err != nil {
			return errors.Wrap(errors.ErrRegistryFatal, "failed to upload blob", err).
				WithField("digest", d.Digest.String())
		}
	}

	manifestJSON, err := json.Marshal(manifest.Manifest)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to marshal manifest", err)
	}

	return c.retryTransient(ctx, func() error {
		return c.putManifest(ctx, ref, manifestJSON)
	})
}

// Pull fetches a manifest and returns it alongside a FetchBlobFunc
// that downloads (and the caller, via pkg/bundle.Decode, verifies) its
// blobs on demand. Manifests are fetched first, blobs lazily after, per
// spec.md §4.7's pull ordering.
func (c *Client) Pull(ctx context.Context, ref *Reference) (*bundle.Manifest, bundle.FetchBlobFunc, error) {
	if err := c.authenticate(ctx, ref, "pull"); err != nil {
		return nil, nil, err
	}

	var manifest bundle.Manifest
	err := c.retryTransient(ctx, func() error {
		data, fetchErr := c.getManifest(ctx, ref)
		if fetchErr != nil {
			return fetchErr
		}
		return json.Unmarshal(data, &manifest.Manifest)
	})
	if err != nil {
		return nil, nil, errors.Wrap(errors.ErrRegistryFatal, "failed to fetch manifest", err).
			WithField("ref", ref.String())
	}

	fetch := func(d ocispec.Descriptor) ([]byte, error) {
		var data []byte
		err := c.retryTransient(ctx, func() error {
			var fetchErr error
			data, fetchErr = c.getBlob(ctx, ref, d.Digest)
			return fetchErr
		})
		return data, err
	}

	return &manifest, fetch, nil
}

// retryTransient retries op with bounded exponential backoff when it
// fails with a transient error (5xx, connection reset); a
// fatalHTTPError (a 4xx response) is never retried, per spec.md §4.7's
// failure semantics.
func (c *Client) retryTransient(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(maxRetries)), ctx)
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if fatalErr, ok := err.(*fatalHTTPError); ok {
			return backoff.Permanent(fatalErr.err)
		}
		log.WithError(err).Warnf("transient registry failure, attempt %d", attempt)
		return err
	}, policy)
}

// fatalHTTPError wraps an error that must not be retried (a 4xx
// response). Digest verification happens in pkg/bundle.Decode, outside
// any retry.
type fatalHTTPError struct{ err error }

func (f *fatalHTTPError) Error() string { return f.err.Error() }

func fatal(err error) error { return &fatalHTTPError{err: err} }

// authenticate requests a bearer token scoped to ref's repository,
// generalizing the teacher's hardcoded Docker Hub auth URL into one
// that could target any registry exposing the same token-auth flow.
func (c *Client) authenticate(ctx context.Context, ref *Reference, scope string) error {
	if c.creds.Username == "" && c.creds.Password == "" {
		return nil
	}

	authURL := fmt.Sprintf("%s/token?scope=repository:%s:%s", c.baseURL, ref.Repository, scope)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return errors.Wrap(errors.ErrRegistryAuth, "failed to build auth request", err)
	}
	req.SetBasicAuth(c.creds.Username, c.creds.Password)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrRegistryTransient, "auth request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(errors.ErrRegistryAuth, "registry authentication failed").
			WithField("status", resp.StatusCode)
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return errors.Wrap(errors.ErrRegistryAuth, "failed to decode auth response", err)
	}
	c.token = tokenResp.Token
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) getManifest(ctx context.Context, ref *Reference) ([]byte, error) {
	tagOrDigest := ref.Tag
	if ref.Digest != "" {
		tagOrDigest = ref.Digest
	}
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", c.baseURL, ref.Repository, tagOrDigest)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", bundle.MediaTypeManifest)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fatal(errors.New(errors.ErrRegistryNotFound, "manifest not found").WithField("ref", ref.String()))
	}
	if resp.StatusCode/100 == 4 {
		return nil, fatal(fmt.Errorf("manifest fetch failed with status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch failed with status %d", resp.StatusCode)
	}
	return body, nil
}

func (c *Client) putManifest(ctx context.Context, ref *Reference, data []byte) error {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", c.baseURL, ref.Repository, ref.Tag)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", bundle.MediaTypeManifest)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 4 {
		body, _ := io.ReadAll(resp.Body)
		return fatal(fmt.Errorf("manifest push rejected with status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("manifest push failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getBlob(ctx context.Context, ref *Reference, d digest.Digest) ([]byte, error) {
	url := fmt.Sprintf("%s/v2/%s/blobs/%s", c.baseURL, ref.Repository, d.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fatal(errors.New(errors.ErrRegistryNotFound, "blob not found").WithField("digest", d.String()))
	}
	if resp.StatusCode/100 == 4 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fatal(fmt.Errorf("blob fetch rejected with status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob fetch failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// uploadBlob skips upload entirely if the blob already exists (HEAD
// check), otherwise starts an upload session and uploads monolithic
// (a single PUT) when the blob is small, or chunked (sequential PATCH
// requests followed by a final empty PUT) when it exceeds chunkSize.
func (c *Client) uploadBlob(ctx context.Context, ref *Reference, d digest.Digest, data []byte) error {
	if exists, err := c.blobExists(ctx, ref, d); err != nil {
		return err
	} else if exists {
		return nil
	}

	location, err := c.startUploadSession(ctx, ref)
	if err != nil {
		return err
	}

	if len(data) <= chunkSize {
		return c.putBlobMonolithic(ctx, location, d, data)
	}
	return c.putBlobChunked(ctx, location, d, data)
}

func (c *Client) blobExists(ctx context.Context, ref *Reference, d digest.Digest) (bool, error) {
	url := fmt.Sprintf("%s/v2/%s/blobs/%s", c.baseURL, ref.Repository, d.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK, nil
}

func (c *Client) startUploadSession(ctx context.Context, ref *Reference) (string, error) {
	url := fmt.Sprintf("%s/v2/%s/blobs/uploads/", c.baseURL, ref.Repository)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 4 {
		body, _ := io.ReadAll(resp.Body)
		return "", fatal(fmt.Errorf("blob upload session rejected with status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("blob upload session failed with status %d", resp.StatusCode)
	}
	location := resp.Header.Get("Location")
	if location == "" {
		return "", errors.New(errors.ErrRegistryFatal, "registry did not return an upload location")
	}
	return c.resolveLocation(location), nil
}

// resolveLocation resolves a registry-returned Location header against
// the client's base URL when the registry returns a relative path, the
// common case for the distribution protocol's chunked upload flow.
func (c *Client) resolveLocation(location string) string {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return location
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return location
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

func (c *Client) putBlobMonolithic(ctx context.Context, location string, d digest.Digest, data []byte) error {
	url := fmt.Sprintf("%s%sdigest=%s", location, querySeparator(location), d.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 4 {
		body, _ := io.ReadAll(resp.Body)
		return fatal(fmt.Errorf("blob commit rejected with status %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("blob commit failed with status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) putBlobChunked(ctx context.Context, location string, d digest.Digest, data []byte) error {
	offset := 0
	for offset < len(data) {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		req, err := http.NewRequestWithContext(ctx, http.MethodPatch, location, bytes.NewReader(chunk))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Content-Range", fmt.Sprintf("%d-%d", offset, end-1))
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		if next := resp.Header.Get("Location"); next != "" {
			location = c.resolveLocation(next)
		}
		status := resp.StatusCode
		resp.Body.Close()

		if status/100 == 4 {
			return fatal(fmt.Errorf("blob chunk rejected with status %d", status))
		}
		if status != http.StatusAccepted {
			return fmt.Errorf("blob chunk upload failed with status %d", status)
		}
		offset = end
	}

	return c.putBlobMonolithic(ctx, location, d, nil)
}

func querySeparator(location string) string {
	if bytes.ContainsRune([]byte(location), '?') {
		return "&"
	}
	return "?"
}
