// Package bundle encodes and decodes the two-layer OCI artifact that
// distributes one mcpkit module: a WASM byte layer and a configuration
// document layer, each digest-verified per the OCI image spec.
// Generalized from the teacher's simplified, digest-less
// pkg/image.Manifest/SaveManifest/LoadManifest into real
// digest-verified OCI descriptors.
package bundle

import (
	"strconv"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/policy"
)

// FormatVersion is the bundle manifest format version this codec
// produces and accepts.
const FormatVersion = 1

const (
	// MediaTypeWasmLayer is layer 0: the compiled WASM module bytes.
	MediaTypeWasmLayer = "application/wasm"
	// MediaTypeConfigLayer is layer 1: the policy configuration
	// document, expressed in the declarative YAML notation C2 parses.
	MediaTypeConfigLayer = "application/vnd.mcpkit.config+yaml"
	// MediaTypeManifest is the manifest's own media type.
	MediaTypeManifest = "application/vnd.oci.image.manifest.v1+json"
)

// Annotation keys recorded on the manifest itself.
const (
	AnnotationFormatVersion = "io.mcpkit.bundle.version"
)

// Manifest is the two-layer OCI manifest mcpkit bundles are
// distributed as. It embeds the standard OCI manifest shape so it can
// be pushed/pulled with an unmodified OCI distribution client.
type Manifest struct {
	ocispec.Manifest
}

// Bundle is a manifest plus its two resolved blobs, ready to hand to
// the sandbox host (the WASM bytes) and the policy engine (the parsed
// configuration document).
type Bundle struct {
	Manifest   Manifest
	WasmBytes  []byte
	ConfigYAML []byte
}

// Encode builds a two-layer manifest from WASM module bytes and a
// configuration document's raw bytes, along with the blob map the
// caller is responsible for persisting or pushing, keyed by the
// digest referenced from the manifest.
func Encode(wasmBytes, configYAML []byte) (*Manifest, map[digest.Digest][]byte, error) {
	if len(wasmBytes) == 0 {
		return nil, nil, errors.New(errors.ErrBundleInvalid, "wasm layer must not be empty")
	}
	if len(configYAML) == 0 {
		return nil, nil, errors.New(errors.ErrBundleInvalid, "config layer must not be empty")
	}

	wasmDescriptor := descriptorFor(MediaTypeWasmLayer, wasmBytes)
	configDescriptor := descriptorFor(MediaTypeConfigLayer, configYAML)

	manifest := Manifest{
		Manifest: ocispec.Manifest{
			MediaType: MediaTypeManifest,
			Config:    configDescriptor,
			Layers:    []ocispec.Descriptor{wasmDescriptor},
			Annotations: map[string]string{
				AnnotationFormatVersion: formatVersionString(),
			},
		},
	}
	manifest.SchemaVersion = 2

	blobs := map[digest.Digest][]byte{
		wasmDescriptor.Digest:   wasmBytes,
		configDescriptor.Digest: configYAML,
	}

	return &manifest, blobs, nil
}

// FetchBlobFunc resolves a descriptor's blob from whatever backing
// store (local cache or registry pull) the caller is using.
type FetchBlobFunc func(d ocispec.Descriptor) ([]byte, error)

// Decode verifies and resolves a manifest's two layers into a Bundle.
// It checks that exactly the two expected layers exist, that each
// descriptor's digest matches the computed digest of its fetched
// blob, and that the configuration document parses under the policy
// schema. Decode never compiles the configuration; compilation is the
// sandbox host's job (pkg/policy.Validate + pkg/policy/compiled.Compile),
// consuming whatever registry extensions the caller has registered.
func Decode(manifest *Manifest, fetch FetchBlobFunc) (*Bundle, error) {
	if manifest.MediaType != "" && manifest.MediaType != MediaTypeManifest {
		return nil, errors.New(errors.ErrBundleInvalid, "unexpected manifest media type").
			WithField("media_type", manifest.MediaType)
	}
	if len(manifest.Layers) != 1 {
		return nil, errors.New(errors.ErrBundleInvalid, "bundle manifest must have exactly one wasm layer").
			WithField("layer_count", len(manifest.Layers))
	}
	if manifest.Config.MediaType != MediaTypeConfigLayer {
		return nil, errors.New(errors.ErrBundleInvalid, "unexpected config layer media type").
			WithField("media_type", manifest.Config.MediaType)
	}
	if manifest.Layers[0].MediaType != MediaTypeWasmLayer {
		return nil, errors.New(errors.ErrBundleInvalid, "unexpected wasm layer media type").
			WithField("media_type", manifest.Layers[0].MediaType)
	}

	wasmBytes, err := fetchAndVerify(fetch, manifest.Layers[0])
	if err != nil {
		return nil, err
	}
	configYAML, err := fetchAndVerify(fetch, manifest.Config)
	if err != nil {
		return nil, err
	}

	if _, err := policy.Parse(configYAML); err != nil {
		return nil, errors.Wrap(errors.ErrBundleInvalid, "config layer does not parse as a policy document", err)
	}

	return &Bundle{
		Manifest:   *manifest,
		WasmBytes:  wasmBytes,
		ConfigYAML: configYAML,
	}, nil
}

func fetchAndVerify(fetch FetchBlobFunc, d ocispec.Descriptor) ([]byte, error) {
	data, err := fetch(d)
	if err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to fetch bundle blob", err).
			WithField("digest", d.Digest.String())
	}
	computed := digest.FromBytes(data)
	if computed != d.Digest {
		return nil, errors.New(errors.ErrBundleDigestMismatch, "blob digest mismatch").
			WithField("expected", d.Digest.String()).
			WithField("computed", computed.String())
	}
	if int64(len(data)) != d.Size {
		return nil, errors.New(errors.ErrBundleDigestMismatch, "blob size mismatch").
			WithField("expected_size", d.Size).
			WithField("actual_size", len(data))
	}
	return data, nil
}

func descriptorFor(mediaType string, data []byte) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(data),
		Size:      int64(len(data)),
	}
}

func formatVersionString() string {
	return strconv.Itoa(FormatVersion)
}
