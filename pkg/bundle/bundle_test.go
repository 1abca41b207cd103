package bundle

import (
	"testing"

	digest "github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

const sampleConfig = `version: "1.0"
core:
  storage:
    allow:
      - uri: "fs:///tmp/**"
        access: ["read"]
`

func TestEncodeDecodeRoundTrip(t *testing.T) {
	wasmBytes := []byte("\x00asm\x01\x00\x00\x00")
	manifest, blobs, err := Encode(wasmBytes, []byte(sampleConfig))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	if len(manifest.Layers) != 1 {
		t.Fatalf("expected exactly one layer, got %d", len(manifest.Layers))
	}
	if manifest.Layers[0].MediaType != MediaTypeWasmLayer {
		t.Errorf("unexpected wasm layer media type: %s", manifest.Layers[0].MediaType)
	}
	if manifest.Config.MediaType != MediaTypeConfigLayer {
		t.Errorf("unexpected config layer media type: %s", manifest.Config.MediaType)
	}

	fetch := func(d ocispec.Descriptor) ([]byte, error) {
		data, ok := blobs[d.Digest]
		if !ok {
			t.Fatalf("fetch called for unknown digest %s", d.Digest)
		}
		return data, nil
	}

	b, err := Decode(manifest, fetch)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if string(b.WasmBytes) != string(wasmBytes) {
		t.Error("decoded wasm bytes do not match the original")
	}
	if string(b.ConfigYAML) != sampleConfig {
		t.Error("decoded config bytes do not match the original")
	}
}

func TestEncodeRejectsEmptyLayers(t *testing.T) {
	if _, _, err := Encode(nil, []byte(sampleConfig)); err == nil {
		t.Error("expected Encode to reject an empty wasm layer")
	}
	if _, _, err := Encode([]byte("x"), nil); err == nil {
		t.Error("expected Encode to reject an empty config layer")
	}
}

func TestDecodeRejectsWrongLayerCount(t *testing.T) {
	manifest, _, err := Encode([]byte("x"), []byte(sampleConfig))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	manifest.Layers = append(manifest.Layers, manifest.Layers[0])

	_, err = Decode(manifest, func(d ocispec.Descriptor) ([]byte, error) { return []byte("x"), nil })
	if err == nil || errors.GetErrorCode(err) != errors.ErrBundleInvalid {
		t.Fatalf("expected BUNDLE_INVALID for a two-layer manifest, got %v", err)
	}
}

func TestDecodeRejectsDigestMismatch(t *testing.T) {
	manifest, _, err := Encode([]byte("x"), []byte(sampleConfig))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	fetch := func(d ocispec.Descriptor) ([]byte, error) {
		return []byte("tampered"), nil
	}

	_, err = Decode(manifest, fetch)
	if err == nil || errors.GetErrorCode(err) != errors.ErrBundleDigestMismatch {
		t.Fatalf("expected BUNDLE_DIGEST_MISMATCH, got %v", err)
	}
}

func TestDecodeRejectsUnparsableConfig(t *testing.T) {
	manifest, blobs, err := Encode([]byte("x"), []byte("not: valid: yaml: at: all: ["))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	fetch := func(d ocispec.Descriptor) ([]byte, error) { return blobs[d.Digest], nil }
	_, err = Decode(manifest, fetch)
	if err == nil || errors.GetErrorCode(err) != errors.ErrBundleInvalid {
		t.Fatalf("expected BUNDLE_INVALID for an unparsable config layer, got %v", err)
	}
}

func TestDescriptorForComputesSHA256Digest(t *testing.T) {
	d := descriptorFor(MediaTypeWasmLayer, []byte("hello"))
	if d.Digest.Algorithm() != digest.SHA256 {
		t.Errorf("expected sha256 digest, got %s", d.Digest.Algorithm())
	}
	if d.Size != 5 {
		t.Errorf("expected size 5, got %d", d.Size)
	}
}
