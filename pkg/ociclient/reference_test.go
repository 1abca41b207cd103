package ociclient

import "testing"

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
	}{
		{"myrepo", Reference{Repository: "myrepo", Tag: "latest"}},
		{"myrepo:v1", Reference{Repository: "myrepo", Tag: "v1"}},
		{"registry.example.com/myrepo:v1", Reference{Registry: "registry.example.com", Repository: "myrepo", Tag: "v1"}},
		{"registry.example.com/team/myrepo@sha256:abc", Reference{Registry: "registry.example.com", Repository: "team/myrepo", Tag: "latest", Digest: "sha256:abc"}},
		{"localhost:5000/myrepo:v1", Reference{Registry: "localhost:5000", Repository: "myrepo", Tag: "v1"}},
	}
	for _, tt := range tests {
		got := ParseReference(tt.in)
		if got.Registry != tt.want.Registry || got.Repository != tt.want.Repository || got.Tag != tt.want.Tag || got.Digest != tt.want.Digest {
			t.Errorf("ParseReference(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
