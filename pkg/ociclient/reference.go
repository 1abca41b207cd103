package ociclient

import "strings"

// Reference identifies one bundle in a registry, generalized from the
// teacher's registry.ImageReference to mcpkit's repository/tag
// vocabulary.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
	Digest     string
}

// ParseReference parses a "registry/repository:tag" or
// "registry/repository@digest" string, defaulting the tag to "latest"
// when neither a tag nor digest is present. Grounded on the teacher's
// ParseImageReference string-splitting approach.
func ParseReference(ref string) *Reference {
	r := &Reference{Tag: "latest"}

	ref = strings.TrimPrefix(ref, "https://")
	ref = strings.TrimPrefix(ref, "http://")

	if idx := strings.Index(ref, "@"); idx >= 0 {
		r.Digest = ref[idx+1:]
		ref = ref[:idx]
	} else if idx := strings.LastIndex(ref, ":"); idx >= 0 && !strings.Contains(ref[idx+1:], "/") {
		r.Tag = ref[idx+1:]
		ref = ref[:idx]
	}

	if idx := strings.Index(ref, "/"); idx >= 0 {
		head := ref[:idx]
		if strings.Contains(head, ".") || strings.Contains(head, ":") || head == "localhost" {
			r.Registry = head
			r.Repository = ref[idx+1:]
			return r
		}
	}
	r.Repository = ref
	return r
}

// String renders the reference back to its canonical form.
func (r *Reference) String() string {
	repo := r.Repository
	if r.Registry != "" {
		repo = r.Registry + "/" + repo
	}
	if r.Digest != "" {
		return repo + "@" + r.Digest
	}
	return repo + ":" + r.Tag
}
