package ociclient

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

// Credentials is a resolved username/password pair used for HTTP
// basic auth against a registry's token endpoint.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource resolves credentials for a given registry host,
// modeling spec.md §4.7's three authentication sources: explicit
// credentials, environment-variable interpolation, and a docker-style
// credentials file.
type CredentialSource interface {
	Resolve(registry string) (Credentials, bool, error)
}

// ExplicitCredentials returns a fixed Credentials pair regardless of
// registry host.
type ExplicitCredentials Credentials

func (e ExplicitCredentials) Resolve(registry string) (Credentials, bool, error) {
	if e.Username == "" && e.Password == "" {
		return Credentials{}, false, nil
	}
	return Credentials(e), true, nil
}

// envVarPattern matches "${VAR}" interpolation placeholders.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// EnvCredentials resolves a username/password template by expanding
// "${VAR}" placeholders against the process environment, e.g.
// EnvCredentials{UsernameTemplate: "${REGISTRY_USER}", PasswordTemplate: "${REGISTRY_PASS}"}.
type EnvCredentials struct {
	UsernameTemplate string
	PasswordTemplate string
}

func (e EnvCredentials) Resolve(registry string) (Credentials, bool, error) {
	if e.UsernameTemplate == "" && e.PasswordTemplate == "" {
		return Credentials{}, false, nil
	}
	user, err := interpolateEnv(e.UsernameTemplate)
	if err != nil {
		return Credentials{}, false, err
	}
	pass, err := interpolateEnv(e.PasswordTemplate)
	if err != nil {
		return Credentials{}, false, err
	}
	return Credentials{Username: user, Password: pass}, true, nil
}

func interpolateEnv(template string) (string, error) {
	var missing string
	expanded := envVarPattern.ReplaceAllStringFunc(template, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = name
			return ""
		}
		return value
	})
	if missing != "" {
		return "", errors.New(errors.ErrInvalidConfig, "environment variable referenced in credentials is not set").
			WithField("variable", missing)
	}
	return expanded, nil
}

// dockerConfig mirrors the subset of ~/.docker/config.json this
// client reads: a map from registry host to a base64 "user:pass" auth
// string.
type dockerConfig struct {
	Auths map[string]struct {
		Auth string `json:"auth"`
	} `json:"auths"`
}

// DockerConfigCredentials resolves credentials from a docker-style
// credentials file at Path (defaults to $HOME/.docker/config.json).
type DockerConfigCredentials struct {
	Path string
}

func (d DockerConfigCredentials) Resolve(registry string) (Credentials, bool, error) {
	path := d.Path
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Credentials{}, false, nil
		}
		path = home + "/.docker/config.json"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, false, nil
		}
		return Credentials{}, false, errors.Wrap(errors.ErrIO, "failed to read docker credentials file", err).
			WithField("path", path)
	}

	var cfg dockerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Credentials{}, false, errors.Wrap(errors.ErrInvalidConfig, "failed to parse docker credentials file", err).
			WithField("path", path)
	}

	entry, ok := cfg.Auths[registry]
	if !ok {
		return Credentials{}, false, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
	if err != nil {
		return Credentials{}, false, errors.Wrap(errors.ErrInvalidConfig, "failed to decode docker credentials entry", err).
			WithField("registry", registry)
	}

	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, false, errors.New(errors.ErrInvalidConfig, "malformed docker credentials entry").
			WithField("registry", registry)
	}
	return Credentials{Username: user, Password: pass}, true, nil
}

// ResolveCredentials tries each source in order, returning the first
// match. Sources are tried in the order given, so callers should place
// the most specific source (explicit) first.
func ResolveCredentials(registry string, sources ...CredentialSource) (Credentials, error) {
	for _, src := range sources {
		creds, ok, err := src.Resolve(registry)
		if err != nil {
			return Credentials{}, err
		}
		if ok {
			return creds, nil
		}
	}
	return Credentials{}, nil
}
