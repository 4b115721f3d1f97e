package secrets

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const latestVersion = "latest"

// Reference is a parsed secret:// URI. Query parameters may pin a version or a project:
//
//	secret://stripe_api_key?version=3&project=idp-prod
type Reference struct {
	Name    string
	Version string
	Project string
}

// ParseReference parses raw. The legacy sm:// scheme is accepted as an alias.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(raw, "sm://"); ok {
		raw = "secret://" + rest
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: invalid reference %q: %w", raw, err)
	}
	if u.Scheme != "secret" {
		return Reference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return Reference{}, fmt.Errorf("secrets: missing secret name in %q", raw)
	}
	query := u.Query()
	return Reference{
		Name:    name,
		Version: strings.TrimSpace(query.Get("version")),
		Project: strings.TrimSpace(query.Get("project")),
	}, nil
}

// URI returns the reference without version or project, the form used for pins and the
// fallback file.
func (r Reference) URI() string {
	return "secret://" + r.Name
}

func (r Reference) resource(project, version string) string {
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.Name, version)
}

// masked hides the secret name in metric attributes.
func (r Reference) masked() string {
	sum := sha256.Sum256([]byte(r.URI()))
	return hex.EncodeToString(sum[:8])
}
