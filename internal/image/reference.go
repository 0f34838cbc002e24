package image

import (
	"fmt"
	"strings"

	"github.com/testgate/testgate/internal/safety"
)

const (
	// DefaultTag is used when an image name carries no tag.
	DefaultTag = "latest"

	// DefaultRegistry is the public index host used when an image name
	// carries no registry component.
	DefaultRegistry = "index.docker.io"

	// registryAlias is the short name commonly written for the public
	// index; it is normalized to DefaultRegistry.
	registryAlias = "docker.io"

	repoDelimiter = "/"
	tagDelimiter  = ":"
)

// Reference identifies a container image by registry host, repository path
// and tag. It is a plain value, constructed by Parse and immutable after.
type Reference struct {
	Registry   string
	Repository string
	Tag        string
}

// Parse splits a raw image name into registry, repository and tag.
// It never fails: a missing tag defaults to "latest" and a missing
// registry defaults to the public index host.
func Parse(raw string) Reference {
	base, tag := splitTag(raw)
	registry, repository := splitRegistry(base)
	return Reference{
		Registry:   registry,
		Repository: repository,
		Tag:        tag,
	}
}

// splitTag separates the tag from an image name. The final ":"-segment is
// only a tag when it contains no "/", which keeps a registry port
// ("host:5000/repo") from being misread as a tag.
func splitTag(raw string) (string, string) {
	parts := strings.Split(raw, tagDelimiter)
	if len(parts) > 1 && !strings.Contains(parts[len(parts)-1], repoDelimiter) {
		return strings.Join(parts[:len(parts)-1], tagDelimiter), parts[len(parts)-1]
	}
	return raw, DefaultTag
}

// splitRegistry separates the registry host from a tag-stripped image name.
// The first "/"-segment is a registry only when it contains a "." or ":";
// anything else is a repository path on the public index.
func splitRegistry(base string) (string, string) {
	host, rest, found := strings.Cut(base, repoDelimiter)
	if !found || (!strings.Contains(host, ".") && !strings.Contains(host, tagDelimiter)) {
		return DefaultRegistry, base
	}
	if host == "" || host == registryAlias {
		host = DefaultRegistry
	}
	return host, rest
}

// ManifestURL returns the registry V2 manifest endpoint for the reference.
// Loopback registries are addressed over plain HTTP so development
// registries work without TLS.
func (r Reference) ManifestURL() string {
	scheme := "https"
	if safety.IsLoopbackHost(r.Registry) {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/v2/%s/manifests/%s", scheme, r.Registry, r.Repository, r.Tag)
}

// String renders the reference back to registry/repository:tag form.
func (r Reference) String() string {
	return r.Registry + repoDelimiter + r.Repository + tagDelimiter + r.Tag
}
