// Package docker provides Docker Engine API wrappers for building and
// verifying deployment images with the wsgi-image CLI.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - Build context creation (source tree + rendered Dockerfile, honouring
//     .dockerignore)
//   - Fail-fast image builds that tag only after success
//   - Image label management for provenance (recipe, references, digest,
//     source revision)
//   - One-off probe containers, supervisor start checks, and static asset
//     extraction from created containers
//
// The package uses github.com/docker/docker/client as the underlying
// Docker SDK, with version negotiation enabled for broad compatibility.
package docker
