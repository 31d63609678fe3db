// Package model defines the domain types and value objects for the
// wsgi-image CLI.
//
// This package contains pure data structures with no external dependencies.
// A Recipe is the operator-facing description of a deployment image; the
// ordered Directive list is what the image builder consumes; ImageInfo is
// the transient view of a built image reconstructed from the Docker API.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
