// Package source reads version-control metadata of the application source
// tree that is sent to the builder as the build context.
//
// The git CLI is invoked through os/exec. A tree outside git, or a host
// without git installed, is not an error: the image simply carries no
// revision label.
package source
