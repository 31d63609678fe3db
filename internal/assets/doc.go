// Package assets builds content manifests of the static asset tree that
// the collection step writes into an image, and compares them.
//
// Two builds of the same recipe against the same source tree must yield
// equal manifests. Diff reports what differs when they do not.
package assets
