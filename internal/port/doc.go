// Package port picks the host port a supervisor container is published on.
//
// The supervisor's own port is reused on the host when it is free, so the
// common case prints a familiar URL. Otherwise the first free port in the
// IANA dynamic range (49152-65535) is used.
package port
