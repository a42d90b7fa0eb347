// Package buildinfo holds version metadata stamped at build time.
package buildinfo

// Version is overridden via -ldflags at release build time.
var Version = "dev"
