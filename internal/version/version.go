// Package version holds the build version, overridable at link time with
// -ldflags "-X github.com/raaihank/pdf-redactor/internal/version.Version=...".
package version

// Version of the pdf-redactor binaries
var Version = "0.1.0"
