// Package buildinfo exposes the version stamped into tokvault binaries.
//
// Values are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/tokvault-go/internal/infra/buildinfo.Version=v1.0.0"
//
// When they are not, the VCS information recorded by the Go toolchain is
// used instead.
package buildinfo
