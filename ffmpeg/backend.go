package ffmpeg

import (
	"fmt"
	"strings"
)

// Backend names a decode acceleration path.
type Backend string

const (
	BackendSoftware Backend = "none"  // plain CPU decode
	BackendCUDA     Backend = "cuda"  // NVIDIA NVDEC
	BackendQSV      Backend = "qsv"   // Intel Quick Sync
	BackendVAAPI    Backend = "vaapi" // VA-API (Linux)
	BackendRKMPP    Backend = "rkmpp" // Rockchip MPP
)

// backendSpec holds what a backend adds to a decoder invocation.
type backendSpec struct {
	inputArgs  []string
	postFilter string
}

var backendSpecs = map[Backend]backendSpec{
	BackendSoftware: {},
	BackendCUDA:     {inputArgs: []string{"-hwaccel", "cuda"}},
	// Quick Sync and VA-API frames reach the mjpeg encoder as full-range yuv.
	BackendQSV:   {inputArgs: []string{"-hwaccel", "qsv"}, postFilter: "format=yuvj420p"},
	BackendVAAPI: {inputArgs: []string{"-hwaccel", "vaapi"}, postFilter: "format=yuvj420p"},
	BackendRKMPP: {inputArgs: []string{"-hwaccel", "rkmpp"}},
}

// ParseBackend maps a user supplied name onto a known backend.
func ParseBackend(name string) (Backend, bool) {
	b := Backend(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := backendSpecs[b]; !ok {
		return "", false
	}
	return b, true
}

// ParsePriority converts configured names into backends, rejecting unknown ones.
func ParsePriority(names []string) ([]Backend, error) {
	out := make([]Backend, 0, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		b, ok := ParseBackend(name)
		if !ok {
			return nil, fmt.Errorf("unknown acceleration backend %q", name)
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("acceleration priority list is empty")
	}
	return out, nil
}

// IsSoftware reports whether b is the software sentinel.
func (b Backend) IsSoftware() bool {
	return b == BackendSoftware
}

func (b Backend) String() string {
	return string(b)
}
