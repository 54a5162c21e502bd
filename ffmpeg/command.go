package ffmpeg

import (
	"fmt"
	"strings"
)

// SourceKind classifies a decoder input.
type SourceKind string

const (
	SourceLocal SourceKind = "local"
	SourceRTSP  SourceKind = "rtsp"
	SourceHTTP  SourceKind = "http"
)

var networkPrefixes = []string{"http://", "https://", "rtmp://", "rtmps://", "srt://", "udp://", "tcp://"}

// ClassifySource inspects the locator prefix.
func ClassifySource(source string) SourceKind {
	lower := strings.ToLower(source)
	if strings.HasPrefix(lower, "rtsp://") || strings.HasPrefix(lower, "rtsps://") {
		return SourceRTSP
	}
	for _, p := range networkPrefixes {
		if strings.HasPrefix(lower, p) {
			return SourceHTTP
		}
	}
	return SourceLocal
}

// IsNetwork reports whether the source is read over the network.
func (k SourceKind) IsNetwork() bool {
	return k != SourceLocal
}

// transportArgs are the stream transport flags for a source kind.
func transportArgs(kind SourceKind) []string {
	if kind == SourceRTSP {
		return []string{"-rtsp_transport", "tcp"}
	}
	return nil
}

// CommandBuilder assembles decoder argument lists. It has no state beyond its
// configuration, so Build is a pure function of its inputs.
type CommandBuilder struct {
	LogLevel       string
	ExtraInputArgs []string
}

// NewCommandBuilder validates extraInputArgs (a shell-style string) and
// returns a builder.
func NewCommandBuilder(logLevel, extraInputArgs string) (*CommandBuilder, error) {
	var extra []string
	if strings.TrimSpace(extraInputArgs) != "" {
		args, err := SplitCommand(extraInputArgs)
		if err != nil {
			return nil, err
		}
		if err := ValidateExtraArgs(args); err != nil {
			return nil, err
		}
		extra = args
	}
	if logLevel == "" {
		logLevel = "error"
	}
	return &CommandBuilder{LogLevel: logLevel, ExtraInputArgs: extra}, nil
}

func (b *CommandBuilder) preamble() []string {
	return []string{"-hide_banner", "-nostdin", "-loglevel", b.LogLevel}
}

// input is the shared input section: acceleration, transport, extra args, -i.
func (b *CommandBuilder) input(source string, backend Backend) []string {
	var args []string
	args = append(args, backendSpecs[backend].inputArgs...)
	args = append(args, transportArgs(ClassifySource(source))...)
	args = append(args, b.ExtraInputArgs...)
	return append(args, "-i", source)
}

// Build returns the arguments (binary excluded) for a long-running decode of
// source into outputTemplate at fps frames per second.
func (b *CommandBuilder) Build(source string, backend Backend, fps int, outputTemplate string) []string {
	filters := []string{fmt.Sprintf("fps=%d", fps), "format=rgb24"}
	if post := backendSpecs[backend].postFilter; post != "" {
		filters = append(filters, post)
	}

	args := b.preamble()
	args = append(args, b.input(source, backend)...)
	return append(args, "-vf", strings.Join(filters, ","), outputTemplate)
}

// ProbeArgs decodes one frame of a generated test pattern using backend.
func (b *CommandBuilder) ProbeArgs(backend Backend) []string {
	args := []string{"-hide_banner", "-loglevel", "error"}
	args = append(args, backendSpecs[backend].inputArgs...)
	return append(args, "-f", "lavfi", "-i", "nullsrc=s=64x64", "-frames:v", "1", "-f", "null", "-")
}

// SnapshotArgs grabs a single frame at timestamp.
func (b *CommandBuilder) SnapshotArgs(source, timestamp, outputPath string) []string {
	args := b.preamble()
	args = append(args, "-y")
	args = append(args, b.input(source, BackendSoftware)...)
	return append(args, "-ss", timestamp, "-frames:v", "1", outputPath)
}

// RecordArgs copies duration worth of streams starting at startTime.
func (b *CommandBuilder) RecordArgs(source, startTime, duration, outputPath string) []string {
	args := b.preamble()
	args = append(args, "-y")
	args = append(args, b.input(source, BackendSoftware)...)
	return append(args, "-ss", startTime, "-t", duration, "-c:v", "copy", "-c:a", "copy", outputPath)
}

// InfoArgs decodes one frame to null so stream details land on stderr.
func (b *CommandBuilder) InfoArgs(source string) []string {
	args := []string{"-hide_banner", "-nostdin"}
	args = append(args, b.input(source, BackendSoftware)...)
	return append(args, "-frames:v", "1", "-f", "null", "-")
}
