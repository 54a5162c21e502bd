package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// CheckBinary ensures the ffmpeg binary is executable.
func CheckBinary(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("ffmpeg binary not found or not in PATH: %s", bin)
	}
	return nil
}

// Result is the outcome of a one-shot invocation.
type Result struct {
	ExitCode int    `json:"exit_code"`
	Output   string `json:"output,omitempty"`
}

// Runner executes single, blocking ffmpeg invocations.
type Runner struct {
	bin     string
	builder *CommandBuilder
	timeout time.Duration
	log     zerolog.Logger
}

func NewRunner(bin string, builder *CommandBuilder, timeout time.Duration, log zerolog.Logger) *Runner {
	return &Runner{bin: bin, builder: builder, timeout: timeout, log: log}
}

// run executes args and returns the combined output. A non-zero exit is not an
// error; failing to start or hitting the timeout is.
func (r *Runner) run(ctx context.Context, args []string) (*Result, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.bin, args...)
	r.log.Debug().Str("args", strings.Join(args, " ")).Msg("running ffmpeg")

	out, err := cmd.CombinedOutput()
	res := &Result{Output: strings.TrimSpace(string(out))}
	if ctx.Err() != nil {
		return res, fmt.Errorf("ffmpeg execution failed: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("ffmpeg execution failed: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// Snapshot captures one image from source at timestamp.
func (r *Runner) Snapshot(ctx context.Context, source, timestamp, outputPath string) (*Result, error) {
	return r.run(ctx, r.builder.SnapshotArgs(source, timestamp, outputPath))
}

// Record copies a clip of duration from source starting at startTime.
func (r *Runner) Record(ctx context.Context, source, startTime, duration, outputPath string) (*Result, error) {
	return r.run(ctx, r.builder.RecordArgs(source, startTime, duration, outputPath))
}

// VideoInfo is what can be scraped from ffmpeg's stream banner.
type VideoInfo struct {
	Format   string  `json:"format"`
	Codec    string  `json:"codec"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	FPS      float64 `json:"fps"`
	Duration float64 `json:"duration"`
}

var (
	inputRe    = regexp.MustCompile(`Input #0, ([^ ]+), from`)
	videoRe    = regexp.MustCompile(`Stream #\d+:\d+.*?: Video: ([A-Za-z0-9_]+)`)
	sizeRe     = regexp.MustCompile(`, (\d{2,5})x(\d{2,5})`)
	fpsRe      = regexp.MustCompile(`([\d.]+) fps`)
	durationRe = regexp.MustCompile(`Duration: (\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
)

// VideoInfo decodes the first frame of source and parses what ffmpeg reports.
func (r *Runner) VideoInfo(ctx context.Context, source string) (*VideoInfo, error) {
	res, err := r.run(ctx, r.builder.InfoArgs(source))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("ffmpeg exited with code %d: %s", res.ExitCode, lastLine(res.Output))
	}
	return ParseVideoInfo(res.Output), nil
}

// ParseVideoInfo scrapes ffmpeg diagnostic output. Fields it cannot find keep
// their zero value, format and codec default to "unknown".
func ParseVideoInfo(output string) *VideoInfo {
	info := &VideoInfo{Format: "unknown", Codec: "unknown"}

	if m := inputRe.FindStringSubmatch(output); m != nil {
		info.Format = strings.TrimSuffix(m[1], ",")
	}
	if m := durationRe.FindStringSubmatch(output); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		sec, _ := strconv.ParseFloat(m[3], 64)
		info.Duration = float64(h*3600+mins*60) + sec
	}

	for _, line := range strings.Split(output, "\n") {
		m := videoRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		info.Codec = m[1]
		if s := sizeRe.FindStringSubmatch(line); s != nil {
			info.Width, _ = strconv.Atoi(s[1])
			info.Height, _ = strconv.Atoi(s[2])
		}
		if f := fpsRe.FindStringSubmatch(line); f != nil {
			info.FPS, _ = strconv.ParseFloat(f[1], 64)
		}
		break
	}
	return info
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
