package ffmpeg

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand securely splits a command string into a slice of arguments.
// It prevents shell injection by not using a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	return args, nil
}

// ValidateExtraArgs checks operator supplied decoder input arguments. They are
// spliced in before -i, so they must not name an input or an output of their own.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		if arg == "-i" || arg == "-y" || arg == "-" {
			return fmt.Errorf("argument not allowed in decoder input args: %s", arg)
		}
		// exec.Command never hands these to a shell, but nothing legitimate needs them either.
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// ValidateCameraID rejects identifiers that are not a single path element,
// since the camera ID names its frame directory.
func ValidateCameraID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("camera_id must not be empty")
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("invalid camera_id %q", id)
	}
	return nil
}

// ValidateFileName accepts a bare file name only.
func ValidateFileName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid filename %q", name)
	}
	return nil
}
