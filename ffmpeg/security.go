package ffmpeg

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// InputMediaPlaceholder marks where FF_ARGS takes the uploaded video.
const InputMediaPlaceholder = "${INPUT_MEDIA}"

var (
	ErrMissingInput = fmt.Errorf("remux arguments must read the upload with '-i %s'", InputMediaPlaceholder)
	ErrExtraInput   = errors.New("remux arguments may only read the uploaded video")
)

// RemuxArgs are the validated FF_ARGS of the final pipeline step. The output
// path is never part of them; Expand appends it.
type RemuxArgs []string

// ParseRemuxArgs splits s without involving a shell and validates it.
func ParseRemuxArgs(s string) (RemuxArgs, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if err := validateRemuxArgs(args); err != nil {
		return nil, err
	}
	return RemuxArgs(args), nil
}

func validateRemuxArgs(args []string) error {
	inputs := 0
	for i, arg := range args {
		switch {
		case arg == InputMediaPlaceholder:
			if i == 0 || args[i-1] != "-i" {
				return ErrMissingInput
			}
			inputs++
		case arg == "-i":
			if i+1 >= len(args) || args[i+1] != InputMediaPlaceholder {
				return ErrExtraInput
			}
		case arg == "-y" || arg == "-n":
			return fmt.Errorf("overwrite flag %s is set by the runner", arg)
		case strings.ContainsAny(arg, "|&;`$()<>"):
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	switch inputs {
	case 0:
		return ErrMissingInput
	case 1:
		return nil
	default:
		return ErrExtraInput
	}
}

// Expand substitutes the upload path and appends the output file. ffmpeg
// refuses to overwrite anything.
func (a RemuxArgs) Expand(input, output string) []string {
	out := make([]string, 0, len(a)+2)
	out = append(out, "-n")
	for _, arg := range a {
		if arg == InputMediaPlaceholder {
			arg = input
		}
		out = append(out, arg)
	}
	return append(out, output)
}
