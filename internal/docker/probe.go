package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmr-tortoise/wsgi-image/internal/model"
)

// DefaultPython is the interpreter used by the entry-point probe.
const DefaultPython = "python"

// entryPointScript imports the module named by argv[1] and resolves the
// dotted attribute path in argv[2]. Exit status 3 means the attribute
// exists but is not callable.
const entryPointScript = `import functools, importlib, sys
obj = functools.reduce(getattr, sys.argv[2].split("."), importlib.import_module(sys.argv[1]))
sys.exit(0 if callable(obj) else 3)
`

// EntryPointCommand returns the probe command that checks ref resolves to
// a callable inside the image.
func EntryPointCommand(python string, ref model.EntryPointRef) []string {
	if python == "" {
		python = DefaultPython
	}
	return []string{python, "-c", entryPointScript, ref.Module, ref.Callable}
}

// ProbeEntryPoint runs the entry-point probe against imageRef. The image's
// own environment applies, so the settings module is importable exactly as
// it is for the supervisor.
//
// Returns a model.CLIError with ExitVerificationFailed if the reference
// does not resolve to a callable.
func ProbeEntryPoint(ctx context.Context, cli *Client, imageRef, python string, ref model.EntryPointRef) error {
	result, err := ProbeContainer(ctx, cli, imageRef, EntryPointCommand(python, ref))
	if err != nil {
		return err
	}

	switch result.ExitCode {
	case 0:
		return nil
	case 3:
		return model.NewCLIError(
			model.ExitVerificationFailed,
			fmt.Sprintf("entry point %s is not callable", ref),
		)
	default:
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(result.Stdout)
		}
		return model.NewCLIError(
			model.ExitVerificationFailed,
			fmt.Sprintf("entry point %s cannot be imported (exit %d): %s", ref, result.ExitCode, lastLine(detail)),
		)
	}
}

// lastLine returns the final line of s, which for a Python traceback is
// the exception itself.
func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
