package runner

import (
	"context"
	"fmt"
	"os/exec"
)

// Runner executes an external binary and returns its combined output. It
// exists so media code can be tested without ffmpeg installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func New() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s execution failed: %w: %s", name, err, tail(output))
	}
	return output, nil
}

func tail(output []byte) []byte {
	const max = 512
	if len(output) > max {
		return output[len(output)-max:]
	}
	return output
}
