// Package vision wraps the page classifier and the header detector. Both
// models run out of process; this package only knows their input and output
// shapes.
package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"plenario/internal/command"
	"plenario/internal/runner"
)

// ErrUnknownClass is returned when the classifier answers with a class that
// is not configured.
var ErrUnknownClass = errors.New("unknown class")

type Classifier interface {
	Classify(ctx context.Context, imagePath string) (string, error)
}

// CommandClassifier runs Argv with the image path appended and reads the
// class name from stdout.
type CommandClassifier struct {
	Argv    []string
	Classes []string
	Runner  command.Runner
}

func (c *CommandClassifier) Classify(ctx context.Context, imagePath string) (string, error) {
	if len(c.Argv) == 0 {
		return "", errors.New("classifier command not configured")
	}
	r := c.Runner
	if r == nil {
		r = command.Exec{}
	}
	args := append(append([]string(nil), c.Argv[1:]...), imagePath)
	out, err := r.Run(ctx, c.Argv[0], args...)
	if err != nil {
		return "", err
	}

	class := strings.ToLower(strings.TrimSpace(string(out)))
	for _, known := range c.Classes {
		if class == known {
			return class, nil
		}
	}
	// The model is deterministic; asking again yields the same answer.
	return "", runner.Permanent(fmt.Errorf("%w %q", ErrUnknownClass, class))
}
