// Package trainer wraps the external training binary. The binary receives a
// training spec via flags and reports progress as one JSON object per line on
// stdout; the wrapper turns those lines into callbacks and the final exit
// status into a Result.
package trainer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

var commandContext = exec.CommandContext

// Spec describes one training run handed to the external binary.
type Spec struct {
	TaskID       string
	ModelVersion string
	DatasetDir   string
	OutputDir    string
	Epochs       int
	BatchSize    int
	ImageSize    int
	LearningRate float64
}

// ProgressUpdate captures one per-epoch progress event from the trainer.
type ProgressUpdate struct {
	Epoch       int
	TotalEpochs int
	Metrics     map[string]float64
}

// Result captures a finished training run.
type Result struct {
	OutputDir   string
	WeightsPath string
}

// Client defines training execution behaviour.
type Client interface {
	Train(ctx context.Context, spec Spec, progress func(ProgressUpdate)) (Result, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the command-line trainer.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "foundry-train"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Train launches the trainer and streams progress until the process exits.
// The best weights are expected under <output>/weights/best.pt on success.
func (c *CLI) Train(ctx context.Context, spec Spec, progress func(ProgressUpdate)) (Result, error) {
	if spec.TaskID == "" {
		return Result{}, errors.New("task id required")
	}
	if spec.OutputDir == "" {
		return Result{}, errors.New("output directory required")
	}
	if spec.Epochs <= 0 {
		return Result{}, errors.New("epochs must be positive")
	}

	args := []string{
		"train",
		"--task-id", spec.TaskID,
		"--model", spec.ModelVersion,
		"--output", spec.OutputDir,
		"--epochs", strconv.Itoa(spec.Epochs),
		"--progress-json",
	}
	if spec.DatasetDir != "" {
		args = append(args, "--dataset", spec.DatasetDir)
	}
	if spec.BatchSize > 0 {
		args = append(args, "--batch-size", strconv.Itoa(spec.BatchSize))
	}
	if spec.ImageSize > 0 {
		args = append(args, "--image-size", strconv.Itoa(spec.ImageSize))
	}
	if spec.LearningRate > 0 {
		args = append(args, "--learning-rate", strconv.FormatFloat(spec.LearningRate, 'g', -1, 64))
	}

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start trainer: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var payload struct {
			Epoch       int                `json:"epoch"`
			TotalEpochs int                `json:"total_epochs"`
			Metrics     map[string]float64 `json:"metrics"`
		}
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		if progress != nil {
			progress(ProgressUpdate{
				Epoch:       payload.Epoch,
				TotalEpochs: payload.TotalEpochs,
				Metrics:     payload.Metrics,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return Result{}, fmt.Errorf("read trainer output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return Result{}, fmt.Errorf("trainer failed: %w: %s", err, lastLine(detail))
		}
		return Result{}, fmt.Errorf("trainer failed: %w", err)
	}

	return Result{
		OutputDir:   spec.OutputDir,
		WeightsPath: filepath.Join(spec.OutputDir, "weights", "best.pt"),
	}, nil
}

func lastLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return s
}

var _ Client = (*CLI)(nil)
