// Package docker implements sandbox.Runtime on top of the local Docker CLI.
//
// Each run gets a fresh container with no network, a read-only root
// filesystem, dropped capabilities, and a writable /tmp. The script is piped
// in over stdin so nothing from the host filesystem is mounted.
package docker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jeff4444/autoduty-backend/sandbox"
)

// Config configures the Docker runtime.
type Config struct {
	// Image is the container image to run scripts in.
	Image string
	// Command receives the script on stdin and executes it. Defaults to a
	// Node/tsx invocation matching the monitored TypeScript applications.
	Command []string
	// Memory caps container memory (docker --memory syntax, default "512m").
	Memory string
}

// Runtime runs scripts in throwaway Docker containers.
type Runtime struct {
	config Config
}

// New creates a Docker-backed sandbox runtime.
func New(cfg Config) *Runtime {
	if cfg.Image == "" {
		cfg.Image = "autoduty-sandbox"
	}
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"bash", "-c", "cat > /tmp/job.ts && tsx /tmp/job.ts"}
	}
	if cfg.Memory == "" {
		cfg.Memory = "512m"
	}
	return &Runtime{config: cfg}
}

// Run executes the script and streams its output line by line. A timeout
// yields a synthetic non-zero exit rather than an error; only failing to
// start the container is reported as sandbox.ErrInfrastructure.
func (r *Runtime) Run(ctx context.Context, opts sandbox.RunOptions) (*sandbox.Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = sandbox.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"run", "--rm", "-i",
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp",
		"--cap-drop", "ALL",
		"--memory", r.config.Memory,
		"--env-file", "/dev/null",
		r.config.Image,
	}
	args = append(args, r.config.Command...)

	cmd := exec.CommandContext(runCtx, "docker", args...)
	cmd.Stdin = strings.NewReader(opts.Script)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: attaching stdout: %v", sandbox.ErrInfrastructure, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: attaching stderr: %v", sandbox.ErrInfrastructure, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting container: %v", sandbox.ErrInfrastructure, err)
	}

	log.Printf("sandbox: run %q started (image %s, timeout %s)", opts.Label, r.config.Image, timeout)

	var outBuf, errBuf strings.Builder
	var mu sync.Mutex
	pump := func(stream string, pipe io.Reader, buf *strings.Builder) func() error {
		return func() error {
			scanner := bufio.NewScanner(pipe)
			scanner.Buffer(make([]byte, 0, 256*1024), 256*1024)
			for scanner.Scan() {
				line := scanner.Text()
				mu.Lock()
				buf.WriteString(line)
				buf.WriteByte('\n')
				mu.Unlock()
				if opts.OnLine != nil {
					opts.OnLine(stream, line)
				}
			}
			return nil
		}
	}

	var g errgroup.Group
	g.Go(pump("stdout", stdout, &outBuf))
	g.Go(pump("stderr", stderr, &errBuf))
	_ = g.Wait()

	waitErr := cmd.Wait()

	result := &sandbox.Result{
		Stdout: outBuf.String(),
		Stderr: errBuf.String(),
		Label:  opts.Label,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = sandbox.TimeoutExitCode
		result.TimedOut = true
		result.Stderr += fmt.Sprintf("[%s] timed out after %s\n", opts.Label, timeout)
		log.Printf("sandbox: run %q timed out after %s", opts.Label, timeout)
		return result, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			// Ordinary script failure, not an infrastructure problem.
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("%w: %v", sandbox.ErrInfrastructure, waitErr)
	}

	result.ExitCode = 0
	return result, nil
}
