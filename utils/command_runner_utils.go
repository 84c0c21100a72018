package utils

import (
	"bufio"
	"context"
	"errors"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/sitepress-engine/models"
)

// RunCommandOptions controls one sandboxed subprocess execution
type RunCommandOptions struct {
	Cwd     string
	Env     map[string]string
	Timeout time.Duration
	Sink    models.LogSink
}

// RunCommand spawns a subprocess with shell interpretation disabled: the
// executable and arguments are passed as an argv array and never concatenated
// into a shell string. Stdout and stderr are streamed line by line to the
// sink tagged info/error. The timeout is a hard wall clock: when it fires the
// process receives a non-catchable kill and the result reports ExitCode -1.
func RunCommand(ctx context.Context, executable string, args []string, opts RunCommandOptions) models.CommandResult {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, executable, args...)
	cmd.Dir = opts.Cwd
	// CommandContext delivers SIGKILL on context cancellation
	cmd.WaitDelay = 5 * time.Second

	if len(opts.Env) > 0 {
		env := os.Environ()
		for key, value := range opts.Env {
			env = append(env, key+"="+value)
		}
		cmd.Env = env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		sinkLine(opts.Sink, "error", "failed to open stdout pipe: "+err.Error())
		return models.CommandResult{Success: false, ExitCode: -1}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		sinkLine(opts.Sink, "error", "failed to open stderr pipe: "+err.Error())
		return models.CommandResult{Success: false, ExitCode: -1}
	}

	if err := cmd.Start(); err != nil {
		sinkLine(opts.Sink, "error", "failed to start command: "+err.Error())
		return models.CommandResult{Success: false, ExitCode: -1}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		streamLines(stdout, "info", opts.Sink)
	}()
	go func() {
		defer wg.Done()
		streamLines(stderr, "error", opts.Sink)
	}()
	wg.Wait()

	err = cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		sinkLine(opts.Sink, "error", "command killed: wall-clock timeout exceeded")
		return models.CommandResult{Success: false, ExitCode: -1}
	}

	if err != nil {
		exitCode := 1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return models.CommandResult{Success: false, ExitCode: exitCode}
	}

	return models.CommandResult{Success: true, ExitCode: 0}
}

func streamLines(r interface{ Read([]byte) (int, error) }, level string, sink models.LogSink) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		sinkLine(sink, level, scanner.Text())
	}
}

func sinkLine(sink models.LogSink, level, message string) {
	if sink == nil {
		log.Printf("[%s] %s", level, message)
		return
	}
	sink(level, message)
}
