package python

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/kyleking/text2sql-router/internal/errors"
	"github.com/kyleking/text2sql-router/internal/logging"
)

const workerStopTimeout = 5 * time.Second

// ScriptError is a failure a worker reported for a single request. The worker
// keeps serving after one.
type ScriptError struct {
	Script  string
	Message string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Script, e.Message)
}

// Worker is a long-running script that answers each JSON line on its stdin
// with one JSON line on stdout. Calls are serialized.
type Worker struct {
	script string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// StartWorker launches scriptName in serve mode. The process outlives any
// request context and runs until Close.
func (e *Environment) StartWorker(scriptName string, args ...string) (*Worker, error) {
	return startWorker(e.Command(context.Background(), scriptName, args...), scriptName)
}

func startWorker(cmd *exec.Cmd, scriptName string) (*Worker, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stdin: %w", scriptName, err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stdout: %w", scriptName, err)
	}

	stderr := logging.WithField("script", scriptName).Writer()
	cmd.Stderr = stderr
	// uv may leave the interpreter holding stderr after it is killed.
	cmd.WaitDelay = workerStopTimeout

	if err := cmd.Start(); err != nil {
		stderr.Close()
		return nil, errors.Wrap(err, errors.ErrTypeBackend, fmt.Sprintf("failed to start %s", scriptName))
	}

	w := &Worker{
		script: scriptName,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		exited: make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		stderr.Close()
		close(w.exited)
	}()

	logging.WithFields(map[string]any{"script": scriptName, "pid": cmd.Process.Pid}).Debug("Started Python worker")

	return w, nil
}

type workerReply struct {
	line []byte
	err  error
}

// Call sends input as one JSON line and decodes the reply line into out. A
// reply carrying an "error" field becomes a *ScriptError. Any other failure,
// including ctx ending mid-call, stops the worker for good.
func (w *Worker) Call(ctx context.Context, input, out any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("failed to marshal script input: %w", err)
	}

	payload = append(payload, '\n')
	done := make(chan workerReply, 1)

	go func() {
		if _, err := w.stdin.Write(payload); err != nil {
			done <- workerReply{err: err}
			return
		}

		line, err := w.stdout.ReadBytes('\n')
		done <- workerReply{line: line, err: err}
	}()

	var reply workerReply

	select {
	case reply = <-done:
	case <-ctx.Done():
		w.fail(fmt.Errorf("%s interrupted: %w", w.script, ctx.Err()))
		<-done

		return w.err
	}

	if reply.err != nil {
		w.fail(fmt.Errorf("%s stopped responding: %w", w.script, reply.err))
		return w.err
	}

	var envelope struct {
		Error string `json:"error"`
	}

	if err := json.Unmarshal(reply.line, &envelope); err != nil {
		w.fail(fmt.Errorf("failed to parse %s output: %w", w.script, err))
		return w.err
	}

	if envelope.Error != "" {
		return &ScriptError{Script: w.script, Message: envelope.Error}
	}

	if err := json.Unmarshal(reply.line, out); err != nil {
		return fmt.Errorf("failed to parse %s output: %w", w.script, err)
	}

	return nil
}

// fail records err and kills the process. Callers hold mu.
func (w *Worker) fail(err error) {
	if w.err == nil {
		w.err = err
	}

	w.stop(0)
}

// Close asks the worker to exit by closing its stdin and kills it if it has
// not exited within a few seconds.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err == nil {
		w.err = fmt.Errorf("%s worker closed", w.script)
	}

	w.stop(workerStopTimeout)

	return nil
}

// stop closes stdin and gives the process grace to exit before killing it.
func (w *Worker) stop(grace time.Duration) {
	w.closeOnce.Do(func() {
		_ = w.stdin.Close()

		if grace > 0 {
			select {
			case <-w.exited:
				return
			case <-time.After(grace):
			}
		}

		_ = w.cmd.Process.Kill()
		<-w.exited
	})
}
