// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Command describes a query server invocation.
type Command struct {
	// Binary is the server executable. A name without a path separator
	// is resolved through PATH.
	Binary string

	// Arguments are passed to the server verbatim.
	Arguments []string

	// RequiredFiles must all exist before the server is started.
	RequiredFiles []string

	// Env is the server's environment. Nil inherits the caller's.
	Env []string

	// Stderr receives the server's diagnostics. Nil means os.Stderr.
	Stderr io.Writer
}

// Spawn starts the server described by command and returns a transport
// over its standard input and output. Missing files are reported as
// ErrFileNotFound without starting anything. ctx bounds startup only;
// the server lives until Close.
func Spawn(ctx context.Context, command Command, options Options) (*Transport, error) {
	for _, path := range command.RequiredFiles {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: %w", ErrFileNotFound, err)
			}
			return nil, fmt.Errorf("checking query server input: %w", err)
		}
	}

	binary, err := exec.LookPath(command.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: query server binary %q: %w", ErrFileNotFound, command.Binary, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(binary, command.Arguments...)
	cmd.Env = command.Env
	cmd.Stderr = command.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	// Own process group, so termination reaches anything the server
	// starts.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating query server stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("creating query server stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("starting query server %s: %w", binary, err)
	}

	logger := options.Logger
	if logger != nil {
		logger = logger.With("pid", cmd.Process.Pid)
		logger.Info("query server started", "binary", binary, "arguments", command.Arguments)
		options.Logger = logger
	}

	return New(stdin, stdout, &commandProcess{cmd: cmd}, options), nil
}

// commandProcess signals a server started with its own process group.
type commandProcess struct {
	cmd *exec.Cmd
}

func (p *commandProcess) Terminate() error { return p.signalGroup(unix.SIGTERM) }

func (p *commandProcess) Kill() error { return p.signalGroup(unix.SIGKILL) }

func (p *commandProcess) Wait() error { return p.cmd.Wait() }

// signalGroup signals every process in the server's group. A group
// that has already exited is not an error.
func (p *commandProcess) signalGroup(signal syscall.Signal) error {
	err := unix.Kill(-p.cmd.Process.Pid, signal)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
