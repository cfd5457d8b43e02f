package engine

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// processQuitGrace is how long Close waits for the engine to exit after "quit"
const processQuitGrace = 2 * time.Second

// Channel is a line-oriented connection to a UCI engine
type Channel interface {
	// Send writes one command line to the engine
	Send(line string) error
	// Lines yields engine output lines; it is closed when the engine exits
	Lines() <-chan string
	Close() error
}

// StartFunc launches a fresh engine connection
type StartFunc func() (Channel, error)

// Process is a UCI engine running as a child process
type Process struct {
	ID uuid.UUID

	cmd *exec.Cmd

	stdinPipe  io.WriteCloser
	stdoutPipe io.ReadCloser

	mutex     sync.Mutex
	lines     chan string
	quitChan  chan struct{}
	closeOnce sync.Once

	logger *zap.Logger
}

// ProcessStarter returns a StartFunc launching the engine at enginePath
func ProcessStarter(enginePath string, logger *zap.Logger) StartFunc {
	return func() (Channel, error) {
		return StartProcess(enginePath, logger)
	}
}

// StartProcess starts the engine process. The UCI handshake is left to the caller.
func StartProcess(enginePath string, logger *zap.Logger) (*Process, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cmd := exec.Command(enginePath)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("StdoutPipe error: %w", err)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("StdinPipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting engine: %w", err)
	}

	id := uuid.New()
	p := &Process{
		ID:         id,
		cmd:        cmd,
		stdinPipe:  stdin,
		stdoutPipe: stdout,
		lines:      make(chan string, 64),
		quitChan:   make(chan struct{}),
		logger:     logger.With(zap.String("engine_id", id.String())),
	}

	go p.readLoop()

	p.logger.Info("engine process started",
		zap.String("path", enginePath),
		zap.Int("pid", cmd.Process.Pid))

	return p, nil
}

func (p *Process) readLoop() {
	defer close(p.lines)

	scanner := bufio.NewScanner(p.stdoutPipe)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		p.logger.Debug("ENGINE>", zap.String("line", line))

		select {
		case p.lines <- line:
		case <-p.quitChan:
			return
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("error reading engine output", zap.Error(err))
		return
	}

	p.logger.Info("engine closed stdout")
}

// Lines yields the engine's output lines
func (p *Process) Lines() <-chan string {
	return p.lines
}

// Send writes one command line to the engine
func (p *Process) Send(line string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.logger.Debug("ENGINE<", zap.String("line", line))

	_, err := io.WriteString(p.stdinPipe, line+"\n")
	return err
}

// Close asks the engine to quit and kills it if it does not exit in time
func (p *Process) Close() error {
	var err error

	p.closeOnce.Do(func() {
		close(p.quitChan)
		_ = p.Send("quit")
		_ = p.stdinPipe.Close()

		done := make(chan error, 1)
		go func() { done <- p.cmd.Wait() }()

		select {
		case err = <-done:
		case <-time.After(processQuitGrace):
			p.logger.Warn("engine did not quit, killing it")
			_ = p.cmd.Process.Kill()
			err = <-done
		}

		p.logger.Info("engine process stopped")
	})

	return err
}
