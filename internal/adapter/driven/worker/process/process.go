// Package process starts a media worker binary wired to the four pipes
// its channels run on.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// Settings describe how the worker binary is started.
type Settings struct {
	Binary string
	// Args are passed before the generated flags.
	Args                []string
	Version             string
	LogLevel            string
	LogTags             []string
	RtcMinPort          uint16
	RtcMaxPort          uint16
	DtlsCertificateFile string
	DtlsPrivateKeyFile  string
}

// Flags returns the worker command line flags for s.
func (s Settings) Flags() []string {
	var flags []string
	if s.LogLevel != "" {
		flags = append(flags, "--logLevel="+s.LogLevel)
	}
	for _, tag := range s.LogTags {
		flags = append(flags, "--logTag="+tag)
	}
	if s.RtcMinPort != 0 {
		flags = append(flags, "--rtcMinPort="+strconv.Itoa(int(s.RtcMinPort)))
	}
	if s.RtcMaxPort != 0 {
		flags = append(flags, "--rtcMaxPort="+strconv.Itoa(int(s.RtcMaxPort)))
	}
	if s.DtlsCertificateFile != "" && s.DtlsPrivateKeyFile != "" {
		flags = append(flags,
			"--dtlsCertificateFile="+s.DtlsCertificateFile,
			"--dtlsPrivateKeyFile="+s.DtlsPrivateKeyFile,
		)
	}
	return flags
}

// Process is a running worker.
type Process struct {
	cmd    *exec.Cmd
	logger zerolog.Logger

	controlR *os.File
	controlW *os.File
	payloadR *os.File
	payloadW *os.File

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Spawn starts the worker. The child sees the pipes as
//
//	fd 3: control requests  (we write)
//	fd 4: control messages  (we read)
//	fd 5: payload requests  (we write)
//	fd 6: payload messages  (we read)
//
// Cancelling ctx kills the worker.
func Spawn(ctx context.Context, s Settings, logger zerolog.Logger) (*Process, error) {
	if s.Binary == "" {
		return nil, errors.New("process: no worker binary configured")
	}

	var parent, child []*os.File
	closeAll := func() error {
		var err error
		for _, f := range append(parent, child...) {
			err = multierr.Append(err, f.Close())
		}
		return err
	}

	// Each pair is [parent end, child end].
	for _, toChild := range []bool{true, false, true, false} {
		r, w, err := os.Pipe()
		if err != nil {
			_ = closeAll()
			return nil, fmt.Errorf("process: creating pipe: %w", err)
		}
		if toChild {
			parent, child = append(parent, w), append(child, r)
		} else {
			parent, child = append(parent, r), append(child, w)
		}
	}

	cmd := exec.CommandContext(ctx, s.Binary, append(append([]string(nil), s.Args...), s.Flags()...)...)
	cmd.ExtraFiles = child
	cmd.Env = append(os.Environ(), "MEDIASOUP_VERSION="+s.Version)
	cmd.Stdout = newLineWriter(logger, zerolog.DebugLevel, "stdout")
	cmd.Stderr = newLineWriter(logger, zerolog.ErrorLevel, "stderr")
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		return nil, multierr.Append(fmt.Errorf("process: starting %s: %w", s.Binary, err), closeAll())
	}

	var err error
	for _, f := range child {
		err = multierr.Append(err, f.Close())
	}
	if err != nil {
		logger.Warn().Err(err).Msg("closing child pipe ends")
	}

	p := &Process{
		cmd:      cmd,
		logger:   logger.With().Int("pid", cmd.Process.Pid).Logger(),
		controlW: parent[0],
		controlR: parent[1],
		payloadW: parent[2],
		payloadR: parent[3],
		exited:   make(chan struct{}),
	}
	go p.wait()

	p.logger.Debug().Str("binary", s.Binary).Strs("flags", s.Flags()).Msg("worker process started")
	return p, nil
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	if p.waitErr != nil {
		p.logger.Debug().Err(p.waitErr).Msg("worker process exited")
	}
	close(p.exited)
}

func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Control returns the ends the control channel reads from and writes to.
func (p *Process) Control() (io.ReadCloser, io.WriteCloser) {
	return p.controlR, p.controlW
}

// Payload returns the ends the payload channel reads from and writes to.
func (p *Process) Payload() (io.ReadCloser, io.WriteCloser) {
	return p.payloadR, p.payloadW
}

func (p *Process) Kill() error {
	err := p.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// Wait blocks until the worker has exited and returns its exit error.
func (p *Process) Wait() error {
	<-p.exited
	return p.waitErr
}

// Exited is closed once the worker has exited.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// Close kills the worker and closes our pipe ends. Pipes the channels
// already closed are ignored.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		err := p.Kill()
		for _, f := range []*os.File{p.controlW, p.controlR, p.payloadW, p.payloadR} {
			if cerr := f.Close(); cerr != nil && !errors.Is(cerr, os.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		p.closeErr = err
	})
	return p.closeErr
}
