// Package launcher starts the external flight scripts that actually fly the
// drone: the outbound delivery leg and the return leg.
package launcher

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Leg string

const (
	Outbound Leg = "outbound"
	Return   Leg = "return"
)

const (
	DefaultDeliveryScript = "delivery_flight.py"
	DefaultReturnScript   = "flight_back.py"
	DefaultGracePeriod    = 5 * time.Second

	maxLineSize = 1 << 20
)

type Config struct {
	Interpreter    string
	ScriptsDir     string
	DeliveryScript string
	ReturnScript   string
	GracePeriod    time.Duration
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func (p *process) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

type Launcher struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	outbound *process
}

func New(cfg Config, log zerolog.Logger) *Launcher {
	if cfg.DeliveryScript == "" {
		cfg.DeliveryScript = DefaultDeliveryScript
	}
	if cfg.ReturnScript == "" {
		cfg.ReturnScript = DefaultReturnScript
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	return &Launcher{cfg: cfg, log: log}
}

// Launch starts one flight leg. The outbound leg is refused while a previous
// outbound process is still running. The return leg is never tracked.
func (l *Launcher) Launch(leg Leg, target, home int) bool {
	switch leg {
	case Outbound:
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.outbound != nil && l.outbound.alive() {
			l.log.Warn().Int("pid", l.outbound.cmd.Process.Pid).Msg("Outbound flight already running")
			return false
		}
		p, err := l.spawn(leg, l.cfg.DeliveryScript, strconv.Itoa(target), strconv.Itoa(home))
		if err != nil {
			l.log.Error().Err(err).Str("leg", string(leg)).Msg("Failed to launch flight")
			return false
		}
		l.outbound = p
		return true
	case Return:
		if _, err := l.spawn(leg, l.cfg.ReturnScript, strconv.Itoa(home)); err != nil {
			l.log.Error().Err(err).Str("leg", string(leg)).Msg("Failed to launch flight")
			return false
		}
		return true
	default:
		l.log.Error().Str("leg", string(leg)).Msg("Unknown flight leg")
		return false
	}
}

func (l *Launcher) spawn(leg Leg, script string, args ...string) (*process, error) {
	cmd := exec.Command(l.cfg.Interpreter, append([]string{filepath.Join(l.cfg.ScriptsDir, script)}, args...)...)
	cmd.Dir = l.cfg.ScriptsDir
	// own process group, so signals reach everything the script starts
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Plain files rather than StdoutPipe: Wait then returns when the script
	// exits, even if a descendant still holds the write end.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "stdout pipe")
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, errors.Wrap(err, "stderr pipe")
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdout.Close()
		stderr.Close()
		return nil, errors.WithMessagef(err, "start %s", script)
	}

	log := l.log.With().Str("leg", string(leg)).Int("pid", cmd.Process.Pid).Logger()
	log.Info().Strs("args", cmd.Args).Msg("Flight launched")

	p := &process{cmd: cmd, done: make(chan struct{})}

	go forwardLines(stdout, log, zerolog.InfoLevel)
	go forwardLines(stderr, log, zerolog.WarnLevel)

	go func() {
		err := cmd.Wait()
		if err != nil {
			log.Warn().Err(err).Msg("Flight exited")
		} else {
			log.Info().Msg("Flight finished")
		}
		close(p.done)
	}()

	return p, nil
}

// forwardLines logs r line by line until EOF. Output past an over-long line
// is discarded, but r is always drained so the writer never blocks.
func forwardLines(r io.ReadCloser, log zerolog.Logger, level zerolog.Level) {
	defer r.Close()
	stream := streamName(level)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		log.WithLevel(level).Str("stream", stream).Msg(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("stream", stream).Msg("Flight output no longer logged")
	}
	_, _ = io.Copy(io.Discard, r)
}

func streamName(level zerolog.Level) string {
	if level == zerolog.InfoLevel {
		return "stdout"
	}
	return "stderr"
}

// IsActive reports whether the outbound process is still running.
func (l *Launcher) IsActive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.outbound != nil && l.outbound.alive()
}

// Terminate stops the outbound process group: SIGTERM, then SIGKILL once the
// grace period runs out. The tracked handle is cleared either way.
func (l *Launcher) Terminate() {
	l.mu.Lock()
	p := l.outbound
	l.outbound = nil
	l.mu.Unlock()

	if p == nil || !p.alive() {
		return
	}

	pid := p.cmd.Process.Pid
	l.log.Info().Int("pid", pid).Msg("Terminating outbound flight")
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		l.log.Warn().Err(err).Int("pid", pid).Msg("SIGTERM failed")
	}

	select {
	case <-p.done:
		return
	case <-time.After(l.cfg.GracePeriod):
	}

	l.log.Warn().Int("pid", pid).Msg("Flight ignored SIGTERM, killing")
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		l.log.Error().Err(err).Int("pid", pid).Msg("SIGKILL failed")
	}

	select {
	case <-p.done:
	case <-time.After(l.cfg.GracePeriod):
		l.log.Error().Int("pid", pid).Msg("Flight still running after SIGKILL")
	}
}
