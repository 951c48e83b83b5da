// Package shell is the interactive line interface of the bridge. It drives
// the sampler and sends single commands to the power supply.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"caen-hv-bridge/internal/device"
	"caen-hv-bridge/internal/logger"
	"caen-hv-bridge/internal/protocol"
)

const (
	Prompt = "dt5533e> "
	Banner = "[info] type 'start' to begin monitoring; 'help' for commands"
)

const helpText = `commands:
  start | stop
  status
  period <sec>
  chan <N>
  mon <vset|vmon|iset|imon|stat|trip>
  set vset <V>
  set iset <I>
  on | off
  pdwn kill
  raw <payload>
  help | quit`

// Device is the subset of *device.Client the shell uses.
type Device interface {
	Monitor(ctx context.Context, ch int, par protocol.Param) (protocol.Reply, error)
	SetVSet(ctx context.Context, ch int, value string) (protocol.Reply, error)
	SetISet(ctx context.Context, ch int, value string) (protocol.Reply, error)
	PowerOn(ctx context.Context, ch int) (protocol.Reply, error)
	PowerOff(ctx context.Context, ch int) (protocol.Reply, error)
	PowerDownKill(ctx context.Context, ch int) (protocol.Reply, error)
	Raw(ctx context.Context, payload string) (protocol.Reply, error)
	State() device.State
}

// Sampler is the subset of *sampler.Sampler the shell uses.
type Sampler interface {
	Start(ctx context.Context) bool
	Stop() bool
	Running() bool
	Channel() int
	SetChannel(ch int) error
	Period() time.Duration
	SetPeriod(d time.Duration) error
}

// HealthReporter tells whether the device is considered online.
type HealthReporter interface {
	IsOnline() bool
}

// Shell dispatches one command per input line. The target channel of every
// device command is the sampler's channel.
type Shell struct {
	device  Device
	sampler Sampler
	health  HealthReporter
	out     io.Writer
}

// Option configures a Shell.
type Option func(*Shell)

// WithHealth adds the device monitor verdict to the status command.
func WithHealth(h HealthReporter) Option {
	return func(s *Shell) { s.health = h }
}

// New creates a shell writing its output to out.
func New(dev Device, smp Sampler, out io.Writer, opts ...Option) *Shell {
	s := &Shell{device: dev, sampler: smp, out: out}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads commands from in until quit, end of input or ctx is done.
func (s *Shell) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	s.println(Banner)
	for {
		fmt.Fprint(s.out, Prompt)
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading shell input: %w", err)
			}
			logger.LogDebug("🔧 Shell input closed")
			return nil
		case line := <-lines:
			if !s.Handle(ctx, line) {
				return nil
			}
		}
	}
}

// Handle executes one line. It returns false when the user asked to quit.
func (s *Shell) Handle(ctx context.Context, line string) bool {
	parts, err := shlex.Split(line)
	if err != nil {
		s.println("[err] parse")
		return true
	}
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch {
	case cmd == "quit" || cmd == "exit" || cmd == ":q":
		return false
	case cmd == "help":
		s.println(helpText)
	case cmd == "start":
		s.start(ctx)
	case cmd == "stop":
		s.stop()
	case cmd == "status":
		s.status()
	case cmd == "period" && len(args) == 1:
		s.setPeriod(args[0])
	case cmd == "chan" && len(args) == 1:
		s.setChannel(args[0])
	case cmd == "mon" && len(args) == 1:
		s.monitor(ctx, args[0])
	case cmd == "set" && len(args) >= 2:
		s.set(ctx, strings.ToLower(args[0]), strings.Join(args[1:], " "))
	case cmd == "on":
		s.printReply(s.device.PowerOn(ctx, s.sampler.Channel()))
	case cmd == "off":
		s.printReply(s.device.PowerOff(ctx, s.sampler.Channel()))
	case cmd == "pdwn" && len(args) == 1 && strings.EqualFold(args[0], protocol.ValueKill):
		s.printReply(s.device.PowerDownKill(ctx, s.sampler.Channel()))
	case cmd == "raw" && len(args) >= 1:
		s.printReply(s.device.Raw(ctx, strings.Join(args, " ")))
	default:
		s.println("[err] unknown command (help)")
	}
	return true
}

func (s *Shell) start(ctx context.Context) {
	if !s.sampler.Start(ctx) {
		s.println("[ok] monitor already running")
		return
	}
	s.printf("[ok] monitor started ch=%d period=%ss\n", s.sampler.Channel(), seconds(s.sampler.Period()))
}

func (s *Shell) stop() {
	if s.sampler.Stop() {
		s.println("[ok] monitor stopped")
	} else {
		s.println("[ok] monitor not running")
	}
}

func (s *Shell) status() {
	state := "stopped"
	if s.sampler.Running() {
		state = "running"
	}
	line := fmt.Sprintf("[info] monitor=%s ch=%d period=%ss device=%s",
		state, s.sampler.Channel(), seconds(s.sampler.Period()), s.device.State())
	if s.health != nil {
		line += fmt.Sprintf(" online=%t", s.health.IsOnline())
	}
	s.println(line)
}

// maxPeriodSeconds is the longest period a time.Duration can hold.
const maxPeriodSeconds = float64(math.MaxInt64) / float64(time.Second)

func (s *Shell) setPeriod(arg string) {
	sec, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		s.println("[err] period must be a number")
		return
	}
	if math.IsNaN(sec) || math.IsInf(sec, 0) || sec > maxPeriodSeconds {
		s.println("[err] period out of range")
		return
	}
	if err := s.sampler.SetPeriod(time.Duration(sec * float64(time.Second))); err != nil {
		s.println("[err] period must be positive")
		return
	}
	s.printf("[ok] period=%ss\n", seconds(s.sampler.Period()))
}

func (s *Shell) setChannel(arg string) {
	ch, err := strconv.Atoi(arg)
	if err != nil {
		s.println("[err] channel must be an integer")
		return
	}
	if err := s.sampler.SetChannel(ch); err != nil {
		s.println("[err] channel must not be negative")
		return
	}
	s.printf("[ok] channel=%d\n", ch)
}

func (s *Shell) set(ctx context.Context, what, value string) {
	ch := s.sampler.Channel()
	switch what {
	case "vset":
		s.printReply(s.device.SetVSet(ctx, ch, value))
	case "iset":
		s.printReply(s.device.SetISet(ctx, ch, value))
	default:
		s.println("[err] unknown set param (vset|iset)")
	}
}

func (s *Shell) monitor(ctx context.Context, arg string) {
	par := protocol.Param(strings.ToUpper(arg))
	if !protocol.IsMonitorParam(par) {
		s.println("[err] unknown mon param (vset|vmon|iset|imon|stat|trip)")
		return
	}
	reply, err := s.device.Monitor(ctx, s.sampler.Channel(), par)
	if err != nil || !reply.OK || par != protocol.ParamStat {
		s.printReply(reply, err)
		return
	}
	word, ok := reply.Int()
	if !ok {
		s.printReply(reply, nil)
		return
	}
	flags := protocol.ActiveFlags(uint16(word))
	s.printf("[ok] %s flags=%s\n", reply.Raw, strings.Join(flags, ","))
}

func (s *Shell) printReply(reply protocol.Reply, err error) {
	switch {
	case err != nil:
		s.printf("[err] %v\n", err)
	case reply.OK:
		s.printf("[ok] %s\n", reply.Raw)
	default:
		msg := reply.Error
		if msg == "" {
			msg = "fail"
		}
		s.printf("[err] %s %s\n", msg, reply.Raw)
	}
}

func (s *Shell) println(line string) {
	fmt.Fprintln(s.out, line)
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}
