// Package launcher starts diagnostics processes by running a configured command.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dProxy/lib/session"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/mattn/go-shellwords"
)

var log = logger.GetLogger("launcher")

// DefaultTimeout bounds a single start command.
const DefaultTimeout = 30 * time.Second

// ErrNoCommand is returned by Start when no command template is configured.
var ErrNoCommand = errors.New("no start command configured")

// Launcher runs a command template for every start request.
// The placeholders {app}, {pid} and {port} are replaced before the template is
// split into arguments with shell quoting rules. Nothing else of the shell
// applies: no pipes, redirects or variables.
type Launcher struct {
	Command string
	Timeout time.Duration
}

// New creates a launcher. A zero timeout means DefaultTimeout.
func New(command string, timeout time.Duration) *Launcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Launcher{Command: command, Timeout: timeout}
}

// Args returns the expanded command line for key and port.
func (l *Launcher) Args(key session.Key, port int) ([]string, error) {
	r := strings.NewReplacer(
		"{app}", key.AppCode,
		"{pid}", strconv.Itoa(key.Pid),
		"{port}", strconv.Itoa(port),
	)
	args, err := shellwords.Parse(r.Replace(l.Command))
	if err != nil {
		return nil, fmt.Errorf("parsing start command: %w", err)
	}
	return args, nil
}

// Start runs the command and waits for it to exit.
func (l *Launcher) Start(ctx context.Context, key session.Key, port int) error {
	args, err := l.Args(key, port)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return ErrNoCommand
	}

	ctx, cancel := context.WithTimeout(ctx, l.Timeout)
	defer cancel()

	log.Infof("starting diagnostics process for %s: %s", key, strings.Join(args, " "))
	out, err := exec.CommandContext(ctx, args[0], args[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("start command %q failed: %w (output: %s)", args[0], err, strings.TrimSpace(string(out)))
	}
	log.Debugf("start command for %s finished: %s", key, strings.TrimSpace(string(out)))
	return nil
}
