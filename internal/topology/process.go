package topology

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/10gen/replset-harness/internal/await"
	"github.com/10gen/replset-harness/internal/logger"
	"github.com/10gen/replset-harness/mstrings"
	"github.com/pkg/errors"
)

// MongoDB 5.0+ writes its logs in line-delimited JSON; older versions
// write free text. A leading 0 is excluded so that the echoed
// “--port 0” option never matches.
var (
	portRegexpJSON = regexp.MustCompile(`"port":([1-9][0-9]*)`)
	portRegexp     = regexp.MustCompile(`port\s([1-9][0-9]*)`)
)

const maxOutputInError = 500

type process struct {
	cmd     *exec.Cmd
	pid     int
	exited  chan struct{}
	exitErr error

	// output collects what mongod writes outside its log file, e.g.
	// complaints about its arguments.
	output *mstrings.SyncTail
}

func startProcess(logger *logger.Logger, path string, args []string) (*process, error) {
	cmd := exec.Command(path, args...)

	output := &mstrings.SyncTail{Limit: maxOutputInError}
	cmd.Stdout = output
	cmd.Stderr = output

	logger.Debug().
		Str("mongod", path).
		Strs("args", args).
		Msg("Starting mongod.")

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start %#q", path)
	}

	proc := &process{
		cmd:    cmd,
		pid:    cmd.Process.Pid,
		exited: make(chan struct{}),
		output: output,
	}

	go func() {
		proc.exitErr = cmd.Wait()
		close(proc.exited)

		event := logger.Debug().Int("pid", proc.pid)
		if proc.exitErr != nil {
			event = event.Err(proc.exitErr)
		}
		event.Msg("mongod process ended.")
	}()

	return proc, nil
}

func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// waitExit waits up to timeout for the process to end.
func (p *process) waitExit(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return p.hasExited()
	}
}

func (p *process) signal(sig syscall.Signal) error {
	if p.hasExited() {
		return nil
	}

	err := p.cmd.Process.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}

	return errors.Wrapf(err, "failed to send %s to process %d", sig, p.pid)
}

// discoverPort scans a mongod’s log for the port that it bound, which the
// OS picked because the node was started with “--port 0”.
func discoverPort(
	ctx context.Context,
	logger *logger.Logger,
	proc *process,
	logPath string,
	timeout time.Duration,
) (int, error) {
	port, _, err := await.Condition(
		ctx,
		logger,
		"mongod logs its listening port",
		await.Options{
			Timeout:      timeout,
			PollInterval: 50 * time.Millisecond,
			MaxInterval:  500 * time.Millisecond,
		},
		func(context.Context) (int, bool, error) {
			if proc.hasExited() {
				return 0, false, await.Permanent(errors.Errorf(
					"mongod process %d ended without storing its listening port in %s (exit: %v; output: %#q)",
					proc.pid,
					logPath,
					proc.exitErr,
					strings.TrimSpace(proc.output.String()),
				))
			}

			content, err := os.ReadFile(logPath)
			if os.IsNotExist(err) {
				// The log file isn’t created (yet?); poll again.
				return 0, false, nil
			}
			if err != nil {
				return 0, false, await.Permanent(errors.Wrapf(err, "failed to read %s", logPath))
			}

			port, found := parsePort(content)
			return port, found, nil
		},
	)

	return port, err
}

func parsePort(logContent []byte) (int, bool) {
	match := portRegexpJSON.FindSubmatch(logContent)
	if match == nil {
		match = portRegexp.FindSubmatch(logContent)
	}

	if match == nil {
		return 0, false
	}

	port, err := strconv.ParseUint(string(match[1]), 10, 16)
	if err != nil {
		return 0, false
	}

	return int(port), true
}
