// Package jobshim is the first code a job process runs. It reports that it
// is alive, waits to be resumed by the scheduler, then replaces itself with
// the submitted command.
package jobshim

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"

	"golang.org/x/sys/unix"

	"github.com/me/rrsched/pkg/model"
)

// ReadyFD is the descriptor the launcher passes as the readiness pipe.
const ReadyFD = 3

// Run blocks until SIGCONT, then execs args. It only returns on failure,
// with the exit code the process should use.
//
// SIGCONT is subscribed before readiness is reported, so the launcher's
// SIGSTOP and the scheduler's later SIGCONT cannot race past the wait.
func Run(args []string, ready io.WriteCloser, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "exec-job: no command")
		return model.ExitCodeNotFound
	}

	resumed := make(chan os.Signal, 1)
	signal.Notify(resumed, unix.SIGCONT)

	if ready != nil {
		_, werr := ready.Write([]byte{1})
		ready.Close()
		if werr != nil {
			fmt.Fprintf(stderr, "exec-job: report ready: %v\n", werr)
			return model.ExitCodeExecFailed
		}
	}

	<-resumed
	signal.Stop(resumed)

	path, err := Resolve(args[0])
	if err != nil {
		fmt.Fprintln(stderr, err)
		return err.(*model.ExecError).Code
	}

	err = unix.Exec(path, args, os.Environ())
	xerr := &model.ExecError{Name: args[0], Code: model.ExitCodeExecFailed, Err: err}
	fmt.Fprintln(stderr, xerr)
	return xerr.Code
}

// Resolve looks name up on PATH the way execvp does.
func Resolve(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &model.ExecError{Name: name, Code: model.ExitCodeNotFound, Err: err}
	}
	return path, nil
}

// ReadyPipe returns the inherited readiness pipe, or nil if the process was
// not started by the launcher.
func ReadyPipe() *os.File {
	f := os.NewFile(ReadyFD, "ready")
	if f == nil {
		return nil
	}
	if _, err := f.Stat(); err != nil {
		return nil
	}
	return f
}

// Main is the entry point of the exec-job command.
func Main(args []string) int {
	var ready io.WriteCloser
	if f := ReadyPipe(); f != nil {
		ready = f
	}
	return Run(args, ready, os.Stderr)
}
