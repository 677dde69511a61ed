package supervisor

import (
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
)

// outputTailLimit bounds captured child output; only the tail matters
// for diagnostics.
const outputTailLimit = 64 * 1024

// managedProcess is a spawned server plus its captured output. It is
// created by a successful spawn and forgotten once killed; the
// supervisor never reuses one.
type managedProcess struct {
	cmd    *exec.Cmd
	stdout *tailBuffer
	stderr *tailBuffer
	// waitCh receives the cmd.Wait result exactly once.
	waitCh chan error
	killed atomic.Bool
}

// startProcess spawns path with args attached to the current process,
// capturing stdout and stderr for diagnostics.
func startProcess(path string, args []string) (*managedProcess, error) {
	cmd := exec.Command(path, args...)
	p := &managedProcess{
		cmd:    cmd,
		stdout: &tailBuffer{limit: outputTailLimit},
		stderr: &tailBuffer{limit: outputTailLimit},
		waitCh: make(chan error, 1),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		p.waitCh <- cmd.Wait()
	}()

	return p, nil
}

// kill terminates the process once; later calls are no-ops.
func (p *managedProcess) kill() {
	if !p.killed.CompareAndSwap(false, true) {
		return
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// tail formats captured output for inclusion in an error message.
func (p *managedProcess) tail() string {
	var b strings.Builder
	if out := strings.TrimSpace(p.stdout.String()); out != "" {
		fmt.Fprintf(&b, "\nstdout:\n%s", out)
	}
	if errOut := strings.TrimSpace(p.stderr.String()); errOut != "" {
		fmt.Fprintf(&b, "\nstderr:\n%s", errOut)
	}
	return b.String()
}

// tailBuffer is a write sink that keeps only the last limit bytes.
// The child writes from its own goroutines, so access is locked.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if len(b.buf) > b.limit {
		b.buf = b.buf[len(b.buf)-b.limit:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
