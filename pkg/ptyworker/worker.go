package ptyworker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/types"
	"github.com/cuemby/warren/pkg/verify"
)

const (
	readChunkSize       = 32 * 1024
	defaultReleaseGrace  = 5 * time.Second
)

// Callbacks are invoked by a Worker's read loop on interesting events. All
// callbacks are invoked from the read loop's own goroutine; implementations
// must not block.
type Callbacks struct {
	// OnActivity fires for every output chunk that contains an activity
	// marker, whether or not a delivery has been verified; callers that
	// want one signal per delivery debounce it themselves.
	OnActivity func(name string)
	// OnExit fires once when the child process exits, after the read
	// loop has drained remaining output.
	OnExit func(name string, exitCode int, signal string)
}

// Worker owns one PTY-wrapped child process: the master/slave pair, the
// spawned command, and the read task that pumps output into the
// verification buffer and scrollback. Exactly one goroutine (the read
// loop started by Start) owns reads from the PTY master; writes (Inject,
// WriteRaw, Resize) may come from any goroutine and are serialized by mu.
type Worker struct {
	name    string
	cli     types.CLIKind
	profile *Profile
	spec    types.WorkerSpec

	mu        sync.Mutex
	cmd       *exec.Cmd
	ptmx      *os.File
	model     string
	activityAt time.Time
	released  bool

	waitOnce sync.Once
	waitErr  error

	spawnedAt time.Time

	verifyBuf  *verify.Buffer
	scrollback *scrollback

	callbacks Callbacks
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New spawns spec's CLI binary inside a fresh PTY and returns the Worker
// wrapping it. The child runs in its own session (setsid) so that
// releasing or killing it does not affect the broker process, and a
// broker restart can still find it by PID for the reattach path.
func New(spec types.WorkerSpec, binary string, env []string, cb Callbacks) (*Worker, error) {
	cmd := exec.Command(binary, spec.Args...)
	cmd.Dir = spec.Cwd
	cmd.Env = append(append([]string{}, env...), "AGENT_RELAY_NAME="+spec.Name)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Name, err)
	}

	w := &Worker{
		name:       spec.Name,
		cli:        spec.CLI,
		profile:    ProfileFor(spec.CLI),
		spec:       spec,
		cmd:        cmd,
		ptmx:       ptmx,
		model:      spec.Model,
		spawnedAt:  time.Now(),
		verifyBuf:  verify.NewBuffer(0),
		scrollback: newScrollback(0),
		callbacks:  cb,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	return w, nil
}

// Start begins the read loop that pumps PTY output into the verification
// buffer, scrollback, and prompt/activity detection.
func (w *Worker) Start() {
	go w.readLoop()
}

func (w *Worker) readLoop() {
	defer close(w.doneCh)

	buf := make([]byte, readChunkSize)
	for {
		n, err := w.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			w.handleChunk(chunk)
		}
		if err != nil {
			w.handleExit()
			return
		}

		select {
		case <-w.stopCh:
			return
		default:
		}
	}
}

func (w *Worker) handleChunk(chunk []byte) {
	w.scrollback.append(chunk)
	w.verifyBuf.Feed(chunk)

	visible := verify.StripANSI(chunk)

	if re := w.profile.DetectPrompt(visible); re != nil {
		w.handlePrompt()
	}

	if w.profile.DetectActivity(visible) {
		w.mu.Lock()
		w.activityAt = time.Now()
		w.mu.Unlock()
		if w.callbacks.OnActivity != nil {
			w.callbacks.OnActivity(w.name)
		}
	}
}

// handlePrompt answers an interactive prompt matched by one of the
// profile's PromptPatterns (press-enter / confirmation, bypass-permissions,
// model switch, approval) with a bare newline. Every prompt gets the same
// answer. The chunk that contained the prompt has already been fed to the
// VerificationBuffer by handleChunk; it is not filtered out.
func (w *Worker) handlePrompt() {
	_ = w.WriteRaw([]byte("\n"))
}

// wait reaps the child exactly once, however many of the read loop and
// Release race to call it; both need the resulting ProcessState.
func (w *Worker) wait() error {
	w.waitOnce.Do(func() {
		w.waitErr = w.cmd.Wait()
	})
	return w.waitErr
}

func (w *Worker) handleExit() {
	_ = w.wait()

	exitCode := -1
	signal := ""
	if w.cmd.ProcessState != nil {
		exitCode = w.cmd.ProcessState.ExitCode()
		if ws, ok := w.cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			signal = ws.Signal().String()
		}
	}
	if w.callbacks.OnExit != nil {
		w.callbacks.OnExit(w.name, exitCode, signal)
	}
}

// Inject writes the deterministic formatted text for one delivery
// attempt. The caller (DeliveryEngine) is responsible for throttle gating
// before calling Inject.
func (w *Worker) Inject(formatted string) error {
	return w.WriteRaw([]byte(formatted))
}

// WriteRaw writes arbitrary bytes to the child's stdin, used both for
// send_input requests and for the worker's own prompt auto-answers.
func (w *Worker) WriteRaw(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return errors.New("worker released")
	}
	_, err := w.ptmx.Write(data)
	return err
}

// Resize adjusts the PTY window size.
func (w *Worker) Resize(cols, rows uint16) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return pty.Setsize(w.ptmx, &pty.Winsize{Cols: cols, Rows: rows})
}

// VerifyBuffer returns the buffer the delivery engine should check for
// echo containment.
func (w *Worker) VerifyBuffer() *verify.Buffer {
	return w.verifyBuf
}

// ScrollbackTail returns up to maxBytes of recent raw output.
func (w *Worker) ScrollbackTail(maxBytes int) []byte {
	return w.scrollback.tail(maxBytes)
}

// Name returns the worker's registry name.
func (w *Worker) Name() string { return w.name }

// CLI returns which agent binary this worker wraps.
func (w *Worker) CLI() types.CLIKind { return w.cli }

// PID returns the child process's OS PID.
func (w *Worker) PID() int { return w.cmd.Process.Pid }

// SpawnedAt returns when the worker was spawned.
func (w *Worker) SpawnedAt() time.Time { return w.spawnedAt }

// Spec returns the spec the worker was spawned from.
func (w *Worker) Spec() types.WorkerSpec { return w.spec }

// Model returns the worker's current model setting.
func (w *Worker) Model() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.model
}

// SetModel updates the worker's tracked current model (set_model does not
// itself reconfigure the running CLI; that happens via injected commands
// at a higher layer, this just updates the bookkeeping).
func (w *Worker) SetModel(model string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.model = model
}

// ActivityLastSeen returns the last time an activity marker was observed.
func (w *Worker) ActivityLastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.activityAt
}

// Release signals the child to exit and waits up to grace for it to do
// so, SIGKILLing it otherwise. Idempotent: calling Release twice is a
// no-op the second time.
func (w *Worker) Release(grace time.Duration) error {
	w.mu.Lock()
	if w.released {
		w.mu.Unlock()
		return nil
	}
	w.released = true
	w.mu.Unlock()

	if grace <= 0 {
		grace = defaultReleaseGrace
	}

	close(w.stopCh)

	proc := w.cmd.Process
	if proc == nil {
		return nil
	}

	_ = proc.Signal(syscall.SIGTERM)

	exited := make(chan struct{})
	go func() {
		_ = w.wait()
		close(exited)
	}()

	select {
	case <-exited:
	case <-time.After(grace):
		_ = proc.Kill()
		<-exited
	}

	_ = w.ptmx.Close()
	log.WithWorker(w.name).Info().Msg("worker released")
	return nil
}

// Done returns a channel closed once the read loop has exited (the child
// has exited and remaining output has been drained).
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}
