package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sentineld/internal/config"
)

const stdinQueueSize = 64

// maxLineSize bounds a single stdout line from a child (10MB).
const maxLineSize = 10 * 1024 * 1024

// StdioBackend talks to a child MCP server over newline-delimited JSON-RPC
// on stdin/stdout. The backend object is stable for the life of the
// gateway; the supervisor swaps the live child connection underneath it on
// every (re)spawn.
type StdioBackend struct {
	name    string
	timeout time.Duration
	logger  *zap.Logger

	mu   sync.RWMutex
	conn *stdioConn
}

// stdioConn is the per-child state: the writer queue, the pending-request
// correlator, and the process id.
type stdioConn struct {
	stdinCh    chan string
	writerDone chan struct{}
	readerDone chan struct{}
	pending    *pendingTable
	pid        int
}

// pendingTable correlates in-flight request ids with their single-slot
// delivery channels. The lock covers only insert, remove, and take — never
// any I/O.
type pendingTable struct {
	mu      sync.Mutex
	waiters map[uint64]chan string
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[uint64]chan string)}
}

func (p *pendingTable) insert(id uint64, ch chan string) {
	p.mu.Lock()
	p.waiters[id] = ch
	p.mu.Unlock()
}

func (p *pendingTable) remove(id uint64) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// take removes and returns the waiter for id, if any.
func (p *pendingTable) take(id uint64) (chan string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	return ch, ok
}

// drain closes every waiter channel; blocked senders observe the close as
// "process exited".
func (p *pendingTable) drain() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := len(p.waiters)
	for id, ch := range p.waiters {
		close(ch)
		delete(p.waiters, id)
	}
	return count
}

// NewStdioBackend builds the stable backend handle. No child is running
// until the supervisor performs the first spawn.
func NewStdioBackend(cfg config.BackendConfig, logger *zap.Logger) *StdioBackend {
	return &StdioBackend{
		name:    cfg.Name,
		timeout: cfg.Timeout.Duration(),
		logger:  logger.Named("backend").With(zap.String("backend", cfg.Name)),
	}
}

// Name returns the configured backend name.
func (b *StdioBackend) Name() string { return b.name }

func (b *StdioBackend) currentConn() *stdioConn {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn
}

func (b *StdioBackend) setConn(c *stdioConn) {
	b.mu.Lock()
	b.conn = c
	b.mu.Unlock()
}

// Send delivers one JSON-RPC body to the child and waits for the response
// carrying the same numeric id, up to the per-backend timeout. The body
// must carry a numeric id; the correlator is keyed on it.
func (b *StdioBackend) Send(ctx context.Context, body string) (string, error) {
	conn := b.currentConn()
	if conn == nil {
		return "", ErrProcessNotRunning
	}

	var envelope struct {
		ID *uint64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil || envelope.ID == nil {
		return "", ErrMissingNumericID
	}
	id := *envelope.ID

	ch := make(chan string, 1)
	conn.pending.insert(id, ch)

	select {
	case conn.stdinCh <- body:
	case <-conn.writerDone:
		conn.pending.remove(id)
		return "", ErrStdinClosed
	case <-ctx.Done():
		conn.pending.remove(id)
		return "", ctx.Err()
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case line, ok := <-ch:
		if !ok {
			return "", ErrProcessExited
		}
		return line, nil
	case <-timer.C:
		// Remove before returning so a late response finds no waiter and is
		// discarded instead of delivered to a recycled id.
		conn.pending.remove(id)
		return "", ErrTimeout
	case <-ctx.Done():
		conn.pending.remove(id)
		return "", ctx.Err()
	}
}

// Notify writes a body with no response expectation (used for the
// notifications/initialized handshake step).
func (b *StdioBackend) Notify(ctx context.Context, body string) error {
	conn := b.currentConn()
	if conn == nil {
		return ErrProcessNotRunning
	}
	select {
	case conn.stdinCh <- body:
		return nil
	case <-conn.writerDone:
		return ErrStdinClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// spawn launches the child in its own process group with the sanitised
// environment and starts the writer and reader workers.
func (b *StdioBackend) spawn(cfg config.BackendConfig) (*stdioConn, *exec.Cmd, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = childEnv(cfg.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}

	conn := &stdioConn{
		stdinCh:    make(chan string, stdinQueueSize),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
		pending:    newPendingTable(),
		pid:        cmd.Process.Pid,
	}

	go b.runWriter(conn, stdin)
	go b.runReader(conn, stdout)
	go b.logStderr(stderr)

	return conn, cmd, nil
}

// runWriter consumes the bounded queue and writes each message as one line
// to the child's stdin, flushing per message. Any write error ends the
// writer; writerDone tells blocked senders the queue is gone.
func (b *StdioBackend) runWriter(conn *stdioConn, stdin io.WriteCloser) {
	defer close(conn.writerDone)
	defer stdin.Close()

	w := bufio.NewWriter(stdin)
	for {
		select {
		case msg := <-conn.stdinCh:
			if !strings.HasSuffix(msg, "\n") {
				msg += "\n"
			}
			if _, err := w.WriteString(msg); err != nil {
				b.logger.Warn("stdin write failed", zap.Error(err))
				return
			}
			if err := w.Flush(); err != nil {
				b.logger.Warn("stdin flush failed", zap.Error(err))
				return
			}
		case <-conn.readerDone:
			// Child is gone; stop accepting writes.
			return
		}
	}
}

// runReader reads the child's stdout line by line, skipping anything that
// is not a JSON object with a numeric id, and delivers matching lines to
// the pending waiter. On EOF the pending table is drained so outstanding
// sends observe the exit.
func (b *StdioBackend) runReader(conn *stdioConn, stdout io.Reader) {
	defer close(conn.readerDone)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var envelope struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal([]byte(line), &envelope); err != nil {
			b.logger.Debug("non-JSON line from child stdout", zap.String("line", line))
			continue
		}
		var id uint64
		if envelope.ID == nil || json.Unmarshal(envelope.ID, &id) != nil {
			b.logger.Debug("stdout line without numeric id, skipping")
			continue
		}

		waiter, ok := conn.pending.take(id)
		if !ok {
			b.logger.Debug("no pending request for response id", zap.Uint64("id", id))
			continue
		}
		waiter <- line
	}

	if err := scanner.Err(); err != nil {
		b.logger.Warn("stdout read error", zap.Error(err))
	}

	if count := conn.pending.drain(); count > 0 {
		b.logger.Debug("drained pending requests", zap.Int("count", count))
	}
}

func (b *StdioBackend) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 4*1024), 256*1024)
	for scanner.Scan() {
		b.logger.Debug("child stderr", zap.String("line", scanner.Text()))
	}
}
