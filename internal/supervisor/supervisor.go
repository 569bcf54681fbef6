// Package supervisor spawns, monitors and auto-restarts locally
// generated MCP tool-server processes. Each managed process keeps a
// bounded log ring and a restart budget; exhausting the budget is
// terminal and visible in status queries.
package supervisor

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of one managed process.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
	StatusError    Status = "error"
)

const (
	// ReadyMarker is the stdout tag a managed server prints once it is
	// accepting connections.
	ReadyMarker = "[mcp]"

	// Environment contract for spawned servers.
	EnvPort       = "API2MCP_PORT"
	EnvStatusPort = "API2MCP_STATUS_PORT"

	maxRestartAttempts = 5
	defaultBaseDelay   = 2 * time.Second
	logBufferLines     = 200
)

// StartParams describes one server to spawn.
type StartParams struct {
	ServerID   string
	ScriptPath string
	Env        map[string]string
	Port       int
	StatusPort int
}

// Summary is a read-only snapshot of one managed process.
type Summary struct {
	ServerID        string     `json:"serverId"`
	Status          Status     `json:"status"`
	Port            int        `json:"port"`
	StatusPort      int        `json:"statusPort,omitempty"`
	PID             int        `json:"pid,omitempty"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	ExitedAt        *time.Time `json:"exitedAt,omitempty"`
	Logs            []string   `json:"logs"`
	RestartAttempts int        `json:"restartAttempts"`
	Error           string     `json:"error,omitempty"`
}

// process is the mutable record for one managed server. Its own exit
// handler is the only mutator besides Start/Stop.
type process struct {
	mu              sync.Mutex
	params          StartParams
	status          Status
	pid             int
	startedAt       time.Time
	exitedAt        time.Time
	logs            *ring
	restartAttempts int
	autoRestart     bool
	restartTimer    *time.Timer
	cmd             *exec.Cmd
	lastError       string
}

// Supervisor manages the set of locally spawned tool servers.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*process

	// baseDelay is the backoff base; tests shrink it.
	baseDelay time.Duration
}

// New creates an empty supervisor.
func New() *Supervisor {
	return &Supervisor{
		procs:     make(map[string]*process),
		baseDelay: defaultBaseDelay,
	}
}

// Start spawns (or replaces) the managed server identified by
// params.ServerID. An existing process for the same id is stopped first,
// best effort.
func (s *Supervisor) Start(params StartParams) error {
	if params.ServerID == "" || params.ScriptPath == "" {
		return fmt.Errorf("start requires serverId and scriptPath")
	}

	s.mu.Lock()
	_, exists := s.procs[params.ServerID]
	s.mu.Unlock()
	if exists {
		if err := s.Stop(params.ServerID); err != nil {
			log.Printf("WARN: stopping previous instance of %s: %v", params.ServerID, err)
		}
	}

	p := &process{
		params:      params,
		status:      StatusStarting,
		logs:        newRing(logBufferLines),
		autoRestart: true,
	}
	s.mu.Lock()
	s.procs[params.ServerID] = p
	s.mu.Unlock()

	return s.spawn(p)
}

// spawn starts the OS process for p and wires up log capture, the
// readiness watcher and the exit handler.
func (s *Supervisor) spawn(p *process) error {
	cmd := exec.Command(p.params.ScriptPath)
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("%s=%d", EnvPort, p.params.Port),
	)
	if p.params.StatusPort != 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", EnvStatusPort, p.params.StatusPort))
	}
	for k, v := range p.params.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe for %s: %w", p.params.ServerID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe for %s: %w", p.params.ServerID, err)
	}

	if err := cmd.Start(); err != nil {
		p.mu.Lock()
		p.status = StatusError
		p.lastError = err.Error()
		p.mu.Unlock()
		return fmt.Errorf("spawn %s: %w", p.params.ServerID, err)
	}

	now := time.Now()
	p.mu.Lock()
	p.cmd = cmd
	p.pid = cmd.Process.Pid
	p.startedAt = now
	p.status = StatusStarting
	p.mu.Unlock()

	go s.captureLogs(p, stdout, true)
	go s.captureLogs(p, stderr, false)
	go s.watchExit(p, cmd)

	return nil
}

// captureLogs appends process output to the bounded ring. A stdout line
// carrying the readiness marker flips the process to RUNNING and resets
// the restart budget.
func (s *Supervisor) captureLogs(p *process, r io.Reader, stdout bool) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		p.mu.Lock()
		p.logs.append(line)
		if stdout && p.status == StatusStarting && strings.Contains(line, ReadyMarker) {
			p.status = StatusRunning
			p.restartAttempts = 0
		}
		p.mu.Unlock()
	}
}

// watchExit handles process termination: clean exits stop the record,
// crashes schedule a backoff restart until the budget is spent.
func (s *Supervisor) watchExit(p *process, cmd *exec.Cmd) {
	waitErr := cmd.Wait()
	now := time.Now()

	p.mu.Lock()
	if p.cmd != cmd {
		// A replacement was already spawned; this exit belongs to the
		// previous incarnation.
		p.mu.Unlock()
		return
	}
	p.exitedAt = now
	p.pid = 0

	if !p.autoRestart {
		p.status = StatusStopped
		p.mu.Unlock()
		return
	}
	if waitErr == nil {
		// Clean exit is terminal even with auto-restart enabled.
		p.status = StatusStopped
		p.mu.Unlock()
		return
	}

	p.logs.append(fmt.Sprintf("%s process exited: %v", ReadyMarker, waitErr))

	if p.restartAttempts >= maxRestartAttempts {
		p.status = StatusError
		p.lastError = fmt.Sprintf("gave up after %d restart attempts: %v", p.restartAttempts, waitErr)
		p.mu.Unlock()
		log.Printf("ERROR: server %s exceeded restart budget", p.params.ServerID)
		return
	}

	delay := s.baseDelay << p.restartAttempts
	p.restartAttempts++
	p.status = StatusStarting
	p.restartTimer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		if !p.autoRestart {
			p.mu.Unlock()
			return
		}
		p.restartTimer = nil
		p.mu.Unlock()

		if err := s.spawn(p); err != nil {
			log.Printf("WARN: respawn %s: %v", p.params.ServerID, err)
		}
	})
	p.mu.Unlock()

	log.Printf("server %s crashed, restart %d/%d in %s", p.params.ServerID, p.restartAttempts, maxRestartAttempts, delay)
}

// Stop disables auto-restart, cancels any pending restart timer, kills
// the process and marks the record STOPPED.
func (s *Supervisor) Stop(serverID string) error {
	s.mu.Lock()
	p, ok := s.procs[serverID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("server %q not managed", serverID)
	}

	p.mu.Lock()
	p.autoRestart = false
	if p.restartTimer != nil {
		p.restartTimer.Stop()
		p.restartTimer = nil
	}
	cmd := p.cmd
	p.status = StatusStopped
	p.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !strings.Contains(err.Error(), "already finished") {
			return err
		}
	}
	return nil
}

// GetSummary returns the snapshot for one server.
func (s *Supervisor) GetSummary(serverID string) (Summary, bool) {
	s.mu.Lock()
	p, ok := s.procs[serverID]
	s.mu.Unlock()
	if !ok {
		return Summary{}, false
	}
	return p.summary(), true
}

// ListSummaries returns snapshots for every managed server.
func (s *Supervisor) ListSummaries() []Summary {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	summaries := make([]Summary, 0, len(procs))
	for _, p := range procs {
		summaries = append(summaries, p.summary())
	}
	return summaries
}

// Endpoint implements conn.EndpointResolver for sandboxed runtimes: the
// connection manager resolves a managed server's current address here.
func (s *Supervisor) Endpoint(serverID string) (string, error) {
	s.mu.Lock()
	p, ok := s.procs[serverID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("server %q not managed", serverID)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusRunning {
		return "", fmt.Errorf("server %q is %s", serverID, p.status)
	}
	return fmt.Sprintf("http://127.0.0.1:%d/mcp", p.params.Port), nil
}

// Shutdown stops every managed process. Called from the composition
// root's termination path.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.procs))
	for id := range s.procs {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Stop(id); err != nil {
			log.Printf("WARN: stopping %s during shutdown: %v", id, err)
		}
	}
}

func (p *process) summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	sum := Summary{
		ServerID:        p.params.ServerID,
		Status:          p.status,
		Port:            p.params.Port,
		StatusPort:      p.params.StatusPort,
		PID:             p.pid,
		Logs:            p.logs.lines(),
		RestartAttempts: p.restartAttempts,
		Error:           p.lastError,
	}
	if !p.startedAt.IsZero() {
		started := p.startedAt
		sum.StartedAt = &started
	}
	if !p.exitedAt.IsZero() {
		exited := p.exitedAt
		sum.ExitedAt = &exited
	}
	return sum
}

// ring is a bounded line buffer: appends past capacity drop the oldest
// line.
type ring struct {
	buf   []string
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]string, capacity)}
}

func (r *ring) append(line string) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = line
		r.count++
		return
	}
	r.buf[r.start] = line
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) lines() []string {
	out := make([]string, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
