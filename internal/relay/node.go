package relay

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
)

const (
	TransportMock   = "mock"
	TransportGoWaku = "go-waku"

	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
	StateDegraded     = "degraded"
)

var (
	ErrNotConnected     = errors.New("relay not connected")
	ErrInvalidBootstrap = errors.New("invalid bootstrap address")
	ErrNoRecipient      = errors.New("recipient is required")
)

var runtimeStatusPollInterval = 1 * time.Second

type Config struct {
	Transport           string        `yaml:"transport"`
	Port                int           `yaml:"port"`
	AdvertiseAddress    string        `yaml:"advertiseAddress"`
	BootstrapNodes      []string      `yaml:"bootstrapNodes"`
	MinPeers            int           `yaml:"minPeers"`
	ReconnectInterval   time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax time.Duration `yaml:"reconnectBackoffMax"`
}

type Status struct {
	State     string
	PeerCount int
	LastSync  time.Time
}

// Node is the relay transport the signer engine rides on. The default
// mock backend routes through an in-process bus; the go-waku backend is
// compiled in with the real_waku build tag.
type Node struct {
	mu          sync.RWMutex
	cfg         Config
	status      Status
	subscribed  map[string]struct{}
	gw          goWakuBackend
	routes      map[string]func(Message)
	gwRouting   bool
	monitorStop context.CancelFunc
	monitorWG   sync.WaitGroup
	transitions int
}

type goWakuBackend interface {
	Start(ctx context.Context, cfg Config) error
	Stop()
	PeerCount() int
	NetworkMetrics() map[string]int
	ListenAddresses() []string
	SubscribeAll(handler func(Message)) error
	Publish(ctx context.Context, msg Message) error
}

func DefaultConfig() Config {
	return Config{
		Transport:           TransportMock,
		Port:                60000,
		MinPeers:            1,
		ReconnectInterval:   1 * time.Second,
		ReconnectBackoffMax: 30 * time.Second,
	}
}

// ValidateConfig rejects bootstrap entries that are neither multiaddrs
// nor host:port pairs before any dial is attempted.
func ValidateConfig(cfg Config) error {
	for _, addr := range cfg.BootstrapNodes {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		if _, err := ma.NewMultiaddr(addr); err == nil {
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err == nil {
			continue
		}
		return ErrInvalidBootstrap
	}
	return nil
}

func NewNode(cfg Config) *Node {
	cfg = normalizeConfig(cfg)
	return &Node{
		cfg:        cfg,
		subscribed: make(map[string]struct{}),
		routes:     make(map[string]func(Message)),
		status:     Status{State: StateDisconnected},
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Transport == "" {
		cfg.Transport = def.Transport
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.MinPeers < 0 {
		cfg.MinPeers = 0
	}
	return cfg
}

func (n *Node) Start(ctx context.Context) error {
	if err := ValidateConfig(n.cfg); err != nil {
		return err
	}

	n.mu.Lock()
	n.transitionStateLocked(StateConnecting)
	n.status.LastSync = time.Now()
	n.mu.Unlock()

	if n.cfg.Transport == TransportGoWaku {
		backend := newGoWakuBackend()
		if backend == nil {
			n.setDisconnected()
			return errors.New("go-waku backend is not available in this build")
		}
		if err := backend.Start(ctx, n.cfg); err != nil {
			n.setDisconnected()
			return err
		}
		peerCount, err := waitForStartupPeerCount(ctx, backend, n.cfg)
		if err != nil {
			backend.Stop()
			n.setDisconnected()
			return err
		}
		n.mu.Lock()
		n.gw = backend
		n.transitionStateLocked(startupStateFromPeerCount(peerCount, n.cfg))
		n.status.PeerCount = peerCount
		n.status.LastSync = time.Now()
		n.mu.Unlock()
		n.startRuntimeMonitor()
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}

	n.mu.Lock()
	n.transitionStateLocked(StateConnected)
	n.status.PeerCount = estimatedPeers(n.cfg)
	n.status.LastSync = time.Now()
	n.mu.Unlock()
	return nil
}

func (n *Node) Stop(_ context.Context) error {
	n.stopRuntimeMonitor()

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.gw != nil {
		n.gw.Stop()
		n.gw = nil
	}
	for recipient := range n.subscribed {
		globalBus.unsubscribe(recipient)
	}
	n.subscribed = make(map[string]struct{})
	n.routes = make(map[string]func(Message))
	n.gwRouting = false
	n.transitionStateLocked(StateDisconnected)
	n.status.PeerCount = 0
	n.status.LastSync = time.Now()
	return nil
}

func (n *Node) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	s := n.status
	if n.gw != nil {
		s.PeerCount = n.gw.PeerCount()
	}
	return s
}

// Subscribe routes messages addressed to recipient into handler.
// Messages queued before the subscription are replayed first.
func (n *Node) Subscribe(recipient string, handler func(Message)) error {
	if recipient == "" {
		return ErrNoRecipient
	}

	n.mu.Lock()
	state := n.status.State
	gw := n.gw
	if state == StateConnected || state == StateDegraded {
		n.routes[recipient] = handler
		n.subscribed[recipient] = struct{}{}
	}
	needsGWSubscribe := gw != nil && !n.gwRouting
	if needsGWSubscribe {
		n.gwRouting = true
	}
	n.mu.Unlock()

	if state != StateConnected && state != StateDegraded {
		return ErrNotConnected
	}
	if gw != nil {
		if needsGWSubscribe {
			return gw.SubscribeAll(n.route)
		}
		return nil
	}
	globalBus.subscribe(recipient, handler)
	return nil
}

// Unsubscribe stops delivery for recipient. Unknown recipients are a
// no-op.
func (n *Node) Unsubscribe(recipient string) {
	n.mu.Lock()
	delete(n.routes, recipient)
	delete(n.subscribed, recipient)
	gw := n.gw
	n.mu.Unlock()
	if gw == nil {
		globalBus.unsubscribe(recipient)
	}
}

// route fans backend traffic out to the per-recipient handlers.
func (n *Node) route(msg Message) {
	n.mu.RLock()
	handler := n.routes[msg.Recipient]
	n.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

func (n *Node) Publish(ctx context.Context, msg Message) error {
	n.mu.RLock()
	state := n.status.State
	gw := n.gw
	n.mu.RUnlock()
	if state != StateConnected && state != StateDegraded {
		return ErrNotConnected
	}
	if msg.Recipient == "" {
		return ErrNoRecipient
	}
	if gw != nil {
		return gw.Publish(ctx, msg)
	}
	globalBus.publish(msg)
	return nil
}

func (n *Node) ListenAddresses() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.gw == nil {
		return nil
	}
	return append([]string(nil), n.gw.ListenAddresses()...)
}

func (n *Node) NetworkMetrics() map[string]int {
	n.mu.RLock()
	transitions := n.transitions
	gw := n.gw
	n.mu.RUnlock()
	out := map[string]int{
		"relay_state_transitions": transitions,
	}
	if gw != nil {
		for k, v := range gw.NetworkMetrics() {
			out[k] = v
		}
	}
	return out
}

func (n *Node) setDisconnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transitionStateLocked(StateDisconnected)
	n.status.PeerCount = 0
	n.status.LastSync = time.Now()
}

func (n *Node) startRuntimeMonitor() {
	n.mu.Lock()
	if n.monitorStop != nil {
		n.monitorStop()
		n.monitorStop = nil
	}
	monitorCtx, cancel := context.WithCancel(context.Background())
	n.monitorStop = cancel
	n.monitorWG.Add(1)
	n.mu.Unlock()

	go func() {
		defer n.monitorWG.Done()
		ticker := time.NewTicker(runtimeStatusPollInterval)
		defer ticker.Stop()

		n.refreshRuntimeStatus()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				n.refreshRuntimeStatus()
			}
		}
	}()
}

func (n *Node) stopRuntimeMonitor() {
	n.mu.Lock()
	cancel := n.monitorStop
	n.monitorStop = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
		n.monitorWG.Wait()
	}
}

func (n *Node) refreshRuntimeStatus() {
	n.mu.RLock()
	gw := n.gw
	n.mu.RUnlock()
	if gw == nil {
		return
	}
	peerCount := gw.PeerCount()
	nextState := StateConnected
	if peerCount <= 0 {
		nextState = StateDegraded
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status.State == StateDisconnected {
		return
	}
	if n.status.State != nextState || n.status.PeerCount != peerCount {
		n.transitionStateLocked(nextState)
		n.status.PeerCount = peerCount
		n.status.LastSync = time.Now()
	}
}

func (n *Node) transitionStateLocked(next string) {
	if next == "" {
		return
	}
	if n.status.State != next {
		n.transitions++
		n.status.State = next
	}
}

func estimatedPeers(cfg Config) int {
	if len(cfg.BootstrapNodes) == 0 {
		return 1
	}
	if len(cfg.BootstrapNodes) > 12 {
		return 12
	}
	return len(cfg.BootstrapNodes)
}

func waitForStartupPeerCount(ctx context.Context, backend goWakuBackend, cfg Config) (int, error) {
	target := startupPeerTarget(cfg)
	peerCount := backend.PeerCount()
	if peerCount >= target {
		return peerCount, nil
	}

	timeout := cfg.ReconnectInterval * 5
	if timeout < 2*time.Second {
		timeout = 2 * time.Second
	}
	if timeout > cfg.ReconnectBackoffMax {
		timeout = cfg.ReconnectBackoffMax
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return backend.PeerCount(), ctx.Err()
		case <-timer.C:
			return backend.PeerCount(), nil
		case <-ticker.C:
			peerCount = backend.PeerCount()
			if peerCount >= target {
				return peerCount, nil
			}
		}
	}
}

func startupStateFromPeerCount(peerCount int, cfg Config) string {
	if peerCount >= startupPeerTarget(cfg) {
		return StateConnected
	}
	return StateDegraded
}

func startupPeerTarget(cfg Config) int {
	target := cfg.MinPeers
	if target <= 0 {
		target = 1
	}
	if len(cfg.BootstrapNodes) > 0 && target > len(cfg.BootstrapNodes) {
		target = len(cfg.BootstrapNodes)
	}
	if target < 1 {
		target = 1
	}
	return target
}
