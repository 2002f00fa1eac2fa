package remotesigner

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"keyhaven/internal/keys"
	"keyhaven/internal/platform/ratelimiter"
	"keyhaven/internal/relay"
	"keyhaven/internal/sealedbox"
)

const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrTimeout          = errors.New("operation timed out")
)

const (
	inboxSize          = 256
	descriptionBudget  = 100
	defaultDispatchTTL = 10 * time.Second
)

// Signer is the narrow capability the engine borrows from the identity
// store: it can request signatures and read the public identifier,
// never the secret key.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	PublicID() string
}

// Transport is the subset of the relay node the engine rides on.
type Transport interface {
	Subscribe(recipient string, handler func(relay.Message)) error
	Unsubscribe(recipient string)
	Publish(ctx context.Context, msg relay.Message) error
}

// PendingRequest is one sign_event waiting for human approval.
type PendingRequest struct {
	ID       string
	SenderID string
	Payload  []byte
}

type session struct {
	peerID  string
	peerPub []byte
	selfID  string
	box     *sealedbox.Box
	signer  Signer
	done    chan struct{}
}

// Engine runs one remote-signing session at a time: it holds the
// ephemeral session identity, the receive loop, and the approval
// queue. All exported methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	state   string
	session *session
	wg      sync.WaitGroup

	queueMu sync.Mutex
	queue   []PendingRequest

	node            Transport
	limiter         *ratelimiter.MapLimiter
	metrics         *Metrics
	log             *slog.Logger
	dispatchTimeout time.Duration
}

type EngineOption func(*Engine)

func WithLogger(log *slog.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithRateLimit bounds sign_event intake per sender.
func WithRateLimit(rps float64, burst int) EngineOption {
	return func(e *Engine) { e.limiter = ratelimiter.New(rps, burst, 10*time.Minute) }
}

func WithDispatchTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.dispatchTimeout = d
		}
	}
}

func NewEngine(node Transport, opts ...EngineOption) *Engine {
	e := &Engine{
		state:           StateDisconnected,
		node:            node,
		log:             slog.Default(),
		limiter:         ratelimiter.New(2, 8, 10*time.Minute),
		dispatchTimeout: defaultDispatchTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) State() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionID returns the ephemeral identifier of the active session, or
// empty when disconnected.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return ""
	}
	return e.session.selfID
}

// Connect parses the URI, opens an ephemeral session on the relay and
// announces it to the peer. It returns once the subscription and the
// handshake send succeed; the peer's acknowledgement is not awaited.
func (e *Engine) Connect(uri string, signer Signer) error {
	e.mu.Lock()
	if e.state != StateDisconnected {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.state = StateConnecting
	e.mu.Unlock()

	info, err := ParseConnectURI(uri)
	if err != nil {
		e.setState(StateDisconnected)
		return err
	}
	peerPub, err := keys.DecodePublic(info.PeerID)
	if err != nil {
		e.setState(StateDisconnected)
		return fmt.Errorf("%w: bad peer identifier", ErrInvalidURI)
	}

	box, err := sealedbox.NewBox()
	if err != nil {
		e.setState(StateDisconnected)
		return err
	}
	s := &session{
		peerID:  info.PeerID,
		peerPub: peerPub,
		selfID:  keys.EncodePublic(box.PublicKey()),
		box:     box,
		signer:  signer,
		done:    make(chan struct{}),
	}

	inbox := make(chan relay.Message, inboxSize)
	if err := e.node.Subscribe(s.selfID, func(msg relay.Message) {
		select {
		case inbox <- msg:
		default:
			e.log.Warn("inbound message dropped, inbox full", "sender_id", msg.SenderID)
		}
	}); err != nil {
		e.setState(StateDisconnected)
		return err
	}

	e.wg.Add(1)
	go e.receiveLoop(s, inbox)

	handshake := Request{
		ID:     newMessageID(),
		Method: MethodConnect,
		Params: []string{signer.PublicID()},
	}
	if err := e.sendEncrypted(s, handshake); err != nil {
		e.node.Unsubscribe(s.selfID)
		close(s.done)
		e.wg.Wait()
		e.setState(StateDisconnected)
		return err
	}

	e.mu.Lock()
	e.session = s
	e.state = StateConnected
	e.mu.Unlock()
	e.log.Info("signer session connected", "peer_id", info.PeerID, "session_id", s.selfID)
	return nil
}

// Disconnect tears the session down. Requests still pending approval
// are discarded; the discard is intentional and logged.
func (e *Engine) Disconnect() error {
	e.mu.Lock()
	if e.state != StateConnected || e.session == nil {
		e.mu.Unlock()
		return ErrNotConnected
	}
	s := e.session
	e.session = nil
	e.state = StateDisconnected
	e.mu.Unlock()

	e.node.Unsubscribe(s.selfID)
	close(s.done)
	e.wg.Wait()

	e.queueMu.Lock()
	dropped := len(e.queue)
	e.queue = nil
	e.queueMu.Unlock()
	e.metrics.setPending(0)
	if dropped > 0 {
		e.log.Warn("discarded pending signing requests on disconnect", "count", dropped)
	}
	e.log.Info("signer session disconnected", "peer_id", s.peerID)
	return nil
}

func (e *Engine) receiveLoop(s *session, inbox <-chan relay.Message) {
	defer e.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case msg := <-inbox:
			e.handleMessage(s, msg)
		}
	}
}

// handleMessage processes one inbound transport event. Every failure
// here is per-message: log, count, continue.
func (e *Engine) handleMessage(s *session, msg relay.Message) {
	var env sealedbox.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		e.metrics.incDecryptFailure()
		e.log.Warn("undecodable inbound message dropped", "sender_id", msg.SenderID)
		return
	}
	plaintext, err := s.box.Open(env)
	if err != nil {
		e.metrics.incDecryptFailure()
		e.log.Warn("inbound message failed decryption", "sender_id", msg.SenderID)
		return
	}

	var req Request
	if err := json.Unmarshal(plaintext, &req); err != nil {
		e.log.Warn("malformed protocol message dropped", "sender_id", msg.SenderID)
		return
	}

	switch req.Method {
	case MethodDescribe:
		e.reply(s, Response{ID: req.ID, Result: string(encodeMessage(Capabilities))})
	case MethodGetPublicKey:
		e.reply(s, Response{ID: req.ID, Result: s.signer.PublicID()})
	case MethodSignEvent:
		if len(req.Params) == 0 {
			e.reply(s, Response{ID: req.ID, Error: "sign_event requires a payload"})
			return
		}
		if !e.limiter.Allow(msg.SenderID, time.Now()) {
			e.log.Warn("sign request rate limited", "sender_id", msg.SenderID)
			return
		}
		e.queueMu.Lock()
		e.queue = append(e.queue, PendingRequest{
			ID:       req.ID,
			SenderID: msg.SenderID,
			Payload:  []byte(req.Params[0]),
		})
		pending := len(e.queue)
		e.queueMu.Unlock()
		e.metrics.setPending(pending)
		e.log.Info("sign request queued", "request_id", req.ID, "pending", pending)
	default:
		e.log.Warn("unknown method ignored", "method", req.Method)
	}
}

// reply sends a response from inside the receive loop. Send failures
// are logged and swallowed so the loop keeps running.
func (e *Engine) reply(s *session, resp Response) {
	if err := e.sendEncrypted(s, resp); err != nil {
		e.log.Warn("reply send failed", "request_id", resp.ID, "reason", err.Error())
	}
}

func (e *Engine) PendingCount() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	return len(e.queue)
}

// FirstDescription previews the request at the head of the queue,
// truncated to a fixed character budget. Empty queue yields "".
func (e *Engine) FirstDescription() string {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if len(e.queue) == 0 {
		return ""
	}
	return truncate(string(e.queue[0].Payload), descriptionBudget)
}

// ApproveFirst signs the head request and sends the encrypted reply to
// its original sender. The head is popped under the lock before any
// work happens, so concurrent approvals cannot reply to the same
// request, and it is restored on failure so a failed approval leaves
// the queue intact. No-op on an empty queue.
func (e *Engine) ApproveFirst() error {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	e.queueMu.Lock()
	if len(e.queue) == 0 {
		e.queueMu.Unlock()
		return nil
	}
	req := e.queue[0]
	e.queue = e.queue[1:]
	pending := len(e.queue)
	e.queueMu.Unlock()
	e.metrics.setPending(pending)

	sig, err := s.signer.Sign(req.Payload)
	if err != nil {
		e.requeueFront(req)
		return err
	}
	resp := Response{ID: req.ID, Result: hex.EncodeToString(sig)}
	if err := e.sendEncrypted(s, resp); err != nil {
		e.requeueFront(req)
		return err
	}

	e.metrics.incApproved()
	e.log.Info("sign request approved", "request_id", req.ID)
	return nil
}

// requeueFront restores a popped request to the head of the queue.
func (e *Engine) requeueFront(req PendingRequest) {
	e.queueMu.Lock()
	e.queue = append([]PendingRequest{req}, e.queue...)
	pending := len(e.queue)
	e.queueMu.Unlock()
	e.metrics.setPending(pending)
}

// DismissFirst drops the head request without replying. No-op on an
// empty queue.
func (e *Engine) DismissFirst() {
	e.queueMu.Lock()
	var dismissed string
	if len(e.queue) > 0 {
		dismissed = e.queue[0].ID
		e.queue = e.queue[1:]
	}
	pending := len(e.queue)
	e.queueMu.Unlock()
	if dismissed == "" {
		return
	}
	e.metrics.setPending(pending)
	e.metrics.incDismissed()
	e.log.Info("sign request dismissed", "request_id", dismissed)
}

// sendEncrypted seals v for the session peer and publishes it. The
// publish is dispatched with a bounded wait so a hung transport
// surfaces as ErrTimeout instead of hanging the caller.
func (e *Engine) sendEncrypted(s *session, v any) error {
	env, err := s.box.Seal(s.peerPub, encodeMessage(v))
	if err != nil {
		return err
	}
	msg := relay.Message{
		ID:        newMessageID(),
		SenderID:  s.selfID,
		Recipient: s.peerID,
		Payload:   encodeMessage(env),
	}
	err = e.dispatch(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), e.dispatchTimeout)
		defer cancel()
		return e.node.Publish(ctx, msg)
	})
	if err == nil {
		e.metrics.incPublished()
	}
	return err
}

// dispatch runs fn on its own goroutine and hands the result back
// through a single-slot channel, bounded by the dispatch timeout.
func (e *Engine) dispatch(fn func() error) error {
	result := make(chan error, 1)
	go func() { result <- fn() }()
	select {
	case err := <-result:
		return err
	case <-time.After(e.dispatchTimeout):
		return ErrTimeout
	}
}

func (e *Engine) setState(state string) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// truncate cuts s down to at most budget bytes, backing up so the cut
// never splits a multi-byte rune.
func truncate(s string, budget int) string {
	if len(s) <= budget {
		return s
	}
	cut := budget
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ".."
}

func newMessageID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("m%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
