// Package app composes the core components behind a single facade the
// RPC layer talks to. The service owns the on-disk state directory,
// the identity store, the delegation builder, the relay node and the
// remote signer engine.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"keyhaven/internal/config"
	"keyhaven/internal/delegation"
	"keyhaven/internal/events"
	"keyhaven/internal/keystore"
	"keyhaven/internal/platform/privacylog"
	"keyhaven/internal/relay"
	"keyhaven/internal/remotesigner"
	"keyhaven/internal/settings"
	"keyhaven/internal/storage"
)

type Options struct {
	Logger   *slog.Logger
	Registry prometheus.Registerer
}

type Service struct {
	log *slog.Logger

	files *storage.Store
	keys  *keystore.Store

	settingsMu sync.RWMutex
	settings   settings.Settings

	builderMu sync.Mutex
	builder   *delegation.Builder

	node   *relay.Node
	engine *remotesigner.Engine
	events *events.Sink

	netMu      sync.Mutex
	networking bool
}

// NewService builds the component graph. Persisted identity material
// is loaded eagerly when the security level allows it; a data
// directory with nothing in it is not an error.
func NewService(cfg config.Config, opts Options) (*Service, error) {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	log = slog.New(privacylog.WrapHandler(log.Handler()))

	files, err := storage.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open data dir: %w", err)
	}

	loaded, err := settings.Load(files.SettingsPath())
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	svc := &Service{
		log:      log,
		files:    files,
		settings: loaded,
		builder:  delegation.NewBuilder(),
		node:     relay.NewNode(cfg.Relay),
		events:   events.NewSink(256),
	}
	svc.keys = keystore.New(files, svc.securityLevel,
		keystore.WithAutoUnlockEmptyPassword(loaded.AutoUnlockEmptyPassword))

	metrics := remotesigner.NewMetrics(opts.Registry)
	svc.engine = remotesigner.NewEngine(svc.node,
		remotesigner.WithLogger(log),
		remotesigner.WithMetrics(metrics),
		remotesigner.WithRateLimit(cfg.Signer.RateRPS, cfg.Signer.RateBurst),
	)

	if err := svc.keys.Load(); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case errors.Is(err, keystore.ErrLoadNotAllowed):
		default:
			log.Warn("identity load failed", "error", err)
			svc.events.Publish(events.KindError, "stored identity could not be loaded")
		}
	} else {
		svc.events.Publish(events.KindStatus, "identity loaded from disk")
	}

	return svc, nil
}

func (s *Service) securityLevel() settings.SecurityLevel {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings.Security
}

func (s *Service) Events() *events.Sink { return s.events }

// --- identity ---

type IdentityStatus struct {
	State         string `json:"state"`
	PublicID      string `json:"publicId"`
	Locked        bool   `json:"locked"`
	UnsavedChange bool   `json:"unsavedChange"`
}

func (s *Service) IdentityStatus() IdentityStatus {
	return IdentityStatus{
		State:         s.keys.State().String(),
		PublicID:      s.keys.PublicID(),
		Locked:        s.keys.Locked(),
		UnsavedChange: s.keys.HasUnsavedChange(),
	}
}

func (s *Service) GenerateIdentity() error {
	if err := s.keys.Generate(); err != nil {
		return err
	}
	s.events.Publish(events.KindStatus, "new identity generated")
	return nil
}

func (s *Service) ImportPublicKey(in string) error { return s.keys.ImportPublic(in) }
func (s *Service) ImportSecretKey(in string) error { return s.keys.ImportSecret(in) }
func (s *Service) ImportMnemonic(in string) error  { return s.keys.ImportMnemonic(in) }
func (s *Service) ImportSealedKey(in string) error { return s.keys.ImportSealed(in) }
func (s *Service) ExportMnemonic() (string, error) { return s.keys.ExportMnemonic() }
func (s *Service) Unlock(password string) error    { return s.keys.Unlock(password) }
func (s *Service) SetHideSecret(hide bool)         { s.keys.SetHideSecret(hide) }
func (s *Service) SecretString() string            { return s.keys.SecretString() }

func (s *Service) ClearIdentity() {
	s.keys.Clear()
	s.events.Publish(events.KindStatus, "identity cleared from memory")
}

func (s *Service) PersistIdentity(password, confirm string) (bool, error) {
	sealed, err := s.keys.Persist(password, confirm)
	if err != nil {
		return false, err
	}
	s.events.Publish(events.KindStatus, "identity saved to disk")
	return sealed, nil
}

func (s *Service) LoadIdentity() error {
	if err := s.keys.Load(); err != nil {
		return err
	}
	s.events.Publish(events.KindStatus, "identity loaded from disk")
	return nil
}

// --- settings ---

func (s *Service) Settings() settings.Settings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// SetSecurityLevel changes the persistence policy and writes the
// settings file immediately so the choice survives a crash.
func (s *Service) SetSecurityLevel(name string) error {
	level, err := settings.ParseSecurityLevel(name)
	if err != nil {
		return err
	}

	s.settingsMu.Lock()
	s.settings.Security = level
	snapshot := s.settings
	s.settingsMu.Unlock()

	if err := settings.Save(s.files.SettingsPath(), snapshot); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	if !level.AllowsPersist() && s.files.HasSealedKey() {
		if err := s.files.RemoveSealedKey(); err != nil {
			s.log.Warn("failed to remove sealed key after policy change", "error", err)
		}
	}
	s.events.Publish(events.KindStatus, "security level set to "+level.String())
	return nil
}

// --- delegation ---

type DelegationPreview struct {
	DelegateeID string `json:"delegateeId"`
	Conditions  string `json:"conditions"`
	Token       string `json:"token"`
}

func (s *Service) SetDelegatee(id string) error {
	s.builderMu.Lock()
	defer s.builderMu.Unlock()
	return s.builder.SetDelegatee(id)
}

func (s *Service) SetDelegationKinds(raw string) error {
	filter, err := delegation.ParseKindFilter(raw)
	if err != nil {
		return err
	}
	s.builderMu.Lock()
	defer s.builderMu.Unlock()
	return s.builder.SetKinds(filter)
}

func (s *Service) SetDelegationValidityDays(n int) error {
	s.builderMu.Lock()
	defer s.builderMu.Unlock()
	return s.builder.SetValidityDays(n)
}

func (s *Service) SetDelegationValidity(startUnix, endUnix int64) error {
	s.builderMu.Lock()
	defer s.builderMu.Unlock()
	if err := s.builder.SetValidityStart(startUnix); err != nil {
		return err
	}
	return s.builder.SetValidityEnd(endUnix)
}

func (s *Service) PreviewDelegation() DelegationPreview {
	s.builderMu.Lock()
	defer s.builderMu.Unlock()
	return DelegationPreview{
		DelegateeID: s.builder.Delegatee(),
		Conditions:  s.builder.Conditions(),
		Token:       s.builder.TokenPreview(),
	}
}

func (s *Service) SignDelegation() (*delegation.Tag, error) {
	s.builderMu.Lock()
	defer s.builderMu.Unlock()
	tag, err := s.builder.Sign(s.keys)
	if err != nil {
		return nil, err
	}
	s.events.Publish(events.KindStatus, "delegation tag signed")
	return tag, nil
}

// --- networking ---

func (s *Service) StartNetworking(ctx context.Context) error {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	if s.networking {
		return nil
	}
	if err := s.node.Start(ctx); err != nil {
		return err
	}
	s.networking = true
	s.events.Publish(events.KindConnection, "relay started")
	return nil
}

func (s *Service) StopNetworking(ctx context.Context) error {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	if !s.networking {
		return nil
	}
	if s.engine.State() != remotesigner.StateDisconnected {
		if err := s.engine.Disconnect(); err != nil {
			s.log.Warn("signer disconnect during shutdown", "error", err)
		}
	}
	if err := s.node.Stop(ctx); err != nil {
		return err
	}
	s.networking = false
	s.events.Publish(events.KindConnection, "relay stopped")
	return nil
}

func (s *Service) NetworkStatus() relay.Status    { return s.node.Status() }
func (s *Service) ListenAddresses() []string      { return s.node.ListenAddresses() }
func (s *Service) NetworkMetrics() map[string]int { return s.node.NetworkMetrics() }

// --- remote signer ---

type SignerStatus struct {
	State            string `json:"state"`
	SessionID        string `json:"sessionId"`
	PendingCount     int    `json:"pendingCount"`
	FirstDescription string `json:"firstDescription,omitempty"`
}

func (s *Service) ConnectSigner(uri string) error {
	if err := s.engine.Connect(uri, s.keys); err != nil {
		return err
	}
	s.events.Publish(events.KindConnection, "signer session established")
	return nil
}

func (s *Service) DisconnectSigner() error {
	if err := s.engine.Disconnect(); err != nil {
		return err
	}
	s.events.Publish(events.KindConnection, "signer session closed")
	return nil
}

func (s *Service) SignerStatus() SignerStatus {
	return SignerStatus{
		State:            s.engine.State(),
		SessionID:        s.engine.SessionID(),
		PendingCount:     s.engine.PendingCount(),
		FirstDescription: s.engine.FirstDescription(),
	}
}

func (s *Service) ApproveFirstRequest() error {
	if err := s.engine.ApproveFirst(); err != nil {
		return err
	}
	s.events.Publish(events.KindSignRequest, "request approved")
	return nil
}

func (s *Service) DismissFirstRequest() {
	s.engine.DismissFirst()
	s.events.Publish(events.KindSignRequest, "request dismissed")
}
