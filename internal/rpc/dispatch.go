package rpc

import (
	"encoding/json"

	"keyhaven/internal/events"
	"keyhaven/internal/settings"
)

// Service error code families, one block of ten per domain.
const (
	codeIdentityError   = -32000
	codeDelegationError = -32010
	codeSignerError     = -32020
	codeSettingsError   = -32030
	codeNetworkError    = -32040
)

func (s *Server) dispatchRPC(method string, rawParams json.RawMessage) (any, *rpcError) {
	if method == "health_check" {
		return map[string]string{"status": "ok"}, nil
	}
	if result, rpcErr, ok := s.dispatchIdentityRPC(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchDelegationRPC(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchSignerRPC(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchSettingsRPC(method, rawParams); ok {
		return result, rpcErr
	}
	if result, rpcErr, ok := s.dispatchNetworkRPC(method); ok {
		return result, rpcErr
	}
	return nil, &rpcError{Code: -32601, Message: "method not found"}
}

func (s *Server) dispatchIdentityRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "identity.status":
		return s.service.IdentityStatus(), nil, true
	case "identity.generate":
		if err := s.service.GenerateIdentity(); err != nil {
			return nil, rpcServiceError(codeIdentityError, err), true
		}
		return s.service.IdentityStatus(), nil, true
	case "identity.import_public":
		result, rpcErr := callWithSingleStringParam(rawParams, codeIdentityError, func(in string) (any, error) {
			if err := s.service.ImportPublicKey(in); err != nil {
				return nil, err
			}
			return s.service.IdentityStatus(), nil
		})
		return result, rpcErr, true
	case "identity.import_secret":
		result, rpcErr := callWithSingleStringParam(rawParams, codeIdentityError, func(in string) (any, error) {
			if err := s.service.ImportSecretKey(in); err != nil {
				return nil, err
			}
			return s.service.IdentityStatus(), nil
		})
		return result, rpcErr, true
	case "identity.import_mnemonic":
		result, rpcErr := callWithSingleStringParam(rawParams, codeIdentityError, func(in string) (any, error) {
			if err := s.service.ImportMnemonic(in); err != nil {
				return nil, err
			}
			return s.service.IdentityStatus(), nil
		})
		return result, rpcErr, true
	case "identity.import_sealed":
		result, rpcErr := callWithSingleStringParam(rawParams, codeIdentityError, func(in string) (any, error) {
			if err := s.service.ImportSealedKey(in); err != nil {
				return nil, err
			}
			return s.service.IdentityStatus(), nil
		})
		return result, rpcErr, true
	case "identity.secret":
		return map[string]string{"secret": s.service.SecretString()}, nil, true
	case "identity.set_hide_secret":
		hide, err := decodeSingleBoolParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		s.service.SetHideSecret(hide)
		return map[string]string{"secret": s.service.SecretString()}, nil, true
	case "identity.export_mnemonic":
		mnemonic, err := s.service.ExportMnemonic()
		if err != nil {
			return nil, rpcServiceError(codeIdentityError, err), true
		}
		return map[string]string{"mnemonic": mnemonic}, nil, true
	case "identity.clear":
		s.service.ClearIdentity()
		return s.service.IdentityStatus(), nil, true
	case "identity.persist":
		// Both params may be empty: an empty password is legal under the
		// optional-password security level.
		password, confirm, err := decodeStringPairParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		sealed, perr := s.service.PersistIdentity(password, confirm)
		if perr != nil {
			return nil, rpcServiceError(codeIdentityError, perr), true
		}
		return map[string]bool{"secretSealed": sealed}, nil, true
	case "identity.load":
		if err := s.service.LoadIdentity(); err != nil {
			return nil, rpcServiceError(codeIdentityError, err), true
		}
		return s.service.IdentityStatus(), nil, true
	case "identity.unlock":
		password, err := decodeOptionalStringParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		if uerr := s.service.Unlock(password); uerr != nil {
			return nil, rpcServiceError(codeIdentityError, uerr), true
		}
		return s.service.IdentityStatus(), nil, true
	}
	return nil, nil, false
}

func (s *Server) dispatchDelegationRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "delegation.set_delegatee":
		result, rpcErr := callWithSingleStringParam(rawParams, codeDelegationError, func(id string) (any, error) {
			if err := s.service.SetDelegatee(id); err != nil {
				return nil, err
			}
			return s.service.PreviewDelegation(), nil
		})
		return result, rpcErr, true
	case "delegation.set_kinds":
		// An empty filter string means all kinds.
		raw, err := decodeOptionalStringParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		if serr := s.service.SetDelegationKinds(raw); serr != nil {
			return nil, rpcServiceError(codeDelegationError, serr), true
		}
		return s.service.PreviewDelegation(), nil, true
	case "delegation.set_validity_days":
		days, err := decodeSingleIntParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		if serr := s.service.SetDelegationValidityDays(int(days)); serr != nil {
			return nil, rpcServiceError(codeDelegationError, serr), true
		}
		return s.service.PreviewDelegation(), nil, true
	case "delegation.set_validity":
		start, end, err := decodeIntPairParam(rawParams)
		if err != nil {
			return nil, rpcInvalidParams(), true
		}
		if serr := s.service.SetDelegationValidity(start, end); serr != nil {
			return nil, rpcServiceError(codeDelegationError, serr), true
		}
		return s.service.PreviewDelegation(), nil, true
	case "delegation.preview":
		return s.service.PreviewDelegation(), nil, true
	case "delegation.sign":
		tag, err := s.service.SignDelegation()
		if err != nil {
			return nil, rpcServiceError(codeDelegationError, err), true
		}
		return map[string]string{"tag": tag.String(), "pretty": tag.Pretty()}, nil, true
	}
	return nil, nil, false
}

func (s *Server) dispatchSignerRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "signer.connect":
		result, rpcErr := callWithSingleStringParam(rawParams, codeSignerError, func(uri string) (any, error) {
			if err := s.service.ConnectSigner(uri); err != nil {
				return nil, err
			}
			return s.service.SignerStatus(), nil
		})
		return result, rpcErr, true
	case "signer.disconnect":
		if err := s.service.DisconnectSigner(); err != nil {
			return nil, rpcServiceError(codeSignerError, err), true
		}
		return s.service.SignerStatus(), nil, true
	case "signer.status":
		return s.service.SignerStatus(), nil, true
	case "signer.approve_first":
		if err := s.service.ApproveFirstRequest(); err != nil {
			return nil, rpcServiceError(codeSignerError, err), true
		}
		return s.service.SignerStatus(), nil, true
	case "signer.dismiss_first":
		s.service.DismissFirstRequest()
		return s.service.SignerStatus(), nil, true
	}
	return nil, nil, false
}

func (s *Server) dispatchSettingsRPC(method string, rawParams json.RawMessage) (any, *rpcError, bool) {
	switch method {
	case "settings.get":
		current := s.service.Settings()
		return map[string]any{
			"securityLevel":           current.Security.String(),
			"description":             current.Security.Description(),
			"autoUnlockEmptyPassword": current.AutoUnlockEmptyPassword,
		}, nil, true
	case "settings.levels":
		levels := settings.Levels()
		out := make([]map[string]string, 0, len(levels))
		for _, level := range levels {
			out = append(out, map[string]string{
				"name":        level.String(),
				"description": level.Description(),
			})
		}
		return out, nil, true
	case "settings.set_security_level":
		result, rpcErr := callWithSingleStringParam(rawParams, codeSettingsError, func(name string) (any, error) {
			if err := s.service.SetSecurityLevel(name); err != nil {
				return nil, err
			}
			return map[string]string{"securityLevel": name}, nil
		})
		return result, rpcErr, true
	}
	return nil, nil, false
}

func (s *Server) dispatchNetworkRPC(method string) (any, *rpcError, bool) {
	switch method {
	case "network.status":
		status := s.service.NetworkStatus()
		return map[string]any{
			"state":     status.State,
			"peerCount": status.PeerCount,
			"lastSync":  status.LastSync,
		}, nil, true
	case "network.addresses":
		return s.service.ListenAddresses(), nil, true
	case "network.metrics":
		return s.service.NetworkMetrics(), nil, true
	case "events.poll":
		drained := make([]events.Event, 0)
		for {
			ev, ok := s.service.Events().Next()
			if !ok {
				break
			}
			drained = append(drained, ev)
		}
		return drained, nil, true
	}
	return nil, nil, false
}
