package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"keyhaven/internal/app"
	"keyhaven/internal/config"
	"keyhaven/internal/relay"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Relay = relay.Config{Transport: relay.TransportMock}
	svc, err := app.NewService(cfg, app.Options{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewServer(DefaultRPCAddr, svc, Options{Logger: slog.New(slog.DiscardHandler)})
}

func rpcCall(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.HandleRPC(rec, req)
	return rec
}

func decodeRPCResponse(t *testing.T, rec *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return resp
}

func resultMap(t *testing.T, resp rpcResponse) map[string]any {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode result map: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %q", body["status"])
	}
}

func TestParseError(t *testing.T) {
	s := newTestServer(t)
	resp := decodeRPCResponse(t, rpcCall(t, s, `{not json`))
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestInvalidRequest(t *testing.T) {
	s := newTestServer(t)
	for _, body := range []string{
		`{"jsonrpc":"1.0","id":1,"method":"health_check"}`,
		`{"jsonrpc":"2.0","id":1}`,
		`{"jsonrpc":"2.0","id":1,"method":"x"}{"jsonrpc":"2.0","id":2,"method":"y"}`,
	} {
		resp := decodeRPCResponse(t, rpcCall(t, s, body))
		if resp.Error == nil || resp.Error.Code != -32600 {
			t.Fatalf("body %q: error = %+v", body, resp.Error)
		}
	}
}

func TestMethodNotFound(t *testing.T) {
	s := newTestServer(t)
	resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"no.such_method"}`))
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	s := newTestServer(t)
	huge := `{"jsonrpc":"2.0","id":1,"method":"health_check","params":["` + strings.Repeat("a", int(maxRPCBodyBytes)) + `"]}`
	rec := rpcCall(t, s, huge)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTokenAuth(t *testing.T) {
	t.Setenv("KEYHAVEN_RPC_TOKEN", "secret-token")
	s := newTestServer(t)

	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(`{"jsonrpc":"2.0","id":1,"method":"health_check"}`))
	req.Header.Set("X-Keyhaven-RPC-Token", "secret-token")
	authed := httptest.NewRecorder()
	s.HandleRPC(authed, req)
	if authed.Code != http.StatusOK {
		t.Fatalf("status with token = %d", authed.Code)
	}
}

func TestIdentityMethods(t *testing.T) {
	s := newTestServer(t)

	status := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"identity.status"}`)))
	if status["state"] != "empty" {
		t.Fatalf("fresh state = %v", status["state"])
	}

	generated := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"identity.generate"}`)))
	publicID, _ := generated["publicId"].(string)
	if !strings.HasPrefix(publicID, "khpub") {
		t.Fatalf("generated id = %q", publicID)
	}

	mnemonic := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"identity.export_mnemonic"}`)))
	if mnemonic["mnemonic"] == "" {
		t.Fatal("expected a mnemonic")
	}

	persisted := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":4,"method":"identity.persist","params":["pw","pw"]}`)))
	if persisted["secretSealed"] != true {
		t.Fatalf("persist result = %v", persisted)
	}

	cleared := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":5,"method":"identity.clear"}`)))
	if cleared["state"] != "empty" {
		t.Fatalf("cleared state = %v", cleared["state"])
	}

	loaded := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":6,"method":"identity.load"}`)))
	if loaded["publicId"] != publicID || loaded["locked"] != true {
		t.Fatalf("loaded status = %v", loaded)
	}

	unlocked := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":7,"method":"identity.unlock","params":["pw"]}`)))
	if unlocked["locked"] != false {
		t.Fatalf("unlocked status = %v", unlocked)
	}
}

func TestSecretVisibilityToggle(t *testing.T) {
	s := newTestServer(t)
	if resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"identity.generate"}`)); resp.Error != nil {
		t.Fatalf("generate: %+v", resp.Error)
	}

	hidden := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"identity.secret"}`)))
	if hidden["secret"] != "" {
		t.Fatalf("secret should be hidden by default, got %q", hidden["secret"])
	}

	shown := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"identity.set_hide_secret","params":[false]}`)))
	secret, _ := shown["secret"].(string)
	if !strings.HasPrefix(secret, "khsec") {
		t.Fatalf("revealed secret = %q", secret)
	}
}

func TestIdentityPersistMismatchError(t *testing.T) {
	s := newTestServer(t)
	if resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"identity.generate"}`)); resp.Error != nil {
		t.Fatalf("generate: %+v", resp.Error)
	}
	resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"identity.persist","params":["pw","other"]}`))
	if resp.Error == nil || resp.Error.Code != codeIdentityError {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestDelegationMethods(t *testing.T) {
	s := newTestServer(t)
	if resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"identity.generate"}`)); resp.Error != nil {
		t.Fatalf("generate: %+v", resp.Error)
	}

	other := newTestServer(t)
	generated := resultMap(t, decodeRPCResponse(t, rpcCall(t, other, `{"jsonrpc":"2.0","id":1,"method":"identity.generate"}`)))
	delegateeID, _ := generated["publicId"].(string)

	set := fmt.Sprintf(`{"jsonrpc":"2.0","id":2,"method":"delegation.set_delegatee","params":[%q]}`, delegateeID)
	if resp := decodeRPCResponse(t, rpcCall(t, s, set)); resp.Error != nil {
		t.Fatalf("set delegatee: %+v", resp.Error)
	}
	if resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"delegation.set_kinds","params":["k=1,2,3"]}`)); resp.Error != nil {
		t.Fatalf("set kinds: %+v", resp.Error)
	}
	if resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":4,"method":"delegation.set_validity","params":[1676067553,1678659553]}`)); resp.Error != nil {
		t.Fatalf("set validity: %+v", resp.Error)
	}

	preview := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":5,"method":"delegation.preview"}`)))
	if preview["conditions"] != "k=1-3&created_at>1676067553&created_at<1678659553" {
		t.Fatalf("conditions = %v", preview["conditions"])
	}

	signed := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":6,"method":"delegation.sign"}`)))
	tagJSON, _ := signed["tag"].(string)
	var elements []string
	if err := json.Unmarshal([]byte(tagJSON), &elements); err != nil {
		t.Fatalf("tag is not a JSON array: %v", err)
	}
	if len(elements) != 4 || elements[0] != "delegation" {
		t.Fatalf("tag elements = %v", elements)
	}

	badKinds := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":7,"method":"delegation.set_kinds","params":["k=oops"]}`))
	if badKinds.Error == nil || badKinds.Error.Code != codeDelegationError {
		t.Fatalf("bad kinds error = %+v", badKinds.Error)
	}
}

func TestSignerAndNetworkMethods(t *testing.T) {
	s := newTestServer(t)

	status := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"signer.status"}`)))
	if status["state"] != "disconnected" {
		t.Fatalf("signer state = %v", status["state"])
	}

	connectErr := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"signer.connect","params":["khconnect://garbage"]}`))
	if connectErr.Error == nil || connectErr.Error.Code != codeSignerError {
		t.Fatalf("connect error = %+v", connectErr.Error)
	}

	network := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"network.status"}`)))
	if network["state"] != "disconnected" {
		t.Fatalf("network state = %v", network["state"])
	}
}

func TestSettingsMethods(t *testing.T) {
	s := newTestServer(t)

	current := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"settings.get"}`)))
	if current["securityLevel"] != "mandatory-password" {
		t.Fatalf("default level = %v", current["securityLevel"])
	}

	resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"settings.levels"}`))
	levels, ok := resp.Result.([]any)
	if resp.Error != nil || !ok || len(levels) != 3 {
		t.Fatalf("levels = %v (err %+v)", resp.Result, resp.Error)
	}

	if resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"settings.set_security_level","params":["never"]}`)); resp.Error != nil {
		t.Fatalf("set level: %+v", resp.Error)
	}
	changed := resultMap(t, decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":4,"method":"settings.get"}`)))
	if changed["securityLevel"] != "never" {
		t.Fatalf("changed level = %v", changed["securityLevel"])
	}
}

func TestEventsPoll(t *testing.T) {
	s := newTestServer(t)
	if resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"identity.generate"}`)); resp.Error != nil {
		t.Fatalf("generate: %+v", resp.Error)
	}

	resp := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":2,"method":"events.poll"}`))
	polled, ok := resp.Result.([]any)
	if resp.Error != nil || !ok || len(polled) == 0 {
		t.Fatalf("poll = %v (err %+v)", resp.Result, resp.Error)
	}

	again := decodeRPCResponse(t, rpcCall(t, s, `{"jsonrpc":"2.0","id":3,"method":"events.poll"}`))
	if drained, ok := again.Result.([]any); !ok || len(drained) != 0 {
		t.Fatalf("second poll = %v", again.Result)
	}
}
