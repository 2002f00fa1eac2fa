package privacylog

import (
	"log/slog"
	"strings"
	"testing"
)

func TestSanitizeAttrRedactsSecrets(t *testing.T) {
	cases := []string{"password", "unlock_password", "secret_key", "mnemonic", "seed_hex", "auth_token", "signature"}
	for _, key := range cases {
		attr := SanitizeAttr(slog.String(key, "hunter2"))
		if attr.Value.String() != redactedValue {
			t.Fatalf("key %q: expected redaction, got %q", key, attr.Value.String())
		}
	}
}

func TestSanitizeAttrFingerprintsIdentifiers(t *testing.T) {
	attr := SanitizeAttr(slog.String("peer_id", "khpubAbCdEf"))
	if attr.Key != "peer_id_fp" {
		t.Fatalf("expected fingerprint key, got %q", attr.Key)
	}
	got := attr.Value.String()
	if !strings.HasPrefix(got, "fp_") || strings.Contains(got, "AbCdEf") {
		t.Fatalf("identifier leaked into log value: %q", got)
	}
}

func TestSanitizeAttrLeavesPlainKeys(t *testing.T) {
	attr := SanitizeAttr(slog.Int("pending_count", 3))
	if attr.Key != "pending_count" || attr.Value.Int64() != 3 {
		t.Fatalf("plain attr was mangled: %v", attr)
	}
}

func TestFingerprintIsStableWithinBoot(t *testing.T) {
	a := FingerprintID("khpubSomeIdentity")
	b := FingerprintID("khpubSomeIdentity")
	if a != b {
		t.Fatalf("fingerprint must be stable: %q vs %q", a, b)
	}
	if FingerprintID("khpubOther") == a {
		t.Fatalf("different identifiers must not collide")
	}
	if FingerprintID("") != "" {
		t.Fatalf("empty input must fingerprint to empty")
	}
}

func TestSanitizeArgs(t *testing.T) {
	out := SanitizeArgs("request_id", "req-1", "password", "pw", "count", 2)
	if len(out) != 6 {
		t.Fatalf("unexpected arg count: %d", len(out))
	}
	if out[0] != "request_id_fp" {
		t.Fatalf("expected fingerprinted key, got %v", out[0])
	}
	if out[3] != redactedValue {
		t.Fatalf("expected redacted password, got %v", out[3])
	}
	if out[4] != "count" || out[5] != 2 {
		t.Fatalf("plain pair was mangled: %v %v", out[4], out[5])
	}
}
