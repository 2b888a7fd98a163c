package openpgp

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseStatusGoodSignature(t *testing.T) {
	status := bytes.NewBufferString(
		"[GNUPG:] NEWSIG\n" +
			"[GNUPG:] GOODSIG ABCDEF1234567890 Example User <user@example.org>\n" +
			"[GNUPG:] VALIDSIG 1234567890ABCDEF1234567890ABCDEF12345678 2024-01-01 1704067200 0 4 0 1 10 00 1234567890ABCDEF1234567890ABCDEF12345678\n" +
			"[GNUPG:] TRUST_ULTIMATE\n")
	result, err := parseStatus(status)
	if err != nil {
		t.Fatal(err)
	}
	if result.Fingerprint != "1234567890ABCDEF1234567890ABCDEF12345678" {
		t.Fatalf("fingerprint = %q", result.Fingerprint)
	}
	if result.SignedAt.Unix() != 1704067200 {
		t.Fatalf("signed at = %v", result.SignedAt)
	}
}

func TestParseStatusBadSignature(t *testing.T) {
	status := bytes.NewBufferString("[GNUPG:] BADSIG ABCDEF1234567890 Example User\n")
	_, err := parseStatus(status)
	var opErr Error
	if !errors.As(err, &opErr) || opErr.Kind != KindBadSignature {
		t.Fatalf("expected KindBadSignature, got %v", err)
	}
}

func TestParseStatusExpiredKey(t *testing.T) {
	status := bytes.NewBufferString("[GNUPG:] EXPKEYSIG ABCDEF1234567890 Example User\n")
	_, err := parseStatus(status)
	var opErr Error
	if !errors.As(err, &opErr) || opErr.Kind != KindExpiredKey {
		t.Fatalf("expected KindExpiredKey, got %v", err)
	}
}

func TestParseStatusRevokedKey(t *testing.T) {
	status := bytes.NewBufferString("[GNUPG:] REVKEYSIG ABCDEF1234567890 Example User\n")
	_, err := parseStatus(status)
	var opErr Error
	if !errors.As(err, &opErr) || opErr.Kind != KindRevokedKey {
		t.Fatalf("expected KindRevokedKey, got %v", err)
	}
}

func TestParseStatusNoPubkey(t *testing.T) {
	status := bytes.NewBufferString("[GNUPG:] NO_PUBKEY ABCDEF1234567890\n")
	_, err := parseStatus(status)
	var opErr Error
	if !errors.As(err, &opErr) || opErr.Kind != KindUnknownKey {
		t.Fatalf("expected KindUnknownKey, got %v", err)
	}
}

func TestParseStatusNoSignature(t *testing.T) {
	status := bytes.NewBufferString("[GNUPG:] SOME_UNRELATED_LINE\n")
	_, err := parseStatus(status)
	var opErr Error
	if !errors.As(err, &opErr) || opErr.Kind != KindNoSignature {
		t.Fatalf("expected KindNoSignature, got %v", err)
	}
}

func TestEnvelopeUnavailableWhenToolMissing(t *testing.T) {
	t.Setenv(toolPathEnv, "/nonexistent/path/to/gpg-that-does-not-exist")
	e := NewSystemEnvelope()
	if e.Available() {
		t.Fatal("expected envelope to report unavailable for a nonexistent tool path")
	}
	if err := e.ImportKey([]byte("key material")); err == nil {
		t.Fatal("expected ImportKey to fail when tool is unavailable")
	} else {
		var opErr Error
		if !errors.As(err, &opErr) || opErr.Kind != KindUnavailable {
			t.Fatalf("expected KindUnavailable, got %v", err)
		}
	}
}
