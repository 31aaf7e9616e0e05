package signing_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/casedesk/casedesk/internal/signing"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := signing.NewVerifier([]byte("test-secret"))
	body := []byte(`{"type":"event_callback","event":{"text":"hi"}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	sig := v.Sign(body, ts)
	if !v.Verify(body, ts, sig) {
		t.Fatal("Verify() = false for a signature the same verifier produced")
	}
}

func TestVerifyAlteredInputs(t *testing.T) {
	body := []byte(`{"event":{"text":"original"}}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	v := signing.NewVerifier([]byte("test-secret"))
	sig := v.Sign(body, ts)

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] ^= 0x01
	if v.Verify(tampered, ts, sig) {
		t.Error("Verify() = true after altering one byte of body")
	}

	if v.Verify(body, ts+"0", sig) {
		t.Error("Verify() = true after altering timestamp")
	}

	other := signing.NewVerifier([]byte("test-secreT"))
	if other.Verify(body, ts, sig) {
		t.Error("Verify() = true with a different secret")
	}
}

func TestVerifyMissingHeaders(t *testing.T) {
	v := signing.NewVerifier([]byte("test-secret"))
	body := []byte("{}")
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig := v.Sign(body, ts)

	if v.Verify(body, "", sig) {
		t.Error("Verify() = true with empty timestamp")
	}
	if v.Verify(body, ts, "") {
		t.Error("Verify() = true with empty signature")
	}
}

func TestVerifyReplayWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	v := signing.NewVerifier([]byte("test-secret"),
		signing.WithTolerance(5*time.Minute),
		signing.WithClock(func() time.Time { return now }),
	)
	body := []byte("{}")

	fresh := strconv.FormatInt(now.Add(-1*time.Minute).Unix(), 10)
	if !v.Verify(body, fresh, v.Sign(body, fresh)) {
		t.Error("Verify() = false for a timestamp inside the window")
	}

	stale := strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)
	if v.Verify(body, stale, v.Sign(body, stale)) {
		t.Error("Verify() = true for a timestamp older than the tolerance")
	}

	future := strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10)
	if v.Verify(body, future, v.Sign(body, future)) {
		t.Error("Verify() = true for a timestamp in the future")
	}

	garbage := "not-a-unix-timestamp"
	if v.Verify(body, garbage, v.Sign(body, garbage)) {
		t.Error("Verify() = true for a non-numeric timestamp")
	}
}

func TestVerifyToleranceDisabled(t *testing.T) {
	v := signing.NewVerifier([]byte("test-secret"))
	body := []byte("{}")
	old := "12345"
	if !v.Verify(body, old, v.Sign(body, old)) {
		t.Error("Verify() = false with tolerance disabled and an old timestamp")
	}
}
