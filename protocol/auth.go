package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrBeaconMalformed = errors.New("protocol: malformed beacon envelope")
	ErrBeaconSignature = errors.New("protocol: beacon hmac mismatch")
)

// hmacSHA256 computes HMAC-SHA256 over msg keyed by the canonical code
// phrase.
func hmacSHA256(phrase, msg string) []byte {
	mac := hmac.New(sha256.New, []byte(phrase))
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

// SignBeacon marshals the announce payload and wraps it in an envelope.
// The envelope's Data field holds the exact JSON string the HMAC was
// computed over; receivers must verify against that string, never against
// a reserialization.
func SignBeacon(phrase string, payload Announce) (BeaconEnvelope, error) {
	inner, err := json.Marshal(payload)
	if err != nil {
		return BeaconEnvelope{}, fmt.Errorf("protocol: marshal announce: %w", err)
	}
	data := string(inner)
	return BeaconEnvelope{
		Data: data,
		HMAC: hex.EncodeToString(hmacSHA256(phrase, data)),
	}, nil
}

// VerifyBeacon checks the envelope HMAC in constant time and parses the
// inner payload. Callers still have to check CodeHash and CliMode against
// their own session. Returns ErrBeaconMalformed for envelopes missing
// data or hmac, ErrBeaconSignature when the HMAC does not match.
func VerifyBeacon(phrase string, env BeaconEnvelope) (Announce, error) {
	if env.Data == "" || env.HMAC == "" {
		return Announce{}, ErrBeaconMalformed
	}
	got, err := hex.DecodeString(env.HMAC)
	if err != nil {
		return Announce{}, ErrBeaconMalformed
	}
	want := hmacSHA256(phrase, env.Data)
	if !hmac.Equal(got, want) {
		return Announce{}, ErrBeaconSignature
	}
	var ann Announce
	if err := json.Unmarshal([]byte(env.Data), &ann); err != nil {
		return Announce{}, fmt.Errorf("%w: %v", ErrBeaconMalformed, err)
	}
	return ann, nil
}

// ComputeProof returns the lowercase hex HMAC-SHA256 proof binding the
// handshake timestamp and the server certificate fingerprint to the
// shared code phrase.
func ComputeProof(phrase, timestamp, fingerprint string) string {
	return hex.EncodeToString(hmacSHA256(phrase, timestamp+":"+fingerprint))
}

// VerifyProof reports whether proof matches the expected value, compared
// in constant time.
func VerifyProof(phrase, timestamp, fingerprint, proof string) bool {
	want := ComputeProof(phrase, timestamp, fingerprint)
	return hmac.Equal([]byte(want), []byte(proof))
}

// TimestampNow returns the current time as the unix-millisecond decimal
// string carried in CliAuth.
func TimestampNow() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// ParseTimestamp parses a CliAuth timestamp string.
func ParseTimestamp(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("protocol: bad timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms), nil
}

// WithinAuthWindow reports whether ts is within AuthWindow of now in
// either direction.
func WithinAuthWindow(ts, now time.Time) bool {
	d := now.Sub(ts)
	if d < 0 {
		d = -d
	}
	return d <= AuthWindow
}
