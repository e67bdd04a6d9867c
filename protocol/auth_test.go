package protocol

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func testAnnounce() Announce {
	return Announce{
		Alias:        Alias,
		Version:      Version,
		DeviceModel:  DeviceModel,
		DeviceType:   DeviceTypeHeadless,
		Fingerprint:  "aabbccdd",
		Port:         53317,
		Protocol:     SchemeHTTPS,
		Download:     true,
		Announce:     true,
		CodeHash:     "deadbeef",
		CliSessionID: "11111111-2222-4333-8444-555555555555",
		CliMode:      true,
	}
}

// --- Beacon sign/verify ---

func TestSignVerifyBeacon_RoundTrip(t *testing.T) {
	env, err := SignBeacon("swift-ocean", testAnnounce())
	if err != nil {
		t.Fatalf("SignBeacon: %v", err)
	}
	if env.Data == "" || env.HMAC == "" {
		t.Fatalf("envelope incomplete: %+v", env)
	}

	ann, err := VerifyBeacon("swift-ocean", env)
	if err != nil {
		t.Fatalf("VerifyBeacon: %v", err)
	}
	if ann.Port != 53317 {
		t.Errorf("Port: got %d, want 53317", ann.Port)
	}
	if !ann.CliMode {
		t.Error("CliMode lost in round trip")
	}
	if ann.CliSessionID != "11111111-2222-4333-8444-555555555555" {
		t.Errorf("CliSessionID: got %q", ann.CliSessionID)
	}
}

func TestVerifyBeacon_WrongPhrase(t *testing.T) {
	env, err := SignBeacon("swift-ocean", testAnnounce())
	if err != nil {
		t.Fatalf("SignBeacon: %v", err)
	}
	if _, err := VerifyBeacon("amber-falcon", env); !errors.Is(err, ErrBeaconSignature) {
		t.Fatalf("wrong phrase: got %v, want ErrBeaconSignature", err)
	}
}

func TestVerifyBeacon_TamperedData(t *testing.T) {
	env, err := SignBeacon("swift-ocean", testAnnounce())
	if err != nil {
		t.Fatalf("SignBeacon: %v", err)
	}
	env.Data = strings.Replace(env.Data, "53317", "53318", 1)
	if _, err := VerifyBeacon("swift-ocean", env); !errors.Is(err, ErrBeaconSignature) {
		t.Fatalf("tampered data: got %v, want ErrBeaconSignature", err)
	}
}

func TestVerifyBeacon_ForgedHMAC(t *testing.T) {
	env, err := SignBeacon("swift-ocean", testAnnounce())
	if err != nil {
		t.Fatalf("SignBeacon: %v", err)
	}
	env.HMAC = strings.Repeat("ab", 32)
	if _, err := VerifyBeacon("swift-ocean", env); !errors.Is(err, ErrBeaconSignature) {
		t.Fatalf("forged hmac: got %v, want ErrBeaconSignature", err)
	}
}

func TestVerifyBeacon_Malformed(t *testing.T) {
	tests := []struct {
		name string
		env  BeaconEnvelope
	}{
		{"empty envelope", BeaconEnvelope{}},
		{"missing hmac", BeaconEnvelope{Data: `{"alias":"x"}`}},
		{"missing data", BeaconEnvelope{HMAC: "abcd"}},
		{"non-hex hmac", BeaconEnvelope{Data: `{"alias":"x"}`, HMAC: "zzzz"}},
	}
	for _, tt := range tests {
		if _, err := VerifyBeacon("swift-ocean", tt.env); !errors.Is(err, ErrBeaconMalformed) {
			t.Errorf("%s: got %v, want ErrBeaconMalformed", tt.name, err)
		}
	}
}

func TestVerifyBeacon_ExactBytesNotReserialization(t *testing.T) {
	// Hand-build an envelope whose data string would not survive a
	// marshal round trip (extra whitespace). The HMAC covers the raw
	// string, so verification must still pass.
	data := `{ "alias": "LocalSend CLI",  "port": 53317, "cliMode": true }`
	env := BeaconEnvelope{
		Data: data,
		HMAC: hex.EncodeToString(hmacSHA256("swift-ocean", data)),
	}

	ann, err := VerifyBeacon("swift-ocean", env)
	if err != nil {
		t.Fatalf("VerifyBeacon: %v", err)
	}
	if ann.Port != 53317 || !ann.CliMode {
		t.Errorf("parsed announce: %+v", ann)
	}
}

func TestVerifyBeacon_UppercaseHex(t *testing.T) {
	env, err := SignBeacon("swift-ocean", testAnnounce())
	if err != nil {
		t.Fatalf("SignBeacon: %v", err)
	}
	env.HMAC = strings.ToUpper(env.HMAC)
	if _, err := VerifyBeacon("swift-ocean", env); err != nil {
		t.Fatalf("uppercase hex hmac rejected: %v", err)
	}
}

// --- Proof ---

func TestComputeProof_KnownVector(t *testing.T) {
	const want = "a1e012c4216d76b22f6d272f8cc43b3426046130b94cc7b460dba70c1efa9046"
	got := ComputeProof("swift-ocean", "1700000000000", "aabbccdd")
	if got != want {
		t.Fatalf("ComputeProof = %s, want %s", got, want)
	}
}

func TestVerifyProof(t *testing.T) {
	proof := ComputeProof("swift-ocean", "1700000000000", "aabbccdd")

	if !VerifyProof("swift-ocean", "1700000000000", "aabbccdd", proof) {
		t.Fatal("valid proof rejected")
	}
	if VerifyProof("amber-falcon", "1700000000000", "aabbccdd", proof) {
		t.Fatal("proof accepted under wrong phrase")
	}
	if VerifyProof("swift-ocean", "1700000000001", "aabbccdd", proof) {
		t.Fatal("proof accepted for different timestamp")
	}
	if VerifyProof("swift-ocean", "1700000000000", "00000000", proof) {
		t.Fatal("proof accepted for different fingerprint")
	}
	if VerifyProof("swift-ocean", "1700000000000", "aabbccdd", "") {
		t.Fatal("empty proof accepted")
	}
}

// --- Timestamps ---

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("1700000000000")
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if ts.UnixMilli() != 1700000000000 {
		t.Fatalf("UnixMilli = %d", ts.UnixMilli())
	}

	for _, bad := range []string{"", "abc", "12.5", "2023-11-14T00:00:00Z"} {
		if _, err := ParseTimestamp(bad); err == nil {
			t.Errorf("ParseTimestamp(%q): expected error", bad)
		}
	}
}

func TestTimestampNow_RoundTrip(t *testing.T) {
	ts, err := ParseTimestamp(TimestampNow())
	if err != nil {
		t.Fatalf("ParseTimestamp(TimestampNow()): %v", err)
	}
	if d := time.Since(ts); d < 0 || d > time.Minute {
		t.Fatalf("TimestampNow drift: %v", d)
	}
}

func TestWithinAuthWindow(t *testing.T) {
	now := time.Now()
	tests := []struct {
		offset time.Duration
		want   bool
	}{
		{0, true},
		{2 * time.Minute, true},
		{-2 * time.Minute, true},
		{AuthWindow, true},
		{AuthWindow + time.Second, false},
		{-AuthWindow - time.Second, false},
		{time.Hour, false},
	}
	for _, tt := range tests {
		if got := WithinAuthWindow(now.Add(tt.offset), now); got != tt.want {
			t.Errorf("WithinAuthWindow(offset=%v) = %v, want %v", tt.offset, got, tt.want)
		}
	}
}

// --- Wire format sanity ---

func TestEnvelopeWireFormat(t *testing.T) {
	env, err := SignBeacon("swift-ocean", testAnnounce())
	if err != nil {
		t.Fatalf("SignBeacon: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if _, ok := decoded["data"]; !ok {
		t.Error("envelope missing 'data' key")
	}
	if _, ok := decoded["hmac"]; !ok {
		t.Error("envelope missing 'hmac' key")
	}
}
