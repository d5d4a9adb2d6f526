package exchange

import (
	"bytes"
	"strings"
	"testing"
)

const sampleSDP = `v=0
o=- 4611731400430051336 2 IN IP4 127.0.0.1
s=-
t=0 0
a=group:BUNDLE 0
m=application 9 UDP/DTLS/SCTP webrtc-datachannel
c=IN IP4 0.0.0.0
a=ice-ufrag:EsAw
a=ice-pwd:P2uYro0UCOQ4zxjKXaWCBui1
a=fingerprint:sha-256 0F:74:31:25:CB:A2:13:EC:28:6F:6D:2C:61:FF:5D:C2:BC:B9:DB:3D:98:14:8D:1A:BB:EA:33:0C:A4:60:A8:8E
a=setup:actpass
a=mid:0
a=sctp-port:5000
`

func TestEncodeDecodeRoundTrip(t *testing.T) {
	slot := 2
	p := NewPayload("offer", sampleSDP, &slot)

	blob, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// The blob must be URL-safe and QR-friendly.
	if strings.ContainsAny(blob, "+/=") {
		t.Errorf("blob contains non-URL-safe characters: %q", blob)
	}

	got, err := Decode(blob)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != "offer" || got.SDP != sampleSDP {
		t.Errorf("round trip lost data: %+v", got)
	}
	if got.SlotIndex == nil || *got.SlotIndex != 2 {
		t.Errorf("slot index lost: %v", got.SlotIndex)
	}
	if got.Timestamp != p.Timestamp {
		t.Errorf("timestamp = %d, want %d", got.Timestamp, p.Timestamp)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("!!! not base64 !!!"); err == nil {
		t.Error("expected an error for invalid base64")
	}
	if _, err := Decode("aGVsbG8"); err == nil {
		t.Error("expected an error for non-deflate data")
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	blob, err := Encode(Payload{Type: "renegotiate", SDP: "v=0"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := Decode(blob); err == nil {
		t.Error("expected an error for an unknown payload type")
	}
}

func TestQRCode(t *testing.T) {
	png, err := QRCode(NewPayload("offer", sampleSDP, nil), 256)
	if err != nil {
		t.Fatalf("QRCode: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("output is not a PNG")
	}
}

func TestFragmentRoundTrip(t *testing.T) {
	p := NewPayload("answer", sampleSDP, nil)

	url, err := FragmentURL("https://example.com/join", p)
	if err != nil {
		t.Fatalf("FragmentURL: %v", err)
	}
	if !strings.Contains(url, "#s=") {
		t.Fatalf("no session fragment in %q", url)
	}

	got, err := FromFragment(url)
	if err != nil {
		t.Fatalf("FromFragment: %v", err)
	}
	if got.Type != "answer" || got.SDP != sampleSDP {
		t.Errorf("fragment round trip lost data: %+v", got)
	}

	if _, err := FromFragment("https://example.com/join"); err == nil {
		t.Error("expected an error for a URL without a fragment")
	}
}
