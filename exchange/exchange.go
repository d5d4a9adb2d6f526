// Package exchange implements the out-of-band session handoff: an offer or
// answer packed into a compact string that travels by QR code, copy-paste or
// URL fragment instead of the relay.
package exchange

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skip2/go-qrcode"
)

const fragmentPrefix = "#s="

// Payload is one side of an offer/answer exchange. SlotIndex is set by the
// legacy multi-slot host so the answer can be matched back to its session.
type Payload struct {
	Type      string `json:"type"` // "offer" or "answer"
	SDP       string `json:"sdp"`
	SlotIndex *int   `json:"slotIndex,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewPayload stamps a payload with the current time.
func NewPayload(payloadType, sdp string, slot *int) Payload {
	return Payload{
		Type:      payloadType,
		SDP:       sdp,
		SlotIndex: slot,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Encode packs a payload into a URL-safe string: JSON, deflated, base64url.
// SDP bodies are repetitive enough that this roughly halves them, which
// matters for QR density.
func Encode(p Payload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(raw); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode and validates the payload type.
func Decode(blob string) (Payload, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return Payload{}, fmt.Errorf("decode session blob: %w", err)
	}

	r := flate.NewReader(bytes.NewReader(compressed))
	raw, err := io.ReadAll(r)
	if err != nil {
		return Payload{}, fmt.Errorf("decompress session blob: %w", err)
	}
	_ = r.Close()

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode session payload: %w", err)
	}
	if p.Type != "offer" && p.Type != "answer" {
		return Payload{}, fmt.Errorf("unexpected session payload type %q", p.Type)
	}
	return p, nil
}

// QRCode renders the encoded payload as a PNG.
func QRCode(p Payload, size int) ([]byte, error) {
	blob, err := Encode(p)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(blob, qrcode.Medium, size)
}

// FragmentURL appends the encoded payload to a page URL as a fragment, so
// the blob never reaches any server.
func FragmentURL(base string, p Payload) (string, error) {
	blob, err := Encode(p)
	if err != nil {
		return "", err
	}
	return base + fragmentPrefix + blob, nil
}

// FromFragment extracts a payload from a URL carrying a session fragment.
func FromFragment(url string) (Payload, error) {
	idx := strings.Index(url, fragmentPrefix)
	if idx < 0 {
		return Payload{}, fmt.Errorf("no session fragment in %q", url)
	}
	return Decode(url[idx+len(fragmentPrefix):])
}
