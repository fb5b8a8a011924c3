package wire

import (
	"fmt"

	"github.com/google/uuid"
)

// Format is a compact on-wire indicator of envelope encoding.
// It is carried as the first byte of every frame.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatJSON
	FormatCBOR
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return ContentJSON
	case FormatCBOR:
		return ContentCBOR
	default:
		return "application/octet-stream"
	}
}

// Envelope wraps one actor message for remote delivery. The sender
// address and UID let the receiving side detect stale incarnations;
// the recipient path addresses the target actor within its system.
type Envelope struct {
	Sender       string `json:"sender"`
	SenderUID    uint64 `json:"senderUid"`
	Recipient    string `json:"recipient"`
	RecipientUID uint64 `json:"recipientUid,omitempty"`
	Path         string `json:"path,omitempty"`
	Correlation  string `json:"correlationId,omitempty"`
	Payload      []byte `json:"payload"`
}

// NewCorrelation generates a random correlation token.
func NewCorrelation() string { return uuid.NewString() }

// CodecFor returns a codec instance for a given format.
func CodecFor(r *Registry, f Format) (Codec, error) {
	switch f {
	case FormatJSON:
		if c := r.Get(ContentJSON); c != nil {
			return c, nil
		}
		return JSON(), nil
	case FormatCBOR:
		if c := r.Get(ContentCBOR); c != nil {
			return c, nil
		}
		return CBOR()
	default:
		return nil, fmt.Errorf("unknown format: %d", f)
	}
}

// EncodeEnvelope serializes e using the codec for f and prefixes the
// frame with a single format byte.
func EncodeEnvelope(r *Registry, f Format, e *Envelope) ([]byte, error) {
	c, err := CodecFor(r, f)
	if err != nil {
		return nil, err
	}
	b, err := c.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 1+len(b))
	out[0] = byte(f)
	copy(out[1:], b)
	return out, nil
}

// DecodeEnvelope parses a frame produced by EncodeEnvelope into e.
func DecodeEnvelope(r *Registry, frame []byte, e *Envelope) (Format, error) {
	if len(frame) == 0 {
		return FormatUnknown, fmt.Errorf("empty frame")
	}
	f := Format(frame[0])
	c, err := CodecFor(r, f)
	if err != nil {
		return f, err
	}
	if err := c.Unmarshal(frame[1:], e); err != nil {
		return f, err
	}
	return f, nil
}
