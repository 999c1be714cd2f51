package payload

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// ErrDecode is wrapped by every decoding failure in this package.
var ErrDecode = errors.New("decode error")

// Envelope is the signed VAA header plus its body.
type Envelope struct {
	Version          uint8
	GuardianSetIndex uint32
	SignatureCount   int
	Timestamp        time.Time
	Nonce            uint32
	EmitterChain     vaaLib.ChainID
	EmitterAddress   vaaLib.Address
	Sequence         uint64
	ConsistencyLevel uint8
	Payload          []byte
}

// PayloadType returns the first payload byte, or 0 for an empty payload.
func (e *Envelope) PayloadType() uint8 {
	if len(e.Payload) == 0 {
		return 0
	}
	return e.Payload[0]
}

// DecodeEnvelope parses raw signed VAA bytes. Signatures are not verified.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	v, err := vaaLib.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", ErrDecode, err)
	}

	return &Envelope{
		Version:          v.Version,
		GuardianSetIndex: v.GuardianSetIndex,
		SignatureCount:   len(v.Signatures),
		Timestamp:        v.Timestamp,
		Nonce:            v.Nonce,
		EmitterChain:     v.EmitterChain,
		EmitterAddress:   v.EmitterAddress,
		Sequence:         v.Sequence,
		ConsistencyLevel: v.ConsistencyLevel,
		Payload:          v.Payload,
	}, nil
}

// EncodeEnvelope serializes the envelope as a version 1 VAA, signing the body
// with each key in order. Signer indexes follow the position in keys.
func EncodeEnvelope(e *Envelope, keys ...*ecdsa.PrivateKey) ([]byte, error) {
	v := &vaaLib.VAA{
		Version:          1,
		GuardianSetIndex: e.GuardianSetIndex,
		Timestamp:        e.Timestamp,
		Nonce:            e.Nonce,
		EmitterChain:     e.EmitterChain,
		EmitterAddress:   e.EmitterAddress,
		Sequence:         e.Sequence,
		ConsistencyLevel: e.ConsistencyLevel,
		Payload:          e.Payload,
	}
	for i, key := range keys {
		v.AddSignature(key, uint8(i))
	}

	raw, err := v.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal VAA: %w", err)
	}
	return raw, nil
}
