package payload

import (
	"encoding/binary"
	"fmt"

	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// SwimVersion is the only swim payload message version understood here.
const SwimVersion uint8 = 1

// Swim payload lengths, one per shape.
const (
	SwimMinimalLen       = 33
	SwimWithPropellerLen = 37
	SwimWithMemoLen      = 53
)

// SwimPayload is the extra payload carried by swim token bridge transfers.
// It is one of SwimMinimal, SwimWithPropeller or SwimWithMemo.
type SwimPayload interface {
	Header() SwimHeader
	Bytes() []byte
}

// SwimHeader holds the fields common to every shape.
type SwimHeader struct {
	MessageVersion       uint8
	TargetChainRecipient vaaLib.Address
}

func (h SwimHeader) Header() SwimHeader { return h }

func (h SwimHeader) put(out []byte) {
	out[0] = h.MessageVersion
	copy(out[1:33], h.TargetChainRecipient[:])
}

type SwimMinimal struct {
	SwimHeader
}

func (p SwimMinimal) Bytes() []byte {
	out := make([]byte, SwimMinimalLen)
	p.put(out)
	return out
}

type SwimWithPropeller struct {
	SwimHeader
	PropellerEnabled    bool
	GasKickstartEnabled bool
	SwimTokenNumber     uint16
}

func (p SwimWithPropeller) Bytes() []byte {
	out := make([]byte, SwimWithPropellerLen)
	p.putPropeller(out)
	return out
}

func (p SwimWithPropeller) putPropeller(out []byte) {
	p.put(out)
	out[33] = boolByte(p.PropellerEnabled)
	out[34] = boolByte(p.GasKickstartEnabled)
	binary.BigEndian.PutUint16(out[35:37], p.SwimTokenNumber)
}

type SwimWithMemo struct {
	SwimWithPropeller
	MemoID [16]byte
}

func (p SwimWithMemo) Bytes() []byte {
	out := make([]byte, SwimWithMemoLen)
	p.putPropeller(out)
	copy(out[37:53], p.MemoID[:])
	return out
}

// DecodeSwimPayload parses the extra payload of a swim transfer. The shape is
// selected by length; any length other than 33, 37 or 53 is rejected.
func DecodeSwimPayload(b []byte) (SwimPayload, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty swim payload", ErrDecode)
	}
	if b[0] != SwimVersion {
		return nil, fmt.Errorf("%w: swim payload had an unsupported message version %d", ErrDecode, b[0])
	}

	switch len(b) {
	case SwimMinimalLen, SwimWithPropellerLen, SwimWithMemoLen:
	default:
		return nil, fmt.Errorf("%w: swim payload has invalid length %d", ErrDecode, len(b))
	}

	header := SwimHeader{MessageVersion: b[0]}
	copy(header.TargetChainRecipient[:], b[1:33])
	if len(b) == SwimMinimalLen {
		return SwimMinimal{SwimHeader: header}, nil
	}

	propellerEnabled, err := parseBool(b[33], "propellerEnabled")
	if err != nil {
		return nil, err
	}
	gasKickstartEnabled, err := parseBool(b[34], "gasKickstartEnabled")
	if err != nil {
		return nil, err
	}
	withPropeller := SwimWithPropeller{
		SwimHeader:          header,
		PropellerEnabled:    propellerEnabled,
		GasKickstartEnabled: gasKickstartEnabled,
		SwimTokenNumber:     binary.BigEndian.Uint16(b[35:37]),
	}
	if len(b) == SwimWithPropellerLen {
		return withPropeller, nil
	}

	withMemo := SwimWithMemo{SwimWithPropeller: withPropeller}
	copy(withMemo.MemoID[:], b[37:53])
	return withMemo, nil
}

func parseBool(b byte, field string) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: swim payload %s is not a boolean: %d", ErrDecode, field, b)
	}
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
