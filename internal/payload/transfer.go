package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// Token Bridge payload types.
const (
	TypeTransfer            uint8 = 1
	TypeTransferWithPayload uint8 = 3
)

// Both token bridge transfer layouts share this fixed-size prefix; the type 1
// fee and the type 3 sender occupy the last 32 bytes of it.
const transferLen = 133

// Transfer is a Token Bridge payload 1 message.
type Transfer struct {
	Amount        *uint256.Int
	OriginAddress vaaLib.Address
	OriginChain   vaaLib.ChainID
	TargetAddress vaaLib.Address
	TargetChain   vaaLib.ChainID
	Fee           *uint256.Int
}

// TransferWithPayload is a Token Bridge payload 3 message.
type TransferWithPayload struct {
	Amount        *uint256.Int
	OriginAddress vaaLib.Address
	OriginChain   vaaLib.ChainID
	TargetAddress vaaLib.Address
	TargetChain   vaaLib.ChainID
	SenderAddress vaaLib.Address
	ExtraPayload  []byte
}

type transferPrefix struct {
	amount        *uint256.Int
	originAddress vaaLib.Address
	originChain   vaaLib.ChainID
	targetAddress vaaLib.Address
	targetChain   vaaLib.ChainID
	tail          [32]byte
}

func decodePrefix(b []byte, want uint8) (*transferPrefix, error) {
	if len(b) < transferLen {
		return nil, fmt.Errorf("%w: transfer payload too short: %d bytes, need %d", ErrDecode, len(b), transferLen)
	}
	if b[0] != want {
		return nil, fmt.Errorf("%w: unexpected payload type %d, want %d", ErrDecode, b[0], want)
	}

	p := &transferPrefix{amount: new(uint256.Int).SetBytes32(b[1:33])}
	copy(p.originAddress[:], b[33:65])
	p.originChain = vaaLib.ChainID(binary.BigEndian.Uint16(b[65:67]))
	copy(p.targetAddress[:], b[67:99])
	p.targetChain = vaaLib.ChainID(binary.BigEndian.Uint16(b[99:101]))
	copy(p.tail[:], b[101:133])
	return p, nil
}

func encodePrefix(typ uint8, p *transferPrefix, extra int) []byte {
	out := make([]byte, transferLen, transferLen+extra)
	out[0] = typ
	amount := p.amount
	if amount == nil {
		amount = new(uint256.Int)
	}
	amountBytes := amount.Bytes32()
	copy(out[1:33], amountBytes[:])
	copy(out[33:65], p.originAddress[:])
	binary.BigEndian.PutUint16(out[65:67], uint16(p.originChain))
	copy(out[67:99], p.targetAddress[:])
	binary.BigEndian.PutUint16(out[99:101], uint16(p.targetChain))
	copy(out[101:133], p.tail[:])
	return out
}

// DecodeTransfer parses a payload 1 transfer. Trailing bytes are ignored.
func DecodeTransfer(b []byte) (*Transfer, error) {
	p, err := decodePrefix(b, TypeTransfer)
	if err != nil {
		return nil, err
	}
	return &Transfer{
		Amount:        p.amount,
		OriginAddress: p.originAddress,
		OriginChain:   p.originChain,
		TargetAddress: p.targetAddress,
		TargetChain:   p.targetChain,
		Fee:           new(uint256.Int).SetBytes32(p.tail[:]),
	}, nil
}

// Encode serializes the transfer as a payload 1 message.
func (t *Transfer) Encode() []byte {
	p := &transferPrefix{
		amount:        t.Amount,
		originAddress: t.OriginAddress,
		originChain:   t.OriginChain,
		targetAddress: t.TargetAddress,
		targetChain:   t.TargetChain,
	}
	if t.Fee != nil {
		p.tail = t.Fee.Bytes32()
	}
	return encodePrefix(TypeTransfer, p, 0)
}

// DecodeTransferWithPayload parses a payload 3 transfer. Everything after
// byte 133 is the extra payload.
func DecodeTransferWithPayload(b []byte) (*TransferWithPayload, error) {
	p, err := decodePrefix(b, TypeTransferWithPayload)
	if err != nil {
		return nil, err
	}
	return &TransferWithPayload{
		Amount:        p.amount,
		OriginAddress: p.originAddress,
		OriginChain:   p.originChain,
		TargetAddress: p.targetAddress,
		TargetChain:   p.targetChain,
		SenderAddress: vaaLib.Address(p.tail),
		ExtraPayload:  append([]byte{}, b[transferLen:]...),
	}, nil
}

// Encode serializes the transfer as a payload 3 message.
func (t *TransferWithPayload) Encode() []byte {
	p := &transferPrefix{
		amount:        t.Amount,
		originAddress: t.OriginAddress,
		originChain:   t.OriginChain,
		targetAddress: t.TargetAddress,
		targetChain:   t.TargetChain,
		tail:          t.SenderAddress,
	}
	return append(encodePrefix(TypeTransferWithPayload, p, len(t.ExtraPayload)), t.ExtraPayload...)
}
