// Package address converts between 32-byte Wormhole addresses and the
// string form each chain uses natively.
package address

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
)

// SeedEmitter is the PDA seed of a Solana program's Wormhole emitter account.
var SeedEmitter = []byte("emitter")

var evmChains = map[vaaLib.ChainID]struct{}{
	vaaLib.ChainIDEthereum:        {},
	vaaLib.ChainIDBSC:             {},
	vaaLib.ChainIDPolygon:         {},
	vaaLib.ChainIDAvalanche:       {},
	vaaLib.ChainIDOasis:           {},
	vaaLib.ChainIDAurora:          {},
	vaaLib.ChainIDFantom:          {},
	vaaLib.ChainIDKarura:          {},
	vaaLib.ChainIDAcala:           {},
	vaaLib.ChainIDKlaytn:          {},
	vaaLib.ChainIDCelo:            {},
	vaaLib.ChainIDMoonbeam:        {},
	vaaLib.ChainIDArbitrum:        {},
	vaaLib.ChainIDOptimism:        {},
	vaaLib.ChainIDBase:            {},
	vaaLib.ChainIDSepolia:         {},
	vaaLib.ChainIDArbitrumSepolia: {},
	vaaLib.ChainIDBaseSepolia:     {},
}

// IsEVM reports whether the chain uses 20-byte EVM addresses.
func IsEVM(chain vaaLib.ChainID) bool {
	_, ok := evmChains[chain]
	return ok
}

// ToNative renders a Wormhole address in the chain's native format: EIP-55
// hex for EVM chains, base58 for Solana and 0x-prefixed hex otherwise.
func ToNative(chain vaaLib.ChainID, addr vaaLib.Address) (string, error) {
	switch {
	case IsEVM(chain):
		for _, b := range addr[:12] {
			if b != 0 {
				return "", fmt.Errorf("address %x is not a valid address on chain %s", addr[:], chain)
			}
		}
		return common.BytesToAddress(addr[12:]).Hex(), nil
	case chain == vaaLib.ChainIDSolana:
		return solana.PublicKeyFromBytes(addr[:]).String(), nil
	default:
		return "0x" + hex.EncodeToString(addr[:]), nil
	}
}

// FromNative parses a native address string into a Wormhole address.
func FromNative(chain vaaLib.ChainID, native string) (vaaLib.Address, error) {
	var out vaaLib.Address
	switch {
	case IsEVM(chain):
		if !common.IsHexAddress(native) {
			return out, fmt.Errorf("invalid EVM address %q", native)
		}
		copy(out[:], common.LeftPadBytes(common.HexToAddress(native).Bytes(), 32))
	case chain == vaaLib.ChainIDSolana:
		key, err := solana.PublicKeyFromBase58(native)
		if err != nil {
			return out, fmt.Errorf("invalid Solana address %q: %w", native, err)
		}
		copy(out[:], key.Bytes())
	default:
		raw, err := hex.DecodeString(strings.TrimPrefix(native, "0x"))
		if err != nil {
			return out, fmt.Errorf("invalid hex address %q: %w", native, err)
		}
		if len(raw) > len(out) {
			return out, fmt.Errorf("address %q is longer than 32 bytes", native)
		}
		copy(out[len(out)-len(raw):], raw)
	}
	return out, nil
}

// EmitterAddress returns the Wormhole emitter address of a token bridge
// deployed at native. On Solana the emitter is a PDA of the program.
func EmitterAddress(chain vaaLib.ChainID, native string) (vaaLib.Address, error) {
	if chain != vaaLib.ChainIDSolana {
		return FromNative(chain, native)
	}

	program, err := solana.PublicKeyFromBase58(native)
	if err != nil {
		return vaaLib.Address{}, fmt.Errorf("invalid Solana program %q: %w", native, err)
	}
	emitter, _, err := solana.FindProgramAddress([][]byte{SeedEmitter}, program)
	if err != nil {
		return vaaLib.Address{}, fmt.Errorf("failed to derive emitter PDA: %w", err)
	}
	var out vaaLib.Address
	copy(out[:], emitter.Bytes())
	return out, nil
}
