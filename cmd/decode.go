package cmd

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/swim-relayer/internal/address"
	"github.com/wormhole-demo/swim-relayer/internal/payload"
)

// decodeCmd prints the layers of a VAA without touching any chain
var decodeCmd = &cobra.Command{
	Use:   "decode <vaa>",
	Short: "Decode a VAA and its token bridge and Swim payloads",
	Long: `Decodes a VAA given in hex (optionally 0x prefixed) or base64 and prints the
envelope, the token bridge transfer and, for payload type 3, the Swim payload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := parseVAAArg(args[0])
		if err != nil {
			return err
		}
		return describeVAA(cmd.OutOrStdout(), raw)
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

// parseVAAArg accepts hex first, then the base64 alphabets.
func parseVAAArg(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(strings.TrimPrefix(s, "0x")); err == nil {
		return b, nil
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("VAA is neither hex nor base64")
}

func describeVAA(w io.Writer, raw []byte) error {
	env, err := payload.DecodeEnvelope(raw)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "version:           %d\n", env.Version)
	fmt.Fprintf(w, "guardianSetIndex:  %d\n", env.GuardianSetIndex)
	fmt.Fprintf(w, "signatures:        %d\n", env.SignatureCount)
	fmt.Fprintf(w, "timestamp:         %s\n", env.Timestamp.UTC().Format("2006-01-02T15:04:05Z"))
	fmt.Fprintf(w, "nonce:             %d\n", env.Nonce)
	fmt.Fprintf(w, "emitterChain:      %d (%s)\n", env.EmitterChain, env.EmitterChain)
	fmt.Fprintf(w, "emitterAddress:    %s\n", hex.EncodeToString(env.EmitterAddress[:]))
	fmt.Fprintf(w, "sequence:          %d\n", env.Sequence)
	fmt.Fprintf(w, "consistencyLevel:  %d\n", env.ConsistencyLevel)
	fmt.Fprintf(w, "payloadType:       %d\n", env.PayloadType())

	switch env.PayloadType() {
	case payload.TypeTransfer:
		t, err := payload.DecodeTransfer(env.Payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "amount:            %s\n", t.Amount.Dec())
		fmt.Fprintf(w, "origin:            %d %s\n", t.OriginChain, nativeOrHex(t.OriginChain, t.OriginAddress))
		fmt.Fprintf(w, "target:            %d %s\n", t.TargetChain, nativeOrHex(t.TargetChain, t.TargetAddress))
		fmt.Fprintf(w, "fee:               %s\n", t.Fee.Dec())
		return nil

	case payload.TypeTransferWithPayload:
		t, err := payload.DecodeTransferWithPayload(env.Payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "amount:            %s\n", t.Amount.Dec())
		fmt.Fprintf(w, "origin:            %d %s\n", t.OriginChain, nativeOrHex(t.OriginChain, t.OriginAddress))
		fmt.Fprintf(w, "target:            %d %s\n", t.TargetChain, nativeOrHex(t.TargetChain, t.TargetAddress))
		fmt.Fprintf(w, "sender:            %s\n", hex.EncodeToString(t.SenderAddress[:]))

		swim, err := payload.DecodeSwimPayload(t.ExtraPayload)
		if err != nil {
			fmt.Fprintf(w, "swim:              not a swim payload (%v)\n", err)
			return nil
		}
		describeSwim(w, t, swim)
		return nil

	default:
		fmt.Fprintf(w, "payload:           %s\n", hex.EncodeToString(env.Payload))
		return nil
	}
}

func describeSwim(w io.Writer, t *payload.TransferWithPayload, swim payload.SwimPayload) {
	h := swim.Header()
	fmt.Fprintf(w, "swimVersion:       %d\n", h.MessageVersion)
	fmt.Fprintf(w, "swimRecipient:     %s\n", nativeOrHex(t.TargetChain, h.TargetChainRecipient))

	switch p := swim.(type) {
	case payload.SwimWithMemo:
		describePropeller(w, p.SwimWithPropeller)
		fmt.Fprintf(w, "memo:              %s\n", hex.EncodeToString(p.MemoID[:]))
	case payload.SwimWithPropeller:
		describePropeller(w, p)
	}
}

func describePropeller(w io.Writer, p payload.SwimWithPropeller) {
	fmt.Fprintf(w, "propellerEnabled:  %t\n", p.PropellerEnabled)
	fmt.Fprintf(w, "gasKickstart:      %t\n", p.GasKickstartEnabled)
	fmt.Fprintf(w, "swimTokenNumber:   %d\n", p.SwimTokenNumber)
}

func nativeOrHex(chain vaaLib.ChainID, addr vaaLib.Address) string {
	if native, err := address.ToNative(chain, addr); err == nil {
		return native
	}
	return hex.EncodeToString(addr[:])
}
