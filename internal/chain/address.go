// Package chain validates wallet and token addresses per chain.
package chain

import (
	"encoding/hex"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Supported chains.
const (
	Solana   = "solana"
	Ethereum = "ethereum"
	Base     = "base"
	BSC      = "bsc"
)

// IsSupported reports whether chain is known.
func IsSupported(chain string) bool {
	switch strings.ToLower(chain) {
	case Solana, Ethereum, Base, BSC:
		return true
	}
	return false
}

// ValidateWallet checks a wallet address for chain. Solana wallets must be
// ed25519 public keys (on the curve); program-derived addresses are rejected.
func ValidateWallet(chain, address string) error {
	switch strings.ToLower(chain) {
	case Solana:
		key, err := decodeSolana(address)
		if err != nil {
			return err
		}
		if !IsOnCurve(key) {
			return fmt.Errorf("solana wallet %s is not an ed25519 public key", address)
		}
		return nil
	case Ethereum, Base, BSC:
		return validateEVM(address)
	default:
		return fmt.Errorf("unsupported chain %q", chain)
	}
}

// ValidateToken checks a token (mint or contract) address for chain.
func ValidateToken(chain, address string) error {
	switch strings.ToLower(chain) {
	case Solana:
		_, err := decodeSolana(address)
		return err
	case Ethereum, Base, BSC:
		return validateEVM(address)
	default:
		return fmt.Errorf("unsupported chain %q", chain)
	}
}

// IsOnCurve reports whether a 32-byte key is a valid ed25519 point.
func IsOnCurve(key []byte) bool {
	if len(key) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(key)
	return err == nil
}

func decodeSolana(address string) ([]byte, error) {
	decoded, err := base58.Decode(address)
	if err != nil {
		return nil, fmt.Errorf("invalid base58 address %q: %w", address, err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("solana address %q decodes to %d bytes, want 32", address, len(decoded))
	}
	return decoded, nil
}

func validateEVM(address string) error {
	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return fmt.Errorf("evm address %q must start with 0x", address)
	}
	raw := address[2:]
	if len(raw) != 40 {
		return fmt.Errorf("evm address %q must have 40 hex digits", address)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return fmt.Errorf("evm address %q is not hex: %w", address, err)
	}
	return nil
}
