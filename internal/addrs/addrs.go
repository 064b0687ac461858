// Package addrs performs superficial shape checks on the free-text payment
// addresses parties paste into the escrow chat. The desk never verifies
// anything on-chain; the checks only catch obvious paste accidents before an
// address is stored.
package addrs

import (
	"fmt"
	"strings"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/xssnick/tonutils-go/address"
)

// Network labels returned by Sniff.
const (
	NetworkEVM     = "evm"
	NetworkTron    = "tron"
	NetworkTON     = "ton"
	NetworkUnknown = "unknown"
)

// Validate rejects strings that cannot plausibly be a payment address on any
// network the desk supports. Anything that merely looks odd is still
// accepted as "unknown" since counterparties may use chains we have never seen.
func Validate(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return fmt.Errorf("%w: address is empty", models.ErrValidation)
	}
	if strings.ContainsAny(addr, " \t\n") {
		return fmt.Errorf("%w: address contains whitespace", models.ErrValidation)
	}
	if len(addr) < 12 || len(addr) > 128 {
		return fmt.Errorf("%w: address length %d is implausible", models.ErrValidation, len(addr))
	}
	return nil
}

// Sniff guesses the network an address belongs to. Used only to warn parties
// when buyer and seller appear to be on different chains.
func Sniff(addr string) string {
	addr = strings.TrimSpace(addr)
	switch {
	case isEVM(addr):
		return NetworkEVM
	case isTron(addr):
		return NetworkTron
	case isTON(addr):
		return NetworkTON
	default:
		return NetworkUnknown
	}
}

func isEVM(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	for _, c := range addr[2:] {
		if !isHex(c) {
			return false
		}
	}
	return true
}

func isTron(addr string) bool {
	if len(addr) != 34 || addr[0] != 'T' {
		return false
	}
	for _, c := range addr {
		if !isBase58(c) {
			return false
		}
	}
	return true
}

func isTON(addr string) bool {
	// Friendly TON addresses carry their own checksum; ParseAddr is the
	// authoritative shape check.
	_, err := address.ParseAddr(addr)
	return err == nil
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isBase58(c rune) bool {
	if c == '0' || c == 'O' || c == 'I' || c == 'l' {
		return false
	}
	return (c >= '1' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
