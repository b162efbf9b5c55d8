// Package addrfmt implements the fixed-width Address scheme described
// in the data model: a prefix identifying a satellite and a suffix
// identifying an endpoint under that satellite.
package addrfmt

import (
	"fmt"
	"strings"

	"github.com/roboswarm/satellite/internal/errs"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Scheme carries the fixed widths and reserved constants that define a
// valid Address. It is built once from Config and passed by value to
// every component that needs to validate or construct addresses.
type Scheme struct {
	// TotalLength is the fixed total length L of every Address.
	TotalLength int
	// PrefixLength is the fixed prefix length P (satellite portion).
	PrefixLength int
	// MasterPrefix is the reserved prefix legal only for MasterAddress.
	MasterPrefix string
	// MasterAddress is the distinguished constant naming the master.
	MasterAddress string
}

// ZeroSuffix is the all-zero suffix denoting "the satellite itself".
func (s Scheme) ZeroSuffix() string {
	return strings.Repeat("0", s.TotalLength-s.PrefixLength)
}

// Validate reports whether addr matches the fixed width, uses only the
// permitted alphabet, and has non-empty prefix and suffix. A prefix
// equal to the reserved master prefix is legal only for MasterAddress.
func (s Scheme) Validate(addr string) bool {
	if len(addr) != s.TotalLength {
		return false
	}
	if s.PrefixLength <= 0 || s.PrefixLength >= s.TotalLength {
		return false
	}
	for _, r := range addr {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	prefix := addr[:s.PrefixLength]
	suffix := addr[s.PrefixLength:]
	if prefix == "" || suffix == "" {
		return false
	}
	if prefix == s.MasterPrefix && addr != s.MasterAddress {
		return false
	}
	return true
}

// PrefixOf returns the satellite-identifying prefix of addr. The
// caller must ensure addr is valid; PrefixOf does not re-validate.
func (s Scheme) PrefixOf(addr string) string {
	return addr[:s.PrefixLength]
}

// SuffixOf returns the endpoint-identifying suffix of addr.
func (s Scheme) SuffixOf(addr string) string {
	return addr[s.PrefixLength:]
}

// IsSatelliteScope reports whether addr's suffix is the all-zero
// satellite-scope endpoint.
func (s Scheme) IsSatelliteScope(addr string) bool {
	return len(addr) == s.TotalLength && s.SuffixOf(addr) == s.ZeroSuffix()
}

// MakeAddress concatenates prefix and suffix and validates the result.
// It returns an InvalidRequest error if the combination does not form
// a valid Address under this scheme.
func MakeAddress(s Scheme, prefix, suffix string) (string, error) {
	addr := prefix + suffix
	if !s.Validate(addr) {
		return "", errs.New(errs.InvalidRequest, fmt.Sprintf("invalid address %q (prefix %q, suffix %q)", addr, prefix, suffix))
	}
	return addr, nil
}
