package bytes

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes is a byte slice that renders as uppercase hex in JSON and logs.
// RPC responses use it so digests, signatures and payloads are readable.
type HexBytes []byte

// MarshalJSON implements json.Marshaler.
func (bz HexBytes) MarshalJSON() ([]byte, error) {
	s := strings.ToUpper(hex.EncodeToString(bz))
	jbz := make([]byte, len(s)+2)
	jbz[0] = '"'
	copy(jbz[1:], s)
	jbz[len(jbz)-1] = '"'
	return jbz, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (bz *HexBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid hex string: %s", data)
	}
	bz2, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*bz = bz2
	return nil
}

// Bytes returns the underlying slice.
func (bz HexBytes) Bytes() []byte { return bz }

func (bz HexBytes) String() string {
	return strings.ToUpper(hex.EncodeToString(bz))
}

// Format writes either address of 0th element in a slice in base 16 notation,
// with leading 0x (%p), or casts HexBytes to bytes and writes as hexadecimal
// string to s.
func (bz HexBytes) Format(s fmt.State, verb rune) {
	switch verb {
	case 'p':
		fmt.Fprintf(s, "%p", bz)
	default:
		fmt.Fprintf(s, "%X", []byte(bz))
	}
}
