package nostr

import (
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidIdentifier is returned for input that is neither 64-char hex
// nor the expected bech32 form.
var ErrInvalidIdentifier = errors.New("invalid identifier")

const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// EncodePubkey encodes a hex pubkey as npub1...
func EncodePubkey(hexPubkey string) (string, error) {
	return encodeKey("npub", hexPubkey)
}

// EncodeEventID encodes a hex event id as note1...
func EncodeEventID(hexEventID string) (string, error) {
	return encodeKey("note", hexEventID)
}

// ResolvePubkey accepts a hex pubkey or an npub and returns lowercase hex.
func ResolvePubkey(s string) (string, error) {
	return resolveKey("npub", s)
}

// ResolveEventID accepts a hex event id or a note and returns lowercase hex.
func ResolveEventID(s string) (string, error) {
	return resolveKey("note", s)
}

func encodeKey(hrp, hexKey string) (string, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", ErrInvalidIdentifier
	}
	data, err := convertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32Encode(hrp, data), nil
}

func resolveKey(hrp, s string) (string, error) {
	s = strings.TrimSpace(s)
	if len(s) == 64 {
		if _, err := hex.DecodeString(s); err == nil {
			return strings.ToLower(s), nil
		}
	}
	if !strings.HasPrefix(strings.ToLower(s), hrp+"1") {
		return "", ErrInvalidIdentifier
	}

	gotHRP, data, err := bech32Decode(s)
	if err != nil {
		return "", err
	}
	if gotHRP != hrp {
		return "", ErrInvalidIdentifier
	}
	raw, err := convertBits(data, 5, 8, false)
	if err != nil {
		return "", err
	}
	if len(raw) != 32 {
		return "", ErrInvalidIdentifier
	}
	return hex.EncodeToString(raw), nil
}

// bech32Decode splits s into its HRP and 5-bit data, verifying the checksum.
func bech32Decode(s string) (string, []byte, error) {
	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return "", nil, errors.New("bech32: mixed case")
	}
	s = strings.ToLower(s)
	if len(s) < 8 {
		return "", nil, errors.New("bech32: too short")
	}

	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return "", nil, errors.New("bech32: invalid separator position")
	}
	hrp := s[:pos]

	values := make([]byte, 0, len(s)-pos-1)
	for _, c := range s[pos+1:] {
		idx := strings.IndexRune(bech32Charset, c)
		if idx == -1 {
			return "", nil, errors.New("bech32: invalid character")
		}
		values = append(values, byte(idx))
	}
	if bech32Polymod(append(hrpExpand(hrp), values...)) != 1 {
		return "", nil, errors.New("bech32: bad checksum")
	}
	return hrp, values[:len(values)-6], nil
}

func bech32Encode(hrp string, data []byte) string {
	values := append(hrpExpand(hrp), data...)
	polymod := bech32Polymod(append(values, 0, 0, 0, 0, 0, 0)) ^ 1

	var b strings.Builder
	b.WriteString(hrp)
	b.WriteByte('1')
	for _, v := range data {
		b.WriteByte(bech32Charset[v])
	}
	for i := 0; i < 6; i++ {
		b.WriteByte(bech32Charset[(polymod>>(5*(5-i)))&31])
	}
	return b.String()
}

func bech32Polymod(values []byte) int {
	gen := [5]int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ int(v)
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []byte {
	ret := make([]byte, 0, len(hrp)*2+1)
	for _, c := range []byte(hrp) {
		ret = append(ret, c>>5)
	}
	ret = append(ret, 0)
	for _, c := range []byte(hrp) {
		ret = append(ret, c&31)
	}
	return ret
}

// convertBits regroups data from fromBits-wide to toBits-wide values.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := 0
	bits := uint(0)
	maxv := (1 << toBits) - 1
	var ret []byte
	for _, value := range data {
		acc = (acc << fromBits) | int(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, errors.New("bech32: invalid padding")
	}
	return ret, nil
}
