package bridge

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding names the textual representation of a payload.
type Encoding string

const (
	EncodingUTF8   Encoding = "utf8"
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding maps a name to an Encoding. The empty name means base64;
// unknown names are rejected. DecodePayload is more lenient.
func ParseEncoding(name string) (Encoding, error) {
	switch enc := Encoding(strings.ToLower(name)); enc {
	case "":
		return EncodingBase64, nil
	case EncodingUTF8, EncodingHex, EncodingBase64:
		return enc, nil
	default:
		return "", fmt.Errorf("%w: unknown encoding %q", ErrInvalidParam, name)
	}
}

// DecodePayload converts text in the given encoding to bytes.
//
// hex drops every character outside [0-9A-Fa-f] and ignores a trailing odd
// nibble; utf8 takes the bytes of the string as they are. Any other
// encoding, including an empty or unknown one, is read as standard padded
// base64.
//
// Parameters:
//   - data: Encoded payload
//   - enc: Encoding of data; empty or unknown means base64
//
// Returns:
//   - The decoded bytes
//   - An error wrapping ErrInvalidParam if data cannot be decoded
func DecodePayload(data string, enc Encoding) ([]byte, error) {
	switch Encoding(strings.ToLower(string(enc))) {
	case EncodingUTF8:
		return []byte(data), nil
	case EncodingHex:
		clean := cleanHex(data)
		out, err := hex.DecodeString(clean[:len(clean)&^1])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParam, err)
		}
		return out, nil
	default:
		out, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode data with encoding base64: %w", ErrInvalidParam, err)
		}
		return out, nil
	}
}

// EncodePayload renders received bytes as standard padded base64, the
// encoding of every data event.
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

func cleanHex(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
			return r
		default:
			return -1
		}
	}, s)
}
