package imessage

import (
	"errors"
	"fmt"
	"strings"
)

// The message store leaves the plain-text column empty for rich messages
// (effects, reactions, edited bodies) and serializes the text into an
// attributedBody blob instead. Two layouts are in the wild, told apart by
// a discriminator byte at a fixed offset; each has a constant-length
// header before a variable-length size field.
const (
	discriminatorOffset = 22

	discriminatorString        = 0x12 // NSString payload
	discriminatorMutableString = 0x19 // NSMutableAttributedString payload, infrequent

	headerString        = 73
	headerMutableString = 121
)

// objectReplacementChar marks attachment positions inside the decoded
// text and is stripped from the result.
const objectReplacementChar = "￼"

var (
	// ErrUnknownLayout means a discriminator this decoder does not know.
	// It likely indicates a new format revision needing code changes, so
	// callers must not mask it as "no text".
	ErrUnknownLayout = errors.New("unknown attributedBody layout")

	// ErrEmptyBody means the blob decoded to a zero-length string, which
	// indicates either a format revision or a parsing bug.
	ErrEmptyBody = errors.New("attributedBody decoded to empty text")
)

// readVarLength reads the vendor variable-length size field at offset:
// a single byte when the value is <= 0x7F, otherwise the low 7 bits give
// a count of big-endian length bytes followed by a multiplier byte, and
// the value is 256*multiplier + lengthBytes.
//
//	81 c6 00 -> 198
//	81 3b 01 -> 315
func readVarLength(blob []byte, offset int) (length, next int, err error) {
	if offset >= len(blob) {
		return 0, 0, fmt.Errorf("length field at %d past end of %d-byte blob", offset, len(blob))
	}
	first := blob[offset]
	offset++

	if first <= 0x7F {
		return int(first), offset, nil
	}

	extra := int(first & 0x7F)
	if offset+extra+1 > len(blob) {
		return 0, 0, fmt.Errorf("multi-byte length field at %d overruns %d-byte blob", offset-1, len(blob))
	}
	for _, b := range blob[offset : offset+extra] {
		length = length<<8 | int(b)
	}
	multiplier := int(blob[offset+extra])
	return 256*multiplier + length, offset + extra + 1, nil
}

// decodeAttributedBody extracts the plain text embedded in an
// attributedBody blob. It fails loudly on an unrecognized layout or a
// zero-length result.
func decodeAttributedBody(blob []byte) (string, error) {
	if len(blob) <= discriminatorOffset {
		return "", fmt.Errorf("%w: blob too short (%d bytes)", ErrUnknownLayout, len(blob))
	}

	var header int
	switch blob[discriminatorOffset] {
	case discriminatorString:
		header = headerString
	case discriminatorMutableString:
		header = headerMutableString
	default:
		return "", fmt.Errorf("%w: discriminator 0x%02x", ErrUnknownLayout, blob[discriminatorOffset])
	}

	length, offset, err := readVarLength(blob, header)
	if err != nil {
		return "", err
	}
	if offset+length > len(blob) {
		return "", fmt.Errorf("declared text length %d overruns %d-byte blob", length, len(blob))
	}

	text := string(blob[offset : offset+length])
	text = strings.TrimSpace(strings.ReplaceAll(text, objectReplacementChar, ""))
	if text == "" {
		return "", ErrEmptyBody
	}
	return text, nil
}
