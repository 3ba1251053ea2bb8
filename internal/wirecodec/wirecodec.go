// Package wirecodec normalizes attachment payloads into canonical byte
// sequences. The upstream mail API serializes the same logical field
// differently depending on call path: sometimes a signed-byte array,
// sometimes base64 or base64url text, sometimes the literal content
// itself. Decode accepts any of these shapes and returns plain bytes.
package wirecodec

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// numericToken matches one signed decimal byte value inside a stringified
// byte list such as "104,-23,0,...".
var numericToken = regexp.MustCompile(`-?\d{1,4}`)

// numericListThreshold is the minimum number of numeric tokens before a
// string is treated as a stringified byte list rather than base64 text.
const numericListThreshold = 10

// decoder inspects a payload and either claims it (ok=true) or passes it to
// the next decoder in the chain.
type decoder func(v any) (data []byte, ok bool, err error)

// Chain is the fixed-priority classification order. Order matters: the
// literal-markup check must run before the base64 fallback (markup is not
// valid base64), and the stringified byte list must be recognized before
// base64 padding is attempted.
var Chain = []decoder{
	decodeEmpty,
	decodeNumericSlice,
	decodeLiteralMarkup,
	decodeNumericString,
	decodeBase64,
}

// Decode converts a payload of unknown wire shape into bytes by running the
// classification chain. A nil payload yields an empty slice.
func Decode(v any) ([]byte, error) {
	for _, d := range Chain {
		data, ok, err := d(v)
		if err != nil {
			return nil, err
		}
		if ok {
			return data, nil
		}
	}
	return nil, fmt.Errorf("unsupported payload type %T", v)
}

// foldSigned reduces a possibly negative 8-bit value into unsigned range.
func foldSigned(n int64) byte {
	return byte(((n % 256) + 256) % 256)
}

func decodeEmpty(v any) ([]byte, bool, error) {
	if v == nil {
		return []byte{}, true, nil
	}
	return nil, false, nil
}

// decodeNumericSlice handles byte arrays that arrive as typed or untyped
// numeric slices. JSON decoding produces []any of float64; other call paths
// hand over []int with signed 8-bit values.
func decodeNumericSlice(v any) ([]byte, bool, error) {
	switch vals := v.(type) {
	case []byte:
		return vals, true, nil
	case []int:
		out := make([]byte, len(vals))
		for i, n := range vals {
			out[i] = foldSigned(int64(n))
		}
		return out, true, nil
	case []int8:
		out := make([]byte, len(vals))
		for i, n := range vals {
			out[i] = foldSigned(int64(n))
		}
		return out, true, nil
	case []float64:
		out := make([]byte, len(vals))
		for i, n := range vals {
			out[i] = foldSigned(int64(n))
		}
		return out, true, nil
	case []any:
		out := make([]byte, 0, len(vals))
		for _, raw := range vals {
			switch n := raw.(type) {
			case float64:
				out = append(out, foldSigned(int64(n)))
			case int:
				out = append(out, foldSigned(int64(n)))
			default:
				return nil, false, fmt.Errorf("numeric slice contains %T element", raw)
			}
		}
		return out, true, nil
	default:
		return nil, false, nil
	}
}

// decodeLiteralMarkup passes through strings that are already literal
// content. Upstream sometimes returns the markup itself where an encoded
// body was expected; anything starting with '<' cannot be base64.
func decodeLiteralMarkup(v any) ([]byte, bool, error) {
	s, isStr := v.(string)
	if !isStr || !strings.HasPrefix(s, "<") {
		return nil, false, nil
	}
	return []byte(s), true, nil
}

// decodeNumericString handles byte arrays that were stringified before
// transport, e.g. "104,-23,0". Tokens outside signed or unsigned 8-bit
// range are discarded.
func decodeNumericString(v any) ([]byte, bool, error) {
	s, isStr := v.(string)
	if !isStr {
		return nil, false, nil
	}
	tokens := numericToken.FindAllString(s, -1)
	if len(tokens) <= numericListThreshold {
		return nil, false, nil
	}
	out := make([]byte, 0, len(tokens))
	for _, tok := range tokens {
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil || n < -128 || n > 255 {
			continue
		}
		out = append(out, foldSigned(n))
	}
	return out, true, nil
}

// decodeBase64 is the terminal decoder: normalize base64url to standard
// base64, strip whitespace, restore padding, and decode. A failure here is
// not recoverable, so the error carries the payload length and a prefix
// for diagnosis.
func decodeBase64(v any) ([]byte, bool, error) {
	s, isStr := v.(string)
	if !isStr {
		return nil, false, nil
	}

	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-':
			return '+'
		case '_':
			return '/'
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)

	if pad := len(cleaned) % 4; pad != 0 {
		cleaned += strings.Repeat("=", 4-pad)
	}

	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		prefix := s
		if len(prefix) > 16 {
			prefix = prefix[:16]
		}
		return nil, false, fmt.Errorf("failed to decode base64 payload (len=%d, prefix=%q): %w", len(s), prefix, err)
	}
	return decoded, true, nil
}
