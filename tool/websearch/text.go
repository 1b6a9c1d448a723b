package websearch

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/width"
)

// RuneWidth returns the display width of r: 2 for fullwidth, wide and
// ambiguous East Asian characters, otherwise 1.
func RuneWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianFullwidth, width.EastAsianWide, width.EastAsianAmbiguous:
		return 2
	default:
		return 1
	}
}

// TruncateWidth keeps the longest prefix of text whose display width does
// not exceed max.
func TruncateWidth(text string, max int) string {
	total := 0
	for i, r := range text {
		w := RuneWidth(r)
		if total+w > max {
			return text[:i]
		}
		total += w
	}
	return text
}

type target struct {
	name string
	enc  encoding.Encoding // nil means UTF-8
}

// cp932 is covered by ShiftJIS, which x/text implements as Windows-31J.
var repairTargets = []target{
	{name: "utf-8"},
	{name: "shift_jis", enc: japanese.ShiftJIS},
	{name: "euc-jp", enc: japanese.EUCJP},
}

// RepairEncoding undoes a common class of mojibake: text that was decoded
// as Latin-1 although its bytes were UTF-8, Shift_JIS or EUC-JP. Every
// round-trip candidate is scored by Japanese characters gained and
// replacement markers introduced; the original text is kept unless some
// candidate scores positive and beats the original's own score.
func RepairEncoding(text string) string {
	raw := encodeLatin1(text)

	best, bestScore := text, max(0, repairScore(text))
	consider := func(c string) {
		if s := repairScore(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	for _, t := range repairTargets {
		candidate := decode(raw, t.enc)
		consider(candidate)
		for _, second := range repairTargets {
			consider(decode(encode(candidate, second.enc), nil))
		}
	}
	return best
}

func repairScore(s string) int {
	jp := 0
	for _, r := range s {
		if r > 0x3000 && r < 0x30FF {
			jp++
		}
	}
	bad := strings.Count(s, "ï¿½") + strings.Count(s, "?") + strings.Count(s, string(utf8.RuneError))
	return jp*2 - bad*3
}

func encodeLatin1(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, ok := charmap.ISO8859_1.EncodeRune(r)
		if !ok {
			b = '?'
		}
		out = append(out, b)
	}
	return out
}

func decode(b []byte, enc encoding.Encoding) string {
	if enc == nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(out)
}

// encode converts s to enc, writing '?' for runes the encoding lacks.
func encode(s string, enc encoding.Encoding) []byte {
	if enc == nil {
		return []byte(s)
	}
	e := enc.NewEncoder()
	if out, err := e.Bytes([]byte(s)); err == nil {
		return out
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		b, err := e.Bytes([]byte(string(r)))
		if err != nil {
			out = append(out, '?')
			continue
		}
		out = append(out, b...)
	}
	return out
}
