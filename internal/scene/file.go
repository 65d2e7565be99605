// Package scene implements the console's textual scene/backup file format and
// the export/import orchestrators that move full console state over the wire.
//
// The file grammar is the one the console itself parses from USB: a header
// line `#<firmware># "<name>" "<notes>" <safetymask> <hasaliases>` followed by
// one line per parameter, `/address value value ...`.
package scene

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/stagelink/x32mgr/internal/osc"
)

// ErrBadHeader indicates the first line does not match the header grammar.
var ErrBadHeader = errors.New("scene: malformed header line")

// Header is the scene file header line.
type Header struct {
	Firmware   string
	Name       string
	Note       string
	SafeMask   int
	HasAliases int
}

// Record is one parameter line: an address plus its printed argument values.
type Record struct {
	Address string
	Args    []osc.Value
}

var (
	intTokenRe   = regexp.MustCompile(`^-?\d+$`)
	floatTokenRe = regexp.MustCompile(`^-?\d*\.\d+$|^-?\d+\.\d*$`)
)

// Write serializes a header and records into the console's file format.
// Every line, including the last record, ends with a newline.
func Write(h Header, records []Record) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "#%s# %s %s %d %d\n",
		h.Firmware, quote(h.Name), quote(h.Note), h.SafeMask, h.HasAliases)

	for _, r := range records {
		buf.WriteString(r.Address)
		for _, a := range r.Args {
			buf.WriteByte(' ')
			buf.WriteString(formatValue(a))
		}
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// Read parses file bytes back into a header and records.
//
// The header scanner is tolerant: extra whitespace is ignored and missing
// trailing fields default to zero. After the header, blank lines and lines
// starting with '#' are skipped.
func Read(data []byte) (Header, []Record, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return Header{}, nil, fmt.Errorf("%w: empty file", ErrBadHeader)
	}
	header, err := parseHeader(scanner.Text())
	if err != nil {
		return Header{}, nil, err
	}

	var records []Record
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		rec, err := parseRecord(line)
		if err != nil {
			return Header{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return Header{}, nil, fmt.Errorf("scene: scan: %w", err)
	}

	return header, records, nil
}

// parseHeader parses `#<firmware># "<name>" "<notes>" <mask> <aliases>`.
func parseHeader(line string) (Header, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "#") {
		return Header{}, fmt.Errorf("%w: %q", ErrBadHeader, line)
	}
	end := strings.Index(line[1:], "#")
	if end < 0 {
		return Header{}, fmt.Errorf("%w: unterminated firmware field", ErrBadHeader)
	}

	h := Header{Firmware: line[1 : 1+end]}
	rest := strings.TrimSpace(line[2+end:])

	tokens, err := splitTokens(rest)
	if err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}

	// Fields in order: name, notes, safety mask, has-aliases.
	// Anything missing stays zero.
	if len(tokens) > 0 {
		h.Name = tokens[0].text
	}
	if len(tokens) > 1 {
		h.Note = tokens[1].text
	}
	if len(tokens) > 2 {
		h.SafeMask, _ = strconv.Atoi(tokens[2].text)
	}
	if len(tokens) > 3 {
		h.HasAliases, _ = strconv.Atoi(tokens[3].text)
	}
	return h, nil
}

// parseRecord splits a parameter line into its address and typed values.
func parseRecord(line string) (Record, error) {
	sp := strings.IndexByte(line, ' ')
	if sp < 0 {
		if !strings.HasPrefix(line, "/") {
			return Record{}, fmt.Errorf("scene: record does not start with '/': %q", line)
		}
		return Record{Address: line}, nil
	}

	address := line[:sp]
	if !strings.HasPrefix(address, "/") {
		return Record{}, fmt.Errorf("scene: record does not start with '/': %q", line)
	}

	tokens, err := splitTokens(line[sp+1:])
	if err != nil {
		return Record{}, err
	}

	args := make([]osc.Value, 0, len(tokens))
	for _, tok := range tokens {
		args = append(args, tokenValue(tok))
	}
	if len(args) == 0 {
		args = nil
	}
	return Record{Address: address, Args: args}, nil
}

type token struct {
	text   string
	quoted bool
}

// splitTokens splits on whitespace, honoring double-quoted strings with the
// doubling escape (`""` inside quotes is one literal quote).
func splitTokens(s string) ([]token, error) {
	var out []token
	i := 0
	for i < len(s) {
		if s[i] == ' ' || s[i] == '\t' {
			i++
			continue
		}

		if s[i] == '"' {
			var sb strings.Builder
			i++
			closed := false
			for i < len(s) {
				if s[i] == '"' {
					if i+1 < len(s) && s[i+1] == '"' {
						sb.WriteByte('"')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(s[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("scene: unterminated quoted string")
			}
			out = append(out, token{text: sb.String(), quoted: true})
			continue
		}

		start := i
		for i < len(s) && s[i] != ' ' && s[i] != '\t' {
			i++
		}
		out = append(out, token{text: s[start:i]})
	}
	return out, nil
}

// tokenValue types a raw token: quoted strings stay strings, bare integers
// become int32, decimal-with-point tokens become float32, a blob: prefix
// decodes hex bytes, and anything else is a raw string.
func tokenValue(tok token) osc.Value {
	if tok.quoted {
		return osc.String(tok.text)
	}
	if intTokenRe.MatchString(tok.text) {
		n, err := strconv.ParseInt(tok.text, 10, 32)
		if err == nil {
			return osc.Int(int32(n))
		}
	}
	if floatTokenRe.MatchString(tok.text) {
		f, err := strconv.ParseFloat(tok.text, 32)
		if err == nil {
			return osc.Float(float32(f))
		}
	}
	if hexStr, ok := strings.CutPrefix(tok.text, "blob:"); ok {
		if b, err := decodeHex(hexStr); err == nil {
			return osc.Blob(b)
		}
	}
	return osc.String(tok.text)
}

// formatValue prints one value in the console's representation.
func formatValue(v osc.Value) string {
	switch v.Kind {
	case osc.KindInt32:
		return strconv.FormatInt(int64(v.Int), 10)
	case osc.KindFloat32:
		return formatFloat(v.Float)
	case osc.KindString:
		return quote(v.Str)
	case osc.KindBlob:
		return "blob:" + encodeHex(v.Blob)
	default:
		return quote(v.String())
	}
}

// formatFloat prints the shortest decimal that round-trips the float32,
// always keeping a decimal point so the reader types it back as a float.
func formatFloat(f float32) string {
	s := strconv.FormatFloat(float64(f), 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// quote wraps s in double quotes, doubling embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

const hexDigits = "0123456789abcdef"

func encodeHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, hexDigits[c>>4], hexDigits[c&0xf])
	}
	return string(out)
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("scene: odd hex length")
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi := strings.IndexByte(hexDigits, s[2*i])
		lo := strings.IndexByte(hexDigits, s[2*i+1])
		if hi < 0 || lo < 0 {
			return nil, fmt.Errorf("scene: bad hex digit")
		}
		out[i] = byte(hi<<4 | lo)
	}
	return out, nil
}
