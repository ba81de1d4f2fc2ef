package kernel

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
)

// variable is one text-kernel pool entry. Dates assigned with the @ prefix
// are stored as numbers (seconds past J2000 on a 86400-second day scale).
type variable struct {
	nums []float64
	strs []string
}

type assignment struct {
	name string
	add  bool
	nums []float64
	strs []string
}

// parseTextKernel reads the \begindata sections of a NAIF text kernel.
func parseTextKernel(r io.Reader) ([]assignment, error) {
	var data strings.Builder
	inData := false
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch strings.TrimSpace(line) {
		case `\begindata`:
			inData = true
			continue
		case `\begintext`:
			inData = false
			continue
		}
		if inData {
			data.WriteString(line)
			data.WriteByte('\n')
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	toks, err := tokenize(data.String())
	if err != nil {
		return nil, err
	}
	return assemble(toks)
}

type tokKind int

const (
	tokWord tokKind = iota
	tokString
	tokDate
	tokAssign
	tokAppend
	tokOpen
	tokClose
)

type token struct {
	kind tokKind
	text string
}

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == ',':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokOpen})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokClose})
			i++
		case c == '=':
			toks = append(toks, token{kind: tokAssign})
			i++
		case c == '+' && i+1 < len(src) && src[i+1] == '=':
			toks = append(toks, token{kind: tokAppend})
			i += 2
		case c == '\'':
			var sb strings.Builder
			i++
			closed := false
			for i < len(src) {
				if src[i] == '\'' {
					// '' is an escaped quote
					if i+1 < len(src) && src[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				if src[i] == '\n' {
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string %q", sb.String())
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
		default:
			start := i
			for i < len(src) && !strings.ContainsRune(" \t\n,()=", rune(src[i])) {
				if src[i] == '+' && i+1 < len(src) && src[i+1] == '=' {
					break
				}
				i++
			}
			word := src[start:i]
			if strings.HasPrefix(word, "@") {
				toks = append(toks, token{kind: tokDate, text: word[1:]})
			} else {
				toks = append(toks, token{kind: tokWord, text: word})
			}
		}
	}
	return toks, nil
}

func assemble(toks []token) ([]assignment, error) {
	var out []assignment
	for i := 0; i < len(toks); {
		name := toks[i]
		if name.kind != tokWord {
			return nil, fmt.Errorf("expected variable name, found %q", name.text)
		}
		i++
		if i >= len(toks) || (toks[i].kind != tokAssign && toks[i].kind != tokAppend) {
			return nil, fmt.Errorf("variable %s: missing '=' or '+='", name.text)
		}
		a := assignment{name: name.text, add: toks[i].kind == tokAppend}
		i++
		if i >= len(toks) {
			return nil, fmt.Errorf("variable %s: missing value", name.text)
		}

		var values []token
		if toks[i].kind == tokOpen {
			i++
			for i < len(toks) && toks[i].kind != tokClose {
				values = append(values, toks[i])
				i++
			}
			if i >= len(toks) {
				return nil, fmt.Errorf("variable %s: unterminated list", name.text)
			}
			i++
		} else {
			values = append(values, toks[i])
			i++
		}

		for _, v := range values {
			switch v.kind {
			case tokString:
				a.strs = append(a.strs, v.text)
			case tokDate:
				s, err := parseKernelDate(v.text)
				if err != nil {
					return nil, fmt.Errorf("variable %s: %w", name.text, err)
				}
				a.nums = append(a.nums, s)
			case tokWord:
				f, err := parseKernelNumber(v.text)
				if err != nil {
					return nil, fmt.Errorf("variable %s: %w", name.text, err)
				}
				a.nums = append(a.nums, f)
			default:
				return nil, fmt.Errorf("variable %s: unexpected token in value", name.text)
			}
		}
		if len(a.nums) > 0 && len(a.strs) > 0 {
			return nil, fmt.Errorf("variable %s: mixes numbers and strings", name.text)
		}
		out = append(out, a)
	}
	return out, nil
}

func parseKernelNumber(s string) (float64, error) {
	s = strings.NewReplacer("D", "E", "d", "e").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("bad number %q", s)
	}
	return f, nil
}

var kernelDateLayouts = []string{
	"2006-Jan-2/15:04:05.999999999",
	"2006-Jan-2/15:04",
	"2006-Jan-2",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// parseKernelDate converts an @-date to formal seconds past J2000.
func parseKernelDate(s string) (float64, error) {
	// month names are upper case in kernels
	norm := s
	if len(s) >= 8 && s[4] == '-' {
		if mon := s[5:8]; strings.ToUpper(mon) == mon && isAlpha(mon) {
			norm = s[:5] + mon[:1] + strings.ToLower(mon[1:]) + s[8:]
		}
	}
	for _, layout := range kernelDateLayouts {
		t, err := time.Parse(layout, norm)
		if err != nil {
			continue
		}
		day := float64(t.Day()) + float64(t.Hour())/24 + float64(t.Minute())/1440 +
			(float64(t.Second())+float64(t.Nanosecond())/1e9)/86400
		jd := julian.CalendarGregorianToJD(t.Year(), int(t.Month()), day)
		return (jd - j2000JD) * secondsPerDay, nil
	}
	return 0, fmt.Errorf("bad date @%s", s)
}

func isAlpha(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// loadText furnishes a text kernel and refreshes the derived tables.
func (p *Pool) loadText(path string, kind Kind) error {
	f, err := os.Open(path)
	if err != nil {
		return withCode(CodeFileRead, err)
	}
	defer f.Close()

	assigns, err := parseTextKernel(f)
	if err != nil {
		return err
	}
	for _, a := range assigns {
		v, ok := p.vars[a.name]
		if !ok || !a.add {
			v = &variable{}
			p.vars[a.name] = v
		}
		v.nums = append(v.nums, a.nums...)
		v.strs = append(v.strs, a.strs...)
	}

	if kind == KindLeapSeconds || p.vars["DELTET/DELTA_AT"] != nil {
		ls, err := leapSecondsFromPool(p.vars)
		if err != nil {
			if kind == KindLeapSeconds {
				return err
			}
		} else {
			p.leaps = ls
		}
	}
	p.refreshNames()
	p.frames.refresh(p.vars)
	return nil
}
