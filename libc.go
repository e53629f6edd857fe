package main

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
)

// hostedLibc is the part of the C library a hosted program can link against.
var hostedLibc = map[string]ForeignFunc{
	"printf":  libcPrintf,
	"puts":    libcPuts,
	"putchar": libcPutchar,
	"strlen":  libcStrlen,
	"write":   libcWrite,
	"exit":    libcExit,
	"getpid":  libcGetpid,
}

// LinkError reports an extern that no library provides.
type LinkError struct {
	Symbol string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("undefined reference to `%s'", e.Symbol)
}

// ResolveExterns binds every extern declared by prog. Freestanding programs
// link against nothing.
func ResolveExterns(prog *Program, mode Mode) (map[string]ForeignFunc, error) {
	resolved := make(map[string]ForeignFunc)
	for _, ext := range prog.Symbols.Externs {
		fn, ok := hostedLibc[ext.Name]
		if !ok || mode == ModeFreestanding {
			return nil, &LinkError{Symbol: ext.Name}
		}
		resolved[ext.Name] = fn
	}
	return resolved, nil
}

func (m *Machine) cString(addr uint64) ([]byte, error) {
	s, err := m.Mem.ReadCString(addr)
	return s, m.wrapFault(err)
}

func libcPuts(m *Machine) error {
	s, err := m.cString(m.Regs[RDI])
	if err != nil {
		return err
	}
	n, _ := m.Stdout.Write(append(s, '\n'))
	m.Regs[RAX] = uint64(n)
	return nil
}

func libcPutchar(m *Machine) error {
	c := byte(m.Regs[RDI])
	m.Stdout.Write([]byte{c})
	m.Regs[RAX] = uint64(c)
	return nil
}

func libcStrlen(m *Machine) error {
	s, err := m.cString(m.Regs[RDI])
	if err != nil {
		return err
	}
	m.Regs[RAX] = uint64(len(s))
	return nil
}

// libcWrite wraps the write syscall and follows the libc convention of
// returning -1 on failure.
func libcWrite(m *Machine) error {
	ret := m.sysWrite(m.Regs[RDI], m.Regs[RSI], m.Regs[RDX])
	if int64(ret) < 0 {
		ret = ^uint64(0)
	}
	m.Regs[RAX] = ret
	return nil
}

func libcExit(m *Machine) error {
	return &ExitError{Code: int(m.Regs[RDI] & 0xFF)}
}

func libcGetpid(m *Machine) error {
	m.Regs[RAX] = uint64(m.Config.PID)
	return nil
}

func libcPrintf(m *Machine) error {
	format, err := m.cString(m.Regs[RDI])
	if err != nil {
		return err
	}
	va := NewVarArgs(m, 1, 0)
	out, err := formatPrintf(format, va)
	if err != nil {
		return err
	}
	n, _ := m.Stdout.Write(out)
	m.Regs[RAX] = uint64(n)
	return nil
}

// printfSpec is one parsed conversion specification.
type printfSpec struct {
	flags     string
	width     int
	hasWidth  bool
	precision int
	hasPrec   bool
	length    string
	verb      byte
}

func (s printfSpec) has(flag byte) bool {
	return bytes.IndexByte([]byte(s.flags), flag) >= 0
}

// goFormat builds a Go verb with the same flags, width and precision.
func (s printfSpec) goFormat(verb byte) string {
	f := "%" + s.flags
	if s.hasWidth {
		f += strconv.Itoa(s.width)
	}
	if s.hasPrec {
		f += "." + strconv.Itoa(s.precision)
	}
	return f + string(verb)
}

// pad applies width and the '-' flag to already converted text.
func (s printfSpec) pad(text []byte) []byte {
	if !s.hasWidth || len(text) >= s.width {
		return text
	}
	fill := bytes.Repeat([]byte{' '}, s.width-len(text))
	if s.has('-') {
		return append(text, fill...)
	}
	return append(fill, text...)
}

// formatPrintf renders a C format string, fetching each argument with the
// va_arg type its conversion implies.
func formatPrintf(format []byte, va *VarArgs) ([]byte, error) {
	var out []byte
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			out = append(out, c)
			continue
		}
		start := i
		i++
		var spec printfSpec
		for i < len(format) && bytes.IndexByte([]byte("-+ #0"), format[i]) >= 0 {
			if bytes.IndexByte([]byte(spec.flags), format[i]) < 0 {
				spec.flags += string(format[i])
			}
			i++
		}
		if i < len(format) && format[i] == '*' {
			v, err := va.Int()
			if err != nil {
				return out, err
			}
			spec.width, spec.hasWidth = int(int32(v)), true
			if spec.width < 0 {
				spec.width = -spec.width
				spec.flags += "-"
			}
			i++
		} else {
			for i < len(format) && isDigit(format[i]) {
				spec.width = spec.width*10 + int(format[i]-'0')
				spec.hasWidth = true
				i++
			}
		}
		if i < len(format) && format[i] == '.' {
			i++
			spec.hasPrec = true
			if i < len(format) && format[i] == '*' {
				v, err := va.Int()
				if err != nil {
					return out, err
				}
				spec.precision = int(int32(v))
				if spec.precision < 0 {
					spec.hasPrec, spec.precision = false, 0
				}
				i++
			} else {
				for i < len(format) && isDigit(format[i]) {
					spec.precision = spec.precision*10 + int(format[i]-'0')
					i++
				}
			}
		}
		for i < len(format) && bytes.IndexByte([]byte("hlzjtL"), format[i]) >= 0 {
			spec.length += string(format[i])
			i++
		}
		if i >= len(format) {
			out = append(out, format[start:]...)
			break
		}
		spec.verb = format[i]

		text, err := convertSpec(spec, va)
		if err != nil {
			return out, err
		}
		if text == nil && spec.verb != '%' && !isConversion(spec.verb) {
			text = format[start : i+1]
		}
		out = append(out, text...)
	}
	return out, nil
}

func isConversion(verb byte) bool {
	return bytes.IndexByte([]byte("diuxXocspfFeEgGn"), verb) >= 0
}

// intWidth returns the size in bytes of an integer argument with the given
// length modifier. Narrower arguments were promoted to int by the caller and
// are converted back here.
func intWidth(length string) int {
	switch length {
	case "hh":
		return 1
	case "h":
		return 2
	case "l", "ll", "z", "j", "t", "L":
		return 8
	}
	return 4
}

func convertSpec(spec printfSpec, va *VarArgs) ([]byte, error) {
	switch spec.verb {
	case '%':
		return []byte{'%'}, nil

	case 'd', 'i':
		v, err := va.Int()
		if err != nil {
			return nil, err
		}
		n := int64(signExtend(v, intWidth(spec.length)))
		return fmt.Appendf(nil, spec.goFormat('d'), n), nil

	case 'u', 'x', 'X', 'o':
		v, err := va.Int()
		if err != nil {
			return nil, err
		}
		n := truncate(v, intWidth(spec.length))
		verb := spec.verb
		if verb == 'u' {
			verb = 'd'
			spec.flags = stripFlags(spec.flags, "+ ")
		}
		if n == 0 && (verb == 'x' || verb == 'X') {
			spec.flags = stripFlags(spec.flags, "#")
		}
		if spec.has('#') && verb == 'o' && spec.hasPrec {
			// C puts the 0 prefix inside the precision.
			spec.flags = stripFlags(spec.flags, "#")
			digits := strconv.FormatUint(n, 8)
			if len(digits) >= spec.precision {
				spec.precision = len(digits) + 1
			}
		}
		return fmt.Appendf(nil, spec.goFormat(verb), n), nil

	case 'c':
		v, err := va.Int()
		if err != nil {
			return nil, err
		}
		return spec.pad([]byte{byte(v)}), nil

	case 's':
		addr, err := va.Int()
		if err != nil {
			return nil, err
		}
		var s []byte
		if addr == 0 {
			s = []byte("(null)")
		} else {
			s, err = va.m.cString(addr)
			if err != nil {
				return nil, err
			}
		}
		if spec.hasPrec && len(s) > spec.precision {
			s = s[:spec.precision]
		}
		return spec.pad(s), nil

	case 'p':
		addr, err := va.Int()
		if err != nil {
			return nil, err
		}
		if addr == 0 {
			return spec.pad([]byte("(nil)")), nil
		}
		return spec.pad([]byte("0x" + strconv.FormatUint(addr, 16))), nil

	case 'f', 'F', 'e', 'E', 'g', 'G':
		f, err := va.Float()
		if err != nil {
			return nil, err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return spec.pad(nonFinite(f, spec)), nil
		}
		if !spec.hasPrec {
			spec.hasPrec, spec.precision = true, 6
		}
		verb := spec.verb
		if verb == 'F' {
			verb = 'f'
		}
		return fmt.Appendf(nil, spec.goFormat(verb), f), nil

	case 'n':
		// Writing the character count back through a pointer is not supported.
		if _, err := va.Int(); err != nil {
			return nil, err
		}
		return []byte{}, nil
	}
	return nil, nil
}

func nonFinite(f float64, spec printfSpec) []byte {
	var s string
	switch {
	case math.IsNaN(f):
		s = "nan"
	case f > 0:
		s = "inf"
	default:
		s = "-inf"
	}
	if f > 0 || math.IsNaN(f) {
		if spec.has('+') {
			s = "+" + s
		} else if spec.has(' ') {
			s = " " + s
		}
	}
	if spec.verb == 'F' || spec.verb == 'E' || spec.verb == 'G' {
		s = string(bytes.ToUpper([]byte(s)))
	}
	return []byte(s)
}

func stripFlags(flags, remove string) string {
	var out []byte
	for i := 0; i < len(flags); i++ {
		if bytes.IndexByte([]byte(remove), flags[i]) < 0 {
			out = append(out, flags[i])
		}
	}
	return string(out)
}
