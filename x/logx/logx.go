// Package logx writes levelled console lines without pulling in fmt:
//
//	Info: [hv] polarity toggle start pol=negative
//
// The default sink is the builtin println, which TinyGo routes to the USB
// console. SetOutput redirects every logger at once.
package logx

import (
	"io"
	"strconv"
	"sync"
	"time"
)

type Level uint8

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "Debug"
	case Info:
		return "Info"
	case Warn:
		return "Warn"
	default:
		return "Error"
	}
}

// ParseLevel maps config strings; unknown values give Info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return Debug
	case "warn":
		return Warn
	case "error":
		return Error
	default:
		return Info
	}
}

var (
	mu  sync.Mutex
	out io.Writer
	min = Info
)

// SetOutput redirects all loggers. nil restores println.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

func SetLevel(l Level) {
	mu.Lock()
	min = l
	mu.Unlock()
}

// Logger tags lines with a component name.
type Logger struct{ tag string }

func New(tag string) Logger { return Logger{tag: tag} }

func (l Logger) Debug(msg string, kv ...any) { l.log(Debug, msg, kv) }
func (l Logger) Info(msg string, kv ...any)  { l.log(Info, msg, kv) }
func (l Logger) Warn(msg string, kv ...any)  { l.log(Warn, msg, kv) }
func (l Logger) Error(msg string, kv ...any) { l.log(Error, msg, kv) }

func (l Logger) log(lv Level, msg string, kv []any) {
	mu.Lock()
	defer mu.Unlock()
	if lv < min {
		return
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, lv.String()...)
	buf = append(buf, ": ["...)
	buf = append(buf, l.tag...)
	buf = append(buf, "] "...)
	buf = append(buf, msg...)
	for i := 0; i+1 < len(kv); i += 2 {
		buf = append(buf, ' ')
		buf = appendValue(buf, kv[i])
		buf = append(buf, '=')
		buf = appendValue(buf, kv[i+1])
	}
	if len(kv)%2 == 1 {
		buf = append(buf, " !extra="...)
		buf = appendValue(buf, kv[len(kv)-1])
	}
	if out == nil {
		println(string(buf))
		return
	}
	buf = append(buf, '\n')
	_, _ = out.Write(buf)
}

func appendValue(b []byte, v any) []byte {
	switch x := v.(type) {
	case string:
		return append(b, x...)
	case bool:
		return strconv.AppendBool(b, x)
	case int:
		return strconv.AppendInt(b, int64(x), 10)
	case int32:
		return strconv.AppendInt(b, int64(x), 10)
	case int64:
		return strconv.AppendInt(b, x, 10)
	case uint8:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint16:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint64:
		return strconv.AppendUint(b, x, 10)
	case float32:
		return strconv.AppendFloat(b, float64(x), 'f', 3, 32)
	case float64:
		return strconv.AppendFloat(b, x, 'f', 3, 64)
	case time.Duration:
		return append(b, x.String()...)
	case error:
		return append(b, x.Error()...)
	case interface{ String() string }:
		return append(b, x.String()...)
	case nil:
		return append(b, "nil"...)
	default:
		return append(b, '?')
	}
}

// Hex8 renders a register value as 0xNN.
type Hex8 uint8

func (h Hex8) String() string {
	const digits = "0123456789ABCDEF"
	return string([]byte{'0', 'x', digits[h>>4], digits[h&0x0F]})
}
