// Package kfmt provides allocation-free formatted output for code that runs
// before the Go allocator is available, plus the kernel panic path.
package kfmt

import (
	"io"
	"unsafe"
)

// maxBufSize defines the buffer size for formatting numbers.
const maxBufSize = 32

var (
	errMissingArg   = []byte("(MISSING)")
	errWrongArgType = []byte("%!(WRONGTYPE)")
	errNoVerb       = []byte("%!(NOVERB)")
	errExtraArg     = []byte("%!(EXTRA)")
	trueValue       = []byte("true")
	falseValue      = []byte("false")
	hexDigits       = "0123456789abcdef"

	// numFmtBuf is filled from the right by fmtInt.
	numFmtBuf [maxBufSize]byte

	// singleByte is used as a shared buffer for passing single characters
	// to doWrite.
	singleByte = []byte(" ")

	// earlyPrintBuffer is a ring buffer that stores Printf output before an
	// output sink is attached.
	earlyPrintBuffer ringBuffer

	// outputSink is a io.Writer where Printf will send its output. If set
	// to nil, then the output will be redirected to the earlyPrintBuffer.
	outputSink io.Writer
)

// SetOutputSink sets the default target for calls to Printf to w and copies
// any data accumulated in the earlyPrintBuffer to it. The ring buffer
// implements io.WriterTo so the copy does not need a scratch buffer.
func SetOutputSink(w io.Writer) {
	outputSink = w
	if w != nil {
		_, _ = earlyPrintBuffer.WriteTo(w)
	}
}

// GetOutputSink returns the default target for calls to Printf.
func GetOutputSink() io.Writer {
	return outputSink
}

// Printf provides a minimal Printf implementation that can be safely used
// before the Go runtime has been properly initialized. This implementation
// does not allocate any memory.
//
// The following subset of the fmt verbs is supported:
//
//	%s  string or byte slice
//	%d  base 10 integer
//	%x  base 16 integer, lower-case letters
//	%o  base 8 integer
//	%t  "true" or "false"
//	%%  a literal percent sign
//
// A decimal width may precede the verb. Strings and base-10 integers are
// left-padded with spaces; base-8 and base-16 integers are left-padded with
// zeroes.
//
// Printf supports all built-in string and integer types but does not check
// whether its arguments implement fmt.Stringer. Pointers (%p) are not
// supported since that would require the reflect package.
//
// If no output sink has been attached, the output is buffered in a ring
// buffer and flushed to the sink passed to SetOutputSink.
func Printf(format string, args ...interface{}) {
	Fprintf(outputSink, format, args...)
}

// Fprintf behaves exactly like Printf but it writes the formatted output to
// the specified io.Writer.
func Fprintf(w io.Writer, format string, args ...interface{}) {
	var (
		nextArgIndex int
		padLen       int
		ch           byte
	)

	for i := 0; i < len(format); i++ {
		if ch = format[i]; ch != '%' {
			// passing a sub-slice of format to doWrite triggers a
			// memory allocation so we need to do this one byte at a time.
			writeByte(w, ch)
			continue
		}

		// Parse optional width followed by the verb
		for padLen, i = 0, i+1; i < len(format) && format[i] >= '0' && format[i] <= '9'; i++ {
			padLen = (padLen * 10) + int(format[i]-'0')
		}

		if i == len(format) {
			doWrite(w, errNoVerb)
			break
		}

		switch ch = format[i]; ch {
		case '%':
			writeByte(w, '%')
		case 'd', 'x', 'o', 's', 't':
			if nextArgIndex >= len(args) {
				doWrite(w, errMissingArg)
				continue
			}

			switch ch {
			case 'd':
				fmtInt(w, args[nextArgIndex], 10, padLen)
			case 'x':
				fmtInt(w, args[nextArgIndex], 16, padLen)
			case 'o':
				fmtInt(w, args[nextArgIndex], 8, padLen)
			case 's':
				fmtString(w, args[nextArgIndex], padLen)
			case 't':
				fmtBool(w, args[nextArgIndex])
			}
			nextArgIndex++
		default:
			doWrite(w, errNoVerb)
		}
	}

	// Flag unused args
	for ; nextArgIndex < len(args); nextArgIndex++ {
		doWrite(w, errExtraArg)
	}
}

// fmtBool prints a formatted version of boolean value v.
func fmtBool(w io.Writer, v interface{}) {
	bVal, ok := v.(bool)
	switch {
	case !ok:
		doWrite(w, errWrongArgType)
	case bVal:
		doWrite(w, trueValue)
	default:
		doWrite(w, falseValue)
	}
}

// fmtString prints a formatted version of string or []byte value v, applying
// the padding specified by padLen.
func fmtString(w io.Writer, v interface{}, padLen int) {
	switch castedVal := v.(type) {
	case string:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		// converting the string to a byte slice triggers a memory allocation
		// so we need to do this one byte at a time.
		for i := 0; i < len(castedVal); i++ {
			writeByte(w, castedVal[i])
		}
	case []byte:
		fmtRepeat(w, ' ', padLen-len(castedVal))
		doWrite(w, castedVal)
	default:
		doWrite(w, errWrongArgType)
	}
}

// fmtRepeat writes count bytes with value ch.
func fmtRepeat(w io.Writer, ch byte, count int) {
	for ; count > 0; count-- {
		writeByte(w, ch)
	}
}

// fmtInt prints out a formatted version of v in the requested base, applying
// the padding specified by padLen. Negative values are prefixed with a '-'
// which counts towards the padding width.
func fmtInt(w io.Writer, v interface{}, base uint64, padLen int) {
	var (
		uval  uint64
		neg   bool
		padCh byte = '0'
	)

	switch t := v.(type) {
	case uint8:
		uval = uint64(t)
	case uint16:
		uval = uint64(t)
	case uint32:
		uval = uint64(t)
	case uint64:
		uval = t
	case uint:
		uval = uint64(t)
	case uintptr:
		uval = uint64(t)
	case int8:
		uval, neg = abs(int64(t))
	case int16:
		uval, neg = abs(int64(t))
	case int32:
		uval, neg = abs(int64(t))
	case int64:
		uval, neg = abs(t)
	case int:
		uval, neg = abs(int64(t))
	default:
		doWrite(w, errWrongArgType)
		return
	}

	if base == 10 {
		padCh = ' '
	}

	if padLen >= maxBufSize {
		padLen = maxBufSize - 1
	}

	// Emit digits right to left
	left := maxBufSize
	for {
		left--
		numFmtBuf[left] = hexDigits[uval%base]
		if uval /= base; uval == 0 {
			break
		}
	}

	// The sign counts towards the width. Zero padding goes between the
	// sign and the digits; space padding goes before the sign.
	width := maxBufSize - left
	if neg {
		width++
	}

	if padCh == '0' {
		for ; width < padLen; width++ {
			left--
			numFmtBuf[left] = '0'
		}
	}

	if neg {
		left--
		numFmtBuf[left] = '-'
	}

	for ; width < padLen; width++ {
		left--
		numFmtBuf[left] = padCh
	}

	doWrite(w, numFmtBuf[left:])
}

// abs splits v into its magnitude and sign.
func abs(v int64) (uint64, bool) {
	if v < 0 {
		return uint64(-v), true
	}
	return uint64(v), false
}

func writeByte(w io.Writer, ch byte) {
	singleByte[0] = ch
	doWrite(w, singleByte)
}

// doWrite is a proxy that uses the runtime.noescape hack to hide p from the
// compiler's escape analysis. Without this hack, the compiler cannot properly
// detect that p does not escape (due to the call to the yet unknown outputSink
// io.Writer) and plays it safe by flagging it as escaping. This causes all
// calls to Printf to call runtime.convT2E which triggers a memory allocation
// causing the kernel to crash if a call to Printf is made before the Go
// allocator is initialized.
func doWrite(w io.Writer, p []byte) {
	doRealWrite(w, noEscape(unsafe.Pointer(&p)))
}

func doRealWrite(w io.Writer, bufPtr unsafe.Pointer) {
	p := *(*[]byte)(bufPtr)
	if w != nil {
		_, _ = w.Write(p)
	} else {
		_, _ = earlyPrintBuffer.Write(p)
	}
}

// noEscape hides a pointer from escape analysis. This function is copied over
// from runtime/stubs.go
//
//go:nosplit
func noEscape(p unsafe.Pointer) unsafe.Pointer {
	x := uintptr(p)
	return unsafe.Pointer(x ^ 0)
}
