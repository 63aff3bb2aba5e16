/*
 * rvmach - Convert integers and memory ranges to hex strings.
 *
 * Copyright 2024, Richard Cornwell
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in
 * all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package hexfmt formats register and memory dumps for debug output:
// register files, raw bytes, and fixed-width words, written straight
// into a strings.Builder the way a disassembly listing would.
package hexfmt

import "strings"

var hexMap = "0123456789ABCDEF"

// FormatWord64 writes each value as a zero-padded 16-hex-digit word.
func FormatWord64(str *strings.Builder, word []uint64) {
	for _, full := range word {
		shift := 60
		for range 16 {
			str.WriteByte(hexMap[(full>>shift)&0xf])
			shift -= 4
		}
		str.WriteByte(' ')
	}
}

// FormatWord32 writes each value as a zero-padded 8-hex-digit word.
func FormatWord32(str *strings.Builder, word []uint32) {
	for _, full := range word {
		shift := 28
		for range 8 {
			str.WriteByte(hexMap[(full>>shift)&0xf])
			shift -= 4
		}
		str.WriteByte(' ')
	}
}

// FormatBytes writes data as hex digit pairs, space-separated when
// space is true.
func FormatBytes(str *strings.Builder, space bool, data []byte) {
	for _, by := range data {
		str.WriteByte(hexMap[(by>>4)&0xf])
		str.WriteByte(hexMap[by&0xf])
		if space {
			str.WriteByte(' ')
		}
	}
}

// FormatByte writes a single byte as two hex digits.
func FormatByte(str *strings.Builder, data byte) {
	str.WriteByte(hexMap[(data>>4)&0xf])
	str.WriteByte(hexMap[data&0xf])
}

// RegDump32 renders the 32 integer registers x0..x31, four per line,
// in the style of a gp-register trace.
func RegDump32(names [32]string, regs [32]uint32) string {
	var b strings.Builder
	for i := 0; i < 32; i++ {
		b.WriteString(names[i])
		b.WriteString("=")
		FormatWord32(&b, []uint32{regs[i]})
		if i%4 == 3 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// RegDump64 is RegDump32's 64-bit counterpart for RV64 machines.
func RegDump64(names [32]string, regs [32]uint64) string {
	var b strings.Builder
	for i := 0; i < 32; i++ {
		b.WriteString(names[i])
		b.WriteString("=")
		FormatWord64(&b, []uint64{regs[i]})
		if i%4 == 3 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}
