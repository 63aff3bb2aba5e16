/*
 * rvmach - Configuration file parser
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

// Package config parses a flat key=value options file into a
// machine.Options. Grammar, one option per line:
//
//	# comment
//	key = value
//
// Unlike the device-model configuration language this is descended
// from, there is no model/device hierarchy here: a Machine has exactly
// one CPU and one address space, so every key sets a single
// machine.Options field directly.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"

	"rvmach/machine"
)

type optionLine struct {
	line string
	pos  int
}

func (l *optionLine) skipSpace() {
	for l.pos < len(l.line) && unicode.IsSpace(rune(l.line[l.pos])) {
		l.pos++
	}
}

func (l *optionLine) isEOL() bool {
	return l.pos >= len(l.line) || l.line[l.pos] == '#'
}

// parseKeyValue splits "key = value" (or "key=value"), trimming
// surrounding space from both sides. Returns ok=false for a blank or
// comment-only line.
func (l *optionLine) parseKeyValue() (key, value string, ok bool, err error) {
	l.skipSpace()
	if l.isEOL() {
		return "", "", false, nil
	}
	start := l.pos
	for l.pos < len(l.line) && (unicode.IsLetter(rune(l.line[l.pos])) || unicode.IsNumber(rune(l.line[l.pos])) || l.line[l.pos] == '_') {
		l.pos++
	}
	key = l.line[start:l.pos]
	if key == "" {
		return "", "", false, fmt.Errorf("invalid option name at column %d", l.pos)
	}
	l.skipSpace()
	if l.isEOL() || l.line[l.pos] != '=' {
		return "", "", false, fmt.Errorf("option %q missing '='", key)
	}
	l.pos++ // consume '='
	l.skipSpace()
	end := len(l.line)
	if idx := strings.IndexByte(l.line[l.pos:], '#'); idx >= 0 {
		end = l.pos + idx
	}
	value = strings.TrimSpace(l.line[l.pos:end])
	return key, value, true, nil
}

// Load reads a key=value options file and applies it on top of base.
func Load(path string, base machine.Options) (machine.Options, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, err
	}
	defer f.Close()
	return Parse(f, base)
}

// Parse reads key=value options from r and applies them on top of
// base, returning the merged result.
func Parse(r io.Reader, base machine.Options) (machine.Options, error) {
	opts := base
	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		raw, err := reader.ReadString('\n')
		lineNo++
		if len(raw) == 0 && err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return opts, err
		}
		line := optionLine{line: raw}
		key, value, ok, perr := line.parseKeyValue()
		if perr != nil {
			return opts, fmt.Errorf("line %d: %w", lineNo, perr)
		}
		if !ok {
			if err != nil && errors.Is(err, io.EOF) {
				break
			}
			continue
		}
		if err := apply(&opts, key, value); err != nil {
			return opts, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err != nil && errors.Is(err, io.EOF) {
			break
		}
	}
	return opts, nil
}

func apply(opts *machine.Options, key, value string) error {
	switch strings.ToLower(key) {
	case "memory_max":
		v, err := parseSize(value)
		if err != nil {
			return err
		}
		opts.MemoryMax = v
	case "stack_size":
		v, err := parseSize(value)
		if err != nil {
			return err
		}
		opts.StackSize = v
	case "stack_address":
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}
		opts.StackAddress = v
	case "load_address":
		v, err := strconv.ParseUint(value, 0, 64)
		if err != nil {
			return err
		}
		opts.LoadAddress = v
	case "writable_text":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		opts.WritableText = v
	case "compressed":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		opts.CompressedEnabled = v
	case "exec_segment_constant":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		opts.ExecSegmentConstant = v
	case "page_cache":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		opts.PageCache = v
	case "ebreak_means_stop":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		opts.EBreakMeansStop = v
	case "throw_on_unhandled_syscall":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		opts.ThrowOnUnhandledSyscall = v
	default:
		return fmt.Errorf("unknown option %q", key)
	}
	return nil
}

// parseSize accepts a decimal/hex integer with an optional K or M
// suffix (1K == 1024, 1M == 1048576), the same convention the device
// configuration language uses for device addresses and buffer sizes.
func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	mult := uint64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return v * mult, nil
}
