/*
 * rvmach - Command line front end.
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

// Command rvrun loads a flat RISC-V binary and either runs it to
// completion or single-steps it from an interactive console.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	getopt "github.com/pborman/getopt/v2"
	"github.com/peterh/liner"

	"rvmach/config"
	"rvmach/machine"
	"rvmach/riscv"
	"rvmach/util/hexfmt"
	"rvmach/util/logger"
)

var log *slog.Logger

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Options file")
	optLogFile := getopt.StringLong("log", 'l', "", "Log file")
	optXLen := getopt.IntLong("xlen", 'x', 64, "Register width: 32 or 64")
	optInteractive := getopt.BoolLong("interactive", 'i', "Drop into a console instead of running to completion")
	optMaxInsn := getopt.Uint64Long("max-insn", 'n', 0, "Instruction budget (0 = unbounded)")
	optLoadAddr := getopt.Uint64Long("load", 0, 0x100000, "Guest load address")
	optHelp := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *optHelp {
		getopt.Usage()
		os.Exit(0)
	}

	var file *os.File
	if *optLogFile != "" {
		var err error
		file, err = os.Create(*optLogFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	log = slog.New(logger.NewHandler(file, &slog.HandlerOptions{Level: programLevel}, false))
	slog.SetDefault(log)

	args := getopt.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: rvrun [options] <flat-binary>")
		os.Exit(1)
	}

	binary, err := os.ReadFile(args[0])
	if err != nil {
		log.Error("reading binary", "error", err)
		os.Exit(1)
	}

	base := machine.Options{
		LoadAddress: *optLoadAddr,
	}
	if *optConfig != "" {
		base, err = config.Load(*optConfig, base)
		if err != nil {
			log.Error("loading config", "error", err)
			os.Exit(1)
		}
	}

	switch *optXLen {
	case 32:
		run32(binary, base, *optInteractive, *optMaxInsn)
	case 64:
		run64(binary, base, *optInteractive, *optMaxInsn)
	default:
		log.Error("xlen must be 32 or 64", "xlen", *optXLen)
		os.Exit(1)
	}
}

func installDemoSyscalls[W riscv.XLen](m *machine.Machine[W]) {
	m.InstallSyscallHandler(machine.SyscallExit, func(m *machine.Machine[W]) (W, error) {
		code := m.Sysarg(0)
		m.Stop(true)
		m.AddDestructorCallback(func() { log.Info("guest exited", "code", code) })
		return 0, nil
	})
	m.InstallSyscallHandler(machine.SyscallWrite, func(m *machine.Machine[W]) (W, error) {
		fd := m.Sysarg(0)
		addr := uint64(m.Sysarg(1))
		n := int(m.Sysarg(2))
		data, err := m.CopyFromGuest(addr, n)
		if err != nil {
			return ^W(0), nil
		}
		if fd == 1 {
			os.Stdout.Write(data)
		} else if fd == 2 {
			os.Stderr.Write(data)
		}
		return W(len(data)), nil
	})
}

func run64(binary []byte, opts machine.Options, interactive bool, maxInsn uint64) {
	m, err := machine.New[uint64](binary, opts)
	if err != nil {
		log.Error("loading guest image", "error", err)
		os.Exit(1)
	}
	defer m.Close()
	installDemoSyscalls(m)
	watchSignals(func() { m.Stop(true) })

	if interactive {
		console64(m)
		return
	}
	n, err := m.Simulate(maxInsn, maxInsn != 0)
	report(n, err)
}

func run32(binary []byte, opts machine.Options, interactive bool, maxInsn uint64) {
	m, err := machine.New[uint32](binary, opts)
	if err != nil {
		log.Error("loading guest image", "error", err)
		os.Exit(1)
	}
	defer m.Close()
	installDemoSyscalls(m)
	watchSignals(func() { m.Stop(true) })

	if interactive {
		console32(m)
		return
	}
	n, err := m.Simulate(maxInsn, maxInsn != 0)
	report(n, err)
}

func report(n uint64, err error) {
	if err != nil {
		log.Error("simulation stopped", "instructions", n, "error", err)
		os.Exit(1)
	}
	log.Info("simulation finished", "instructions", n)
}

// watchSignals calls stop on SIGINT/SIGTERM from a background goroutine,
// the cross-thread Machine.Stop path exercised from outside Simulate's
// own goroutine.
func watchSignals(stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("interrupted")
		stop()
	}()
}

// console64 runs a tiny step/continue/pc/count/quit REPL against an
// RV64 machine using liner for line editing and history.
func console64(m *machine.Machine[uint64]) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("rvmach> ")
		if err != nil {
			break
		}
		line.AppendHistory(input)
		if !dispatch(strings.Fields(input), m.CPU.Step, func() uint64 { return m.CPU.InstructionCount() },
			func() {
				var b strings.Builder
				hexfmt.FormatWord64(&b, []uint64{m.CPU.Regs.PC})
				fmt.Println(b.String())
			},
			func() (uint64, error) { return m.Simulate(0, false) }) {
			break
		}
	}
}

func console32(m *machine.Machine[uint32]) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("rvmach> ")
		if err != nil {
			break
		}
		line.AppendHistory(input)
		if !dispatch(strings.Fields(input), m.CPU.Step, func() uint64 { return m.CPU.InstructionCount() },
			func() {
				var b strings.Builder
				hexfmt.FormatWord32(&b, []uint32{m.CPU.Regs.PC})
				fmt.Println(b.String())
			},
			func() (uint64, error) { return m.Simulate(0, false) }) {
			break
		}
	}
}

// dispatch handles one console command line; returns false to end the
// session. Kept XLEN-agnostic by taking closures over the concrete
// Machine[W] rather than being generic itself, since liner's prompt
// loop isn't worth parameterizing over W.
func dispatch(fields []string, step func() error, count func() uint64, showPC func(), cont func() (uint64, error)) bool {
	if len(fields) == 0 {
		return true
	}
	switch fields[0] {
	case "q", "quit", "exit":
		return false
	case "s", "step":
		n := 1
		if len(fields) > 1 {
			if v, err := strconv.Atoi(fields[1]); err == nil {
				n = v
			}
		}
		for i := 0; i < n; i++ {
			if err := step(); err != nil {
				fmt.Println("fault:", err)
				break
			}
		}
		showPC()
	case "c", "continue":
		n, err := cont()
		if err != nil {
			fmt.Println("stopped:", err)
		}
		fmt.Println("ran", n, "instructions")
	case "pc":
		showPC()
	case "count":
		fmt.Println(count())
	default:
		fmt.Println("commands: step [n], continue, pc, count, quit")
	}
	return true
}
