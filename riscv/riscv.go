// Package riscv holds the ISA-wide definitions shared by the memory,
// decode, cpu and machine packages: the XLEN generic constraint, the
// register ABI, and the trap/exception taxonomy.
//
// Copyright 2026, the rvmach authors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
package riscv

// XLen is the generic constraint over the native integer register width.
// Instantiating the engine with uint32 gives an RV32 machine, uint64 an
// RV64 one. A 32-bit and a 64-bit machine may coexist in the same
// process; neither shares package-level state.
type XLen interface {
	~uint32 | ~uint64
}

// PageShift and PageSize define the fixed 4 KiB page granularity.
const (
	PageShift = 12
	PageSize  = 1 << PageShift
)

// General-purpose register ABI names, per the RISC-V calling convention.
const (
	RegZero = 0
	RegRA   = 1
	RegSP   = 2
	RegGP   = 3
	RegTP   = 4
	RegT0   = 5
	RegT1   = 6
	RegT2   = 7
	RegS0   = 8
	RegS1   = 9
	RegA0   = 10
	RegA1   = 11
	RegA2   = 12
	RegA3   = 13
	RegA4   = 14
	RegA5   = 15
	RegA6   = 16
	RegA7   = 17

	// RegArg0 is the base of the integer argument/return registers
	// (A0..A7); syscall argument marshalling indexes from here.
	RegArg0  = RegA0
	RegRetVal = RegA0
)

// Floating-point argument register base (FA0..FA7).
const RegFA0 = 10

// SyscallEBreak is the dispatch-table slot reserved for the EBREAK
// instruction, distinct from the ECALL syscall numbers.
const SyscallEBreak = -1

// Kind enumerates the trap/exception taxonomy an implementation must
// model. All ISA-level faults unwind out of CPU.Step and terminate the
// Machine.Simulate loop; nothing is retried inside the core.
type Kind int

const (
	NoException Kind = iota
	IllegalOpcode
	IllegalOperation
	ProtectionFault
	ExecutionSpaceProtectionFault
	MisalignedInstruction
	UnimplementedInstruction
	MaxInstructionsReached
	UnhandledSyscall
	OutOfMemory
	UnknownException
)

func (k Kind) String() string {
	switch k {
	case NoException:
		return "NO_EXCEPTION"
	case IllegalOpcode:
		return "ILLEGAL_OPCODE"
	case IllegalOperation:
		return "ILLEGAL_OPERATION"
	case ProtectionFault:
		return "PROTECTION_FAULT"
	case ExecutionSpaceProtectionFault:
		return "EXECUTION_SPACE_PROTECTION_FAULT"
	case MisalignedInstruction:
		return "MISALIGNED_INSTRUCTION"
	case UnimplementedInstruction:
		return "UNIMPLEMENTED_INSTRUCTION"
	case MaxInstructionsReached:
		return "MAX_INSTRUCTIONS_REACHED"
	case UnhandledSyscall:
		return "UNHANDLED_SYSCALL"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	default:
		return "UNKNOWN_EXCEPTION"
	}
}

// MachineException carries every non-stop termination out of Step and
// Simulate. It implements error so callers unwind with a normal Go
// return instead of the C++ original's throw.
type MachineException struct {
	Kind    Kind
	Message string
	Data    uint64
}

func (e *MachineException) Error() string {
	return e.Kind.String() + ": " + e.Message
}

// exceptionMessages holds the conventional message for each exception
// kind (mirrors CPU::trigger_exception in the reference engine).
var exceptionMessages = map[Kind]string{
	IllegalOpcode:                 "illegal opcode executed",
	IllegalOperation:              "illegal operation during instruction decoding",
	ProtectionFault:               "protection fault",
	ExecutionSpaceProtectionFault: "execution space protection fault",
	MisalignedInstruction:         "misaligned instruction executed",
	UnimplementedInstruction:      "unimplemented instruction executed",
	MaxInstructionsReached:        "maximum instruction counter reached",
	UnhandledSyscall:              "unhandled system call",
	OutOfMemory:                   "out of memory",
}

// NewException builds a MachineException for the given kind.
func NewException(kind Kind, data uint64) *MachineException {
	msg := exceptionMessages[kind]
	if msg == "" {
		msg = "unknown exception"
		kind = UnknownException
	}
	return &MachineException{Kind: kind, Message: msg, Data: data}
}

// MachineTimeoutException distinguishes MAX_INSTRUCTIONS_REACHED so
// callers can errors.As for it specifically without string-matching.
type MachineTimeoutException struct {
	MachineException
}

// NewTimeoutException builds the distinguished budget-exhaustion error.
func NewTimeoutException(data uint64) *MachineTimeoutException {
	return &MachineTimeoutException{
		MachineException: *NewException(MaxInstructionsReached, data),
	}
}
