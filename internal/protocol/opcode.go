package protocol

import "strconv"

// OpCode selects the operation carried by a Message.
type OpCode int

// Opcodes assigned by the coordinator.
const (
	OpEvent      OpCode = 0
	OpIdentify   OpCode = 1
	OpDisconnect OpCode = 2
	OpPing       OpCode = 3
	OpPong       OpCode = 4
)

var opNames = map[OpCode]string{
	OpEvent:      "EVENT",
	OpIdentify:   "IDENTIFY",
	OpDisconnect: "DISCONNECT",
	OpPing:       "PING",
	OpPong:       "PONG",
}

// String returns the upper-case opcode name, or OP(<n>) for unknown values.
func (op OpCode) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "OP(" + strconv.Itoa(int(op)) + ")"
}

// Known reports whether op is part of the fixed opcode set.
func (op OpCode) Known() bool {
	_, ok := opNames[op]
	return ok
}

// ParseOpCode resolves an opcode by name ("EVENT", "PING", ...).
func ParseOpCode(name string) (OpCode, bool) {
	for op, n := range opNames {
		if n == name {
			return op, true
		}
	}
	return 0, false
}
