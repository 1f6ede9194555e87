package ink

// CommandType enumerates the fixed VM opcodes. The ordinals match the
// reference engine exactly (and the JSON token table in jsonenc.go),
// since they're part of the on-disk save/story format.
type CommandType int

const (
	CmdEvalStart CommandType = iota
	CmdEvalOutput
	CmdEvalEnd
	CmdDuplicate
	CmdPopEvaluatedValue
	CmdPopFunction
	CmdPopTunnel
	CmdBeginString
	CmdEndString
	CmdNoOp
	CmdChoiceCount
	CmdTurns
	CmdTurnsSince
	CmdReadCount
	CmdRandom
	CmdSeedRandom
	CmdVisitIndex
	CmdSequenceShuffleIndex
	CmdStartThread
	CmdDone
	CmdEnd
	CmdListFromInt
	CmdListRange
	CmdListRandom
	CmdBeginTag
	CmdEndTag
	cmdTotalValues
)

// ControlCommand is a fixed-opcode node in the content stream.
type ControlCommand struct {
	ObjectBase
	Command CommandType
}

func NewControlCommand(c CommandType) *ControlCommand { return &ControlCommand{Command: c} }
