package recorder

type command interface {
	name() string
}

type startCommand struct{}

type stopResult struct {
	recording *Recording
	err       error
}

// stopCommand carries a reply slot with room for exactly one answer.
type stopCommand struct {
	reply chan stopResult
}

type statusCommand struct {
	reply chan Snapshot
}

func (startCommand) name() string  { return "start" }
func (stopCommand) name() string   { return "stop" }
func (statusCommand) name() string { return "status" }
