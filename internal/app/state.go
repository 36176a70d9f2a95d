package app

// RunState is the lifecycle of a progress view.
type RunState int

const (
	Running RunState = iota
	Cancelling
	Finished
)
