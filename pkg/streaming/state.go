package streaming

import "fmt"

// State is the streaming decoder's lifecycle stage (spec component C5),
// grounded on pkg/agent.AgentState's atomic-enum-with-String idiom.
type State int32

const (
	StateWaitingFeats State = iota
	StateDecoding
	StateEndpointReached
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWaitingFeats:
		return "WaitingFeats"
	case StateDecoding:
		return "Decoding"
	case StateEndpointReached:
		return "EndpointReached"
	case StateTerminated:
		return "Terminated"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}
