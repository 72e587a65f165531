package pipeline

import (
	"encoding/json"
	"fmt"
)

// State is the stage a build run is in. A run moves strictly forward
// through the non-terminal states; Failed is reachable from any of them.
type State int

const (
	Configuring State = iota
	ResolvingPackages
	AwaitingExternalBuild
	Provisioning
	Assembling
	Done
	Failed
)

func stateMapping() []string {
	return []string{
		"CONFIGURING",
		"RESOLVING_PACKAGES",
		"AWAITING_EXTERNAL_BUILD",
		"PROVISIONING",
		"ASSEMBLING",
		"DONE",
		"FAILED",
	}
}

func (s State) String() string {
	mapping := stateMapping()
	if int(s) < 0 || int(s) >= len(mapping) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return mapping[s]
}

// Terminal returns whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for n, str := range stateMapping() {
		if str == name {
			*s = State(n)
			return nil
		}
	}
	return fmt.Errorf("invalid pipeline state: %q", name)
}
