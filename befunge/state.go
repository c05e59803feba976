package befunge

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// EngineState is a point in time snapshot of an Engine.
// EngineStates are never modified after they are created.
type EngineState struct {
	Beat  uint64      `json:"beat"`
	Procs []ProcState `json:"procs"`
}

type ProcState struct {
	PID    PID    `json:"pid"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("befunge: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

func (st *EngineState) MarshalJSON() ([]byte, error) {
	type alias EngineState
	a := alias(*st)
	if a.Procs == nil {
		a.Procs = []ProcState{}
	}
	return json.Marshal(a)
}

// MarshalCBOR encodes the state using canonical CBOR, with the same field names as JSON.
func (st *EngineState) MarshalCBOR() ([]byte, error) {
	type alias EngineState
	return cborEncMode.Marshal((*alias)(st))
}

func UnmarshalState(data []byte) (*EngineState, error) {
	var st EngineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func UnmarshalStateCBOR(data []byte) (*EngineState, error) {
	var st EngineState
	if err := cbor.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("befunge: unmarshal state: %w", err)
	}
	return &st, nil
}
