package domain

// PersistOutcome tags how a unique persist attempt ended.
type PersistOutcome string

const (
	OutcomeStored    PersistOutcome = "stored"
	OutcomeExhausted PersistOutcome = "exhausted"
	OutcomeFailed    PersistOutcome = "failed"
)

// PersistResult reports the final state of a unique persist. ClientID and
// DumpID are the identifiers of the last candidate tried; they only name a
// stored record when Outcome is OutcomeStored.
type PersistResult struct {
	Outcome    PersistOutcome `json:"outcome"`
	ClientID   string         `json:"clientId"`
	BaseDumpID string         `json:"baseDumpId"`
	DumpID     string         `json:"dumpId"`
	Attempts   int            `json:"attempts"`
}

// Stored reports whether the metadata record is durably in the store.
func (r PersistResult) Stored() bool {
	return r.Outcome == OutcomeStored
}
