package models

// Strategy names how a detected conflict is reconciled.
type Strategy string

const (
	StrategyClientWins Strategy = "client-wins"
	StrategyServerWins Strategy = "server-wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

// SyncConflict records one differing field between a pending mutation's
// payload and the server's current record. Derived at detection time, never
// stored.
type SyncConflict struct {
	MutationID  string                 `json:"mutation_id"`
	Type        MutationType           `json:"type"`
	ClientData  map[string]interface{} `json:"client_data"`
	ServerData  map[string]interface{} `json:"server_data"`
	Field       string                 `json:"field"`
	ClientValue interface{}            `json:"client_value"`
	ServerValue interface{}            `json:"server_value"`
	Timestamp   int64                  `json:"timestamp"` // epoch milliseconds
}

// ConflictResolution is a resolver's decision for a conflicted mutation.
// MergedData is populated only for StrategyMerge.
type ConflictResolution struct {
	Strategy   Strategy               `json:"strategy"`
	ClientData map[string]interface{} `json:"client_data"`
	ServerData map[string]interface{} `json:"server_data"`
	MergedData map[string]interface{} `json:"merged_data,omitempty"`
	Timestamp  int64                  `json:"timestamp"` // epoch milliseconds
}

// DeliveryPayload selects the payload implied by the resolution strategy.
// Returns nil for StrategyManual, which never delivers automatically.
func (r *ConflictResolution) DeliveryPayload() map[string]interface{} {
	switch r.Strategy {
	case StrategyClientWins:
		return r.ClientData
	case StrategyServerWins:
		return r.ServerData
	case StrategyMerge:
		return r.MergedData
	default:
		return nil
	}
}
