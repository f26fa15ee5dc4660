package events

import "encoding/json"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// TradeTransitionData describes one applied lifecycle transition
type TradeTransitionData struct {
	Type          EventType `json:"-"`
	TradeID       string    `json:"trade_id"`
	RequesterID   string    `json:"requester_id"`
	ActorID       string    `json:"actor_id"`
	Action        string    `json:"action"`
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	HistoryLength int       `json:"history_length"`
}

// EventType returns the event type for TradeTransitionData
func (d *TradeTransitionData) EventType() EventType {
	return d.Type
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Archive   string `json:"archive"`
	SizeBytes int64  `json:"size_bytes"`
	Pruned    int    `json:"pruned"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// convertEventDataToMap converts typed EventData to the map carried on the bus
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}

	return result
}
