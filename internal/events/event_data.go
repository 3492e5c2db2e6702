package events

// EventData is the interface that all event data types must implement
type EventData interface {
	EventType() EventType
}

// ActionData describes a portfolio action's lifecycle. Status selects the
// event type.
type ActionData struct {
	ActionID    string  `json:"action_id"`
	Action      string  `json:"action"`
	Owner       string  `json:"owner"`
	Chain       string  `json:"chain"`
	Status      string  `json:"status"`
	Calls       int     `json:"calls,omitempty"`
	TradingLoss float64 `json:"trading_loss,omitempty"`
	DurationMs  int64   `json:"duration_ms,omitempty"`
	Error       string  `json:"error,omitempty"`
}

// Action statuses.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// EventType returns the event type for ActionData
func (d *ActionData) EventType() EventType {
	switch d.Status {
	case StatusCompleted:
		return ActionCompleted
	case StatusFailed:
		return ActionFailed
	default:
		return ActionStarted
	}
}

// CheckpointData is a single progress report from inside an action.
type CheckpointData struct {
	ActionID    string  `json:"action_id"`
	NodeID      string  `json:"node_id"`
	TradingLoss float64 `json:"trading_loss"`
}

// EventType returns the event type for CheckpointData
func (d *CheckpointData) EventType() EventType {
	return CheckpointReached
}

// PricesRefreshedData is emitted after the price cache is refilled.
type PricesRefreshedData struct {
	Tokens     int   `json:"tokens"`
	DurationMs int64 `json:"duration_ms"`
}

// EventType returns the event type for PricesRefreshedData
func (d *PricesRefreshedData) EventType() EventType {
	return PricesRefreshed
}

// DustConvertedData summarises one dust sweep.
type DustConvertedData struct {
	BatchID   string  `json:"batch_id"`
	Owner     string  `json:"owner"`
	Chain     string  `json:"chain"`
	Tokens    int     `json:"tokens"`
	Failed    int     `json:"failed"`
	USDAmount float64 `json:"usd_amount"`
}

// EventType returns the event type for DustConvertedData
func (d *DustConvertedData) EventType() EventType {
	return DustConverted
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
