package domain

import "time"

// Status is the asset's power-flow direction at the moment of a tick.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusCharging    Status = "charging"
	StatusDischarging Status = "discharging"
)

// ValueKind tags the variant held by a TelemetryValue.
type ValueKind int

const (
	ValueF64 ValueKind = iota
	ValueI64
	ValueU64
	ValueBool
	ValueString
)

// TelemetryValue is the typed key→value bag entry used for device-level
// extras (voltages, temperatures, SoH, cycle counts, ...) that vary by
// hardware vendor and don't belong in the fixed Telemetry struct.
type TelemetryValue struct {
	Kind ValueKind `json:"kind"`
	F64  float64   `json:"f64,omitempty"`
	I64  int64     `json:"i64,omitempty"`
	U64  uint64    `json:"u64,omitempty"`
	Bool bool      `json:"bool,omitempty"`
	Str  string    `json:"str,omitempty"`
}

func F64Value(v float64) TelemetryValue  { return TelemetryValue{Kind: ValueF64, F64: v} }
func I64Value(v int64) TelemetryValue    { return TelemetryValue{Kind: ValueI64, I64: v} }
func U64Value(v uint64) TelemetryValue   { return TelemetryValue{Kind: ValueU64, U64: v} }
func BoolValue(v bool) TelemetryValue    { return TelemetryValue{Kind: ValueBool, Bool: v} }
func StringValue(v string) TelemetryValue { return TelemetryValue{Kind: ValueString, Str: v} }

// Telemetry is a single observation of an asset's state, either produced
// by a physics tick or reported verbatim by a field agent.
type Telemetry struct {
	AssetID     string                    `json:"asset_id"`
	SiteID      string                    `json:"site_id"`
	SiteName    string                    `json:"site_name"`
	Timestamp   time.Time                 `json:"timestamp"`
	SOCMWh      float64                   `json:"soc_mwhr"`
	SOCPct      float64                   `json:"soc_pct"`
	CapacityMWh float64                   `json:"capacity_mwhr"`
	CurrentMW   float64                   `json:"current_mw"`
	SetpointMW  float64                   `json:"setpoint_mw"`
	MaxMW       float64                   `json:"max_mw"`
	MinMW       float64                   `json:"min_mw"`
	Status      Status                    `json:"status"`
	Extras      map[string]TelemetryValue `json:"extras,omitempty"`
}

// DispatchStatus is the immediate accept/reject outcome of a submitted
// dispatch, decided synchronously against the SOC and limit gates.
type DispatchStatus string

const (
	DispatchAccepted DispatchStatus = "accepted"
	DispatchRejected DispatchStatus = "rejected"
)

// AckStatus is the late-bound delivery confirmation from the agent,
// applied to a Dispatch after the fact via DispatchAck.
type AckStatus string

const (
	AckApplied  AckStatus = "applied"
	AckRejected AckStatus = "rejected"
)

// Dispatch is a single commanded setpoint, with its accept/reject outcome
// and an optional later-arriving ack from the agent that received it.
type Dispatch struct {
	ID          string         `json:"id"`
	AssetID     string         `json:"asset_id"`
	MW          float64        `json:"mw"`
	DurationS   *float64       `json:"duration_s,omitempty"`
	Status      DispatchStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
	Clamped     bool           `json:"clamped"`

	AckStatus *AckStatus `json:"ack_status,omitempty"`
	AckedAt   *time.Time `json:"acked_at,omitempty"`
	AckReason string     `json:"ack_reason,omitempty"`
}

// Setpoint is the outbound command sent down an agent's stream, either
// freshly dispatched or replayed from the pending buffer on reconnect.
type Setpoint struct {
	AssetID    string   `json:"asset_id"`
	MW         float64  `json:"mw"`
	DurationS  *float64 `json:"duration_s,omitempty"`
	SiteID     string   `json:"site_id,omitempty"`
	GroupID    string   `json:"group_id,omitempty"`
	DispatchID string   `json:"dispatch_id,omitempty"`
}

// Severity classifies an Event for operator triage.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityAlarm   Severity = "alarm"
	SeverityClear   Severity = "clear"
)

// Event is a free-form notable occurrence tied to an asset — a SOC
// boundary crossing, or anything an agent chooses to report.
type Event struct {
	ID        string    `json:"id"`
	AssetID   string    `json:"asset_id"`
	SiteID    string    `json:"site_id"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// AgentSession is the historical record of one connection lifetime for
// an asset: when it connected, and, once closed, when it disconnected.
type AgentSession struct {
	AssetID        string     `json:"asset_id"`
	Peer           string     `json:"peer"`
	AssetName      string     `json:"asset_name"`
	SiteName       string     `json:"site_name"`
	ConnectedAt    time.Time  `json:"connected_at"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}
