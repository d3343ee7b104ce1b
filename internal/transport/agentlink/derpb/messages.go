// Package derpb holds the agent-link wire types and service definition,
// hand-written in the shape protoc-gen-go/protoc-gen-go-grpc would
// produce — plain message structs plus a ServiceDesc-based client/server
// pair — since no .proto toolchain runs as part of this build. See
// codec.go for the wire encoding these messages are carried in.
package derpb

import "time"

// ValueKind mirrors domain.ValueKind on the wire.
type ValueKind int32

const (
	ValueKindF64 ValueKind = iota
	ValueKindI64
	ValueKindU64
	ValueKindBool
	ValueKindString
)

// TelemetryValue is the wire form of a single extras entry.
type TelemetryValue struct {
	Kind ValueKind
	F64  float64 `json:",omitempty"`
	I64  int64   `json:",omitempty"`
	U64  uint64  `json:",omitempty"`
	Bool bool    `json:",omitempty"`
	Str  string  `json:",omitempty"`
}

// AssetDescriptor is one entry of a Register frame's repeated asset list.
type AssetDescriptor struct {
	AssetID   string
	AssetName string
}

// Register is the first frame an agent sends after dialing: its primary
// asset plus any additional assets it manages on the same connection.
type Register struct {
	Peer           string
	PrimaryAssetID string
	Assets         []AssetDescriptor
}

// Telemetry is one observation of an asset's state.
type Telemetry struct {
	AssetID     string
	Timestamp   time.Time
	SOCMWh      float64
	CurrentMW   float64
	SetpointMW  float64
	Status      string
	Extras      map[string]TelemetryValue
}

// Heartbeat is a liveness ping, timestamp-only.
type Heartbeat struct {
	AssetID   string
	Timestamp time.Time
}

// DispatchAck is a late-binding delivery confirmation for a setpoint the
// headend previously sent.
type DispatchAck struct {
	DispatchID string
	AssetID    string
	Status     string
	Timestamp  time.Time
	Reason     string
}

// Event is an agent-originated notable occurrence.
type Event struct {
	ID        string
	AssetID   string
	Timestamp time.Time
	EventType string
	Severity  string
	Message   string
}

// FrameKind tags which variant an AgentToHeadend frame carries.
type FrameKind int32

const (
	FrameRegister FrameKind = iota
	FrameTelemetry
	FrameHeartbeat
	FrameDispatchAck
	FrameEvent
)

// AgentToHeadend is the inbound tagged union on the bidirectional
// stream: exactly one of the variant fields is populated, selected by
// Kind.
type AgentToHeadend struct {
	Kind        FrameKind
	Register    *Register    `json:",omitempty"`
	Telemetry   *Telemetry   `json:",omitempty"`
	Heartbeat   *Heartbeat   `json:",omitempty"`
	DispatchAck *DispatchAck `json:",omitempty"`
	Event       *Event       `json:",omitempty"`
}

// Setpoint is the outbound command frame.
type Setpoint struct {
	AssetID    string
	MW         float64
	DurationS  *float64 `json:",omitempty"`
	SiteID     string
	GroupID    string `json:",omitempty"`
	DispatchID string
}

// HeadendToAgent is the outbound frame on the bidirectional stream.
// Setpoint is its only variant today.
type HeadendToAgent struct {
	Setpoint *Setpoint
}

// BootstrapRequest asks for the current telemetry/setpoint snapshot for
// a batch of assets, via the unary Bootstrap RPC.
type BootstrapRequest struct {
	AssetIDs []string
}

// AssetBootstrap is one asset's entry in a BootstrapResponse.
type AssetBootstrap struct {
	AssetID         string
	LatestTelemetry *Telemetry `json:",omitempty"`
	ActiveSetpoint  *Setpoint  `json:",omitempty"`
}

// BootstrapResponse answers a BootstrapRequest, one entry per requested
// asset id; ids unknown to the catalogue come back with no telemetry or
// setpoint.
type BootstrapResponse struct {
	Assets []AssetBootstrap
}
