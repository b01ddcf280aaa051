package dialect

import (
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

// ParamIDLen is the fixed width of the param_id char array.
const ParamIDLen = 16

// MAV_TYPE / MAV_AUTOPILOT values used by a ground station heartbeat.
const (
	MavTypeGCS          = uint8(common.MAV_TYPE_GCS)
	MavAutopilotInvalid = uint8(common.MAV_AUTOPILOT_INVALID)
	MavStateActive      = uint8(common.MAV_STATE_ACTIVE)
	MavlinkVersion      uint8  = 3
	ParamIndexByName    int16  = -1
	ParamIndexUnknown   uint16 = 0xFFFF
)

// Heartbeat announces that a system is alive and addressable.
type Heartbeat struct {
	CustomMode     uint32
	Type           uint8
	Autopilot      uint8
	BaseMode       uint8
	SystemStatus   uint8
	MavlinkVersion uint8
}

func (*Heartbeat) MessageID() uint32 { return MsgHeartbeat }

func (m *Heartbeat) wire() message.Message {
	return &common.MessageHeartbeat{
		Type:           common.MAV_TYPE(m.Type),
		Autopilot:      common.MAV_AUTOPILOT(m.Autopilot),
		BaseMode:       common.MAV_MODE_FLAG(m.BaseMode),
		CustomMode:     m.CustomMode,
		SystemStatus:   common.MAV_STATE(m.SystemStatus),
		MavlinkVersion: m.MavlinkVersion,
	}
}

// ParamRequestRead asks for one parameter by name, or by index when
// ParamIndex is not -1.
type ParamRequestRead struct {
	ParamIndex      int16
	TargetSystem    uint8
	TargetComponent uint8
	ParamID         string
}

func (*ParamRequestRead) MessageID() uint32 { return MsgParamRequestRead }
func (m *ParamRequestRead) paramID() string { return m.ParamID }

func (m *ParamRequestRead) wire() message.Message {
	return &common.MessageParamRequestRead{
		TargetSystem:    m.TargetSystem,
		TargetComponent: m.TargetComponent,
		ParamId:         m.ParamID,
		ParamIndex:      m.ParamIndex,
	}
}

// ParamRequestList asks the target to stream its whole parameter table.
type ParamRequestList struct {
	TargetSystem    uint8
	TargetComponent uint8
}

func (*ParamRequestList) MessageID() uint32 { return MsgParamRequestList }

func (m *ParamRequestList) wire() message.Message {
	return &common.MessageParamRequestList{TargetSystem: m.TargetSystem, TargetComponent: m.TargetComponent}
}

// ParamValue carries one parameter plus the table size and its index.
type ParamValue struct {
	ParamValue float32
	ParamCount uint16
	ParamIndex uint16
	ParamID    string
	ParamType  ParamType
}

func (*ParamValue) MessageID() uint32 { return MsgParamValue }
func (m *ParamValue) paramID() string { return m.ParamID }

func (m *ParamValue) wire() message.Message {
	return &common.MessageParamValue{
		ParamId:    m.ParamID,
		ParamValue: m.ParamValue,
		ParamType:  m.ParamType.Wire(),
		ParamCount: m.ParamCount,
		ParamIndex: m.ParamIndex,
	}
}

// ParamSet writes one parameter; the target answers with a ParamValue.
type ParamSet struct {
	ParamValue      float32
	TargetSystem    uint8
	TargetComponent uint8
	ParamID         string
	ParamType       ParamType
}

func (*ParamSet) MessageID() uint32 { return MsgParamSet }
func (m *ParamSet) paramID() string { return m.ParamID }

func (m *ParamSet) wire() message.Message {
	return &common.MessageParamSet{
		TargetSystem:    m.TargetSystem,
		TargetComponent: m.TargetComponent,
		ParamId:         m.ParamID,
		ParamValue:      m.ParamValue,
		ParamType:       m.ParamType.Wire(),
	}
}

// ValidParamID reports whether id fits the param_id field.
func ValidParamID(id string) bool {
	return len(id) > 0 && len(id) <= ParamIDLen
}
