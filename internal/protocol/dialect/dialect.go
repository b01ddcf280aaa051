// Package dialect owns the subset of the MAVLink common message set that the
// link and parameter layers speak.
//
// Ownership boundary:
// - the gomavlib catalog trimmed to the parameter and heartbeat messages
// - conversion between gomavlib's common.* structs and the typed views below
// - MAV_PARAM_TYPE tags and their numeric ranges
//
// Layouts and CRC extras come from gomavlib's common dialect. Every other
// message id is carried by the frame layer as an undecoded payload.
package dialect

import (
	"errors"
	"fmt"

	mavdialect "github.com/bluenviron/gomavlib/v3/pkg/dialect"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

var (
	ErrUnknownMessage = errors.New("dialect: unknown message id")
	ErrParamIDTooLong = errors.New("dialect: param_id longer than 16 bytes")
)

// Message ids from the common dialect.
const (
	MsgHeartbeat        uint32 = 0
	MsgParamRequestRead uint32 = 20
	MsgParamRequestList uint32 = 21
	MsgParamValue       uint32 = 22
	MsgParamSet         uint32 = 23
)

// Message is one decoded MAVLink payload.
type Message interface {
	MessageID() uint32
	wire() message.Message
}

var names = map[uint32]string{
	MsgHeartbeat:        "HEARTBEAT",
	MsgParamRequestRead: "PARAM_REQUEST_READ",
	MsgParamRequestList: "PARAM_REQUEST_LIST",
	MsgParamValue:       "PARAM_VALUE",
	MsgParamSet:         "PARAM_SET",
}

// Catalog is the versioned gomavlib dialect the link speaks.
var Catalog = &mavdialect.Dialect{
	Version: 3,
	Messages: []message.Message{
		&common.MessageHeartbeat{},
		&common.MessageParamRequestRead{},
		&common.MessageParamRequestList{},
		&common.MessageParamValue{},
		&common.MessageParamSet{},
	},
}

var catalogRW = mustReadWriter(Catalog)

func mustReadWriter(d *mavdialect.Dialect) *mavdialect.ReadWriter {
	rw := &mavdialect.ReadWriter{Dialect: d}
	if err := rw.Initialize(); err != nil {
		panic(fmt.Sprintf("dialect: %v", err))
	}
	return rw
}

// ReadWriter returns the initialized codec for Catalog.
func ReadWriter() *mavdialect.ReadWriter { return catalogRW }

// CRCExtra returns the checksum seed of a catalog message.
func CRCExtra(id uint32) (byte, bool) {
	mp := catalogRW.GetMessage(id)
	if mp == nil {
		return 0, false
	}
	return mp.CRCExtra(), true
}

// Encode converts m into its wire payload. v2 payloads have trailing zeros
// stripped.
func Encode(m Message, v2 bool) (*message.MessageRaw, error) {
	if p, ok := m.(interface{ paramID() string }); ok && len(p.paramID()) > ParamIDLen {
		return nil, ErrParamIDTooLong
	}
	w := m.wire()
	mp := catalogRW.GetMessage(w.GetID())
	if mp == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, w.GetID())
	}
	return mp.Write(w, v2), nil
}

// Decode builds a typed message from a raw payload. v2 payloads may be
// truncated; v1 payloads must be full size.
func Decode(raw *message.MessageRaw, v2 bool) (Message, error) {
	mp := catalogRW.GetMessage(raw.ID)
	if mp == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, raw.ID)
	}
	w, err := mp.Read(raw, v2)
	if err != nil {
		return nil, fmt.Errorf("dialect: %s: %w", Name(raw.ID), err)
	}
	return fromWire(w)
}

func fromWire(w message.Message) (Message, error) {
	switch m := w.(type) {
	case *common.MessageHeartbeat:
		return &Heartbeat{
			CustomMode:     m.CustomMode,
			Type:           uint8(m.Type),
			Autopilot:      uint8(m.Autopilot),
			BaseMode:       uint8(m.BaseMode),
			SystemStatus:   uint8(m.SystemStatus),
			MavlinkVersion: m.MavlinkVersion,
		}, nil
	case *common.MessageParamRequestRead:
		return &ParamRequestRead{
			ParamIndex:      m.ParamIndex,
			TargetSystem:    m.TargetSystem,
			TargetComponent: m.TargetComponent,
			ParamID:         m.ParamId,
		}, nil
	case *common.MessageParamRequestList:
		return &ParamRequestList{TargetSystem: m.TargetSystem, TargetComponent: m.TargetComponent}, nil
	case *common.MessageParamValue:
		return &ParamValue{
			ParamValue: m.ParamValue,
			ParamCount: m.ParamCount,
			ParamIndex: m.ParamIndex,
			ParamID:    m.ParamId,
			ParamType:  ParamType(m.ParamType),
		}, nil
	case *common.MessageParamSet:
		return &ParamSet{
			ParamValue:      m.ParamValue,
			TargetSystem:    m.TargetSystem,
			TargetComponent: m.TargetComponent,
			ParamID:         m.ParamId,
			ParamType:       ParamType(m.ParamType),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, w.GetID())
	}
}

// Name returns a label for id, including unknown ids.
func Name(id uint32) string {
	if n, ok := names[id]; ok {
		return n
	}
	return fmt.Sprintf("MSG_%d", id)
}
