package dialect

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversKnownMessages(t *testing.T) {
	for id, want := range map[uint32]byte{
		MsgHeartbeat:        50,
		MsgParamRequestRead: 214,
		MsgParamRequestList: 159,
		MsgParamValue:       220,
		MsgParamSet:         168,
	} {
		got, ok := CRCExtra(id)
		require.True(t, ok, Name(id))
		assert.Equal(t, want, got, Name(id))
	}
	_, ok := CRCExtra(300)
	assert.False(t, ok)
	assert.Equal(t, "MSG_300", Name(300))
	assert.Equal(t, "PARAM_VALUE", Name(MsgParamValue))
}

func TestParamValueWireLayout(t *testing.T) {
	raw, err := Encode(&ParamValue{ParamValue: 1, ParamCount: 0x0102, ParamIndex: 0x0304, ParamID: "RC1_MIN", ParamType: ParamInt16}, false)
	require.NoError(t, err)
	b := raw.Payload
	require.Len(t, b, 25)
	assert.Equal(t, MsgParamValue, raw.ID)
	assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3F}, b[0:4])
	assert.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, b[4:8])
	assert.Equal(t, "RC1_MIN", string(b[8:15]))
	assert.Equal(t, byte(0), b[15])
	assert.Equal(t, byte(ParamInt16), b[24])
}

func TestDecodeZeroExtendsTruncatedPayload(t *testing.T) {
	raw, err := Encode(&ParamSet{ParamValue: 2, TargetSystem: 1, ParamID: "A", ParamType: ParamUint8}, false)
	require.NoError(t, err)
	short := &message.MessageRaw{ID: MsgParamSet, Payload: raw.Payload[:7]}

	msg, err := Decode(short, true)
	require.NoError(t, err)
	set := msg.(*ParamSet)
	assert.Equal(t, "A", set.ParamID)
	assert.Equal(t, ParamType(0), set.ParamType)

	_, err = Decode(short, false)
	assert.Error(t, err, "v1 payloads must be full size")

	_, err = Decode(&message.MessageRaw{ID: 77}, true)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestSixteenByteParamIDHasNoTerminator(t *testing.T) {
	id := "ABCDEFGHIJKLMNOP"
	require.True(t, ValidParamID(id))
	assert.False(t, ValidParamID(id+"Q"))
	assert.False(t, ValidParamID(""))

	raw, err := Encode(&ParamRequestRead{ParamIndex: ParamIndexByName, ParamID: id}, true)
	require.NoError(t, err)
	msg, err := Decode(raw, true)
	require.NoError(t, err)
	got := msg.(*ParamRequestRead)
	assert.Equal(t, id, got.ParamID)
	assert.Equal(t, int16(-1), got.ParamIndex)

	_, err = Encode(&ParamSet{ParamID: id + "Q"}, true)
	assert.ErrorIs(t, err, ErrParamIDTooLong)
}

func TestHeartbeatRoundTripsThroughCatalog(t *testing.T) {
	hb := &Heartbeat{Type: MavTypeGCS, Autopilot: MavAutopilotInvalid, SystemStatus: MavStateActive, MavlinkVersion: MavlinkVersion, CustomMode: 7}
	raw, err := Encode(hb, true)
	require.NoError(t, err)
	msg, err := Decode(raw, true)
	require.NoError(t, err)
	assert.Equal(t, hb, msg)
}

func TestParamTypeNamesAndRanges(t *testing.T) {
	for raw, want := range map[string]ParamType{
		"int16":                 ParamInt16,
		" UINT8 ":               ParamUint8,
		"MAV_PARAM_TYPE_REAL32": ParamReal32,
		"float":                 ParamReal32,
	} {
		got, err := ParseParamType(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
	_, err := ParseParamType("int128")
	assert.Error(t, err)

	assert.True(t, ParamInt32.Integer())
	assert.False(t, ParamReal64.Integer())
	assert.False(t, ParamType(11).Valid())
	assert.Equal(t, "PARAM_TYPE(11)", ParamType(11).String())

	lo, hi := ParamInt8.Range()
	assert.Equal(t, float64(-128), lo)
	assert.Equal(t, float64(127), hi)
	_, hi = ParamUint32.Range()
	assert.Equal(t, float64(math.MaxUint32), hi)
}

func TestParamTypeJSONUsesNames(t *testing.T) {
	raw, err := json.Marshal(struct{ T ParamType }{ParamUint16})
	require.NoError(t, err)
	assert.JSONEq(t, `{"T":"UINT16"}`, string(raw))

	var back struct{ T ParamType }
	require.NoError(t, json.Unmarshal([]byte(`{"T":"int32"}`), &back))
	assert.Equal(t, ParamInt32, back.T)

	_, err = json.Marshal(struct{ T ParamType }{0})
	assert.Error(t, err)
}
