package protocol

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatt/smart-meter-server/models"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	clientConn := NewFrameConn(client)
	serverConn := NewFrameConn(server)

	go func() {
		_ = clientConn.WriteFrame([]byte(`{"id":0,"token":"0"}`), time.Second)
	}()

	payload, err := serverConn.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"id":0,"token":"0"}`, string(payload))
}

func TestFrameEmptyPayload(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = NewFrameConn(client).WriteFrame(nil, time.Second)
	}()

	payload, err := NewFrameConn(server).ReadFrame()
	require.NoError(t, err)
	assert.Empty(t, payload)
}

func TestWriteFrameTooLarge(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	err := NewFrameConn(client).WriteFrame(make([]byte, MaxFrameSize+1), time.Second)
	assert.Error(t, err)
}

func TestReadFrameDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fc := NewFrameConn(server)
	require.NoError(t, fc.SetReadDeadline(time.Now().Add(20*time.Millisecond)))

	_, err := fc.ReadFrame()
	require.Error(t, err)
	netErr, ok := err.(net.Error)
	require.True(t, ok)
	assert.True(t, netErr.Timeout())
}

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"MeterReading","reading":100.0}`))
	require.NoError(t, err)
	assert.Equal(t, 100.0, msg.Reading)

	_, err = ParseClientMessage([]byte(`{"type":"Unknown"}`))
	assert.Error(t, err)

	_, err = ParseClientMessage([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeBillShape(t *testing.T) {
	bill := models.BillFromReading(models.Reading{
		Reading: 10,
		Time:    time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC),
	}, 0.2, 0.4)

	payload, err := EncodeBill(bill)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "Bill", decoded["type"])
	assert.Equal(t, 10.0, decoded["units_end"])

	period, ok := decoded["billing_period"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "2024-03-15", period["start"])
	assert.Equal(t, "2024-04-15", period["end"])
}

func TestEncodeAlerts(t *testing.T) {
	payload, err := EncodePowerGridIssue("power grid error")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PowerGridIssue","error":"power grid error"}`, string(payload))

	payload, err = EncodePowerGridIssueResolved()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"PowerGridIssueResolved"}`, string(payload))
}
