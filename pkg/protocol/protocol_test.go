package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeJSONEnvelopeShape(t *testing.T) {
	events := []OutEvent{
		NewJobSubmitted(1, []string{"static!0"}),
		NewJobCompleted(5, "static!0", JobStatusSuccess),
	}
	payload, err := EncodeJSON(5, events)
	require.NoError(t, err)

	var env envelope
	require.NoError(t, json.Unmarshal(payload, &env))
	assert.Equal(t, 5.0, env.Now)
	require.Len(t, env.Events, 2)
	assert.Equal(t, "JOB_SUBMITTED", env.Events[0].Type)
	assert.Equal(t, "JOB_COMPLETED", env.Events[1].Type)
}

func TestEncodeJSONRejectsNonMonotone(t *testing.T) {
	events := []OutEvent{
		NewJobCompleted(5, "static!0", JobStatusSuccess),
		NewJobSubmitted(1, []string{"static!1"}),
	}
	_, err := EncodeJSON(5, events)
	require.Error(t, err)
}

func TestEncodeLegacyFormat(t *testing.T) {
	events := []OutEvent{
		NewJobSubmitted(2, []string{"static!0"}),
		NewNOP(4),
	}
	s, err := EncodeLegacy(Version, 4, events)
	require.NoError(t, err)
	assert.Equal(t, "1:4|2:S:static!0|4:N:|4:T", s)
}

func TestDecodeJSONInboundEvents(t *testing.T) {
	payload := []byte(`{"now":10,"events":[
		{"timestamp":3,"type":"EXECUTE_JOB","data":{"job_id":"static!0","alloc":"0-1"}},
		{"timestamp":8,"type":"CALL_ME_LATER","data":{"timestamp":20}}
	]}`)
	now, events, err := DecodeJSON(payload)
	require.NoError(t, err)
	assert.Equal(t, 10.0, now)
	require.Len(t, events, 2)

	exec, ok := events[0].Data.(ExecuteJobData)
	require.True(t, ok)
	assert.Equal(t, "static!0", exec.JobID)
	assert.Equal(t, "0-1", exec.Alloc)

	cml, ok := events[1].Data.(CallMeLaterData)
	require.True(t, ok)
	assert.Equal(t, 20.0, cml.Timestamp)
}

func TestDecodeJSONRejectsFutureEvent(t *testing.T) {
	payload := []byte(`{"now":5,"events":[{"timestamp":9,"type":"REJECT_JOB","data":{"job_id":"static!0"}}]}`)
	_, _, err := DecodeJSON(payload)
	require.Error(t, err)
}

func TestDecodeJSONRejectsReservedEvents(t *testing.T) {
	payload := []byte(`{"now":5,"events":[{"timestamp":1,"type":"SUBMIT_JOB"}]}`)
	_, _, err := DecodeJSON(payload)
	require.Error(t, err)
	var reserved *ErrReserved
	require.ErrorAs(t, err, &reserved)
}

func TestDecodeLegacyParsesEvents(t *testing.T) {
	now, events, err := DecodeLegacy("1:10|3:j:static!0=0-1|8:w:20|10:T")
	require.NoError(t, err)
	assert.Equal(t, 10.0, now)
	require.Len(t, events, 2)
	assert.Equal(t, InExecuteJob, events[0].Type)
	assert.Equal(t, InCallMeLater, events[1].Type)
}

func TestDecodeLegacyRejectsNonMonotone(t *testing.T) {
	_, _, err := DecodeLegacy("1:10|8:j:static!0=0-1|3:w:20|10:T")
	require.Error(t, err)
}
