package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const connectBody = `{
	"object": "whatsapp_business_account",
	"entry": [{
		"id": "acct-1",
		"changes": [{
			"field": "calls",
			"value": {
				"metadata": {"display_phone_number": "15550001111", "phone_number_id": "pn-1"},
				"calls": [{
					"id": "call-1",
					"from": "15552223333",
					"event": "connect",
					"session": {"sdp_type": "offer", "sdp": "v=0 fake offer"}
				}]
			}
		}]
	}]
}`

func TestParseEnvelopeConnect(t *testing.T) {
	events, err := ParseEnvelope([]byte(connectBody))
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	assert.Equal(t, EventConnect, event.Kind)
	assert.Equal(t, "call-1", event.CallID)
	assert.Equal(t, "pn-1", event.EndpointID)
	assert.Equal(t, "15552223333", event.From)
	assert.Equal(t, "v=0 fake offer", event.SDPOffer)
}

func TestParseEnvelopeTerminate(t *testing.T) {
	body := `{
		"entry": [{
			"changes": [{
				"field": "calls",
				"value": {
					"metadata": {"phone_number_id": "pn-1"},
					"calls": [{"id": "call-1", "from": "15552223333", "event": "terminate", "status": "user_hangup", "duration": 42}]
				}
			}]
		}]
	}`
	events, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTerminate, events[0].Kind)
	assert.Equal(t, "user_hangup", events[0].Reason)
	assert.Equal(t, 42, events[0].Duration)
}

func TestParseEnvelopeTerminateDefaultsReason(t *testing.T) {
	body := `{
		"entry": [{
			"changes": [{
				"field": "calls",
				"value": {"metadata": {"phone_number_id": "pn-1"}, "calls": [{"id": "call-1", "event": "terminate"}]}
			}]
		}]
	}`
	events, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "user_hangup", events[0].Reason)
}

func TestParseEnvelopeMedia(t *testing.T) {
	body := `{
		"entry": [{
			"changes": [{
				"field": "calls",
				"value": {
					"metadata": {"phone_number_id": "pn-1"},
					"calls": [{"id": "call-1", "event": "media", "media": {"audio": "AAAA", "codec": "opus", "sample_rate": 48000}}]
				}
			}]
		}]
	}`
	events, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventMedia, events[0].Kind)
	assert.Equal(t, "AAAA", events[0].AudioB64)
	assert.Equal(t, "opus", events[0].Codec)
	assert.Equal(t, 48000, events[0].SampleRate)
}

func TestParseEnvelopeIgnoresNonCallChanges(t *testing.T) {
	body := `{
		"entry": [{
			"changes": [
				{"field": "messages", "value": {}},
				{"field": "statuses", "value": {}}
			]
		}]
	}`
	events, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestParseEnvelopeSkipsUnknownEvents(t *testing.T) {
	body := `{
		"entry": [{
			"changes": [{
				"field": "calls",
				"value": {
					"metadata": {"phone_number_id": "pn-1"},
					"calls": [
						{"id": "call-1", "event": "ringing"},
						{"id": "call-2", "event": "terminate"},
						{"event": "terminate"}
					]
				}
			}]
		}]
	}`
	events, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "call-2", events[0].CallID)
}

func TestParseEnvelopeMalformed(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{not json`))
	require.Error(t, err)
}

func TestParseEnvelopePreservesOrder(t *testing.T) {
	body := `{
		"entry": [{
			"changes": [{
				"field": "calls",
				"value": {
					"metadata": {"phone_number_id": "pn-1"},
					"calls": [
						{"id": "call-a", "event": "connect", "session": {"sdp": "x"}},
						{"id": "call-a", "event": "terminate"}
					]
				}
			}]
		}]
	}`
	events, err := ParseEnvelope([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventConnect, events[0].Kind)
	assert.Equal(t, EventTerminate, events[1].Kind)
}
