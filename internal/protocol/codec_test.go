package protocol

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/large-farva/attention-stream/internal/clock"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testBuilder(clk clock.Clock) Builder {
	return Builder{SessionID: "session-test", UserID: "1", Clock: clk}
}

func randomPoints(r *rand.Rand, n int) []MeasurementPoint {
	pts := make([]MeasurementPoint, n)
	for i := range pts {
		pts[i] = MeasurementPoint{
			Index: uint32(r.IntN(478)),
			X:     Round(r.Float64()),
			Y:     Round(r.Float64()),
			Z:     Round(r.Float64()*0.2 - 0.1),
		}
	}
	return pts
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	clk := clock.Fake(epoch.Add(123 * time.Millisecond))
	b := testBuilder(clk)

	envelopes := []Envelope{
		b.Start("attentiond/test (linux; amd64)"),
		b.Status(StatusNoFace),
		b.Status(StatusPaused),
		b.Status(StatusResumed),
		b.End(""),
		b.End("server shutdown"),
	}
	for range 50 {
		clk.Advance(time.Duration(r.IntN(5000)) * time.Millisecond)
		envelopes = append(envelopes, b.Data(randomPoints(r, 26)))
	}

	for _, e := range envelopes {
		raw, err := Encode(e)
		require.NoError(t, err)

		got, err := DecodeEnvelope(raw)
		require.NoError(t, err)
		assert.Equal(t, e, got, "round trip of %s", raw)
	}
}

func TestEncodeWireShape(t *testing.T) {
	b := testBuilder(clock.Fake(epoch.Add(42*time.Millisecond + 999*time.Microsecond)))
	e := b.Data([]MeasurementPoint{{Index: 1, X: 0.123456, Y: 0.5, Z: -0.00004}})

	raw, err := Encode(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "session-test", m["sessionId"])
	assert.Equal(t, "1", m["userId"])
	assert.Equal(t, "2026-03-01T12:00:00.042Z", m["timestamp"])
	assert.Equal(t, "data", m["eventType"])

	payload := m["payload"].(map[string]any)
	landmarks := payload["landmarks"].([]any)
	require.Len(t, landmarks, 1)
	lm := landmarks[0].(map[string]any)
	assert.EqualValues(t, 1, lm["index"])
	assert.InDelta(t, 0.1235, lm["x"], 1e-12)
	assert.InDelta(t, 0.5, lm["y"], 1e-12)
	assert.InDelta(t, 0.0, lm["z"], 1e-12)
}

func TestEncodePayloadNames(t *testing.T) {
	b := testBuilder(clock.Fake(epoch))

	cases := map[string]Envelope{
		`"payload":{"userAgent":"ua"}`:                   b.Start("ua"),
		`"payload":{"status":"no_face_detected"}`:        b.Status(StatusNoFace),
		`"payload":{"reason":"user_clicked_end_button"}`: b.End(""),
	}
	for want, e := range cases {
		raw, err := Encode(e)
		require.NoError(t, err)
		assert.Contains(t, string(raw), want)
		assert.Contains(t, string(raw), `"eventType":"`+string(e.EventType())+`"`)
	}
}

func TestEncodeRejectsIncompleteEnvelope(t *testing.T) {
	_, err := Encode(Envelope{SessionID: "s"})
	assert.Error(t, err)

	_, err = Encode(Envelope{Payload: StatusPayload{Status: StatusPaused}})
	assert.Error(t, err)
}

func TestDecodeAlert(t *testing.T) {
	a, err := Decode([]byte("Eyes closed too long"))
	require.NoError(t, err)
	assert.Equal(t, Alert("Eyes closed too long"), a)

	// Structured text is still just an alert.
	a, err = Decode([]byte(`{"level":"warn"}`))
	require.NoError(t, err)
	assert.Equal(t, Alert(`{"level":"warn"}`), a)
}

func TestDecodeAlertErrors(t *testing.T) {
	for _, raw := range [][]byte{nil, []byte("")} {
		_, err := Decode(raw)
		var de *DecodeError
		require.True(t, errors.As(err, &de), "input %q", raw)
	}
}

func TestDecodeAlertKeepsAnyText(t *testing.T) {
	for _, raw := range [][]byte{[]byte("  \n\t"), {0xff, 0xfe}, []byte(" Look at the screen ")} {
		a, err := Decode(raw)
		require.NoError(t, err, "input %q", raw)
		assert.Equal(t, Alert(raw), a)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{`,
		"missing session": `{"userId":"1","timestamp":"2026-03-01T12:00:00.000Z","eventType":"end","payload":{}}`,
		"bad timestamp":   `{"sessionId":"s","timestamp":"yesterday","eventType":"end","payload":{}}`,
		"unknown event":   `{"sessionId":"s","timestamp":"2026-03-01T12:00:00.000Z","eventType":"hello","payload":{}}`,
		"bad payload":     `{"sessionId":"s","timestamp":"2026-03-01T12:00:00.000Z","eventType":"data","payload":{"landmarks":"x"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(raw))
			var de *DecodeError
			require.ErrorAs(t, err, &de)
			assert.True(t, strings.HasPrefix(de.Error(), "decode: "))
		})
	}
}

func TestNewSessionID(t *testing.T) {
	a, b := NewSessionID(), NewSessionID()
	assert.True(t, strings.HasPrefix(a, "session-"))
	assert.NotEqual(t, a, b)
}

func TestRound(t *testing.T) {
	assert.Equal(t, 0.1235, Round(0.12345001))
	assert.Equal(t, 0.5, Round(0.5))
	assert.Equal(t, -0.0012, Round(-0.00123))
}
