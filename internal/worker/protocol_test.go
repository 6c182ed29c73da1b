package worker

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest(t *testing.T) {
	t.Parallel()

	pct := 5.0
	buf := 100
	req := &Request{
		Geometry:         json.RawMessage(`{"type":"Polygon","coordinates":[]}`),
		RegionID:         "sub-42-FLOODING",
		ThresholdPercent: &pct,
		BufferMeters:     &buf,
	}

	var out bytes.Buffer
	require.NoError(t, EncodeRequest(&out, req))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "sub-42-FLOODING", got["region_id"])
	assert.Equal(t, 5.0, got["threshold_percent"])
	assert.Equal(t, 100.0, got["buffer_meters"])
	assert.NotContains(t, got, "threshold", "absent params must be omitted")
	assert.NotContains(t, got, "days_back", "absent params must be omitted")
}

func TestEncodeRequestRejectsIncomplete(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := EncodeRequest(&out, &Request{RegionID: "r"})
	assert.Error(t, err, "missing geometry")

	err = EncodeRequest(&out, &Request{Geometry: json.RawMessage(`{}`)})
	assert.Error(t, err, "missing region_id")
}

func TestDecodeResponseSuccess(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"status": "success",
		"region_id": "sub-1-DEFORESTATION",
		"alert_triggered": true,
		"mean_ndvi_change": -0.23,
		"threshold": -0.1,
		"recent_period_start": "2026-07-01",
		"recent_period_end": "2026-08-01",
		"some_future_field": 7
	}`)

	resp, err := DecodeResponse(data)
	require.NoError(t, err)
	assert.True(t, resp.Success())
	assert.True(t, resp.AlertTriggered)
	require.NotNil(t, resp.MeanNDVIChange)
	assert.Equal(t, -0.23, *resp.MeanNDVIChange)
	require.NotNil(t, resp.Threshold)
	assert.Equal(t, -0.1, *resp.Threshold)
	assert.Equal(t, "2026-07-01", resp.RecentPeriodStart)
	assert.Equal(t, data, resp.Raw, "stdout carried through untouched")
}

func TestDecodeResponseError(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{"status":"error","message":"no imagery for period"}`))
	require.NoError(t, err)
	assert.False(t, resp.Success())
	assert.Equal(t, "no imagery for period", resp.Message)
}

func TestDecodeResponseInvalid(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":       `analysis complete`,
		"missing status": `{"alert_triggered":false}`,
		"bad status":     `{"status":"done"}`,
	}
	for name, data := range cases {
		_, err := DecodeResponse([]byte(data))
		assert.Error(t, err, name)
	}
}

func TestDecodeResponseFires(t *testing.T) {
	t.Parallel()

	// MODIS-shaped payload: confidence and acq_time are numbers.
	resp, err := DecodeResponse([]byte(`{
		"status": "success",
		"alert_triggered": true,
		"active_fire_count": 2,
		"days_back": 1,
		"fires": [
			{"latitude": -3.1, "longitude": -60.0, "acq_date": "2026-08-30", "acq_time": 530, "brightness": 330.7, "confidence": 85},
			{"latitude": -3.2, "longitude": -60.1}
		]
	}`))
	require.NoError(t, err)
	require.NotNil(t, resp.ActiveFireCount)
	assert.Equal(t, 2, *resp.ActiveFireCount)
	require.Len(t, resp.Fires, 2)
	assert.Equal(t, FlexString("85"), resp.Fires[0].Confidence)
	assert.Equal(t, FlexString("530"), resp.Fires[0].AcqTime)
	require.NotNil(t, resp.Fires[0].Brightness)
	assert.Equal(t, 330.7, *resp.Fires[0].Brightness)
}

func TestDecodeResponseFiresStringConfidence(t *testing.T) {
	t.Parallel()

	resp, err := DecodeResponse([]byte(`{
		"status": "success",
		"active_fire_count": 1,
		"fires": [{"latitude": -3.1, "longitude": -60.0, "acq_time": "05:30", "confidence": "high"}]
	}`))
	require.NoError(t, err)
	require.Len(t, resp.Fires, 1)
	assert.Equal(t, FlexString("high"), resp.Fires[0].Confidence)
	assert.Equal(t, FlexString("05:30"), resp.Fires[0].AcqTime)
}
