// Package worker implements the inter-process contract with the analysis
// workers: one JSON request on stdin, one JSON response on stdout, exit
// code and stderr carrying failure detail.
package worker

import (
	"encoding/json"
	"fmt"
	"io"
)

// Request is the single JSON document written to a worker's stdin.
// Parameter fields are pointers so absent values are omitted entirely
// and the worker applies its own defaults.
type Request struct {
	Geometry json.RawMessage `json:"geometry"`
	RegionID string          `json:"region_id"`

	Threshold        *float64 `json:"threshold,omitempty"`
	ThresholdPercent *float64 `json:"threshold_percent,omitempty"`
	BufferMeters     *int     `json:"buffer_meters,omitempty"`
	DaysBack         *int     `json:"days_back,omitempty"`
}

// FlexString decodes from either a JSON string or a JSON number. MODIS
// fire payloads carry numeric confidence and acq_time; other instruments
// emit strings for the same fields.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = FlexString(n.String())
	return nil
}

// Fire is one detected hotspot in a FIRE_PROTECTION response, carrying
// the point fields the worker samples from the fire collection.
type Fire struct {
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
	AcqDate    string     `json:"acq_date,omitempty"`
	AcqTime    FlexString `json:"acq_time,omitempty"`
	Brightness *float64   `json:"brightness,omitempty"`
	Confidence FlexString `json:"confidence,omitempty"`
}

// Response is the worker's stdout payload. All category metrics share one
// struct; each worker populates its own fields and leaves the rest null.
type Response struct {
	Status         string `json:"status"`
	Message        string `json:"message,omitempty"`
	RegionID       string `json:"region_id,omitempty"`
	AlertTriggered bool   `json:"alert_triggered"`

	RecentPeriodStart   string `json:"recent_period_start,omitempty"`
	RecentPeriodEnd     string `json:"recent_period_end,omitempty"`
	PreviousPeriodStart string `json:"previous_period_start,omitempty"`
	PreviousPeriodEnd   string `json:"previous_period_end,omitempty"`

	// Thresholds echoed back by the worker, whichever flavor it uses.
	Threshold        *float64 `json:"threshold,omitempty"`
	ThresholdPercent *float64 `json:"threshold_percent,omitempty"`

	// Generic metric for workers that report a single unnamed value.
	Value *float64 `json:"value,omitempty"`

	// DEFORESTATION
	MeanNDVIChange *float64 `json:"mean_ndvi_change,omitempty"`

	// FLOODING
	FloodedPercentage         *float64 `json:"flooded_percentage,omitempty"`
	FloodedAreaSqKm           *float64 `json:"flooded_area_sqkm,omitempty"`
	TotalAreaSqKm             *float64 `json:"total_area_sqkm,omitempty"`
	WaterDetectionThresholdDB *float64 `json:"water_detection_threshold_db,omitempty"`

	// GLACIER
	LossPercent      *float64 `json:"loss_percent,omitempty"`
	BaselineAreaSqKm *float64 `json:"baseline_area_sqkm,omitempty"`
	RecentAreaSqKm   *float64 `json:"recent_area_sqkm,omitempty"`
	StartImageURL    *string  `json:"start_image_url,omitempty"`
	EndImageURL      *string  `json:"end_image_url,omitempty"`

	// COASTAL_EROSION
	ShorelineRetreatMeters *float64 `json:"shoreline_retreat_meters,omitempty"`

	// FIRE_PROTECTION
	ActiveFireCount *int   `json:"active_fire_count,omitempty"`
	Fires           []Fire `json:"fires,omitempty"`
	DaysBack        *int   `json:"days_back,omitempty"`

	BufferRadiusMeters *float64 `json:"buffer_radius_meters,omitempty"`

	// Raw is the worker's stdout exactly as received. Populated by
	// DecodeResponse, never serialized.
	Raw []byte `json:"-"`
}

// Success reports whether the worker declared the analysis successful.
func (r *Response) Success() bool {
	return r.Status == "success"
}

// EncodeRequest writes req to w as a single JSON document.
func EncodeRequest(w io.Writer, req *Request) error {
	if len(req.Geometry) == 0 {
		return fmt.Errorf("request missing geometry")
	}
	if req.RegionID == "" {
		return fmt.Errorf("request missing region_id")
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return nil
}

// DecodeResponse parses a worker's stdout. Unknown fields are tolerated so
// workers can grow their payloads without breaking the orchestrator; a
// missing or unrecognized status is not.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("worker output is not valid JSON: %w", err)
	}
	switch resp.Status {
	case "success", "error":
	case "":
		return nil, fmt.Errorf("response missing required field: status")
	default:
		return nil, fmt.Errorf("invalid status value: %q", resp.Status)
	}
	resp.Raw = data
	return &resp, nil
}
