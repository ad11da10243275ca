package protocol

import (
	"encoding/json"
	"fmt"
)

// The sync engine treats payloads as opaque. These types exist for renderers
// that want to read them.

// ModelStats is one product model's production counts for a unit.
type ModelStats struct {
	Model          string   `json:"model"`
	SuccessQty     int      `json:"success_qty"`
	FailQty        int      `json:"fail_qty"`
	Target         *float64 `json:"target"`
	TotalQty       int      `json:"total_qty"`
	Quality        float64  `json:"quality"`
	Performance    *float64 `json:"performance"`
	OEE            *float64 `json:"oee"`
	TheoreticalQty float64  `json:"theoretical_qty"`
}

// Summary aggregates all models of a unit.
type Summary struct {
	TotalSuccess       int     `json:"total_success"`
	TotalFail          int     `json:"total_fail"`
	TotalQty           int     `json:"total_qty"`
	TotalQuality       float64 `json:"total_quality"`
	TotalPerformance   float64 `json:"total_performance"`
	UnitPerformanceSum float64 `json:"unit_performance_sum"`
}

// StandardPayload is the per-model view of one unit.
type StandardPayload struct {
	UnitName string       `json:"unit_name"`
	Models   []ModelStats `json:"models"`
	Summary  Summary      `json:"summary"`
}

// flatSummary lets the historical shape's top-level totals be decoded
// alongside a nested "summary" object.
type flatSummary Summary

// DecodeStandard reads either the live stream shape (totals nested under
// "summary") or the historical pull shape (totals at the top level).
func DecodeStandard(raw json.RawMessage) (StandardPayload, error) {
	var wire struct {
		UnitName string       `json:"unit_name"`
		Models   []ModelStats `json:"models"`
		Summary  *Summary     `json:"summary"`
		flatSummary
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return StandardPayload{}, fmt.Errorf("decode standard payload: %w", err)
	}

	p := StandardPayload{UnitName: wire.UnitName, Models: wire.Models}
	if wire.Summary != nil {
		p.Summary = *wire.Summary
	} else {
		p.Summary = Summary(wire.flatSummary)
	}
	return p, nil
}

// HourBucket is one hour (or the partial current hour) of production.
type HourBucket struct {
	HourStart      string  `json:"hour_start"`
	HourEnd        string  `json:"hour_end"`
	SuccessQty     int     `json:"success_qty"`
	FailQty        int     `json:"fail_qty"`
	TotalQty       int     `json:"total_qty"`
	Quality        float64 `json:"quality"`
	Performance    float64 `json:"performance"`
	OEE            float64 `json:"oee"`
	TheoreticalQty float64 `json:"theoretical_qty"`
}

// HourlyPayload is the hour-by-hour view of one unit.
type HourlyPayload struct {
	UnitName            string       `json:"unit_name"`
	TotalSuccess        int          `json:"total_success"`
	TotalFail           int          `json:"total_fail"`
	TotalQty            int          `json:"total_qty"`
	TotalQuality        float64      `json:"total_quality"`
	TotalPerformance    float64      `json:"total_performance"`
	TotalOEE            float64      `json:"total_oee"`
	TotalTheoreticalQty float64      `json:"total_theoretical_qty"`
	HourlyData          []HourBucket `json:"hourly_data"`
}

// DecodeHourly decodes an hourly payload.
func DecodeHourly(raw json.RawMessage) (HourlyPayload, error) {
	var p HourlyPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return HourlyPayload{}, fmt.Errorf("decode hourly payload: %w", err)
	}
	return p, nil
}

// ReportUnit is one unit's entry in a batch report.
type ReportUnit struct {
	TotalSuccess   int          `json:"total_success"`
	TotalFail      int          `json:"total_fail"`
	TotalQty       int          `json:"total_qty"`
	Quality        float64      `json:"quality"`
	PerformanceSum float64      `json:"performance_sum"`
	Models         []ModelStats `json:"models"`
}

// ReportSummary is the weighted cross-unit summary of a report.
type ReportSummary struct {
	TotalSuccess        int     `json:"total_success"`
	TotalFail           int     `json:"total_fail"`
	TotalProduction     int     `json:"total_production"`
	WeightedQuality     float64 `json:"weighted_quality"`
	WeightedPerformance float64 `json:"weighted_performance"`
}

// ReportEnvelope is the raw batch report response. Units are kept raw so the
// engine can key them without interpreting their contents.
type ReportEnvelope struct {
	Units   map[string]json.RawMessage `json:"units"`
	Summary json.RawMessage            `json:"summary"`
}

// DecodeReportUnit decodes one unit entry of a report.
func DecodeReportUnit(raw json.RawMessage) (ReportUnit, error) {
	var u ReportUnit
	if err := json.Unmarshal(raw, &u); err != nil {
		return ReportUnit{}, fmt.Errorf("decode report unit: %w", err)
	}
	return u, nil
}

// DecodeReportSummary decodes the summary of a report.
func DecodeReportSummary(raw json.RawMessage) (ReportSummary, error) {
	var s ReportSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return ReportSummary{}, fmt.Errorf("decode report summary: %w", err)
	}
	return s, nil
}
