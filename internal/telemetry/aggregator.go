// Package telemetry reduces raw deployment readings from the realtime tree
// store into a fixed-shape summary. Sources are tried in strict priority
// order; the first non-empty one wins and no merging happens across tiers.
package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/matanguihanbenson/agos-app/internal/fsval"
)

// Raw reading field names written by the bot telemetry pipeline.
const (
	fieldPH         = "ph_level"
	fieldTurbidity  = "turbidity"
	fieldTemp       = "temp"
	fieldTempAlt    = "temperature"
	fieldTrashKg    = "trash_collected"
	fieldTrashGrams = "trash_grams"
	fieldBattery    = "battery_pct"
	fieldBatteryAlt = "battery"
)

// SourceNone is the provenance tag when no tier yielded data.
const SourceNone = "none"

// Summary is the permanent reduction of one deployment's telemetry.
// Averaged gauges are nil when unknown; cumulative trash mass defaults to
// zero when unknown.
type Summary struct {
	TotalTrashKg    float64
	AvgPH           *float64
	AvgTurbidity    *float64
	AvgTemperatureC *float64
	LastBatteryPct  *float64
	SampleCount     int
	Source          string
}

// Fields renders the summary as document store field values, matching the
// metrics map shape consumed by dashboards.
func (s Summary) Fields() map[string]fsval.Value {
	return map[string]fsval.Value{
		"totalTrashKg":    fsval.Double(s.TotalTrashKg),
		"avgPH":           nullableDouble(s.AvgPH),
		"avgTurbidity":    nullableDouble(s.AvgTurbidity),
		"avgTemperatureC": nullableDouble(s.AvgTemperatureC),
		"lastBatteryPct":  nullableDouble(s.LastBatteryPct),
		"sampleCount":     fsval.Integer(int64(s.SampleCount)),
		"source":          fsval.String(s.Source),
	}
}

func nullableDouble(v *float64) fsval.Value {
	if v == nil {
		return fsval.Null()
	}
	return fsval.Double(*v)
}

// Store is the subset of the tree store adapter the aggregator reads from.
type Store interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
}

type Aggregator struct {
	store     Store
	trashUnit string
}

// New builds an aggregator. trashUnit is "kg" when readings report
// trash_collected in kilograms, anything else reads gram-denominated
// trash_grams and converts.
func New(store Store, trashUnit string) *Aggregator {
	return &Aggregator{store: store, trashUnit: strings.ToLower(trashUnit)}
}

// Summarize aggregates telemetry for a bot/deployment pair with fallback
// priority:
//  1. /deployments/{botID}/readings (live node, keyed by bot)
//  2. /deployments/{deploymentID}/readings (per-deployment history)
//  3. /bots/{botID} snapshot (last known values, one sample)
func (a *Aggregator) Summarize(ctx context.Context, botID, deploymentID string) Summary {
	if botID != "" {
		path := "/deployments/" + botID + "/readings"
		if readings, ok := a.fetchReadings(ctx, path); ok {
			return a.reduceReadings(readings, path)
		}
	}

	if deploymentID != "" {
		path := "/deployments/" + deploymentID + "/readings"
		if readings, ok := a.fetchReadings(ctx, path); ok {
			return a.reduceReadings(readings, path)
		}
	}

	if botID != "" {
		path := "/bots/" + botID
		raw, err := a.store.Get(ctx, path)
		if err != nil {
			slog.Warn("telemetry snapshot read failed", "path", path, "error", err)
		} else if raw != nil {
			var snap map[string]any
			if err := json.Unmarshal(raw, &snap); err == nil {
				return a.reduceSnapshot(snap, path)
			}
			slog.Warn("telemetry snapshot is not an object", "path", path)
		}
	}

	return Summary{Source: SourceNone}
}

func (a *Aggregator) fetchReadings(ctx context.Context, path string) (map[string]any, bool) {
	raw, err := a.store.Get(ctx, path)
	if err != nil {
		slog.Warn("telemetry readings fetch failed", "path", path, "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		slog.Warn("telemetry readings are not an object", "path", path, "error", err)
		return nil, false
	}
	// A present-but-empty container counts as absent and falls through to the
	// next tier.
	if len(node) == 0 {
		return nil, false
	}
	return node, true
}

// reduceReadings scans readings in ascending key order. Keys sort lexically,
// which imposes chronological order within a deployment.
func (a *Aggregator) reduceReadings(node map[string]any, path string) Summary {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var phSum, turbSum, tempSum, trashSum float64
	var lastBattery *float64
	count := 0

	for _, k := range keys {
		r, _ := node[k].(map[string]any)

		if ph, ok := numField(r, fieldPH); ok {
			phSum += ph
		}
		if turb, ok := numField(r, fieldTurbidity); ok {
			turbSum += turb
		}
		if temp, ok := a.temperature(r); ok {
			tempSum += temp
		}
		if trash, ok := a.trashKg(r); ok {
			trashSum += trash
		}
		// Battery is a point-in-time gauge, not an accumulable quantity:
		// keep the last value seen, never an average.
		if batt, ok := a.battery(r); ok {
			b := batt
			lastBattery = &b
		}

		count++
	}

	out := Summary{Source: path, SampleCount: count}
	if count > 0 {
		out.AvgPH = ptr(round3(phSum / float64(count)))
		out.AvgTurbidity = ptr(round3(turbSum / float64(count)))
		out.AvgTemperatureC = ptr(round3(tempSum / float64(count)))
		out.TotalTrashKg = round3(trashSum)
		out.LastBatteryPct = lastBattery
	}
	return out
}

// reduceSnapshot applies the same field-selection rules to a single bot
// status record, treated as exactly one sample.
func (a *Aggregator) reduceSnapshot(snap map[string]any, path string) Summary {
	out := Summary{Source: path, SampleCount: 1}
	if v, ok := numField(snap, fieldPH); ok {
		out.AvgPH = ptr(v)
	}
	if v, ok := numField(snap, fieldTurbidity); ok {
		out.AvgTurbidity = ptr(v)
	}
	if v, ok := a.temperature(snap); ok {
		out.AvgTemperatureC = ptr(v)
	}
	if v, ok := a.trashKg(snap); ok {
		out.TotalTrashKg = v
	}
	if v, ok := a.battery(snap); ok {
		out.LastBatteryPct = ptr(v)
	}
	return out
}

func (a *Aggregator) temperature(r map[string]any) (float64, bool) {
	if v, ok := numField(r, fieldTemp); ok {
		return v, true
	}
	return numField(r, fieldTempAlt)
}

func (a *Aggregator) trashKg(r map[string]any) (float64, bool) {
	if a.trashUnit == "kg" {
		return numField(r, fieldTrashKg)
	}
	v, ok := numField(r, fieldTrashGrams)
	if !ok {
		return 0, false
	}
	return v / 1000, true
}

func (a *Aggregator) battery(r map[string]any) (float64, bool) {
	if v, ok := numField(r, fieldBattery); ok {
		return v, true
	}
	return numField(r, fieldBatteryAlt)
}

// numField reads a finite numeric field; anything missing, non-numeric, NaN
// or infinite is skipped rather than treated as zero.
func numField(r map[string]any, key string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	v, ok := r[key]
	if !ok || v == nil {
		return 0, false
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		var num json.Number = json.Number(strings.TrimSpace(t))
		f, err := num.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// round3 rounds to 3 decimal places, half away from zero.
func round3(x float64) float64 {
	return math.Trunc(x*1000+math.Copysign(0.5, x)) / 1000
}

func ptr(v float64) *float64 { return &v }
