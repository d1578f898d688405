package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type fakeStore struct {
	data map[string]string
	errs map[string]error
}

func (f *fakeStore) Get(_ context.Context, path string) (json.RawMessage, error) {
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	if v, ok := f.data[path]; ok {
		return json.RawMessage(v), nil
	}
	return nil, nil
}

func TestTierFallbackPrefersBotKeyedReadings(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{"0001":{"ph_level":7.0}}`,
		"/deployments/dep-1/readings": `{"0001":{"ph_level":9.0}}`,
		"/bots/bot-1":                 `{"ph_level":5.0}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.Source != "/deployments/bot-1/readings" {
		t.Fatalf("expected bot-keyed source, got %q", s.Source)
	}
	if s.AvgPH == nil || *s.AvgPH != 7.0 {
		t.Fatalf("expected avgPH 7.0 from bot tier, got %v", s.AvgPH)
	}
}

func TestTierFallbackToDeploymentReadings(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/dep-1/readings": `{"0001":{"ph_level":6.5}}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.Source != "/deployments/dep-1/readings" {
		t.Fatalf("expected deployment-keyed source, got %q", s.Source)
	}
}

func TestEmptyReadingsFallThrough(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{}`,
		"/deployments/dep-1/readings": `{"0001":{"turbidity":2.0}}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.Source != "/deployments/dep-1/readings" {
		t.Fatalf("expected empty container to fall through, got source %q", s.Source)
	}
}

func TestReadErrorTreatedAsAbsentTier(t *testing.T) {
	store := &fakeStore{
		data: map[string]string{
			"/deployments/dep-1/readings": `{"0001":{"ph_level":6.0}}`,
		},
		errs: map[string]error{
			"/deployments/bot-1/readings": errors.New("boom"),
		},
	}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.Source != "/deployments/dep-1/readings" {
		t.Fatalf("expected erroring tier to be skipped, got source %q", s.Source)
	}
}

func TestRoundingHalfAwayFromZero(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{
			"0001":{"ph_level":7.001},
			"0002":{"ph_level":7.002},
			"0003":{"ph_level":7.006}
		}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.SampleCount != 3 {
		t.Fatalf("expected 3 samples, got %d", s.SampleCount)
	}
	if s.AvgPH == nil || *s.AvgPH != 7.003 {
		t.Fatalf("expected avgPH 7.003, got %v", s.AvgPH)
	}
}

func TestTrashGramConversion(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{
			"0001":{"trash_grams":500},
			"0002":{"trash_grams":250},
			"0003":{"trash_grams":250}
		}`,
	}}
	agg := New(store, "g")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.TotalTrashKg != 1.0 {
		t.Fatalf("expected totalTrashKg 1.0, got %v", s.TotalTrashKg)
	}
}

func TestTrashKilogramUnitReadsDirectly(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{
			"0001":{"trash_collected":0.4},
			"0002":{"trash_collected":0.6}
		}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.TotalTrashKg != 1.0 {
		t.Fatalf("expected totalTrashKg 1.0, got %v", s.TotalTrashKg)
	}
}

func TestBatteryKeepsLastValueInKeyOrder(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{
			"0002":{"battery_pct":76},
			"0001":{"battery_pct":80}
		}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.LastBatteryPct == nil || *s.LastBatteryPct != 76 {
		t.Fatalf("expected last battery 76, got %v", s.LastBatteryPct)
	}
}

func TestTemperatureAndBatteryFallbackFieldNames(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{
			"0001":{"temperature":20.0,"battery":90}
		}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.AvgTemperatureC == nil || *s.AvgTemperatureC != 20.0 {
		t.Fatalf("expected alternate temperature field, got %v", s.AvgTemperatureC)
	}
	if s.LastBatteryPct == nil || *s.LastBatteryPct != 90 {
		t.Fatalf("expected alternate battery field, got %v", s.LastBatteryPct)
	}
}

func TestNonNumericValuesSkippedNotZeroed(t *testing.T) {
	// The second reading has no usable pH but still counts as a sample.
	store := &fakeStore{data: map[string]string{
		"/deployments/bot-1/readings": `{
			"0001":{"ph_level":8.0},
			"0002":{"ph_level":"n/a"}
		}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.SampleCount != 2 {
		t.Fatalf("expected 2 samples, got %d", s.SampleCount)
	}
	if s.AvgPH == nil || *s.AvgPH != 4.0 {
		t.Fatalf("expected avgPH 4.0 (8.0 over 2 samples), got %v", s.AvgPH)
	}
}

func TestSnapshotTierSingleSample(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/bots/bot-1": `{"ph_level":6.8,"turbidity":1.2,"status":"active"}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.Source != "/bots/bot-1" {
		t.Fatalf("expected snapshot source, got %q", s.Source)
	}
	if s.SampleCount != 1 {
		t.Fatalf("expected sampleCount 1, got %d", s.SampleCount)
	}
	if s.AvgPH == nil || *s.AvgPH != 6.8 {
		t.Fatalf("expected avgPH 6.8, got %v", s.AvgPH)
	}
	// Cumulative mass defaults to zero when unknown; gauges stay null.
	if s.TotalTrashKg != 0 {
		t.Fatalf("expected trash 0, got %v", s.TotalTrashKg)
	}
	if s.LastBatteryPct != nil {
		t.Fatalf("expected nil battery, got %v", *s.LastBatteryPct)
	}
	if s.AvgTemperatureC != nil {
		t.Fatalf("expected nil temperature, got %v", *s.AvgTemperatureC)
	}
}

func TestNoSourcesYieldsNone(t *testing.T) {
	agg := New(&fakeStore{}, "kg")

	s := agg.Summarize(context.Background(), "bot-1", "dep-1")
	if s.Source != SourceNone {
		t.Fatalf("expected source none, got %q", s.Source)
	}
	if s.SampleCount != 0 || s.TotalTrashKg != 0 || s.AvgPH != nil {
		t.Fatalf("expected zeroed summary, got %+v", s)
	}
}

func TestEmptyBotIDSkipsBotTiers(t *testing.T) {
	store := &fakeStore{data: map[string]string{
		"/deployments/dep-1/readings": `{"0001":{"ph_level":6.0}}`,
	}}
	agg := New(store, "kg")

	s := agg.Summarize(context.Background(), "", "dep-1")
	if s.Source != "/deployments/dep-1/readings" {
		t.Fatalf("expected deployment tier, got %q", s.Source)
	}
}

func TestFieldsShape(t *testing.T) {
	ph := 7.003
	s := Summary{TotalTrashKg: 1.5, AvgPH: &ph, SampleCount: 3, Source: "/bots/bot-1"}

	f := s.Fields()
	if d, ok := f["totalTrashKg"].DoubleVal(); !ok || d != 1.5 {
		t.Fatalf("expected totalTrashKg 1.5, got %v", f["totalTrashKg"])
	}
	if d, ok := f["avgPH"].DoubleVal(); !ok || d != 7.003 {
		t.Fatalf("expected avgPH 7.003, got %v", f["avgPH"])
	}
	if i, ok := f["sampleCount"].IntegerVal(); !ok || i != 3 {
		t.Fatalf("expected sampleCount 3, got %v", f["sampleCount"])
	}
	if _, ok := f["avgTurbidity"].DoubleVal(); ok {
		t.Fatalf("expected null avgTurbidity")
	}
	if src, ok := f["source"].StringVal(); !ok || src != "/bots/bot-1" {
		t.Fatalf("expected source string, got %v", f["source"])
	}
}
