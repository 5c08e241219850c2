package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric はレジストリから指定名・ラベルのメトリクスを探す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if c := NewCollector(prometheus.NewRegistry()); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordReadingSubmitted_IncrementsCounter は保存カウンタが増加することを検証する。
func TestRecordReadingSubmitted_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordReadingSubmitted()
	c.RecordReadingSubmitted()

	m := findMetric(t, reg, "glucotrack_readings_submitted_total", nil)
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("readings_submitted_total = %v, want 2", v)
	}
}

// TestRecordAnalysisFailure_Labels は失敗理由ごとにカウントされることを検証する。
func TestRecordAnalysisFailure_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalysisFailure("error")
	c.RecordAnalysisFailure("error")
	c.RecordAnalysisFailure("empty")

	if v := findMetric(t, reg, "glucotrack_analysis_fail_total", map[string]string{"reason": "error"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("reason=error = %v, want 2", v)
	}
	if v := findMetric(t, reg, "glucotrack_analysis_fail_total", map[string]string{"reason": "empty"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("reason=empty = %v, want 1", v)
	}
}

// TestRecordAnalysisLatency_ObservesHistogram はヒストグラムに観測値が入ることを検証する。
func TestRecordAnalysisLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAnalysisLatency(250 * time.Millisecond)

	h := findMetric(t, reg, "glucotrack_analysis_latency_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 1 {
		t.Errorf("sample count = %d, want 1", h.GetSampleCount())
	}
	if h.GetSampleSum() != 0.25 {
		t.Errorf("sample sum = %v, want 0.25", h.GetSampleSum())
	}
}

// TestRecordProvisioning_Labels はモードと状態のラベルを検証する。
func TestRecordProvisioning_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProvisioning("handoff", "SessionRestoredSuccess")

	m := findMetric(t, reg, "glucotrack_provisioning_total", map[string]string{"mode": "handoff", "state": "SessionRestoredSuccess"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("provisioning_total = %v, want 1", v)
	}
}

// TestRecordRollback_Result は補償処理結果のラベルを検証する。
func TestRecordRollback_Result(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRollback(true)
	c.RecordRollback(false)
	c.RecordOrphanedIdentity("handoff")

	for _, result := range []string{"succeeded", "failed"} {
		if v := findMetric(t, reg, "glucotrack_rollbacks_total", map[string]string{"result": result}).GetCounter().GetValue(); v != 1 {
			t.Errorf("rollbacks_total{result=%s} = %v, want 1", result, v)
		}
	}
	if v := findMetric(t, reg, "glucotrack_orphaned_identities_total", map[string]string{"source": "handoff"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("orphaned_identities_total = %v, want 1", v)
	}
}

// TestRecordHTTPStatus_IncrementsCounterWithLabel はステータスコード別に記録されることを検証する。
func TestRecordHTTPStatus_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(403)

	if v := findMetric(t, reg, "glucotrack_http_status_total", map[string]string{"status_code": "200"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("status 200 = %v, want 2", v)
	}
	if v := findMetric(t, reg, "glucotrack_http_status_total", map[string]string{"status_code": "403"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("status 403 = %v, want 1", v)
	}
}

// TestRecordTokensCleaned_AddsCount は削除件数が加算されることを検証する。
func TestRecordTokensCleaned_AddsCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTokensCleaned(3)
	c.RecordTokensCleaned(0)

	if v := findMetric(t, reg, "glucotrack_refresh_tokens_cleaned_total", nil).GetCounter().GetValue(); v != 3 {
		t.Errorf("tokens_cleaned_total = %v, want 3", v)
	}
}

// TestMultipleCollectors_IndependentRegistries は別レジストリのCollectorが干渉しないことを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	_ = NewCollector(reg2)

	c1.RecordReadingSubmitted()

	if v := findMetric(t, reg2, "glucotrack_readings_submitted_total", nil).GetCounter().GetValue(); v != 0 {
		t.Errorf("reg2 counter = %v, want 0", v)
	}
}
