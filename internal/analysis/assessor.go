package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/glucotrack/internal/metrics"
	"github.com/hitoshi/glucotrack/internal/security"
)

// DefaultTimeout は解析サービス呼び出しのデフォルトのタイムアウト。
const DefaultTimeout = 15 * time.Second

// Assessor はAnalyzerの結果を整形し、失敗時にはFallbackTextを返す。
// Assessは常に保存可能な文字列を返し、エラーを返さない。
type Assessor struct {
	analyzer  Analyzer
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	timeout   time.Duration
}

// NewAssessor はAssessorを生成する。timeoutが0以下の場合はDefaultTimeoutを使う。
func NewAssessor(analyzer Analyzer, sanitizer security.TextSanitizer, collector metrics.MetricsCollector, timeout time.Duration) *Assessor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Assessor{
		analyzer:  analyzer,
		sanitizer: sanitizer,
		metrics:   collector,
		timeout:   timeout,
	}
}

// Assess は血糖値の所見を返す。解析失敗・空応答の場合はFallbackTextを返す。
func (a *Assessor) Assess(ctx context.Context, level int) string {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	text, err := a.analyzer.Analyze(ctx, level)
	a.metrics.RecordAnalysisLatency(time.Since(start))

	if err != nil {
		slog.Warn("analysis unavailable, using fallback",
			slog.Int("level", level),
			slog.String("error", err.Error()),
		)
		a.metrics.RecordAnalysisFailure("error")
		return FallbackText
	}

	text = a.sanitizer.Sanitize(text)
	if text == "" {
		slog.Warn("analysis returned empty text, using fallback", slog.Int("level", level))
		a.metrics.RecordAnalysisFailure("empty")
		return FallbackText
	}
	return text
}
