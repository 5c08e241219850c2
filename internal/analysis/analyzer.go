// Package analysis は血糖値に対する短い所見テキストを解析サービスから取得する。
package analysis

import (
	"context"
	"errors"
	"fmt"
)

// FallbackText は解析サービスが利用できないときに保存する固定文言。
const FallbackText = "Analysis is not available at the moment."

// Analyzer は血糖値から所見テキストを生成する解析サービス。
type Analyzer interface {
	Analyze(ctx context.Context, level int) (string, error)
}

// ErrAnalysisDisabled はAPIキー未設定で解析が無効なことを表す。
var ErrAnalysisDisabled = errors.New("analysis service is not configured")

// DisabledAnalyzer は常にErrAnalysisDisabledを返すAnalyzer。
// 測定値はフォールバック文言付きで保存される。
type DisabledAnalyzer struct{}

// Analyze は常にエラーを返す。
func (DisabledAnalyzer) Analyze(context.Context, int) (string, error) {
	return "", ErrAnalysisDisabled
}

// Prompt は血糖値を埋め込んだ固定の指示文を返す。
// 1語の区分と実践的な1文の助言を求める。
func Prompt(level int) string {
	return fmt.Sprintf(`Analyze a blood glucose level of %d mg/dL for a patient.
Give a one-word health conclusion (for example: Normal, Low, High, Very High)
followed by one practical sentence of advice.
Example: "Normal. Keep up your healthy eating pattern."
Example: "High. Cut down on sugar and simple carbohydrates today."`, level)
}

var (
	_ Analyzer = DisabledAnalyzer{}
	_ Analyzer = (*GeminiClient)(nil)
)
