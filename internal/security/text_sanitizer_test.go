package security

import "testing"

func TestTextSanitizer_Sanitize(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Normal. Keep it up.", "Normal. Keep it up."},
		{"タグを除去する", "<b>High</b>. Drink water.", "High. Drink water."},
		{"scriptを中身ごと除去する", "Low<script>alert(1)</script>", "Low"},
		{"改行と連続空白をまとめる", "  Normal.\n\n  Eat   regularly. ", "Normal. Eat regularly."},
		{"実体参照を戻す", "Very High &amp; rising", "Very High & rising"},
		{"空文字列", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
