package protocol

import "strings"

// htmlEscaper 轉義所有會影響 HTML 渲染的字元
//
// 比標準庫 html.EscapeString 多轉義 '/'：
// 斜線可用於提前關閉標籤（如 </script>），一併中和。
// strings.Replacer 單趟掃描，不會出現二次轉義（& → &amp;amp;）。
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// SanitizeHTML 對使用者輸入做 HTML 轉義
//
// 策略是「中和」而非「拒絕」：含有標籤的訊息仍會送達，
// 只是以純文字呈現。主動拒絕（XSS_DETECTED）保留為未來選項。
func SanitizeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
