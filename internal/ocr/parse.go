package ocr

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	leadingFence  = regexp.MustCompile("^```(?:json|JSON)?\\s*\\n?")
	trailingFence = regexp.MustCompile("\\n?```\\s*$")
	leadingQuotes = regexp.MustCompile("^['\"`]{3,}\\s*")
	trailingQuote = regexp.MustCompile("\\s*['\"`]{3,}$")
	jsonLabel     = regexp.MustCompile(`(?i)^json\s*\n?`)

	pyNone  = regexp.MustCompile(`\bNone\b`)
	pyTrue  = regexp.MustCompile(`\bTrue\b`)
	pyFalse = regexp.MustCompile(`\bFalse\b`)
)

// CleanResponse strips the wrapping that language models put around JSON:
// Markdown code fences, triple quotes, a bare "json" label and Python
// literals. Escaped payloads ("{\n \"k\": ...}") are unescaped.
func CleanResponse(content string) string {
	s := leadingFence.ReplaceAllString(strings.TrimSpace(content), "")
	s = trailingFence.ReplaceAllString(strings.TrimSpace(s), "")
	s = leadingQuotes.ReplaceAllString(strings.TrimSpace(s), "")
	s = trailingQuote.ReplaceAllString(strings.TrimSpace(s), "")
	s = jsonLabel.ReplaceAllString(strings.TrimSpace(s), "")
	s = strings.TrimSpace(s)

	s = replacePythonLiterals(s)

	if strings.Contains(s, `\n`) || strings.Contains(s, `\t`) || strings.Contains(s, `\"`) {
		s = unescape.Replace(s)
	}
	return s
}

var unescape = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`)

func replacePythonLiterals(s string) string {
	s = pyNone.ReplaceAllString(s, "null")
	s = pyTrue.ReplaceAllString(s, "true")
	return pyFalse.ReplaceAllString(s, "false")
}

// ParseResponse decodes an engine answer. It tries the cleaned text, then
// the text as received, then the text with only Python literals replaced.
// When none is valid JSON the raw text is returned with ok false.
func ParseResponse(content string) (v any, ok bool) {
	for _, candidate := range []string{CleanResponse(content), content, replacePythonLiterals(content)} {
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v, true
		}
	}
	return content, false
}
