package router

import (
	"regexp"
	"strings"
)

// Compiled at package init. Greetings must match the whole question after
// trimming; identity questions may carry surrounding words ("hey, who are you").
var (
	greetingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^(hi|hello|hey|hiya|howdy|greetings)( there| all| everyone)?$`),
		regexp.MustCompile(`(?i)^good (morning|afternoon|evening|day)$`),
		regexp.MustCompile(`(?i)^(thanks|thank you|thx|bye|goodbye)$`),
		regexp.MustCompile(`^(你好|您好|嗨|哈喽|哈啰|早上好|晚上好|谢谢)(呀|啊|吗)?$`),
	}

	identityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwhat('s| is) your name\b`),
		regexp.MustCompile(`(?i)\bwho are you\b`),
		regexp.MustCompile(`(?i)\bwhat (can|do) you do\b`),
		regexp.MustCompile(`(?i)\bintroduce yourself\b`),
		regexp.MustCompile(`(?i)\bare you (a bot|an ai|human)\b`),
		regexp.MustCompile(`你叫什么(名字)?`),
		regexp.MustCompile(`你是谁`),
		regexp.MustCompile(`你能做什么`),
		regexp.MustCompile(`介绍一下?你自己`),
	}
)

// trailingPunct is stripped before matching so "Hello!" and "你好。" are greetings.
const trailingPunct = " \t\r\n.!?,;:~。！？，；：～…"

// normalizeForPatterns trims whitespace and trailing punctuation.
func normalizeForPatterns(question string) string {
	return strings.TrimRight(strings.TrimSpace(question), trailingPunct)
}

// matchPatterns reports whether the question is conversational, and the kind
// of pattern that matched ("greeting" or "identity").
func matchPatterns(question string) (kind string, ok bool) {
	q := normalizeForPatterns(question)
	if q == "" {
		return "", false
	}
	for _, p := range greetingPatterns {
		if p.MatchString(q) {
			return "greeting", true
		}
	}
	for _, p := range identityPatterns {
		if p.MatchString(q) {
			return "identity", true
		}
	}
	return "", false
}

// IsConversational reports whether the pattern stage alone routes the
// question DIRECT.
func IsConversational(question string) bool {
	_, ok := matchPatterns(question)
	return ok
}
