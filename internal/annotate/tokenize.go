package annotate

import "strings"

// Tokenize splits a phrase on whitespace and then after every hyphen, which
// stays on the left piece: "dă-mi-l" becomes "dă-", "mi-", "l".
func Tokenize(phrase string) []string {
	var tokens []string
	for _, word := range strings.Fields(phrase) {
		for word != "" {
			i := strings.IndexByte(word, '-')
			if i < 0 || i == len(word)-1 {
				tokens = append(tokens, word)
				break
			}
			tokens = append(tokens, word[:i+1])
			word = word[i+1:]
		}
	}
	return tokens
}
