package text

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var honorifics = map[string]bool{
	"cənab":     true,
	"xanım":     true,
	"müəllim":   true,
	"dr":        true,
	"prof":      true,
	"professor": true,
	"mr":        true,
	"mrs":       true,
	"ms":        true,
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldDiacritics strips combining marks: "Əliyev" stays (Ə is a base letter)
// but "Élysée" becomes "Elysee" and the dotted "i̇" produced by lowercasing
// "İ" collapses to plain "i".
func FoldDiacritics(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeText collapses whitespace and trims the string without changing
// case or letters. Used for display names and evidence sentences.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeKey produces the deterministic canonical key for an entity name:
// lowercase, diacritics folded, honorifics and punctuation stripped,
// whitespace collapsed. Two surface forms with equal keys are the same
// entity by definition.
func NormalizeKey(s string) string {
	s = strings.ToLower(s)
	s = FoldDiacritics(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	out := fields[:0]
	for _, f := range fields {
		if honorifics[f] {
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

// Similarity returns a Levenshtein ratio in [0,1]: 1 minus the edit
// distance divided by the longer length. Equal strings score 1; two empty
// strings score 1; one empty string scores 0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 || lb == 0 {
		return 0
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(prev[lb])/float64(maxLen)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// TokenOverlap reports whether every token of the shorter name appears in
// the longer name. Catches short-form mentions like "Bayramov" inside
// "Ceyhun Bayramov".
func TokenOverlap(short, long string) bool {
	shortTokens := strings.Fields(short)
	if len(shortTokens) == 0 {
		return false
	}
	longSet := make(map[string]bool)
	for _, t := range strings.Fields(long) {
		longSet[t] = true
	}
	for _, t := range shortTokens {
		if !longSet[t] {
			return false
		}
	}
	return true
}

// SplitSentences breaks the text into sentences on terminal punctuation.
// A terminator only ends a sentence if followed by whitespace and an
// uppercase letter, a digit, or end of text, so abbreviations inside a
// sentence mostly survive.
func SplitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// swallow runs of terminators ("?!", "...")
		end := i
		for end+1 < len(runes) {
			n := runes[end+1]
			if n == '.' || n == '!' || n == '?' {
				end++
				continue
			}
			break
		}
		boundary := end+1 >= len(runes)
		if !boundary && unicode.IsSpace(runes[end+1]) {
			j := end + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			if j >= len(runes) || unicode.IsUpper(runes[j]) || unicode.IsDigit(runes[j]) {
				boundary = true
			}
		}
		if boundary {
			s := strings.TrimSpace(string(runes[start : end+1]))
			if s != "" {
				sentences = append(sentences, s)
			}
			start = end + 1
		}
		i = end
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// ContainsName reports whether the sentence mentions the given name,
// compared on normalized keys so case and diacritics do not matter.
func ContainsName(sentence, name string) bool {
	key := NormalizeKey(name)
	if key == "" {
		return false
	}
	return strings.Contains(" "+NormalizeKey(sentence)+" ", " "+key+" ")
}
