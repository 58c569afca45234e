package intake

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Decision is the outcome of classifying a yes/no reply.
type Decision int

const (
	Unclear Decision = iota
	Yes
	No
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unclear"
	}
}

var (
	affirmativeWords = wordSet("yes", "yeah", "yep", "yup", "sure", "ok", "okay", "absolutely", "definitely",
		"certainly", "continue", "proceed", "ready", "agree", "si", "sí", "claro", "dale", "vale", "adelante",
		"bueno", "perfecto", "acepto", "listo", "lista")
	negativeWords = wordSet("no", "nope", "nah", "not", "never", "stop", "cancel", "decline", "pass",
		"nunca", "cancelar", "paso")

	// Phrases are checked before single words and override them.
	affirmativePhrases = []string{"of course", "go ahead", "let's go", "lets go", "let's do it", "sounds good",
		"no problem", "no worries", "why not", "por supuesto", "de acuerdo", "sin problema", "por qué no", "por que no"}
	negativePhrases = []string{"no thanks", "no thank you", "not now", "not interested", "maybe later",
		"rather not", "no gracias", "no quiero", "ahora no", "no me interesa", "no estoy interesad"}
	unclearPhrases = []string{"not sure", "don't know", "dont know", "no sé", "no se", "no estoy segur", "maybe", "quizás", "quizas", "tal vez"}
)

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// ClassifyYesNo reads an English or Spanish reply to a yes/no prompt. The
// earliest decisive word wins; known phrases take precedence over words.
func ClassifyYesNo(reply string) Decision {
	text := strings.ToLower(normalizeQuotes(reply))
	for _, p := range unclearPhrases {
		if containsPhrase(text, p) {
			return Unclear
		}
	}
	for _, p := range affirmativePhrases {
		if containsPhrase(text, p) {
			return Yes
		}
	}
	for _, p := range negativePhrases {
		if containsPhrase(text, p) {
			return No
		}
	}
	for _, w := range words(text) {
		if affirmativeWords[w] {
			return Yes
		}
		if negativeWords[w] {
			return No
		}
	}
	return Unclear
}

// WantsToStopAsking reports whether a reply to the "any other question?"
// prompt declines further questions.
func WantsToStopAsking(reply string) bool {
	text := strings.ToLower(normalizeQuotes(reply))
	for _, p := range []string{"no more", "that's all", "thats all", "that is all", "nothing else", "eso es todo", "nada más", "nada mas", "ninguna"} {
		if containsPhrase(text, p) {
			return true
		}
	}
	ws := words(text)
	return len(ws) > 0 && len(ws) <= 4 && ClassifyYesNo(reply) == No
}

var acknowledgementWords = wordSet("yes", "yeah", "yep", "sure", "ok", "okay", "thanks", "thank", "thx", "you",
	"that", "that's", "it", "helps", "helped", "helpful", "great", "good", "perfect", "cool", "awesome", "nice",
	"got", "very", "much", "so", "a", "lot", "really", "i", "do", "have", "another", "one", "question",
	"si", "sí", "claro", "gracias", "perfecto", "vale", "bien", "muy", "me", "ayuda", "ayudó", "ayudo",
	"entendido", "tengo", "otra", "pregunta", "una")

// isAcknowledgement reports whether a reply to "does that help, and do you
// have another question?" only agrees or thanks without asking anything.
func isAcknowledgement(reply string) bool {
	if strings.ContainsAny(reply, "?¿") {
		return false
	}
	ws := words(strings.ToLower(normalizeQuotes(reply)))
	if len(ws) == 0 {
		return false
	}
	for _, w := range ws {
		if !acknowledgementWords[w] {
			return false
		}
	}
	return true
}

func words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// containsPhrase matches p on word boundaries so "no" never matches "know".
func containsPhrase(text, p string) bool {
	for from := 0; from <= len(text); {
		i := strings.Index(text[from:], p)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(p)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		from = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !unicode.IsLetter(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !unicode.IsLetter(r)
}

var quoteNormalizer = strings.NewReplacer(
	"’", "'",
	"‘", "'",
	"′", "'",
)

func normalizeQuotes(text string) string {
	return quoteNormalizer.Replace(text)
}

const nameWordPattern = `[\p{L}][\p{L}\p{M}'-]*`

var (
	namePhrasePattern = nameWordPattern + `(?:\s+` + nameWordPattern + `){0,2}`
	namePatterns      = []*regexp.Regexp{
		regexp.MustCompile(`(?i)my name is\s+(` + namePhrasePattern + `)`),
		regexp.MustCompile(`(?i)(?:my )?(?:last|family|sur)\s?name is\s+(` + namePhrasePattern + `)`),
		regexp.MustCompile(`(?i)call me\s+(` + namePhrasePattern + `)`),
		regexp.MustCompile(`(?i)(?:^|\s)i'?m\s+(` + namePhrasePattern + `)(?:\s|,|\.|!|$)`),
		regexp.MustCompile(`(?i)(?:^|\s)i am\s+(` + namePhrasePattern + `)(?:\s|,|\.|!|$)`),
		regexp.MustCompile(`(?i)(?:^|\s)it'?s\s+(` + namePhrasePattern + `)(?:\s|,|\.|!|$)`),
		regexp.MustCompile(`(?i)me llamo\s+(` + namePhrasePattern + `)`),
		regexp.MustCompile(`(?i)mi (?:nombre|apellido) es\s+(` + namePhrasePattern + `)`),
		regexp.MustCompile(`(?i)(?:^|\s)soy\s+(` + namePhrasePattern + `)`),
	}
	notNameWords = wordSet("the", "a", "an", "and", "is", "my", "name", "yes", "no", "ok", "okay", "hi", "hello",
		"hola", "sure", "thanks", "gracias", "me", "it", "its", "it's", "i'm", "el", "la", "y", "es", "mi", "nombre")

	// evasiveWords mark a reply that questions or refuses the prompt.
	evasiveWords = wordSet("what", "why", "how", "who", "where", "when", "which", "rather", "not", "don't", "dont",
		"won't", "wont", "prefer", "skip", "need", "qué", "que", "por", "cómo", "como", "quién", "quien", "para",
		"prefiero", "paso", "porque")
)

// maxBareNameWords bounds a reply taken as a name without an introduction.
const maxBareNameWords = 4

// CaptureName pulls a personal name out of a reply to a name prompt. It tries
// the introduction phrases first and falls back to the leading name-like
// words of the reply. An empty result means no name was found.
func CaptureName(reply string) string {
	text := normalizeQuotes(strings.TrimSpace(reply))
	if text == "" {
		return ""
	}
	for _, re := range namePatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if name := joinNameParts(m[1]); name != "" {
				return name
			}
		}
	}
	if !looksLikeBareName(text) {
		return ""
	}
	return joinNameParts(text)
}

// looksLikeBareName rejects questions, refusals and sentences that carry no
// introduction phrase.
func looksLikeBareName(text string) bool {
	if strings.ContainsAny(text, "?¿") {
		return false
	}
	fields := strings.Fields(text)
	if len(fields) > maxBareNameWords {
		return false
	}
	for _, w := range words(strings.ToLower(text)) {
		if evasiveWords[w] {
			return false
		}
	}
	return true
}

func joinNameParts(raw string) string {
	parts := make([]string, 0, 3)
	for _, word := range strings.Fields(raw) {
		cleaned := strings.Trim(word, ".,!?\"()[]{}'-")
		if cleaned == "" {
			continue
		}
		if !looksLikeNameWord(cleaned) || notNameWords[strings.ToLower(cleaned)] {
			if len(parts) > 0 {
				break
			}
			continue
		}
		parts = append(parts, capitalize(cleaned))
		if len(parts) == 3 {
			break
		}
	}
	return strings.Join(parts, " ")
}

func looksLikeNameWord(word string) bool {
	n := utf8.RuneCountInString(word)
	if n < 2 || n > 30 {
		return false
	}
	for _, r := range word {
		if !unicode.IsLetter(r) && !unicode.Is(unicode.Mn, r) && r != '\'' && r != '-' {
			return false
		}
	}
	return true
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if unicode.IsUpper(r) {
		return word
	}
	return string(unicode.ToUpper(r)) + word[size:]
}

var phoneCandidateRE = regexp.MustCompile(`\+[\d\s\-().]{6,24}\d`)

// FindPhone returns the first plus-prefixed number in reply that carries
// between 7 and 15 digits, trimmed of trailing punctuation. Numbers without
// a leading "+" are rejected so the caller can re-prompt.
func FindPhone(reply string) (string, bool) {
	for _, candidate := range phoneCandidateRE.FindAllString(reply, -1) {
		candidate = strings.TrimSpace(candidate)
		digits := 0
		for _, r := range candidate {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 7 && digits <= 15 {
			return candidate, true
		}
	}
	return "", false
}
