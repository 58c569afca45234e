package intake

import (
	"regexp"
	"strconv"
	"strings"
)

// Option is one numbered choice of a qualification question.
type Option struct {
	Label    string
	Keywords []string
}

// Question is one step of the qualification sequence.
type Question struct {
	Field       string
	MultiSelect bool
	Prompt      map[string]string
	Options     []Option
}

var qualificationQuestions = []Question{
	{
		Field: "retirement_timeline",
		Prompt: map[string]string{
			"en": "When are you planning to retire?",
			"es": "¿Cuándo planea jubilarse?",
		},
		Options: []Option{
			{"Within 5 years", []string{"within 5", "less than 5", "menos de 5", "pronto", "soon"}},
			{"5-10 years", []string{"5-10", "5 to 10", "5 a 10"}},
			{"10-20 years", []string{"10-20", "10 to 20", "10 a 20"}},
			{"More than 20 years", []string{"more than 20", "20+", "más de 20", "mas de 20"}},
			{"Already retired", []string{"retired", "jubilado", "jubilada"}},
		},
	},
	{
		Field: "risk_tolerance",
		Prompt: map[string]string{
			"en": "How would you describe your risk tolerance?",
			"es": "¿Cómo describiría su tolerancia al riesgo?",
		},
		Options: []Option{
			{"Conservative", []string{"conservative", "conservador", "low risk", "bajo riesgo", "riesgo bajo"}},
			{"Moderate", []string{"moderate", "moderad", "medium", "balanced", "equilibrad"}},
			{"Aggressive", []string{"aggressive", "agresiv", "high risk", "alto riesgo", "riesgo alto"}},
		},
	},
	{
		Field: "budget_range",
		Prompt: map[string]string{
			"en": "What monthly budget are you comfortable setting aside?",
			"es": "¿Qué presupuesto mensual se siente cómodo apartando?",
		},
		Options: []Option{
			{"Under $250/month", []string{"under 250", "less than 250", "menos de 250"}},
			{"$250-$500/month", []string{"250-500", "250 to 500", "250 a 500"}},
			{"$500-$1,000/month", []string{"500-1000", "500 to 1000", "500 a 1000"}},
			{"Over $1,000/month", []string{"over 1000", "more than 1000", "más de 1000"}},
		},
	},
	{
		Field: "coverage_amount",
		Prompt: map[string]string{
			"en": "How much coverage are you looking for?",
			"es": "¿Qué monto de cobertura está buscando?",
		},
		Options: []Option{
			{"Under $100,000", []string{"under 100", "less than 100", "menos de 100"}},
			{"$100,000-$250,000", []string{"100000-250000", "100k-250k", "100 to 250"}},
			{"$250,000-$500,000", []string{"250000-500000", "250k-500k", "250 to 500"}},
			{"$500,000-$1,000,000", []string{"500000-1000000", "500k-1m", "half a million"}},
			{"Over $1,000,000", []string{"over 1m", "over a million", "more than a million", "más de un millón"}},
		},
	},
	{
		Field:       "product_interest",
		MultiSelect: true,
		Prompt: map[string]string{
			"en": "Which products interest you? You can pick more than one.",
			"es": "¿Qué productos le interesan? Puede elegir más de uno.",
		},
		Options: []Option{
			{"Life insurance", []string{"life insurance", "seguro de vida"}},
			{"Annuities", []string{"annuit", "anualidad"}},
			{"Retirement planning", []string{"retirement", "jubilación", "jubilacion", "retiro"}},
			{"Indexed universal life", []string{"iul", "indexed", "universal"}},
			{"Long-term care", []string{"long-term care", "long term care", "cuidado a largo plazo"}},
			{"College savings", []string{"college", "universidad", "education", "educación"}},
		},
	},
	{
		Field: "goal",
		Prompt: map[string]string{
			"en": "What is your primary financial goal?",
			"es": "¿Cuál es su principal objetivo financiero?",
		},
		Options: []Option{
			{"Protect my family", []string{"family", "familia", "protect", "proteger"}},
			{"Grow my savings", []string{"grow", "savings", "ahorro", "crecer"}},
			{"Retire comfortably", []string{"retire", "jubilar", "retirarme"}},
			{"Leave a legacy", []string{"legacy", "legado", "herencia"}},
			{"Reduce taxes", []string{"tax", "impuesto"}},
		},
	},
	{
		Field: "timeframe",
		Prompt: map[string]string{
			"en": "When would you like to get started?",
			"es": "¿Cuándo le gustaría comenzar?",
		},
		Options: []Option{
			{"Immediately", []string{"immediately", "right now", "asap", "inmediatamente", "ahora mismo"}},
			{"Within 1 month", []string{"1 month", "one month", "un mes", "1 mes"}},
			{"Within 3 months", []string{"3 months", "three months", "3 meses", "tres meses"}},
			{"Just exploring", []string{"exploring", "not sure", "explorando", "no sé", "no se"}},
		},
	},
}

// QualificationQuestions returns a copy of the fixed, ordered qualification
// sequence.
func QualificationQuestions() []Question {
	out := make([]Question, len(qualificationQuestions))
	for i, q := range qualificationQuestions {
		out[i] = q.clone()
	}
	return out
}

// QuestionCount is the number of qualification answers required before closing.
func QuestionCount() int { return len(qualificationQuestions) }

func (q Question) clone() Question {
	prompt := make(map[string]string, len(q.Prompt))
	for lang, text := range q.Prompt {
		prompt[lang] = text
	}
	q.Prompt = prompt
	options := make([]Option, len(q.Options))
	for i, opt := range q.Options {
		opt.Keywords = append([]string(nil), opt.Keywords...)
		options[i] = opt
	}
	q.Options = options
	return q
}

// Text returns the prompt in lang, falling back to English.
func (q Question) Text(lang string) string {
	if text, ok := q.Prompt[lang]; ok {
		return text
	}
	return q.Prompt["en"]
}

// Menu renders the numbered option list shown under the question.
func (q Question) Menu() string {
	var b strings.Builder
	for i, opt := range q.Options {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt.Label)
	}
	return b.String()
}

var (
	optionNumberRE = regexp.MustCompile(`(?:^|[^\d$,.])([1-9])(?:[^\d,.]|$)`)
	listSplitRE    = regexp.MustCompile(`(?i)\s*(?:,|;|/|&|\band\b|\by\b|\be\b)\s*`)
)

// answerNormalizer drops currency symbols and digit grouping so "$250-$500"
// and "250-500" compare equal.
var answerNormalizer = strings.NewReplacer("$", "", ",", "", "€", "")

// Answer maps a free-text reply onto the question's canonical value. Single
// choice answers yield a string; multi-select answers yield []string. Replies
// that match no option are kept as typed.
func (q Question) Answer(reply string) any {
	reply = strings.TrimSpace(reply)
	if !q.MultiSelect {
		if label, ok := q.match(reply); ok {
			return label
		}
		return reply
	}

	var picks []string
	seen := make(map[string]bool)
	for _, part := range listSplitRE.Split(reply, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value := part
		if label, ok := q.match(part); ok {
			value = label
		}
		if !seen[value] {
			seen[value] = true
			picks = append(picks, value)
		}
	}
	if len(picks) == 0 {
		return []string{reply}
	}
	return picks
}

// match resolves a bare option number first, then keywords in option order.
func (q Question) match(text string) (string, bool) {
	trimmed := strings.Trim(text, " .)")
	if n, err := strconv.Atoi(trimmed); err == nil && n >= 1 && n <= len(q.Options) {
		return q.Options[n-1].Label, true
	}
	lower := answerNormalizer.Replace(strings.ToLower(text))
	for _, opt := range q.Options {
		if strings.EqualFold(strings.TrimSpace(text), opt.Label) {
			return opt.Label, true
		}
		for _, kw := range opt.Keywords {
			if strings.Contains(lower, kw) {
				return opt.Label, true
			}
		}
	}
	if m := optionNumberRE.FindStringSubmatch(text); m != nil && len(strings.Fields(text)) <= 4 {
		n, _ := strconv.Atoi(m[1])
		if n >= 1 && n <= len(q.Options) {
			return q.Options[n-1].Label, true
		}
	}
	return "", false
}
