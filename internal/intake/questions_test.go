package intake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualificationOrder(t *testing.T) {
	fields := make([]string, 0, QuestionCount())
	for _, q := range QualificationQuestions() {
		fields = append(fields, q.Field)
		assert.NotEmpty(t, q.Text("en"))
		assert.NotEmpty(t, q.Text("es"))
		assert.Equal(t, q.Text("en"), q.Text("fr"))
	}
	assert.Equal(t, []string{
		"retirement_timeline", "risk_tolerance", "budget_range", "coverage_amount",
		"product_interest", "goal", "timeframe",
	}, fields)
	assert.Equal(t, 7, QuestionCount())
}

func TestQualificationQuestionsReturnsCopy(t *testing.T) {
	qs := QualificationQuestions()
	qs[0].Field = "changed"
	qs[0].Prompt["en"] = "changed"
	qs[0].Options[0].Label = "changed"
	qs[0].Options[0].Keywords[0] = "changed"
	copy(qs[1:], qs[2:])

	fresh := QualificationQuestions()
	assert.Equal(t, "retirement_timeline", fresh[0].Field)
	assert.Equal(t, "When are you planning to retire?", fresh[0].Text("en"))
	assert.Equal(t, "Within 5 years", fresh[0].Options[0].Label)
	assert.Equal(t, "within 5", fresh[0].Options[0].Keywords[0])
	assert.Equal(t, "risk_tolerance", fresh[1].Field)
	assert.Len(t, fresh, QuestionCount())
}

func TestQuestionAnswer(t *testing.T) {
	byField := map[string]Question{}
	for _, q := range QualificationQuestions() {
		byField[q.Field] = q
	}

	tests := []struct {
		field string
		in    string
		want  any
	}{
		{"retirement_timeline", "1", "Within 5 years"},
		{"retirement_timeline", "option 3", "10-20 years"},
		{"retirement_timeline", "I'm already retired", "Already retired"},
		{"risk_tolerance", "Moderado", "Moderate"},
		{"budget_range", "$250-$500", "$250-$500/month"},
		{"coverage_amount", "under $100,000", "Under $100,000"},
		{"product_interest", "1, 2", []string{"Life insurance", "Annuities"}},
		{"product_interest", "seguro de vida y anualidades", []string{"Life insurance", "Annuities"}},
		{"product_interest", "crypto", []string{"crypto"}},
		{"goal", "something personal", "something personal"},
		{"timeframe", "I don't know yet", "I don't know yet"},
		{"timeframe", "asap", "Immediately"},
	}
	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, byField[tt.field].Answer(tt.in))
		})
	}
}

func TestQuestionMenu(t *testing.T) {
	menu := QualificationQuestions()[1].Menu()
	assert.Equal(t, "1. Conservative\n2. Moderate\n3. Aggressive", menu)
}
