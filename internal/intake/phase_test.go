package intake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walk feeds inputs through Advance and returns every transition.
func walk(t *testing.T, s State, inputs ...string) (State, []Transition) {
	t.Helper()
	var out []Transition
	for _, in := range inputs {
		tr := Advance(s, in)
		out = append(out, tr)
		s = tr.Next
	}
	return s, out
}

func TestAdvanceHappyPathPathA(t *testing.T) {
	start := *NewState("conv-1", "en", time.Unix(0, 0))

	s, trs := walk(t, start,
		"hi, I have a retirement question",
		"ok",
		"sounds fine",
		"yes please",
		"My name is Ana",
		"García",
		"+34 600 111 222",
		"great",
		"How do annuities work?",
		"And what about taxes?",
		"Is IUL a good idea?",
		"thanks",
		"ok",
		"yes",
		"sí",
		"2",
		"moderate",
		"3",
		"over a million",
		"life insurance and annuities",
		"leave a legacy",
		"within 3 months",
	)

	phases := make([]string, 0, len(trs))
	for _, tr := range trs {
		phases = append(phases, tr.Next.Label())
		assert.False(t, tr.Reprompt, "unexpected reprompt entering %s", tr.Next.Label())
	}
	assert.Equal(t, []string{
		"opening", "framing", "opt_in", "first_name", "family_name", "phone",
		"transition", "focus_question", "content_qa{1}", "content_qa{2}", "content_qa{3}",
		"role_shift", "decision_gate", "intake_confirm",
		"qualification{0}", "qualification{1}", "qualification{2}", "qualification{3}",
		"qualification{4}", "qualification{5}", "qualification{6}", "closing",
	}, phases)

	assert.Equal(t, "Ana", s.Contact.Name)
	assert.Equal(t, "García", s.Contact.FamilyName)
	assert.Equal(t, "+34 600 111 222", s.Contact.Phone)
	assert.Equal(t, "+34600111222", s.Contact.WhatsApp)
	assert.Equal(t, "Spain", s.Contact.CountryName)

	assert.Equal(t, "How do annuities work?", s.Custom["question_1"])
	assert.Equal(t, "Is IUL a good idea?", s.Custom["question_3"])
	assert.Equal(t, "5-10 years", s.Custom["retirement_timeline"])
	assert.Equal(t, "Moderate", s.Custom["risk_tolerance"])
	assert.Equal(t, "$500-$1,000/month", s.Custom["budget_range"])
	assert.Equal(t, "Over $1,000,000", s.Custom["coverage_amount"])
	assert.Equal(t, []string{"Life insurance", "Annuities"}, s.Custom["product_interest"])
	assert.Equal(t, "Leave a legacy", s.Custom["goal"])
	assert.Equal(t, "Within 3 months", s.Custom["timeframe"])
	assert.True(t, s.Complete())

	last := trs[len(trs)-1]
	assert.Equal(t, true, last.Custom[FieldIntakeComplete])
	assert.Equal(t, "Within 3 months", last.Custom["timeframe"])
}

func TestAdvanceEveryQualificationAnswerCaptured(t *testing.T) {
	s := State{Phase: PhaseQualification}
	for i, q := range QualificationQuestions() {
		tr := Advance(s, "1")
		require.Contains(t, tr.Custom, q.Field, "question %d", i)
		s = tr.Next
	}
	assert.Equal(t, PhaseClosing, s.Phase)
	for _, q := range QualificationQuestions() {
		assert.Contains(t, s.Custom, q.Field)
	}
}

func TestAdvanceOptInRefusalEnds(t *testing.T) {
	tr := Advance(State{Phase: PhaseOptIn}, "No, thank you")
	assert.Equal(t, PhaseOptedOut, tr.Next.Phase)
	assert.True(t, tr.Next.Phase.Terminal())
	assert.Nil(t, tr.Contact)
	assert.Empty(t, tr.Custom)

	tr = Advance(tr.Next, "wait, actually yes")
	assert.Equal(t, PhaseEnded, tr.Next.Phase)
}

func TestAdvanceRepromptsWithoutMoving(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		input  string
		reason string
	}{
		{"unclear opt-in", State{Phase: PhaseOptIn}, "what is this about?", ReasonUnclear},
		{"phone without plus", State{Phase: PhasePhone}, "600 111 222", ReasonInvalidPhone},
		{"phone too short", State{Phase: PhasePhone}, "+34 1", ReasonInvalidPhone},
		{"missing first name", State{Phase: PhaseFirstName}, "123", ReasonMissingName},
		{"unclear gate", State{Phase: PhaseDecisionGate}, "maybe", ReasonUnclear},
		{"blank qualification", State{Phase: PhaseQualification, QuestionIndex: 2}, "  ", ReasonEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := Advance(tt.state, tt.input)
			assert.True(t, tr.Reprompt)
			assert.Equal(t, tt.reason, tr.Reason)
			assert.Equal(t, tt.state.Label(), tr.Next.Label())
			assert.Nil(t, tr.Contact)
		})
	}
}

func TestAdvanceContentQAStopsEarly(t *testing.T) {
	tr := Advance(State{Phase: PhaseContentQA, QACount: 1}, "no")
	assert.Equal(t, PhaseRoleShift, tr.Next.Phase)

	tr = Advance(State{Phase: PhaseContentQA, QACount: 1}, "No, but what about estate taxes in Spain?")
	assert.Equal(t, "content_qa{2}", tr.Next.Label())
	assert.Equal(t, "No, but what about estate taxes in Spain?", tr.Custom["question_2"])
}

func TestAdvanceContentQAAcknowledgementKeepsSlot(t *testing.T) {
	start := State{Phase: PhaseContentQA, QACount: 1, Custom: CustomFields{"question_1": "What is an annuity?"}}
	for _, reply := range []string{"Yes", "Thanks, that helps", "sí, gracias"} {
		tr := Advance(start, reply)
		assert.True(t, tr.Reprompt, reply)
		assert.Equal(t, ReasonNoQuestion, tr.Reason, reply)
		assert.Equal(t, "content_qa{1}", tr.Next.Label(), reply)
		assert.NotContains(t, tr.Next.Custom, "question_2", reply)
	}

	_, trs := walk(t, start, "Yes", "How are annuities taxed?")
	assert.Equal(t, "content_qa{2}", trs[1].Next.Label())
	assert.Equal(t, "How are annuities taxed?", trs[1].Next.Custom["question_2"])
}

func TestAdvanceContentQANeverExceedsThree(t *testing.T) {
	tr := Advance(State{Phase: PhaseContentQA, QACount: 3}, "one more question please?")
	assert.Equal(t, PhaseRoleShift, tr.Next.Phase)
	assert.NotContains(t, tr.Custom, "question_4")
	assert.False(t, tr.Next.Phase.AnswersFreeForm())
}

func TestAdvanceDeclinePaths(t *testing.T) {
	for _, phase := range []Phase{PhaseDecisionGate, PhaseIntakeConfirm} {
		tr := Advance(State{Phase: phase}, "no gracias")
		assert.Equal(t, PhaseDeclineClosing, tr.Next.Phase, phase)
		assert.Equal(t, true, tr.Custom[FieldDeclinedSelection])
		assert.True(t, tr.Next.Custom.Bool(FieldDeclinedSelection))
	}
}

func TestAdvanceTerminalPhasesSettle(t *testing.T) {
	for _, phase := range []Phase{PhaseClosing, PhaseDeclineClosing, PhaseOptedOut, PhaseEnded} {
		tr := Advance(State{Phase: phase}, "hello again")
		assert.Equal(t, PhaseEnded, tr.Next.Phase)
		assert.Empty(t, tr.Custom)
	}
}

func TestAdvanceDoesNotMutateInput(t *testing.T) {
	s := State{Phase: PhaseQualification, Custom: CustomFields{"goal": "x"}}
	_ = Advance(s, "1")
	assert.Equal(t, CustomFields{"goal": "x"}, s.Custom)
	assert.Equal(t, 0, s.QuestionIndex)
}

func TestRecordContentAnswer(t *testing.T) {
	s := State{Phase: PhaseContentQA, QACount: 2}
	fields := s.RecordContentAnswer("Annuities pay a stream of income.")
	assert.Equal(t, "Annuities pay a stream of income.", fields["answer_2"])
	assert.Equal(t, 2, fields[FieldQuestionsAnswered])
	assert.Equal(t, 2, s.Custom[FieldQuestionsAnswered])

	other := State{Phase: PhaseRoleShift}
	assert.Nil(t, other.RecordContentAnswer("x"))
}
