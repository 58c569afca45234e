package conversation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/emma-intake/internal/intake"
)

func TestNormalizeLanguage(t *testing.T) {
	tests := map[string]string{
		"es":    "es",
		"es-MX": "es",
		"ES_es": "es",
		"EN":    "en",
		"fr":    "en",
		"":      "en",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeLanguage(in), in)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	state := intake.State{
		Phase:    intake.PhasePhone,
		Language: "es",
		Contact:  intake.ContactInfo{Name: "Ana", FamilyName: "Pérez"},
		Custom:   intake.CustomFields{"b": 2, "a": "x"},
	}
	tr := intake.Advance(state, "no tengo")
	require.True(t, tr.Reprompt)

	blocks := buildSystemPrompt(tr)
	require.Len(t, blocks, 3)
	assert.Contains(t, blocks[0], "Always reply in español.")
	assert.NotContains(t, blocks[0], "{{")

	assert.True(t, strings.HasPrefix(blocks[1], "STEP: phone\n"))
	assert.Contains(t, blocks[1], intake.ReasonInvalidPhone)
	assert.Contains(t, blocks[1], stubLineMarker+defaultLines[intake.PhasePhone]["es"])

	assert.Contains(t, blocks[2], "- name: Ana")
	assert.Contains(t, blocks[2], "- phone: -")
	assert.Less(t, strings.Index(blocks[2], "- a: x"), strings.Index(blocks[2], "- b: 2"))
}

func TestDefaultLine(t *testing.T) {
	t.Run("qualification renders question and menu", func(t *testing.T) {
		tr := intake.Transition{Next: intake.State{Phase: intake.PhaseQualification, QuestionIndex: 4, Language: "es"}}
		line := defaultLine(tr)
		assert.True(t, strings.HasPrefix(line, "¿Qué productos le interesan?"))
		assert.Contains(t, line, "\n1. Life insurance\n")
	})

	t.Run("content acknowledgement asks for the next question", func(t *testing.T) {
		tr := intake.Advance(intake.State{Phase: intake.PhaseContentQA, QACount: 1, Language: "es"}, "sí, gracias")
		require.True(t, tr.Reprompt)
		assert.Equal(t, contentFollowUp["es"], defaultLine(tr))
		assert.NotContains(t, phaseDirective(tr), "Answer question 1")
	})

	t.Run("unknown language falls back to english", func(t *testing.T) {
		tr := intake.Transition{Next: intake.State{Phase: intake.PhaseOptIn, Language: "de"}}
		assert.Equal(t, defaultLines[intake.PhaseOptIn]["en"], defaultLine(tr))
	})

	t.Run("every phase has both languages", func(t *testing.T) {
		for phase, lines := range defaultLines {
			assert.NotEmpty(t, lines["en"], phase)
			assert.NotEmpty(t, lines["es"], phase)
		}
	})
}

func TestStepInstructions_ContentQAMentionsCounter(t *testing.T) {
	got := stepInstructions(intake.State{Phase: intake.PhaseContentQA, QACount: 2})
	assert.Contains(t, got, "question 2")
	assert.Contains(t, got, "question_2")
}
