package intake

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Phase is the position of a conversation in the intake script.
type Phase string

const (
	PhaseNew            Phase = "new"
	PhaseOpening        Phase = "opening"
	PhaseFraming        Phase = "framing"
	PhaseOptIn          Phase = "opt_in"
	PhaseOptedOut       Phase = "opted_out"
	PhaseFirstName      Phase = "first_name"
	PhaseFamilyName     Phase = "family_name"
	PhasePhone          Phase = "phone"
	PhaseTransition     Phase = "transition"
	PhaseFocusQuestion  Phase = "focus_question"
	PhaseContentQA      Phase = "content_qa"
	PhaseRoleShift      Phase = "role_shift"
	PhaseDecisionGate   Phase = "decision_gate"
	PhaseIntakeConfirm  Phase = "intake_confirm"
	PhaseQualification  Phase = "qualification"
	PhaseClosing        Phase = "closing"
	PhaseDeclineClosing Phase = "decline_closing"
	PhaseEnded          Phase = "ended"
)

// MaxContentQuestions bounds the free-form Q&A block.
const MaxContentQuestions = 3

// Terminal reports whether no further data is collected in p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseOptedOut, PhaseClosing, PhaseDeclineClosing, PhaseEnded:
		return true
	default:
		return false
	}
}

// AnswersFreeForm reports whether the assistant may answer content questions in p.
func (p Phase) AnswersFreeForm() bool {
	return p == PhaseContentQA
}

// ErrEmptyMessage is returned for blank user input outside the opening.
var ErrEmptyMessage = errors.New("intake: message is empty")

// Role values for transcript turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one transcript entry.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// State is the persisted position and profile of one conversation.
type State struct {
	ConversationID string       `json:"conversation_id"`
	Phase          Phase        `json:"phase"`
	QACount        int          `json:"qa_count,omitempty"`
	QuestionIndex  int          `json:"question_index,omitempty"`
	Language       string       `json:"language"`
	Contact        ContactInfo  `json:"contact"`
	Custom         CustomFields `json:"custom_fields,omitempty"`
	Transcript     []Turn       `json:"transcript,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewState starts a conversation before the opening line.
func NewState(conversationID, language string, now time.Time) *State {
	return &State{
		ConversationID: conversationID,
		Phase:          PhaseNew,
		Language:       language,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Label renders the phase with its counter, e.g. "content_qa{2}".
func (s State) Label() string {
	switch s.Phase {
	case PhaseContentQA:
		return fmt.Sprintf("%s{%d}", s.Phase, s.QACount)
	case PhaseQualification:
		return fmt.Sprintf("%s{%d}", s.Phase, s.QuestionIndex)
	default:
		return string(s.Phase)
	}
}

// CurrentQuestion returns the qualification question being asked, if any.
func (s State) CurrentQuestion() (Question, bool) {
	if s.Phase != PhaseQualification || s.QuestionIndex < 0 || s.QuestionIndex >= len(qualificationQuestions) {
		return Question{}, false
	}
	return qualificationQuestions[s.QuestionIndex].clone(), true
}

// Complete reports whether every qualification answer was captured.
func (s State) Complete() bool {
	return s.Custom.Bool(FieldIntakeComplete)
}

// Clone deep-copies the mutable parts of s.
func (s State) Clone() State {
	s.Custom = s.Custom.Clone()
	s.Transcript = append([]Turn(nil), s.Transcript...)
	return s
}

// Reprompt reasons.
const (
	ReasonUnclear      = "unclear_answer"
	ReasonInvalidPhone = "invalid_phone"
	ReasonMissingName  = "missing_name"
	ReasonEmpty        = "empty_answer"
	ReasonNoQuestion   = "no_question"
)

// Transition is the result of one deterministic step.
type Transition struct {
	From     State
	Next     State
	Reprompt bool
	Reason   string
	// Captured holds what this turn recorded from the user's own words.
	Contact *ContactInfo
	Custom  CustomFields
}

// Advance applies one user message to s. It is pure: the language model has
// no say in the outcome. Every call moves exactly one phase forward or repeats
// the current phase with a reason.
func Advance(s State, input string) Transition {
	input = strings.TrimSpace(input)
	t := Transition{From: s.Clone(), Next: s.Clone()}
	next := &t.Next

	move := func(p Phase) { next.Phase = p }
	repeat := func(reason string) {
		t.Reprompt = true
		t.Reason = reason
	}
	capture := func(fields CustomFields) {
		t.Custom = t.Custom.Merge(fields)
	}

	switch s.Phase {
	case PhaseNew, "":
		move(PhaseOpening)
	case PhaseOpening:
		move(PhaseFraming)
	case PhaseFraming:
		move(PhaseOptIn)
	case PhaseOptIn:
		switch ClassifyYesNo(input) {
		case Yes:
			move(PhaseFirstName)
		case No:
			move(PhaseOptedOut)
		default:
			repeat(ReasonUnclear)
		}
	case PhaseFirstName:
		name := CaptureName(input)
		if name == "" {
			repeat(ReasonMissingName)
			break
		}
		t.Contact = &ContactInfo{Name: name}
		move(PhaseFamilyName)
	case PhaseFamilyName:
		name := CaptureName(input)
		if name == "" {
			repeat(ReasonMissingName)
			break
		}
		t.Contact = &ContactInfo{FamilyName: name}
		move(PhasePhone)
	case PhasePhone:
		phone, ok := FindPhone(input)
		if !ok {
			repeat(ReasonInvalidPhone)
			break
		}
		contact := EnrichContact(ContactInfo{Phone: phone})
		t.Contact = &contact
		move(PhaseTransition)
	case PhaseTransition:
		move(PhaseFocusQuestion)
	case PhaseFocusQuestion:
		if input == "" {
			repeat(ReasonEmpty)
			break
		}
		next.QACount = 1
		capture(CustomFields{"question_1": input})
		move(PhaseContentQA)
	case PhaseContentQA:
		if input == "" {
			repeat(ReasonEmpty)
			break
		}
		if s.QACount >= MaxContentQuestions || WantsToStopAsking(input) {
			next.QACount = 0
			move(PhaseRoleShift)
			break
		}
		if isAcknowledgement(input) {
			repeat(ReasonNoQuestion)
			break
		}
		next.QACount = s.QACount + 1
		capture(CustomFields{fmt.Sprintf("question_%d", next.QACount): input})
	case PhaseRoleShift:
		move(PhaseDecisionGate)
	case PhaseDecisionGate, PhaseIntakeConfirm:
		switch ClassifyYesNo(input) {
		case Yes:
			if s.Phase == PhaseDecisionGate {
				move(PhaseIntakeConfirm)
			} else {
				next.QuestionIndex = 0
				move(PhaseQualification)
			}
		case No:
			capture(CustomFields{FieldDeclinedSelection: true})
			move(PhaseDeclineClosing)
		default:
			repeat(ReasonUnclear)
		}
	case PhaseQualification:
		q, ok := s.CurrentQuestion()
		if !ok {
			move(PhaseClosing)
			break
		}
		if input == "" {
			repeat(ReasonEmpty)
			break
		}
		capture(CustomFields{q.Field: q.Answer(input)})
		if s.QuestionIndex+1 < len(qualificationQuestions) {
			next.QuestionIndex = s.QuestionIndex + 1
			break
		}
		next.QuestionIndex = 0
		capture(CustomFields{FieldIntakeComplete: true})
		move(PhaseClosing)
	default:
		// Closing, decline closing, opt-out and ended all settle in ended.
		move(PhaseEnded)
	}

	if t.Contact != nil {
		next.Contact = next.Contact.Merge(*t.Contact)
	}
	next.Custom = next.Custom.Merge(t.Custom)
	return t
}

// RecordContentAnswer stores the assistant's reply to the current content
// question and returns the bookkeeping fields it set.
func (s *State) RecordContentAnswer(reply string) CustomFields {
	if s.Phase != PhaseContentQA || s.QACount < 1 {
		return nil
	}
	fields := CustomFields{
		fmt.Sprintf("answer_%d", s.QACount): reply,
		FieldQuestionsAnswered:              s.QACount,
	}
	s.Custom = s.Custom.Merge(fields)
	return fields
}
