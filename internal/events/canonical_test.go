package events

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/emma-intake/internal/intake"
)

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := NewEnvelope("conversation:conv-1", "corr-1", IntakeCompletedV1{
		ConversationID: "conv-1",
		Language:       "es",
		Contact:        intake.ContactInfo{Name: "Ana", Phone: "+34600111222"},
		CustomFields:   intake.CustomFields{"goal": "Legacy"},
		CompletedAt:    fixedNow,
	}, WithEventID(id))
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if env.EventType != "intake.completed.v1" {
		t.Fatalf("unexpected type: %s", env.EventType)
	}
	if env.Aggregate != "conversation:conv-1" {
		t.Fatalf("unexpected aggregate: %s", env.Aggregate)
	}

	var decoded IntakeCompletedV1
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Contact.Name != "Ana" || decoded.CustomFields["goal"] != "Legacy" {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}

func TestNewEnvelopeErrors(t *testing.T) {
	if _, err := NewEnvelope("", "", IntakeDeclinedV1{}); err != errMissingAggregate {
		t.Fatalf("expected missing aggregate error, got %v", err)
	}
	if _, err := NewEnvelope("conversation:1", "", nil); err != errNilEvent {
		t.Fatalf("expected nil event error, got %v", err)
	}
	if _, err := NewEnvelope("conversation:1", "", badEvent{}); err == nil {
		t.Fatal("expected error for empty event type")
	}
	if err := (Envelope{EventType: "x"}).Decode(&struct{}{}); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestSubject(t *testing.T) {
	cases := map[string]string{
		"intake.completed.v1": "emma.intake.completed",
		"intake.declined.v12": "emma.intake.declined",
		"intake.vip":          "emma.intake.vip",
	}
	for in, want := range cases {
		if got := Subject(in); got != want {
			t.Fatalf("Subject(%q) = %q, want %q", in, got, want)
		}
	}
}
