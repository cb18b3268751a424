package intent

import "testing"

// S3: immediately-applied remember produces zero REMEMBER entries in the
// final compiled list, plus one SEND_MESSAGE if the terminal is respond.
func TestImmediatelyAppliedRememberSkipped(t *testing.T) {
	in := CompileInput{
		Terminal: TerminalInput{
			Kind:               TerminalRespond,
			RespondText:        "done",
			ConversationStatus: "active",
			Confidence:         0.8,
			RecipientID:        "user-1",
		},
		ToolOutcomes: []ToolOutcome{
			{ToolName: "core.remember", Success: true, ImmediatelyApplied: true, Data: map[string]any{"subject": "user"}},
		},
	}
	out := Compile(in)

	rememberCount := 0
	sendCount := 0
	for _, it := range out {
		if it.Kind == KindRemember {
			rememberCount++
		}
		if it.Kind == KindSendMessage {
			sendCount++
		}
	}
	if rememberCount != 0 {
		t.Fatalf("expected zero REMEMBER entries, got %d", rememberCount)
	}
	if sendCount != 1 {
		t.Fatalf("expected exactly one SEND_MESSAGE entry, got %d", sendCount)
	}
}

func TestRespondWithoutRecipientDropsSilently(t *testing.T) {
	out := Compile(CompileInput{Terminal: TerminalInput{Kind: TerminalRespond, RespondText: "hi"}})
	for _, it := range out {
		if it.Kind == KindSendMessage {
			t.Fatal("should not emit SEND_MESSAGE without a recipient")
		}
	}
}

func TestDeferIntentComputesMsFromHours(t *testing.T) {
	out := Compile(CompileInput{
		Terminal: TerminalInput{Kind: TerminalDefer, DeferSignalType: "user_message", DeferReason: "later", DeferHours: 2},
	})
	if len(out) != 1 || out[0].Kind != KindDeferSignal {
		t.Fatalf("expected single DEFER_SIGNAL intent, got %+v", out)
	}
	if out[0].Fields["deferMs"] != 2*3.6e6 {
		t.Fatalf("expected deferMs = 2h in ms, got %v", out[0].Fields["deferMs"])
	}
}

func TestThoughtsMergedIntoSingleIntent(t *testing.T) {
	out := Compile(CompileInput{CollectedThoughts: []string{"a", "b"}})
	count := 0
	for _, it := range out {
		if it.Kind == KindEmitThought {
			count++
			if it.Fields["content"] != "a\nb" {
				t.Fatalf("expected joined content, got %v", it.Fields["content"])
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one merged thought intent, got %d", count)
	}
}

func TestUnknownToolProducesNoIntent(t *testing.T) {
	out := Compile(CompileInput{ToolOutcomes: []ToolOutcome{{ToolName: "plugin.custom", Success: true}}})
	if len(out) != 0 {
		t.Fatalf("expected no intents for unknown tool, got %+v", out)
	}
}

func TestFailedToolOutcomeProducesNoIntent(t *testing.T) {
	out := Compile(CompileInput{ToolOutcomes: []ToolOutcome{{ToolName: "core.remember", Success: false}}})
	if len(out) != 0 {
		t.Fatalf("expected no intents for failed tool outcome, got %+v", out)
	}
}
