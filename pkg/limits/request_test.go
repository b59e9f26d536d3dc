package limits

import (
	"errors"
	"testing"
)

func TestRequestContext_SetResultOnce(t *testing.T) {
	rc := &RequestContext{ID: "r1", EstimatedInputTokens: 12, MaxOutputTokens: 30}

	if rc.HasResult() {
		t.Error("Expected no result initially")
	}
	if err := rc.SetResult(10, 20, "hello"); err != nil {
		t.Fatalf("SetResult failed: %v", err)
	}
	if err := rc.SetResult(1, 1, "again"); !errors.Is(err, ErrResultAlreadySet) {
		t.Errorf("Expected ErrResultAlreadySet, got %v", err)
	}

	result, ok := rc.Result()
	if !ok || result != "hello" {
		t.Errorf("Expected first result to stick, got %v", result)
	}
	usage, _ := rc.Usage()
	if usage.Total() != 30 {
		t.Errorf("Expected 30 total tokens, got %d", usage.Total())
	}
	if rc.EstimatedTokens() != 42 {
		t.Errorf("Expected 42 estimated tokens, got %d", rc.EstimatedTokens())
	}
}

func TestRequestContext_RejectsNegativeUsage(t *testing.T) {
	rc := &RequestContext{ID: "r1"}
	if err := rc.SetResult(-1, 0, nil); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
	if rc.HasResult() {
		t.Error("Expected rejected result not to be stored")
	}
}

func TestRequestContext_ReleasedRejectsResult(t *testing.T) {
	rc := &RequestContext{ID: "r1"}
	rc.release()
	if err := rc.SetResult(1, 1, nil); !errors.Is(err, ErrContextClosed) {
		t.Errorf("Expected ErrContextClosed, got %v", err)
	}
}

func TestPromptText(t *testing.T) {
	got := PromptText([]Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	if got != "system: be brief\nuser: hi" {
		t.Errorf("Unexpected prompt text %q", got)
	}
	if PromptText(nil) != "" {
		t.Error("Expected empty text for no messages")
	}
}
