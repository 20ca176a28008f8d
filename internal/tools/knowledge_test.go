package tools

import (
	"context"
	"errors"
	"testing"
)

func TestSearchKnowledge(t *testing.T) {
	reg, deps := fullRegistry(t)
	kb := deps.Knowledge.(*fakeKnowledge)
	kb.snippets = []KnowledgeSnippet{
		{Library: "Runbooks", Document: "deploys", Content: "Roll back with the previous tag.", Score: 0.88},
	}

	res, err := reg.Execute(context.Background(), "searchKnowledge", map[string]any{
		"query": "how do I roll back a deploy",
	}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	payload := res.Result.(map[string]any)
	if payload["count"] != 1 {
		t.Errorf("count = %v", payload["count"])
	}

	if kb.lastQuery != "how do I roll back a deploy" {
		t.Errorf("query = %q", kb.lastQuery)
	}
	if kb.lastTopK != defaultKnowledgeResults {
		t.Errorf("topK = %d, want default %d", kb.lastTopK, defaultKnowledgeResults)
	}
	if kb.lastMin != defaultKnowledgeMinScore {
		t.Errorf("minScore = %f", kb.lastMin)
	}
}

func TestSearchKnowledge_MaxResults(t *testing.T) {
	reg, deps := fullRegistry(t)
	kb := deps.Knowledge.(*fakeKnowledge)

	if _, err := reg.Execute(context.Background(), "searchKnowledge", map[string]any{
		"query": "quota policy", "maxResults": 7,
	}, testToolContext()); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if kb.lastTopK != 7 {
		t.Errorf("topK = %d, want 7", kb.lastTopK)
	}
}

func TestSearchKnowledge_Validation(t *testing.T) {
	reg, _ := fullRegistry(t)

	res, err := reg.Execute(context.Background(), "searchKnowledge", map[string]any{
		"query": "   ",
	}, testToolContext())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Success {
		t.Fatal("blank query accepted")
	}
}

func TestSearchKnowledge_BackendErrorIsTransient(t *testing.T) {
	reg, deps := fullRegistry(t)
	deps.Knowledge.(*fakeKnowledge).err = errors.New("index offline")

	if _, err := reg.Execute(context.Background(), "searchKnowledge", map[string]any{
		"query": "quota policy",
	}, testToolContext()); err == nil {
		t.Fatal("backend failure should surface as a Go error for recovery")
	}
}
