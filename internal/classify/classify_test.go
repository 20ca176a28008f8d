package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/legionruntime/legion/internal/ai/aitest"
	"github.com/legionruntime/legion/pkg/models"
)

func TestClassify_Lexical(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantTier    models.Tier
		isGreeting  bool
		isCommand   bool
		isQuestion  bool
		isMultiStep bool
	}{
		{
			name:       "bare greeting",
			text:       "hey",
			wantTier:   models.TierTrivial,
			isGreeting: true,
		},
		{
			name:       "thanks with punctuation",
			text:       "thanks!",
			wantTier:   models.TierTrivial,
			isGreeting: true,
		},
		{
			name:       "two word greeting",
			text:       "good morning",
			wantTier:   models.TierTrivial,
			isGreeting: true,
		},
		{
			name:      "single command",
			text:      "send an email to john",
			wantTier:  models.TierSimple,
			isCommand: true,
		},
		{
			name:       "short question",
			text:       "what's the weather in tokyo?",
			wantTier:   models.TierSimple,
			isQuestion: true,
		},
		{
			name:        "chained actions stay simple until adjusted",
			text:        "please check my calendar and then email the summary to the team",
			wantTier:    models.TierSimple,
			isCommand:   true,
			isMultiStep: true,
		},
		{
			name:     "research verbs",
			text:     "analyze our churn numbers and compare them against last year",
			wantTier: models.TierComplex,
		},
		{
			name:     "incident language",
			text:     "production is down, users cannot login, fix it immediately",
			wantTier: models.TierCritical,
		},
		{
			name:     "empty text",
			text:     "",
			wantTier: models.TierTrivial,
		},
		{
			name:     "whitespace only",
			text:     "   \n\t",
			wantTier: models.TierTrivial,
		},
	}

	c := New(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(context.Background(), tt.text)
			if res.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s (scores %v)", res.Tier, tt.wantTier, res.Scores)
			}
			if res.Source != SourceLocal {
				t.Errorf("source = %q, want %q", res.Source, SourceLocal)
			}
			if res.Analysis.IsGreeting != tt.isGreeting {
				t.Errorf("isGreeting = %v, want %v", res.Analysis.IsGreeting, tt.isGreeting)
			}
			if res.Analysis.IsCommand != tt.isCommand {
				t.Errorf("isCommand = %v, want %v", res.Analysis.IsCommand, tt.isCommand)
			}
			if res.Analysis.IsQuestion != tt.isQuestion {
				t.Errorf("isQuestion = %v, want %v", res.Analysis.IsQuestion, tt.isQuestion)
			}
			if res.Analysis.IsMultiStep != tt.isMultiStep {
				t.Errorf("isMultiStep = %v, want %v", res.Analysis.IsMultiStep, tt.isMultiStep)
			}
			if res.Confidence <= 0 || res.Confidence > 1 {
				t.Errorf("confidence = %v, want in (0, 1]", res.Confidence)
			}
		})
	}
}

func TestClassify_WordCount(t *testing.T) {
	c := New(nil, nil)
	res := c.Classify(context.Background(), "send an email to john")
	if res.Analysis.WordCount != 5 {
		t.Errorf("wordCount = %d, want 5", res.Analysis.WordCount)
	}
}

func TestClassify_PolitenessPrefixStripped(t *testing.T) {
	c := New(nil, nil)
	for _, text := range []string{
		"please send the invite",
		"can you send the invite",
		"could you please send the invite",
	} {
		res := c.Classify(context.Background(), text)
		if !res.Analysis.IsCommand {
			t.Errorf("Classify(%q).IsCommand = false, want true", text)
		}
	}
}

func TestClassify_AIOverride(t *testing.T) {
	router := aitest.NewRouter().Enqueue(aitest.Text("moderate"))
	c := New(router, nil)

	local := New(nil, nil).Classify(context.Background(), "send an email to john")
	res := c.Classify(context.Background(), "send an email to john")

	if res.Tier != models.TierModerate {
		t.Fatalf("tier = %s, want moderate", res.Tier)
	}
	if res.Source != SourceAI {
		t.Errorf("source = %q, want %q", res.Source, SourceAI)
	}
	if res.Confidence != aiConfidence {
		t.Errorf("confidence = %v, want %v", res.Confidence, aiConfidence)
	}
	if res.Reasoning != "moderate" {
		t.Errorf("reasoning = %q, want %q", res.Reasoning, "moderate")
	}
	// Scores stay lexical even when the tier is overridden.
	for tier, score := range local.Scores {
		if res.Scores[tier] != score {
			t.Errorf("scores[%s] = %v, want %v", tier, res.Scores[tier], score)
		}
	}

	reqs := router.Requests()
	if len(reqs) != 1 {
		t.Fatalf("router calls = %d, want 1", len(reqs))
	}
	if reqs[0].RequestType != "classify" {
		t.Errorf("requestType = %q, want classify", reqs[0].RequestType)
	}
	if reqs[0].ForceTier != models.TierTrivial {
		t.Errorf("forceTier = %s, want trivial", reqs[0].ForceTier)
	}
}

func TestClassify_AIOverrideVerboseAnswer(t *testing.T) {
	router := aitest.NewRouter().Enqueue(aitest.Text("This looks COMPLEX because it spans several systems."))
	c := New(router, nil)

	res := c.Classify(context.Background(), "migrate our billing data to the new schema")
	if res.Tier != models.TierComplex {
		t.Errorf("tier = %s, want complex", res.Tier)
	}
	if res.Source != SourceAI {
		t.Errorf("source = %q, want ai", res.Source)
	}
}

func TestClassify_AIFailureKeepsLexical(t *testing.T) {
	router := aitest.NewRouter().EnqueueError(errors.New("boom"))
	c := New(router, nil)

	res := c.Classify(context.Background(), "send an email to john")
	if res.Tier != models.TierSimple {
		t.Errorf("tier = %s, want simple", res.Tier)
	}
	if res.Source != SourceLocal {
		t.Errorf("source = %q, want local after AI failure", res.Source)
	}
}

func TestClassify_AIUnparseableKeepsLexical(t *testing.T) {
	router := aitest.NewRouter().Enqueue(aitest.Text("medium-ish, hard to say"))
	c := New(router, nil)

	res := c.Classify(context.Background(), "send an email to john")
	if res.Tier != models.TierSimple {
		t.Errorf("tier = %s, want simple", res.Tier)
	}
	if res.Source != SourceLocal {
		t.Errorf("source = %q, want local", res.Source)
	}
}

func TestClassify_GreetingSkipsAI(t *testing.T) {
	router := aitest.NewRouter().Enqueue(aitest.Text("critical"))
	c := New(router, nil)

	res := c.Classify(context.Background(), "hey")
	if res.Tier != models.TierTrivial {
		t.Errorf("tier = %s, want trivial", res.Tier)
	}
	if router.Calls() != 0 {
		t.Errorf("router calls = %d, want 0 for greetings", router.Calls())
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		content string
		want    models.Tier
		ok      bool
	}{
		{"simple", models.TierSimple, true},
		{"Tier: moderate\n", models.TierModerate, true},
		{"CRITICAL", models.TierCritical, true},
		{"no idea", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseTier(tt.content)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseTier(%q) = (%s, %v), want (%s, %v)", tt.content, got, ok, tt.want, tt.ok)
		}
	}
}
