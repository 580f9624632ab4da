package policy

import (
	"testing"

	"github.com/xela07ax/toolgate/internal/domain"
)

func testPolicy() *domain.Policy {
	return &domain.Policy{
		Version: 1,
		Profiles: map[string]domain.Profile{
			"research": {
				Tools:        []string{"web.search", "web.fetch"},
				DomainsAllow: []string{"example.com", "wikipedia.org"},
				DomainsDeny:  []string{"evil.com"},
			},
			"readonly": {
				ReadOnly:     true,
				DomainsAllow: []string{"*"},
			},
			"open": {
				DomainsAllow: []string{"*"},
			},
		},
		Defaults: domain.PolicyDefaults{
			ApprovalsTTLSeconds: 3600,
			DefaultProfile:      "research",
		},
	}
}

func TestEvaluateDecisions(t *testing.T) {
	cases := []struct {
		name       string
		profile    string
		tool       string
		url        string
		method     string
		decision   domain.Decision
		reason     string
		needsHuman bool
	}{
		{
			name:     "unknown profile",
			profile:  "ghost",
			tool:     "web.search",
			decision: domain.DecisionDeny,
			reason:   "Profile 'ghost' not found",
		},
		{
			name:     "tool not in allowlist",
			profile:  "research",
			tool:     "shell.execute",
			decision: domain.DecisionDeny,
			reason:   "Tool 'shell.execute' not allowed for this profile",
		},
		{
			// Проверка инструмента идет первой: при двойном нарушении
			// агент видит причину про инструмент, а не про домен
			name:     "tool check wins over domain check",
			profile:  "research",
			tool:     "shell.execute",
			url:      "https://evil.com/page",
			decision: domain.DecisionDeny,
			reason:   "Tool 'shell.execute' not allowed for this profile",
		},
		{
			name:     "domain in deny list",
			profile:  "research",
			tool:     "web.fetch",
			url:      "https://evil.com/page",
			decision: domain.DecisionDeny,
			reason:   "Domain 'evil.com' is in deny list",
		},
		{
			name:     "domain not in allow list",
			profile:  "research",
			tool:     "web.fetch",
			url:      "https://other.org/page",
			decision: domain.DecisionDeny,
			reason:   "Domain 'other.org' not in allow list",
		},
		{
			name:     "subdomain matches allow entry",
			profile:  "research",
			tool:     "web.fetch",
			url:      "https://en.wikipedia.org/wiki/Go",
			decision: domain.DecisionAllow,
		},
		{
			name:     "read-only profile rejects POST",
			profile:  "readonly",
			tool:     "web.fetch",
			url:      "https://example.com",
			method:   "POST",
			decision: domain.DecisionDeny,
			reason:   "Profile is read-only, only GET requests allowed",
		},
		{
			name:     "read-only profile passes GET",
			profile:  "readonly",
			tool:     "web.fetch",
			url:      "https://example.com",
			method:   "GET",
			decision: domain.DecisionAllow,
		},
		{
			name:     "malformed url fails closed",
			profile:  "open",
			tool:     "web.fetch",
			url:      "://no-scheme",
			decision: domain.DecisionDeny,
			reason:   "invalid action url",
		},
		{
			name:     "action without url is evaluable",
			profile:  "open",
			tool:     "events",
			decision: domain.DecisionAllow,
		},
		{
			name:       "high-risk tool flagged on unrestricted profile",
			profile:    "open",
			tool:       "shell.execute",
			decision:   domain.DecisionAllow,
			needsHuman: true,
		},
		{
			name:       "admin domain marker flagged",
			profile:    "open",
			tool:       "web.fetch",
			url:        "https://admin.example.com/users",
			decision:   domain.DecisionAllow,
			needsHuman: true,
		},
	}

	pol := testPolicy()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := &domain.EvaluationRequest{
				Profile: tc.profile,
				Action:  domain.Action{Tool: tc.tool, URL: tc.url, Method: tc.method},
			}

			got := Evaluate(pol, req)

			if got.Decision != tc.decision {
				t.Fatalf("decision = %q, want %q (reason %q)", got.Decision, tc.decision, got.Reason)
			}
			if tc.reason != "" && got.Reason != tc.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tc.reason)
			}
			if got.Constraints.RequiresApproval != tc.needsHuman {
				t.Errorf("requiresApproval = %v, want %v", got.Constraints.RequiresApproval, tc.needsHuman)
			}
			if got.ProfileApplied != tc.profile {
				t.Errorf("profileApplied = %q, want %q", got.ProfileApplied, tc.profile)
			}
		})
	}
}

// Оценка обязана быть воспроизводимой: одинаковый вход — одинаковый выход,
// включая reason-строку.
func TestEvaluateDeterministic(t *testing.T) {
	pol := testPolicy()
	req := &domain.EvaluationRequest{
		Profile: "research",
		Action:  domain.Action{Tool: "web.fetch", URL: "https://evil.com/x"},
	}

	first := Evaluate(pol, req)
	for i := 0; i < 10; i++ {
		got := Evaluate(pol, req)
		if got != first {
			t.Fatalf("evaluation diverged on run %d: %+v != %+v", i, got, first)
		}
	}
}

// Deny-лист обязан выигрывать у allow-листа при пересечении.
func TestEvaluateDenyBeatsAllow(t *testing.T) {
	pol := &domain.Policy{
		Version: 1,
		Profiles: map[string]domain.Profile{
			"p": {
				DomainsAllow: []string{"example.com"},
				DomainsDeny:  []string{"example.com"},
			},
		},
	}
	req := &domain.EvaluationRequest{
		Profile: "p",
		Action:  domain.Action{Tool: "web.fetch", URL: "https://example.com"},
	}

	got := Evaluate(pol, req)
	if got.Decision != domain.DecisionDeny {
		t.Fatalf("decision = %q, want deny", got.Decision)
	}
	if got.Reason != "Domain 'example.com' is in deny list" {
		t.Errorf("unexpected reason: %q", got.Reason)
	}
}

func TestEvaluateProfileExtendsApprovalSet(t *testing.T) {
	pol := &domain.Policy{
		Version: 1,
		Profiles: map[string]domain.Profile{
			"p": {
				DomainsAllow:           []string{"*"},
				ToolsRequireApproval:   []string{"email.send"},
				DomainsRequireApproval: []string{"payments.example.com"},
			},
		},
	}

	for _, tc := range []struct {
		name string
		req  domain.EvaluationRequest
	}{
		{"profile tool", domain.EvaluationRequest{Profile: "p", Action: domain.Action{Tool: "email.send"}}},
		{"profile domain", domain.EvaluationRequest{Profile: "p", Action: domain.Action{Tool: "web.fetch", URL: "https://payments.example.com/charge"}}},
		{"built-in tool still applies", domain.EvaluationRequest{Profile: "p", Action: domain.Action{Tool: "file.write"}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(pol, &tc.req)
			if got.Decision != domain.DecisionAllow {
				t.Fatalf("decision = %q, want allow (reason %q)", got.Decision, got.Reason)
			}
			if !got.Constraints.RequiresApproval {
				t.Error("expected requiresApproval = true")
			}
		})
	}
}
