package approval_test

import (
	"testing"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/approval"
)

func TestProductionGate(t *testing.T) {
	t.Parallel()
	policy := approval.ProductionGate()

	tests := []struct {
		name   string
		action approval.Action
		env    jobcore.Environment
		want   approval.Verdict
	}{
		{"pause in production is gated", approval.ActionPauseQueue, jobcore.EnvProduction, approval.Pending},
		{"credential rotation in production is gated", approval.ActionRotateCredentials, jobcore.EnvProduction, approval.Pending},
		{"resume in production is immediate", approval.ActionResumeQueue, jobcore.EnvProduction, approval.Immediate},
		{"obliterate in production is immediate", approval.ActionObliterateQueue, jobcore.EnvProduction, approval.Immediate},
		{"pause in staging is immediate", approval.ActionPauseQueue, jobcore.EnvStaging, approval.Immediate},
		{"pause in development is immediate", approval.ActionPauseQueue, jobcore.EnvDevelopment, approval.Immediate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := policy.Evaluate(tt.action, tt.env); got != tt.want {
				t.Fatalf("Evaluate(%s, %s) = %v, want %v", tt.action, tt.env, got, tt.want)
			}
		})
	}
}

func TestAllowAll(t *testing.T) {
	t.Parallel()
	policy := approval.AllowAll()
	if got := policy.Evaluate(approval.ActionPauseQueue, jobcore.EnvProduction); got != approval.Immediate {
		t.Fatalf("Evaluate = %v, want Immediate", got)
	}
}

func TestRequestResolved(t *testing.T) {
	t.Parallel()
	r := &approval.Request{Status: approval.StatusPending}
	if r.Resolved() {
		t.Fatal("pending request must not be resolved")
	}
	r.Status = approval.StatusApproved
	if !r.Resolved() {
		t.Fatal("approved request must be resolved")
	}
	r.Status = approval.StatusRejected
	if !r.Resolved() {
		t.Fatal("rejected request must be resolved")
	}
}
