package queue

import (
	"testing"
)

func TestAdmissionConcurrencyCap(t *testing.T) {
	t.Parallel()

	a := NewAdmission(Limit{JobType: "bulk-submission", MaxConcurrency: 2})

	if !a.Acquire("bulk-submission", "") {
		t.Fatal("first acquire should succeed")
	}
	if !a.Acquire("bulk-submission", "") {
		t.Fatal("second acquire should succeed")
	}
	if a.Acquire("bulk-submission", "") {
		t.Fatal("third acquire should be rejected at MaxConcurrency 2")
	}
	if got := a.ActiveCount("bulk-submission"); got != 2 {
		t.Fatalf("ActiveCount = %d, want 2", got)
	}

	a.Release("bulk-submission", "")
	if !a.Acquire("bulk-submission", "") {
		t.Fatal("acquire after release should succeed")
	}
}

func TestAdmissionUnconfiguredTypeAlwaysAdmitted(t *testing.T) {
	t.Parallel()

	a := NewAdmission(Limit{JobType: "bulk-submission", MaxConcurrency: 1})

	for i := 0; i < 10; i++ {
		if !a.Acquire("pdf-render", "") {
			t.Fatalf("acquire %d for unconfigured type should succeed", i)
		}
	}
	if got := a.ActiveCount("pdf-render"); got != 0 {
		t.Fatalf("ActiveCount for unconfigured type = %d, want 0 (not tracked)", got)
	}
}

func TestAdmissionRateLimit(t *testing.T) {
	t.Parallel()

	a := NewAdmission(Limit{JobType: "status-poll", RateLimit: 1, RateBurst: 2})

	// Burst allows the first two, then the bucket is empty.
	if !a.Acquire("status-poll", "") {
		t.Fatal("first acquire should succeed within burst")
	}
	if !a.Acquire("status-poll", "") {
		t.Fatal("second acquire should succeed within burst")
	}
	if a.Acquire("status-poll", "") {
		t.Fatal("third acquire should be rate limited")
	}
}

func TestAdmissionOrgLimits(t *testing.T) {
	t.Parallel()

	a := NewAdmission(Limit{JobType: "bulk-submission", MaxConcurrency: 10})
	a.SetOrgLimit(OrgLimit{JobType: "bulk-submission", OrgID: "org_1", MaxConcurrency: 1})

	if !a.Acquire("bulk-submission", "org_1") {
		t.Fatal("first acquire for org_1 should succeed")
	}
	if a.Acquire("bulk-submission", "org_1") {
		t.Fatal("second acquire for org_1 should hit the org cap")
	}
	// Other orgs are unaffected by org_1's cap.
	if !a.Acquire("bulk-submission", "org_2") {
		t.Fatal("acquire for org_2 should succeed")
	}
	if got := a.OrgActiveCount("bulk-submission", "org_1"); got != 1 {
		t.Fatalf("OrgActiveCount org_1 = %d, want 1", got)
	}

	a.Release("bulk-submission", "org_1")
	if got := a.OrgActiveCount("bulk-submission", "org_1"); got != 0 {
		t.Fatalf("OrgActiveCount after release = %d, want 0", got)
	}
	if !a.Acquire("bulk-submission", "org_1") {
		t.Fatal("acquire after org release should succeed")
	}
}

func TestAdmissionSetLimitPreservesActive(t *testing.T) {
	t.Parallel()

	a := NewAdmission(Limit{JobType: "export", MaxConcurrency: 3})
	if !a.Acquire("export", "") || !a.Acquire("export", "") {
		t.Fatal("setup acquires failed")
	}

	// Tighten the cap below the current active count.
	a.SetLimit(Limit{JobType: "export", MaxConcurrency: 2})

	if got := a.ActiveCount("export"); got != 2 {
		t.Fatalf("ActiveCount after SetLimit = %d, want 2 preserved", got)
	}
	if a.Acquire("export", "") {
		t.Fatal("acquire should be rejected at the tightened cap")
	}

	a.Release("export", "")
	if !a.Acquire("export", "") {
		t.Fatal("acquire should succeed once back under the cap")
	}
}

func TestAdmissionSetOrgLimitPreservesActive(t *testing.T) {
	t.Parallel()

	a := NewAdmission()
	a.SetOrgLimit(OrgLimit{JobType: "bulk-submission", OrgID: "org_9", MaxConcurrency: 5})

	if !a.Acquire("bulk-submission", "org_9") {
		t.Fatal("acquire should succeed")
	}

	a.SetOrgLimit(OrgLimit{JobType: "bulk-submission", OrgID: "org_9", MaxConcurrency: 1})

	if got := a.OrgActiveCount("bulk-submission", "org_9"); got != 1 {
		t.Fatalf("OrgActiveCount after SetOrgLimit = %d, want 1 preserved", got)
	}
	if a.Acquire("bulk-submission", "org_9") {
		t.Fatal("acquire should be rejected at the tightened org cap")
	}
}
