package id

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestNewAndParse(t *testing.T) {
	t.Parallel()

	generated := NewJobID()
	if generated.IsNil() {
		t.Fatal("NewJobID returned the nil ID")
	}
	if generated.Prefix() != PrefixJob {
		t.Errorf("Prefix = %q, want %q", generated.Prefix(), PrefixJob)
	}
	if !strings.HasPrefix(generated.String(), "job_") {
		t.Errorf("String = %q, want job_ prefix", generated.String())
	}

	parsed, err := Parse(generated.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed != generated {
		t.Errorf("roundtrip mismatch: %v != %v", parsed, generated)
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	tests := []string{
		"",
		"not-a-typeid",
		"job_!!!invalid!!!",
	}
	for _, s := range tests {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", s)
		}
	}
}

func TestParseWithPrefix(t *testing.T) {
	t.Parallel()

	jobID := NewJobID()
	if _, err := ParseJobID(jobID.String()); err != nil {
		t.Errorf("ParseJobID: %v", err)
	}
	if _, err := ParseWorkerID(jobID.String()); err == nil {
		t.Error("ParseWorkerID accepted a job ID, want prefix mismatch error")
	}
}

func TestNilID(t *testing.T) {
	t.Parallel()

	if !Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", Nil.String())
	}
	if Nil.Prefix() != "" {
		t.Errorf("Nil.Prefix() = %q, want empty", Nil.Prefix())
	}
}

func TestPrefixConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   ID
		want Prefix
	}{
		{NewJobID(), PrefixJob},
		{NewWorkerID(), PrefixWorker},
		{NewClaimID(), PrefixClaim},
		{NewDLQID(), PrefixDLQ},
		{NewEventID(), PrefixEvent},
		{NewCronID(), PrefixCron},
	}
	for _, tt := range tests {
		if tt.id.Prefix() != tt.want {
			t.Errorf("Prefix = %q, want %q", tt.id.Prefix(), tt.want)
		}
	}
}

func TestSortableOrdering(t *testing.T) {
	t.Parallel()

	// TypeIDs are UUIDv7-based and K-sortable: IDs generated in sequence
	// by one process compare in generation order.
	prev := NewEventID()
	for i := 0; i < 100; i++ {
		next := NewEventID()
		if next.String() <= prev.String() {
			t.Fatalf("IDs not monotonic: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestJSONRoundtrip(t *testing.T) {
	t.Parallel()

	original := NewJobID()
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded ID
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: %v != %v", decoded, original)
	}

	// Empty text decodes to the nil ID.
	var empty ID
	if err := empty.UnmarshalText(nil); err != nil {
		t.Fatalf("UnmarshalText(nil): %v", err)
	}
	if !empty.IsNil() {
		t.Error("empty text should decode to the nil ID")
	}
}

func TestSQLValueAndScan(t *testing.T) {
	t.Parallel()

	original := NewDLQID()
	v, err := original.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	s, ok := v.(string)
	if !ok || s != original.String() {
		t.Fatalf("Value = %v, want the string form", v)
	}

	var scanned ID
	if err := scanned.Scan(s); err != nil {
		t.Fatalf("Scan string: %v", err)
	}
	if scanned != original {
		t.Errorf("Scan mismatch: %v != %v", scanned, original)
	}

	var fromBytes ID
	if err := fromBytes.Scan([]byte(s)); err != nil {
		t.Fatalf("Scan bytes: %v", err)
	}
	if fromBytes != original {
		t.Errorf("Scan bytes mismatch: %v != %v", fromBytes, original)
	}

	// Nil maps to SQL NULL and back.
	nv, err := Nil.Value()
	if err != nil || nv != nil {
		t.Errorf("Nil.Value() = %v, %v, want nil, nil", nv, err)
	}
	var fromNull ID
	if err := fromNull.Scan(nil); err != nil {
		t.Fatalf("Scan nil: %v", err)
	}
	if !fromNull.IsNil() {
		t.Error("scanning NULL should produce the nil ID")
	}

	if err := scanned.Scan(42); err == nil {
		t.Error("Scan(int) succeeded, want type error")
	}
}

func TestMustParsePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("MustParse on invalid input did not panic")
		}
	}()
	MustParse("definitely not a typeid")
}
