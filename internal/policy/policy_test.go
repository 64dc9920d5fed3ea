package policy

import "testing"

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "supply"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	if err := CheckCommandAllowed([]string{"supply"}, "supply"); err != nil {
		t.Fatalf("expected command to be allowed: %v", err)
	}
	if err := CheckCommandAllowed([]string{"actions list"}, "borrow"); err == nil {
		t.Fatal("expected command to be blocked")
	}
}

func TestCheckCommandAllowedGroup(t *testing.T) {
	if err := CheckCommandAllowed([]string{"Position"}, "position update-risk-premium"); err != nil {
		t.Fatalf("expected group entry to allow subcommand: %v", err)
	}
	if err := CheckCommandAllowed([]string{"position"}, "position-manager set"); err == nil {
		t.Fatal("group entry must not match a different command sharing a prefix")
	}
}
