package token

import (
	"errors"
	"testing"
	"time"
)

func fixedIssuer(secret string, ttl time.Duration, now *time.Time) *Issuer {
	iss := NewIssuer(secret, ttl)
	iss.now = func() time.Time { return *now }
	return iss
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss := fixedIssuer("s3cret", time.Hour, &now)

	issued, err := iss.Issue("device")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if issued.ID == "" || issued.Token == "" {
		t.Fatalf("empty token fields: %+v", issued)
	}
	if got := issued.ExpiresIn(); got != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", got)
	}

	subject, err := iss.Verify(issued.Token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "device" {
		t.Errorf("subject = %q, want device", subject)
	}
}

func TestVerify_rejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss := fixedIssuer("s3cret", time.Minute, &now)
	issued, err := iss.Issue("device")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := fixedIssuer("different", time.Minute, &now)
	later := now.Add(2 * time.Minute)
	expired := fixedIssuer("s3cret", time.Minute, &later)

	tests := []struct {
		name   string
		issuer *Issuer
		raw    string
	}{
		{"garbage", iss, "not-a-jwt"},
		{"wrong secret", other, issued.Token},
		{"expired", expired, issued.Token},
		{"empty", iss, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.issuer.Verify(tt.raw)
			if !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Verify err = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestIssue_uniqueIDs(t *testing.T) {
	iss := NewIssuer("s3cret", time.Hour)
	a, err := iss.Issue("device")
	if err != nil {
		t.Fatal(err)
	}
	b, err := iss.Issue("device")
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("token IDs repeat")
	}
}
