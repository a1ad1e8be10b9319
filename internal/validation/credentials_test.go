package validation

import (
	"reflect"
	"strings"
	"testing"
)

func ptr(s string) *string { return &s }

func TestCheckUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"min length", "abc", false},
		{"max length", strings.Repeat("a", 50), false},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 51), true},
		{"empty", "", true},
		{"multibyte counted as runes", "ääa", false},
		{"nul byte", "ali\x00ce", true},
		{"newline", "ali\nce", true},
		{"invalid utf-8", "ali\xffce", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckUsername(tt.username); (len(got) > 0) != tt.wantErr {
				t.Errorf("CheckUsername(%q) = %v, wantErr %v", tt.username, got, tt.wantErr)
			}
		})
	}
}

func TestCheckEmail(t *testing.T) {
	tests := []struct {
		email   string
		wantErr bool
	}{
		{"alice@example.com", false},
		{"a.b+tag@sub.example.org", false},
		{"", true},
		{"alice", true},
		{"alice@", true},
		{"@example.com", true},
		{"alice@@example.com", true},
		{strings.Repeat("a", 60) + "@" + strings.Repeat("b", 300) + ".com", true},
		{strings.Repeat("a", 64) + "@" + strings.Repeat("b", 200) + ".com", true},
	}
	for _, tt := range tests {
		t.Run(truncate(tt.email), func(t *testing.T) {
			if got := CheckEmail(tt.email); (len(got) > 0) != tt.wantErr {
				t.Errorf("CheckEmail(%q) = %v, wantErr %v", tt.email, got, tt.wantErr)
			}
		})
	}
}

func TestCheckPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     []string
	}{
		{"valid", "Secret123", nil},
		{"too short", "Sec123", []string{"password must be at least 8 characters"}},
		{"no uppercase", "secret123", []string{"password must contain at least one uppercase letter"}},
		{"no lowercase", "SECRET123", []string{"password must contain at least one lowercase letter"}},
		{"no digit", "SecretPass", []string{"password must contain at least one digit"}},
		{"every rule violated", "", []string{
			"password must be at least 8 characters",
			"password must contain at least one uppercase letter",
			"password must contain at least one lowercase letter",
			"password must contain at least one digit",
		}},
		{"too long for bcrypt", "Aa1" + strings.Repeat("x", 70), []string{"password must be at most 72 bytes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckPassword(tt.password); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CheckPassword(%q) = %v, want %v", tt.password, got, tt.want)
			}
		})
	}
}

func TestCredentialsCheck(t *testing.T) {
	t.Run("all fields invalid enumerates every problem", func(t *testing.T) {
		problems := Credentials{Username: ptr("ab"), Email: ptr("nope"), Password: ptr("short")}.Check()
		// username + email + (length, uppercase, digit)
		if len(problems) != 5 {
			t.Errorf("len(problems) = %d, want 5: %v", len(problems), problems)
		}
	})

	t.Run("nil fields are skipped", func(t *testing.T) {
		if problems := (Credentials{Email: ptr("alice@example.com")}).Check(); len(problems) != 0 {
			t.Errorf("problems = %v, want none", problems)
		}
	})

	t.Run("no fields", func(t *testing.T) {
		if problems := (Credentials{}).Check(); len(problems) != 0 {
			t.Errorf("problems = %v, want none", problems)
		}
	})
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Alice@Example.COM "); got != "alice@example.com" {
		t.Errorf("NormalizeEmail() = %q, want %q", got, "alice@example.com")
	}
}

func TestValidateRegistration(t *testing.T) {
	if problems := ValidateRegistration("alice", "alice@example.com", "Secret123"); len(problems) != 0 {
		t.Errorf("ValidateRegistration() = %v, want none", problems)
	}
	if problems := ValidateRegistration("al", "alice@example.com", "Secret123"); len(problems) != 1 {
		t.Errorf("ValidateRegistration() = %v, want one problem", problems)
	}
}

func truncate(s string) string {
	if len(s) > 40 {
		return s[:40]
	}
	return s
}

func TestCheckEmail_LengthBoundary(t *testing.T) {
	// 64-char local part plus a 189-char domain made of valid labels.
	label := strings.Repeat("b", 62)
	domain := label + "." + label + "." + label + ".com"
	atLimit := strings.Repeat("a", EmailMaxLength-len(domain)-1) + "@" + domain
	if len(atLimit) != EmailMaxLength {
		t.Fatalf("test address length = %d, want %d", len(atLimit), EmailMaxLength)
	}
	if got := CheckEmail(atLimit); len(got) != 0 {
		t.Errorf("CheckEmail(254 chars) = %v, want no problems", got)
	}

	over := "a" + atLimit
	if got := CheckEmail(over); len(got) == 0 {
		t.Error("CheckEmail(255 chars) returned no problems")
	}
}
