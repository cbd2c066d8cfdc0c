package auth

import (
	"errors"
	"strings"
	"testing"
)

// newTestPasswordService uses bcrypt cost 4, the library minimum, so each
// hash takes milliseconds.
func newTestPasswordService() *PasswordService {
	return NewPasswordServiceForTest()
}

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_OutputLooksBcrypt(t *testing.T) {
	ps := newTestPasswordService()

	hash, err := ps.Hash("my-secret-password")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Errorf("Hash() = %q, want bcrypt $2a$ prefix", hash)
	}
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	ps := newTestPasswordService()

	h1, _ := ps.Hash("same-password")
	h2, _ := ps.Hash("same-password")
	if h1 == h2 {
		t.Error("Hash() returned identical hashes; salt is not random")
	}
}

func TestHash_LongPasswordAccepted(t *testing.T) {
	ps := newTestPasswordService()

	long := strings.Repeat("x", 500)
	hash, err := ps.Hash(long)
	if err != nil {
		t.Fatalf("Hash() error for 500-byte password = %v", err)
	}
	if err := ps.Verify(hash, long); err != nil {
		t.Errorf("Verify() on long password error = %v", err)
	}
}

func TestHash_RejectsOversizedPassword(t *testing.T) {
	ps := newTestPasswordService()

	if _, err := ps.Hash(strings.Repeat("x", MaxPasswordLength+1)); err == nil {
		t.Error("Hash() accepted a password above the maximum length")
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify(t *testing.T) {
	ps := newTestPasswordService()
	hash, err := ps.Hash("correct horse battery staple")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		hash      string
		password  string
		wantErr   bool
		wantMatch error
	}{
		{"correct password", hash, "correct horse battery staple", false, nil},
		{"wrong password", hash, "wrong", true, ErrInvalidPassword},
		{"empty password", hash, "", true, ErrInvalidPassword},
		{"empty hash", "", "anything", true, ErrInvalidPassword},
		{"garbage hash", "not-a-bcrypt-hash", "anything", true, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ps.Verify(tt.hash, tt.password)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Verify() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantMatch != nil && !errors.Is(err, tt.wantMatch) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantMatch)
			}
		})
	}
}

// Passwords that share their first 72 bytes must not verify against each
// other; raw bcrypt would truncate them to the same input.
func TestVerify_DistinguishesBeyond72Bytes(t *testing.T) {
	ps := newTestPasswordService()

	prefix := strings.Repeat("a", 72)
	hash, err := ps.Hash(prefix + "b")
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Verify(hash, prefix+"c"); !errors.Is(err, ErrInvalidPassword) {
		t.Errorf("Verify() with different suffix error = %v, want ErrInvalidPassword", err)
	}
}
