package token

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestHashSHA256Hex_KnownVector(t *testing.T) {
	t.Parallel()

	got := HashSHA256Hex("abc")
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got != want {
		t.Fatalf("HashSHA256Hex(abc)=%q want=%q", got, want)
	}
}

func TestHashHMACSHA256Hex_KeyMatters(t *testing.T) {
	t.Parallel()

	a := HashHMACSHA256Hex("payload", []byte("key-a"))
	b := HashHMACSHA256Hex("payload", []byte("key-b"))
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("expected 64 hex chars, got %d and %d", len(a), len(b))
	}
	if a == b {
		t.Fatalf("expected different digests for different keys")
	}
	if a != HashHMACSHA256Hex("payload", []byte("key-a")) {
		t.Fatalf("expected deterministic digest")
	}
}

func TestSecretFromEnv(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		wantErr error
	}{
		{name: "missing", value: "", wantErr: ErrSecretMissing},
		{name: "blank", value: "   ", wantErr: ErrSecretMissing},
		{name: "short", value: "too-short", wantErr: ErrSecretTooShort},
		{name: "ok", value: "  " + strings.Repeat("s", MinSecretBytes) + "  "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(SecretEnvKey, tc.value)
			got, err := SecretFromEnv(MinSecretBytes)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != MinSecretBytes {
				t.Fatalf("expected trimmed secret of %d bytes, got %d", MinSecretBytes, len(got))
			}
		})
	}
}

func TestDeriveKey_PurposeSeparation(t *testing.T) {
	t.Parallel()

	secret := []byte(strings.Repeat("m", MinSecretBytes))

	invite, err := DeriveKey(secret, PurposeInviteSigning, 32)
	if err != nil {
		t.Fatalf("derive invite: %v", err)
	}
	ledger, err := DeriveKey(secret, PurposeLedgerKey, 32)
	if err != nil {
		t.Fatalf("derive ledger: %v", err)
	}
	if bytes.Equal(invite, ledger) {
		t.Fatalf("expected distinct sub-keys per purpose")
	}

	again, err := DeriveKey(secret, PurposeInviteSigning, 32)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	if !bytes.Equal(invite, again) {
		t.Fatalf("expected deterministic derivation")
	}
}

func TestDeriveKey_InvalidInput(t *testing.T) {
	t.Parallel()

	if _, err := DeriveKey(nil, PurposeLedgerKey, 32); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
	if _, err := DeriveKey([]byte("secret"), " ", 32); !errors.Is(err, ErrPurpose) {
		t.Fatalf("expected ErrPurpose, got %v", err)
	}
	k, err := DeriveKey([]byte("secret"), PurposeLedgerKey, 0)
	if err != nil {
		t.Fatalf("derive default size: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected default 32-byte key, got %d", len(k))
	}
}
