package crypto

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// A well-known test vector key; never use for real funds.
const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe51296170827936ea5cce4b76994b0f"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKeyHex, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey error: %v", err)
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey error: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("round trip = %s, want %s", got, testKeyHex)
	}
}

func TestDecryptKey_WrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "correct")
	if err != nil {
		t.Fatalf("EncryptKey error: %v", err)
	}
	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Fatal("DecryptKey with wrong password succeeded")
	}
}

func TestEncryptKey_Rejects(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		password string
	}{
		{"empty password", testKeyHex, ""},
		{"bad hex", "zzzz", "pw"},
		{"short key", "abcd", "pw"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncryptKey(tt.key, tt.password); err == nil {
				t.Error("EncryptKey succeeded, want error")
			}
		})
	}
}

func TestLoadKey_RawTakesPrecedence(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKeyHex, EncryptedKeyPath: "/nonexistent"})
	if err != nil {
		t.Fatalf("LoadKey error: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("LoadKey = %s, want %s", got, testKeyHex)
	}
}

func TestLoadKey_EncryptedFile(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "pw")
	if err != nil {
		t.Fatalf("EncryptKey error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "key.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	if err != nil {
		t.Fatalf("LoadKey error: %v", err)
	}
	if got != testKeyHex {
		t.Errorf("LoadKey = %s, want %s", got, testKeyHex)
	}
}

func TestLoadKey_NoSource(t *testing.T) {
	if _, err := LoadKey(KeyConfig{}); err == nil {
		t.Fatal("LoadKey with empty config succeeded")
	}
}

func TestAddressFromKey(t *testing.T) {
	addr, err := AddressFromKey(testKeyHex)
	if err != nil {
		t.Fatalf("AddressFromKey error: %v", err)
	}
	if addr.Hex() == "0x0000000000000000000000000000000000000000" {
		t.Error("derived zero address")
	}
	if !strings.HasPrefix(addr.Hex(), "0x") {
		t.Errorf("address %q not hex encoded", addr.Hex())
	}

	if _, err := AddressFromKey("not-hex"); err == nil {
		t.Error("AddressFromKey accepted invalid hex")
	}
}
