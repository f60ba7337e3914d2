package fieldcrypt

import (
	"errors"
	"strings"
	"testing"
)

func mustNewCipher(test *testing.T, material string) *Cipher {
	test.Helper()
	cipher, err := New(material)
	if err != nil {
		test.Fatalf("new cipher: %v", err)
	}
	return cipher
}

func TestNewRejectsEmptyKeyMaterial(test *testing.T) {
	test.Parallel()
	if _, err := New("   "); !errors.Is(err, ErrInvalidKey) {
		test.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestEncryptDecryptRoundTrip(test *testing.T) {
	test.Parallel()
	cipher := mustNewCipher(test, "test-key-material")
	for _, plaintext := range []string{
		"GIFT-1234-5678",
		"קוד קופון עם תיאור",
		"multi\nline\tvalue",
	} {
		encrypted := cipher.Encrypt(plaintext)
		if !strings.HasPrefix(encrypted, "cv1:") {
			test.Fatalf("expected versioned ciphertext, got %q", encrypted)
		}
		if decrypted := cipher.Decrypt(encrypted); decrypted != plaintext {
			test.Fatalf("round trip mismatch: %q -> %q", plaintext, decrypted)
		}
	}
}

func TestEncryptEmptyStaysEmpty(test *testing.T) {
	test.Parallel()
	cipher := mustNewCipher(test, "test-key-material")
	if encrypted := cipher.Encrypt(""); encrypted != "" {
		test.Fatalf("expected empty output for empty input, got %q", encrypted)
	}
}

func TestEncryptIsDeterministic(test *testing.T) {
	test.Parallel()
	cipher := mustNewCipher(test, "test-key-material")
	first := cipher.Encrypt("GIFT-1234")
	second := cipher.Encrypt("GIFT-1234")
	if first != second {
		test.Fatalf("expected identical ciphertexts, got %q and %q", first, second)
	}
	other := cipher.Encrypt("GIFT-1235")
	if first == other {
		test.Fatalf("expected distinct ciphertexts for distinct inputs")
	}
}

func TestDecryptReturnsLegacyPlaintextVerbatim(test *testing.T) {
	test.Parallel()
	cipher := mustNewCipher(test, "test-key-material")
	for _, value := range []string{
		"plain legacy code",
		"cv1:not-base64!!!",
		"cv1:QUJD", // valid base64, too short for nonce + tag
	} {
		if decrypted := cipher.Decrypt(value); decrypted != value {
			test.Fatalf("expected %q unchanged, got %q", value, decrypted)
		}
	}
}

func TestDecryptWithWrongKeyReturnsInput(test *testing.T) {
	test.Parallel()
	cipher := mustNewCipher(test, "key-one")
	other := mustNewCipher(test, "key-two")
	encrypted := cipher.Encrypt("secret value")
	if decrypted := other.Decrypt(encrypted); decrypted != encrypted {
		test.Fatalf("expected authentication failure to return input, got %q", decrypted)
	}
}
