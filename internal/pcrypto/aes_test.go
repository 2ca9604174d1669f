package pcrypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/kenchrcum/pqcrypt/internal/pqerrors"
)

func key(n int) []byte {
	k := make([]byte, n)
	for i := range k {
		k[i] = byte(i + 1)
	}
	return k
}

func TestGCMRoundTrip(t *testing.T) {
	for _, n := range []int{16, 24, 32} {
		k := key(n)
		plaintext := []byte("hello parquet column data")
		aad := []byte("file-aad||col||page")

		framed, err := EncryptGCM(plaintext, k, aad)
		if err != nil {
			t.Fatalf("EncryptGCM(%d): %v", n, err)
		}
		if len(framed) != len(plaintext)+CiphertextSizeDelta(true) {
			t.Fatalf("framed length = %d, want %d", len(framed), len(plaintext)+CiphertextSizeDelta(true))
		}
		got, err := DecryptGCM(framed, k, aad)
		if err != nil {
			t.Fatalf("DecryptGCM(%d): %v", n, err)
		}
		if !bytes.Equal(got, plaintext) {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestGCMTagSensitivity(t *testing.T) {
	k := key(32)
	aad := []byte("aad")
	framed, err := EncryptGCM([]byte("payload"), k, aad)
	if err != nil {
		t.Fatal(err)
	}

	flip := func(b []byte, i int) []byte {
		c := append([]byte(nil), b...)
		c[i] ^= 0x01
		return c
	}

	cases := map[string][]byte{
		"tag":    flip(framed, len(framed)-1),
		"nonce":  flip(framed, 4),
		"length": flip(framed, 0),
	}
	for name, tampered := range cases {
		if _, err := DecryptGCM(tampered, k, aad); err == nil {
			t.Fatalf("%s: expected failure on tampered input", name)
		}
	}
	if _, err := DecryptGCM(framed, k, []byte("different-aad")); !errors.Is(err, pqerrors.ErrAuthenticationFailed) {
		t.Fatalf("wrong aad: got %v, want ErrAuthenticationFailed", err)
	}
}

func TestCTRRoundTrip(t *testing.T) {
	k := key(16)
	plaintext := []byte("page bytes, no authentication here")
	framed, err := EncryptCTR(plaintext, k)
	if err != nil {
		t.Fatal(err)
	}
	if len(framed) != len(plaintext)+CiphertextSizeDelta(false) {
		t.Fatalf("framed length = %d, want %d", len(framed), len(plaintext)+CiphertextSizeDelta(false))
	}
	got, err := DecryptCTR(framed, k)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
	}
}

func TestInvalidKeyLength(t *testing.T) {
	if _, err := EncryptGCM([]byte("x"), key(10), nil); !errors.Is(err, pqerrors.ErrInvalidKeyLength) {
		t.Fatalf("got %v, want ErrInvalidKeyLength", err)
	}
}

func TestSignedFooterRoundTrip(t *testing.T) {
	k := key(16)
	footer := []byte("serialized thrift footer bytes")
	aad := []byte("file-aad\x00")
	nonce := make([]byte, nonceSize)
	for i := range nonce {
		nonce[i] = byte(100 + i)
	}

	framed, err := SignedFooterEncrypt(footer, k, aad, nonce)
	if err != nil {
		t.Fatal(err)
	}
	// Signature trailer stored in the file is nonce || tag, independent of
	// the length-prefixed framing used for other modules.
	body := framed[lenPrefix:]
	sig := append(append([]byte{}, body[:nonceSize]...), body[len(body)-tagSize:]...)

	if err := VerifySignedFooter(footer, k, aad, sig); err != nil {
		t.Fatalf("VerifySignedFooter: %v", err)
	}

	tampered := append([]byte{}, footer...)
	tampered[0] ^= 0x01
	if err := VerifySignedFooter(tampered, k, aad, sig); !errors.Is(err, pqerrors.ErrAuthenticationFailed) {
		t.Fatalf("tampered footer: got %v, want ErrAuthenticationFailed", err)
	}
}
