package credentials

import (
	"bytes"
	"testing"
)

func TestRandomShapes(t *testing.T) {
	t.Parallel()

	g := Random{}
	for i := 0; i < 50; i++ {
		key, err := g.AccessKey()
		if err != nil {
			t.Fatalf("access key: %v", err)
		}
		if !ValidAccessKey(key) {
			t.Fatalf("invalid access key %q", key)
		}
		code, err := g.ProjectCode()
		if err != nil {
			t.Fatalf("project code: %v", err)
		}
		if !ValidProjectCode(code) {
			t.Fatalf("invalid project code %q", code)
		}
		secret, err := g.Secret()
		if err != nil {
			t.Fatalf("secret: %v", err)
		}
		if len(secret) != SecretLength {
			t.Fatalf("secret length = %d, want %d", len(secret), SecretLength)
		}
	}
}

func TestValidators(t *testing.T) {
	t.Parallel()

	if ValidProjectCode("abc12345") {
		t.Fatal("lowercase code must be rejected")
	}
	if ValidProjectCode("ABC1234") {
		t.Fatal("short code must be rejected")
	}
	if ValidAccessKey("abc-123456") {
		t.Fatal("punctuation must be rejected")
	}
	if !ValidAccessKey("aB3dE6gH9j") {
		t.Fatal("expected valid key")
	}
}

func TestSecretHashRoundTrip(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckSecret(hash, "correct horse") {
		t.Fatal("expected secret to match")
	}
	if CheckSecret(hash, "wrong") {
		t.Fatal("expected mismatch")
	}
}

func TestQRPayloadAndRender(t *testing.T) {
	t.Parallel()

	payload := QRPayload("attendee", "Ana", "Expo Ciencia", "aB3dE6gH9j")
	want := "role=attendee; person=Ana; event=Expo Ciencia; key=aB3dE6gH9j"
	if payload != want {
		t.Fatalf("payload = %q, want %q", payload, want)
	}
	png, err := RenderQR(payload)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatal("expected PNG bytes")
	}
}
