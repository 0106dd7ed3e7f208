package packer

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	p := New([]byte("test-signing-key"))
	text := `addVar(numero, 123.45)`
	packed := p.Pack(text)

	got, err := p.Unpack(packed)
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if got != text {
		t.Fatalf("round trip mismatch: got %q want %q", got, text)
	}
}

func TestUnpackRejectsFlippedByte(t *testing.T) {
	p := New([]byte("test-signing-key"))
	packed := p.Pack("addResult(x)")

	for _, idx := range []int{0, 5, 9, 20, len(packed) - 1} {
		corrupted := append([]byte(nil), packed...)
		corrupted[idx] ^= 0xFF
		if _, err := p.Unpack(corrupted); err == nil {
			t.Fatalf("expected integrity error after flipping byte %d", idx)
		}
	}
}

func TestUnpackRejectsShortInput(t *testing.T) {
	p := New([]byte("k"))
	if _, err := p.Unpack([]byte("short")); err == nil {
		t.Fatal("expected error on short input")
	}
}

func TestUnpackRejectsWrongKey(t *testing.T) {
	packed := New([]byte("key-a")).Pack("addVar(x,1)")
	if _, err := New([]byte("key-b")).Unpack(packed); err == nil {
		t.Fatal("expected hmac mismatch with wrong key")
	}
}

func TestUnpackRejectsMagicMismatch(t *testing.T) {
	p := New([]byte("k"))
	packed := p.Pack("addVar(x,1)")
	packed[0] = 'X'
	if _, err := p.Unpack(packed); err == nil {
		t.Fatal("expected magic mismatch error")
	}
}
