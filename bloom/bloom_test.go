package bloom

import "testing"

func TestAddAndMaybeContains(t *testing.T) {
	f := NewForKeys(100, 10, 7)
	keys := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, k := range keys {
		f.Add(k)
	}
	for _, k := range keys {
		if !f.MaybeContains(k) {
			t.Fatalf("false negative for %q", k)
		}
	}
}

func TestMaybeContainsCanRejectAbsentKeys(t *testing.T) {
	f := NewForKeys(1000, 10, 7)
	f.Add([]byte("present"))
	// Not a guarantee for every key, but over many probes with a
	// well-sized filter we expect at least some hard negatives.
	found := false
	for i := 0; i < 1000; i++ {
		if !f.MaybeContains([]byte{byte(i), byte(i >> 8)}) {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected at least one definite negative among 1000 probes")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := NewForKeys(50, 10, 7)
	f.Add([]byte("x"))
	f.Add([]byte("y"))

	decoded, ok := Decode(f.Encode())
	if !ok {
		t.Fatal("decode failed")
	}
	if !decoded.MaybeContains([]byte("x")) || !decoded.MaybeContains([]byte("y")) {
		t.Fatal("decoded filter lost membership")
	}
}

func TestDecodeRejectsTruncated(t *testing.T) {
	if _, ok := Decode([]byte{1, 2, 3}); ok {
		t.Fatal("want decode failure on truncated input")
	}
}
