package engine

import "testing"

func TestHashBodyKeyOrderIndependent(t *testing.T) {
	a := HashBody([]byte(`{"b":2,"a":1}`))
	b := HashBody([]byte(`{"a":1,"b":2}`))
	if a != b {
		t.Fatalf("key order changed the hash: %q != %q", a, b)
	}
}

func TestHashBodyNestedKeyOrder(t *testing.T) {
	a := HashBody([]byte(`{"outer":{"y":2,"x":1},"list":[{"k":1,"j":2}]}`))
	b := HashBody([]byte(`{"list":[{"j":2,"k":1}],"outer":{"x":1,"y":2}}`))
	if a != b {
		t.Fatalf("nested key order changed the hash: %q != %q", a, b)
	}
}

func TestHashBodyDistinguishesValues(t *testing.T) {
	a := HashBody([]byte(`{"a":1}`))
	b := HashBody([]byte(`{"a":2}`))
	if a == b {
		t.Fatal("different payloads collided")
	}
}

func TestHashBodyEmptyAndNull(t *testing.T) {
	for _, raw := range [][]byte{nil, {}, []byte(`null`)} {
		if got := HashBody(raw); got != EmptyBodyHash {
			t.Errorf("HashBody(%q) = %q, want %q", raw, got, EmptyBodyHash)
		}
	}
}

func TestHashBodyNonJSON(t *testing.T) {
	got := HashBody([]byte("plain text body"))
	if got == "" || got == EmptyBodyHash {
		t.Fatalf("non-JSON body hashed to %q", got)
	}
	if len(got) > 32 {
		t.Errorf("hash length %d exceeds 32", len(got))
	}
	// Стабильность между вызовами
	if again := HashBody([]byte("plain text body")); again != got {
		t.Errorf("non-JSON hash unstable: %q != %q", again, got)
	}
}

func TestHashBodyBounded(t *testing.T) {
	big := make([]byte, 1<<16)
	for i := range big {
		big[i] = 'x'
	}
	if got := HashBody([]byte(`{"data":"` + string(big) + `"}`)); len(got) > 32 {
		t.Fatalf("hash length %d exceeds 32", len(got))
	}
}
