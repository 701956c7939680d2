package config

import "testing"

func TestNewRejectsNonPrime(t *testing.T) {
	if _, err := New(10, CrashTolerant); err == nil {
		t.Fatal("expected configuration error for non-prime N")
	}
}

func TestNewDerivesT(t *testing.T) {
	c, err := New(7, CrashTolerant)
	if err != nil {
		t.Fatal(err)
	}
	if c.T != 3 { // ceil(log2(7)) == 3
		t.Fatalf("expected T=3, got %d", c.T)
	}
}

func TestNewHighFailureTolerantT(t *testing.T) {
	c, err := New(101, HighFailureTolerant)
	if err != nil {
		t.Fatal(err)
	}
	if c.T != 10 { // round(0.1*101) == 10
		t.Fatalf("expected T=10, got %d", c.T)
	}
}

func TestNewRejectsTTooLarge(t *testing.T) {
	// N=3 under Byzantine: ceil(log2(3))=2, N/2=1, so 2>=1 must fail.
	if _, err := New(3, Byzantine); err == nil {
		t.Fatal("expected configuration error when t >= N/2")
	}
}

func TestDeterministicXOFIsStable(t *testing.T) {
	a := DeterministicXOF(5, 2, "proxies")
	b := DeterministicXOF(5, 2, "proxies")
	bufA := make([]byte, 32)
	bufB := make([]byte, 32)
	_, _ = a.Read(bufA)
	_, _ = b.Read(bufB)
	for i := range bufA {
		if bufA[i] != bufB[i] {
			t.Fatalf("expected identical streams for identical seeds")
		}
	}
}
