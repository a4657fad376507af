package fingerprint

import "testing"

func TestCompute_Deterministic(t *testing.T) {
	f1 := Compute("host-a", "linux", "amd64")
	f2 := Compute("host-a", "linux", "amd64")
	if f1 != f2 {
		t.Fatalf("fingerprint must be deterministic, got %s vs %s", f1, f2)
	}
}

func TestCompute_DifferentInputs(t *testing.T) {
	if Compute("host-a", "linux") == Compute("host-b", "linux") {
		t.Fatalf("different hosts should not produce the same fingerprint")
	}
}

func TestCompute_OrderMatters(t *testing.T) {
	if Compute("a", "b") == Compute("b", "a") {
		t.Fatalf("identifier order must be part of the fingerprint")
	}
}

func TestFromHost_Stable(t *testing.T) {
	if FromHost() != FromHost() {
		t.Fatalf("FromHost must be stable within a process")
	}
}

func TestVerify(t *testing.T) {
	fp := Compute("host-a", "linux")
	if !Verify(fp, "host-a", "linux") {
		t.Fatalf("Verify must accept matching identifiers")
	}
	if Verify(fp, "host-b", "linux") {
		t.Fatalf("Verify must reject non-matching identifiers")
	}
}
