package horst

import "testing"

func TestProductionAndDebugValidate(t *testing.T) {
	if err := Production().Validate(); err != nil {
		t.Fatalf("Production params should validate: %v", err)
	}
	if err := Debug().Validate(); err != nil {
		t.Fatalf("Debug params should validate: %v", err)
	}
}

func TestValidateRejectsMismatchedTreeHashSize(t *testing.T) {
	p := Production()
	p.N = 64 // SHA3-256 only produces 32 bytes
	if err := p.Validate(); err == nil {
		t.Fatal("expected error when N does not match tree hash output size")
	}
}

func TestValidateRejectsOversizedKTau(t *testing.T) {
	p := Production()
	p.K = 1 << 20
	if err := p.Validate(); err == nil {
		t.Fatal("expected error when k*tau exceeds message digest width")
	}
}
