package blocksign

import (
	"path/filepath"
	"testing"

	"github.com/mvarga/horstbeacon/horst"
)

func testParams() horst.Params {
	return horst.Params{
		N:        32,
		K:        8,
		Tau:      4,
		MsgHash:  horst.Debug().MsgHash,
		TreeHash: horst.Debug().TreeHash,
	}
}

func TestSignVerifyAuthenticatesSecondBlock(t *testing.T) {
	dir := t.TempDir()
	params := testParams()

	signer, err := OpenSigner(filepath.Join(dir, "sender.bin"), params, 2, 4, 1, 3, 123)
	if err != nil {
		t.Fatalf("OpenSigner: %v", err)
	}
	defer signer.Close()

	verifier, err := OpenVerifier(filepath.Join(dir, "receiver.bin"), params, 3)
	if err != nil {
		t.Fatalf("OpenVerifier: %v", err)
	}
	defer verifier.Close()

	block1, err := signer.Sign([]byte("first frame"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	wire1, err := block1.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	payload1, state1, _, _, err := verifier.Verify(wire1)
	if err != nil {
		t.Fatalf("Verify first block: %v", err)
	}
	if state1 != Authenticated {
		t.Fatalf("expected first block to be Authenticated (TOFU bootstrap accepts unconditionally), got %s", state1)
	}
	if string(payload1) != "first frame" {
		t.Fatalf("unexpected payload: %q", payload1)
	}

	block2, err := signer.Sign([]byte("second frame"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	wire2, _ := block2.Encode()
	payload2, state2, _, _, err := verifier.Verify(wire2)
	if err != nil {
		t.Fatalf("Verify second block: %v", err)
	}
	if state2 != Authenticated {
		t.Fatalf("expected second block to be Authenticated, got %s", state2)
	}
	if string(payload2) != "second frame" {
		t.Fatalf("unexpected payload: %q", payload2)
	}
}

func TestKeyStateTracksUsageSeparatelyFromBlockAuthentication(t *testing.T) {
	dir := t.TempDir()
	params := testParams()

	signer, err := OpenSigner(filepath.Join(dir, "sender.bin"), params, 4, 4, 1, 3, 7)
	if err != nil {
		t.Fatalf("OpenSigner: %v", err)
	}
	defer signer.Close()
	verifier, err := OpenVerifier(filepath.Join(dir, "receiver.bin"), params, 3)
	if err != nil {
		t.Fatalf("OpenVerifier: %v", err)
	}
	defer verifier.Close()

	block1, err := signer.Sign([]byte("bootstrap"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	wire1, _ := block1.Encode()
	if _, state, _, _, err := verifier.Verify(wire1); err != nil || state != Authenticated {
		t.Fatalf("expected bootstrap block authenticated, got state=%v err=%v", state, err)
	}

	toVerify, err := signedMessage(block1.Payload, block1.PubKeys)
	if err != nil {
		t.Fatalf("signedMessage: %v", err)
	}
	var signingKey horst.PublicKey
	for _, entry := range block1.PubKeys {
		if horst.Verify(params, entry.PublicKey, toVerify, &block1.Signature) {
			signingKey = entry.PublicKey
			break
		}
	}
	if signingKey == "" {
		t.Fatalf("could not identify which piggybacked key signed block 1")
	}
	if verifier.KeyState(signingKey) != Authenticated {
		t.Fatalf("expected the key that actually signed block 1 to be Authenticated")
	}
	for _, entry := range block1.PubKeys {
		if entry.PublicKey == signingKey {
			continue
		}
		if state := verifier.KeyState(entry.PublicKey); state != Certified {
			t.Fatalf("expected a piggybacked-but-unused key to be Certified, got %s", state)
		}
	}
	if verifier.KeyState(horst.PublicKey("not-cached")) != Unverified {
		t.Fatalf("expected an uncached key to report Unverified")
	}
}

func TestVerifyRejectsForeignSigner(t *testing.T) {
	dir := t.TempDir()
	params := testParams()

	signerA, _ := OpenSigner(filepath.Join(dir, "a.bin"), params, 2, 4, 1, 3, 1)
	defer signerA.Close()
	signerB, _ := OpenSigner(filepath.Join(dir, "b.bin"), params, 2, 4, 1, 3, 2)
	defer signerB.Close()
	verifier, _ := OpenVerifier(filepath.Join(dir, "receiver.bin"), params, 3)
	defer verifier.Close()

	// TOFU-accept signer A first.
	blockA1, _ := signerA.Sign([]byte("from A"))
	wireA1, _ := blockA1.Encode()
	if _, state, _, _, err := verifier.Verify(wireA1); err != nil || state != Authenticated {
		t.Fatalf("expected first block authenticated via TOFU, got state=%v err=%v", state, err)
	}

	// A block from an unrelated signer must not verify.
	blockB, _ := signerB.Sign([]byte("from B"))
	wireB, _ := blockB.Encode()
	_, state, _, _, err := verifier.Verify(wireB)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if state != Unverified {
		t.Fatalf("expected foreign signer's block to be Unverified, got %s", state)
	}
}

func TestVerifierStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	params := testParams()

	signer, err := OpenSigner(filepath.Join(dir, "sender.bin"), params, 2, 4, 1, 3, 55)
	if err != nil {
		t.Fatalf("OpenSigner: %v", err)
	}
	defer signer.Close()

	verifierPath := filepath.Join(dir, "receiver.bin")
	verifier1, err := OpenVerifier(verifierPath, params, 3)
	if err != nil {
		t.Fatalf("OpenVerifier: %v", err)
	}

	for i := 0; i < 10; i++ {
		block, err := signer.Sign([]byte("frame"))
		if err != nil {
			t.Fatalf("Sign block %d: %v", i, err)
		}
		wire, err := block.Encode()
		if err != nil {
			t.Fatalf("Encode block %d: %v", i, err)
		}
		if _, state, _, _, err := verifier1.Verify(wire); err != nil || state != Authenticated {
			t.Fatalf("verify block %d: state=%v err=%v", i, state, err)
		}
	}
	if err := verifier1.Close(); err != nil {
		t.Fatalf("Close verifier1: %v", err)
	}

	verifier2, err := OpenVerifier(verifierPath, params, 3)
	if err != nil {
		t.Fatalf("reopen OpenVerifier: %v", err)
	}
	defer verifier2.Close()

	block11, err := signer.Sign([]byte("frame 11"))
	if err != nil {
		t.Fatalf("Sign block 11: %v", err)
	}
	wire11, err := block11.Encode()
	if err != nil {
		t.Fatalf("Encode block 11: %v", err)
	}
	payload, state, _, _, err := verifier2.Verify(wire11)
	if err != nil {
		t.Fatalf("verify block 11 after reload: %v", err)
	}
	if state != Authenticated {
		t.Fatalf("expected reloaded verifier to authenticate block 11 via its persisted cache, got %s", state)
	}
	if string(payload) != "frame 11" {
		t.Fatalf("unexpected payload after reload: %q", payload)
	}
}

func TestSignerStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	params := testParams()
	path := filepath.Join(dir, "sender.bin")

	signer1, err := OpenSigner(path, params, 2, 4, 1, 3, 42)
	if err != nil {
		t.Fatalf("OpenSigner: %v", err)
	}
	block1, err := signer1.Sign([]byte("payload one"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := signer1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	signer2, err := OpenSigner(path, params, 2, 4, 1, 3, 42)
	if err != nil {
		t.Fatalf("reopen OpenSigner: %v", err)
	}
	defer signer2.Close()
	block2, err := signer2.Sign([]byte("payload two"))
	if err != nil {
		t.Fatalf("Sign after reopen: %v", err)
	}
	if block2.Seq != block1.Seq+1 {
		t.Fatalf("expected sequence numbers to continue across reopen: got %d after %d", block2.Seq, block1.Seq)
	}
}
