package banindex

import (
	"testing"

	"github.com/marmos91/juicebox/internal/fingerprint"
)

func testFP(t *testing.T) *fingerprint.Service {
	t.Helper()
	fp, err := fingerprint.New([]byte("01234567890123456789012345678901"))
	if err != nil {
		t.Fatal(err)
	}
	return fp
}

func TestExactBanMatchesByAddress(t *testing.T) {
	fp := testFP(t)
	idx := New()

	_, hash, _ := fp.FingerprintIP("10.0.0.1")
	idx.Add(Ban{Kind: KindExact, Hash: hash})

	if !idx.IsBanned(fp, "10.0.0.1") {
		t.Fatal("expected banned address to match")
	}
	if idx.IsBanned(fp, "10.0.0.2") {
		t.Fatal("expected distinct address to not match")
	}
}

func TestExactBanMatchesByRawHash(t *testing.T) {
	fp := testFP(t)
	idx := New()

	_, hash, _ := fp.FingerprintIP("10.0.0.1")
	idx.Add(Ban{Kind: KindExact, Hash: hash})

	if !idx.IsBanned(fp, hash) {
		t.Fatal("expected raw hash to match an exact ban directly")
	}
}

func TestNetworkBanMatchesWithinRangeOnly(t *testing.T) {
	fp := testFP(t)
	idx := New()

	subject, err := AdmitSubject(fp, "203.0.113.0/24")
	if err != nil {
		t.Fatal(err)
	}
	idx.Add(subject)

	if !idx.IsBanned(fp, "203.0.113.88") {
		t.Fatal("expected address within the banned network to match")
	}
	if idx.IsBanned(fp, "203.0.114.1") {
		t.Fatal("expected address outside the banned network to not match")
	}
}

func TestAdmitSubjectRawHash(t *testing.T) {
	fp := testFP(t)
	_, hash, _ := fp.FingerprintIP("10.0.0.1")

	subject, err := AdmitSubject(fp, hash)
	if err != nil {
		t.Fatal(err)
	}
	if subject.Kind != KindExact || subject.Hash != hash {
		t.Fatalf("unexpected subject: %+v", subject)
	}
}

func TestAdmitSubjectInvalidInput(t *testing.T) {
	fp := testFP(t)
	if _, err := AdmitSubject(fp, "not an address or cidr or hash"); err == nil {
		t.Fatal("expected error for unparseable input")
	}
}

func TestIsBannedUnparsableAddressNeverMatches(t *testing.T) {
	fp := testFP(t)
	idx := New()
	idx.Add(Ban{Kind: KindExact, Hash: "deadbeef"})
	if idx.IsBanned(fp, "not-an-ip") {
		t.Fatal("unparsable address must never match a ban")
	}
}

func TestRemove(t *testing.T) {
	fp := testFP(t)
	idx := New()
	_, hash, _ := fp.FingerprintIP("10.0.0.1")
	idx.Add(Ban{Kind: KindExact, Hash: hash})
	idx.Remove(hash)
	if idx.IsBanned(fp, "10.0.0.1") {
		t.Fatal("expected removed ban to no longer match")
	}
}
