package authgate

import "testing"

func TestDigestCorrectness(t *testing.T) {
	// property 7: sha1_hex(join("-", ["hentai@home","servercmd","refresh_settings","",42,1700000000,"secret"]))
	got := sha1Digest("hentai@home", "servercmd", "refresh_settings", "", "42", "1700000000", "secret")
	want := "2f0a676b388b66c00a508b0a8c9e82df4344b761"
	if got != want {
		t.Fatalf("sha1Digest(...) = %s, want %s", got, want)
	}
}

func TestVerifyServerCommandUsesSameDigest(t *testing.T) {
	g := New(42, "secret")
	if err := g.VerifyServerCommand(1700000000, "refresh_settings", "", 1700000000, "2f0a676b388b66c00a508b0a8c9e82df4344b761"); err != nil {
		t.Fatalf("VerifyServerCommand: %v", err)
	}
}

func TestKeystampWindowBoundary(t *testing.T) {
	g := New(1, "secret")
	const fileID = "fileid"
	now := uint64(1_700_000_000)

	okTime := now - 900
	digest := sha1Digest(fmt64(okTime), fileID, "secret", "hotlinkthis")
	if err := g.VerifyFileFetch(now, fileID, okTime, digest[:10]); err != nil {
		t.Errorf("expected keystamp exactly 900s off to be accepted, got %v", err)
	}

	badTime := now - 901
	digest2 := sha1Digest(fmt64(badTime), fileID, "secret", "hotlinkthis")
	if err := g.VerifyFileFetch(now, fileID, badTime, digest2[:10]); err == nil {
		t.Error("expected keystamp 901s off to be rejected")
	}
}

func TestVerifyFileFetchRejectsForgedDigest(t *testing.T) {
	g := New(1, "secret")
	now := uint64(1_700_000_000)
	if err := g.VerifyFileFetch(now, "fileid", now, "0000000000"); err == nil {
		t.Error("expected forged digest to be rejected")
	}
}

func TestStaticRangeMembership(t *testing.T) {
	g := New(1, "secret")
	g.SetStaticRanges(map[uint16]struct{}{0x5eb2: {}})
	if !g.InStaticRange(0x5eb2) {
		t.Error("expected configured range to be a member")
	}
	if g.InStaticRange(0x0001) {
		t.Error("expected unconfigured range not to be a member")
	}
}

func TestParseKeystamp(t *testing.T) {
	ti, hash, err := ParseKeystamp("1700000000-abcdef1234")
	if err != nil {
		t.Fatalf("ParseKeystamp: %v", err)
	}
	if ti != 1700000000 || hash != "abcdef1234" {
		t.Fatalf("got (%d, %q), want (1700000000, abcdef1234)", ti, hash)
	}

	if _, _, err := ParseKeystamp("no-separator-missing"); err == nil {
		t.Error("expected malformed keystamp with bad time to error")
	}
	if _, _, err := ParseKeystamp("noseparatoratall"); err == nil {
		t.Error("expected keystamp without '-' to error")
	}
}

func fmt64(n uint64) string {
	return sprintUint(n)
}

func sprintUint(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
