package issuance

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/embed"
	"github.com/starford/tracemark/internal/fingerprint"
	"github.com/starford/tracemark/internal/imaging"
	"github.com/starford/tracemark/internal/sse"
	"github.com/starford/tracemark/internal/testutil"
)

var green = color.NRGBA{G: 128, A: 255}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishLedgerEvent(kind string, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, kind)
}

func (p *recordingPublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func testService(t *testing.T) (*Service, string, *recordingPublisher) {
	t.Helper()
	db := testutil.TestDB(t)
	dir, store := testutil.TestStore(t)
	pub := &recordingPublisher{}
	svc := NewService(store, db, db, testutil.Rand(1), WithPublisher(pub))
	return svc, dir, pub
}

func TestIssueAndScan_Carol(t *testing.T) {
	svc, dir, pub := testService(t)
	ctx := context.Background()

	uid, err := svc.Register(ctx, "Carol", "carol@example.com", "321")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	src := testutil.SolidPNG(t, 30, 30, green)

	entry, err := svc.Issue(ctx, IssueRequest{
		IdentityID: uid, Source: src, SourceName: "test2.png", ConnectedName: "LeakCarol",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(entry.ArtifactRef, "test2_images/LeakCarol_") || !strings.HasSuffix(entry.ArtifactRef, ".png") {
		t.Errorf("artifact ref = %q", entry.ArtifactRef)
	}
	if !strings.HasPrefix(string(entry.Token), "Carol_carol@example.com_") {
		t.Errorf("token = %q", entry.Token)
	}
	if len(entry.Perturbation) != embed.DefaultSites {
		t.Errorf("perturbation len = %d", len(entry.Perturbation))
	}

	written := filepath.Join(dir, filepath.FromSlash(entry.ArtifactRef))
	res, err := svc.ScanPath(ctx, written)
	if err != nil {
		t.Fatalf("ScanPath: %v", err)
	}
	if !res.Found || res.ConnectedName != "LeakCarol" || res.IdentityID != uid {
		t.Errorf("scan = %+v, want LeakCarol", res)
	}

	data, _ := os.ReadFile(written)
	if fingerprint.Of(data).String() != entry.Fingerprint {
		t.Error("recorded fingerprint does not match stored bytes")
	}
	decoded, _, err := imaging.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if mm := embed.Verify(decoded, entry.Perturbation); len(mm) != 0 {
		t.Errorf("stored artifact does not match perturbation record: %+v", mm)
	}

	kinds := pub.kinds()
	if len(kinds) != 2 || kinds[0] != sse.EventIssuanceCreated || kinds[1] != sse.EventLeakDetected {
		t.Errorf("events = %v", kinds)
	}
}

func TestScan_NeverIssued(t *testing.T) {
	svc, _, pub := testService(t)
	res, err := svc.Scan(context.Background(), testutil.SolidPNG(t, 10, 10, color.White))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Found {
		t.Errorf("scan = %+v, want not found", res)
	}
	if k := pub.kinds(); len(k) != 1 || k[0] != sse.EventLeakUnknown {
		t.Errorf("events = %v", k)
	}
}

func TestScanPath_Unreadable(t *testing.T) {
	svc, _, _ := testService(t)
	_, err := svc.ScanPath(context.Background(), "nonexistent_file.png")
	if !errors.Is(err, apperr.ErrIO) {
		t.Errorf("err = %v, want ErrIO", err)
	}
}

func TestScan_ReencodedArtifactNotAttributed(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	uid, _ := svc.Register(ctx, "Dave", "dave@example.com", "")
	entry, err := svc.Issue(ctx, IssueRequest{
		IdentityID: uid, Source: testutil.SolidPNG(t, 20, 20, color.NRGBA{R: 128, B: 128, A: 255}),
		SourceName: "test4.png", ConnectedName: "TestDave",
	})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := svc.ReadArtifact(entry.ArtifactRef)
	img, _, _ := imaging.Decode(data)
	img.Pix[0]++ // a single channel tweak re-encodes to different bytes
	reencoded, _ := imaging.Encode(img)

	res, err := svc.Scan(ctx, reencoded)
	if err != nil {
		t.Fatal(err)
	}
	if res.Found {
		t.Error("modified artifact should not match by fingerprint")
	}
}

func TestIssueBatch_UniqueArtifacts(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	uid, _ := svc.Register(ctx, "Bob", "bob@example.com", "123")
	src := testutil.SolidPNG(t, 20, 20, color.NRGBA{B: 255, A: 255})

	names := []string{"Team A", "Team B", "Team A"}
	entries, err := svc.IssueBatch(ctx, uid, src, "photo.png", names)
	if err != nil {
		t.Fatalf("IssueBatch: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	paths := map[string]bool{}
	fps := map[string]bool{}
	for _, e := range entries {
		paths[e.ArtifactRef] = true
		fps[e.Fingerprint] = true
		if !strings.HasPrefix(e.ArtifactRef, "photo_images/Team_") {
			t.Errorf("artifact ref = %q", e.ArtifactRef)
		}
	}
	if len(paths) != 3 || len(fps) != 3 {
		t.Errorf("expected distinct paths and fingerprints, got %d and %d", len(paths), len(fps))
	}

	list, err := svc.ListIssuances(ctx, uid)
	if err != nil || len(list) != 3 {
		t.Errorf("ListIssuances = %d, %v", len(list), err)
	}
	for i, e := range entries {
		res, err := svc.Scan(ctx, mustRead(t, svc, e.ArtifactRef))
		if err != nil || res.ConnectedName != names[i] {
			t.Errorf("scan %d = %+v, %v", i, res, err)
		}
	}
}

func TestIssue_Validation(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	uid, _ := svc.Register(ctx, "Eve", "eve@example.com", "")
	src := testutil.SolidPNG(t, 4, 4, color.Black)

	cases := []struct {
		name string
		req  IssueRequest
		want error
	}{
		{"no connected name", IssueRequest{IdentityID: uid, Source: src}, apperr.ErrInvalidInput},
		{"empty source", IssueRequest{IdentityID: uid, ConnectedName: "x"}, apperr.ErrInvalidInput},
		{"garbage source", IssueRequest{IdentityID: uid, Source: []byte("nope"), ConnectedName: "x"}, apperr.ErrInvalidInput},
		{"unknown identity", IssueRequest{IdentityID: 999, Source: src, ConnectedName: "x"}, apperr.ErrNotFound},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := svc.Issue(ctx, c.req); !errors.Is(err, c.want) {
				t.Errorf("err = %v, want %v", err, c.want)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	uid, _ := svc.Register(ctx, "Alice", "alice@example.com", "1234567890")

	got, err := svc.Login(ctx, "alice@example.com")
	if err != nil || got != uid {
		t.Errorf("Login = %d, %v", got, err)
	}
	if _, err := svc.Login(ctx, "notfound@example.com"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestLookupFingerprint(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	if _, _, err := svc.LookupFingerprint(ctx, "xyz"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
	_, ok, err := svc.LookupFingerprint(ctx, fingerprint.Of([]byte("none")).String())
	if err != nil || ok {
		t.Errorf("LookupFingerprint = %v, %v", ok, err)
	}
}

func TestReadArtifact_Missing(t *testing.T) {
	svc, _, _ := testService(t)
	if _, err := svc.ReadArtifact("nope.png"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"LeakCarol":      "LeakCarol",
		"Team A":         "Team_A",
		"../../etc":      "etc",
		"a/b\\c":         "a_b_c",
		"..":             "",
		"name.with.dots": "name.with.dots",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Errorf("sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func mustRead(t *testing.T, svc *Service, p string) []byte {
	t.Helper()
	data, err := svc.ReadArtifact(p)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestVerify(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	uid, _ := svc.Register(ctx, "Hana", "hana@example.com", "")
	entry, err := svc.Issue(ctx, IssueRequest{
		IdentityID: uid, Source: testutil.SolidPNG(t, 16, 16, green),
		SourceName: "v.png", ConnectedName: "Ivo",
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := svc.ReadArtifact(entry.ArtifactRef)
	if err != nil {
		t.Fatal(err)
	}

	v, err := svc.Verify(ctx, entry.Fingerprint, data)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Intact || v.Sites != embed.DefaultSites {
		t.Errorf("verification of untouched artifact = %+v", v)
	}

	img, _, _ := imaging.Decode(data)
	last := entry.Perturbation[len(entry.Perturbation)-1]
	img.SetNRGBA(last.X, last.Y, color.NRGBA{R: ^last.Color[0], G: ^last.Color[1], B: ^last.Color[2], A: 255})
	tampered, _ := imaging.Encode(img)

	v, err = svc.Verify(ctx, entry.Fingerprint, tampered)
	if err != nil {
		t.Fatal(err)
	}
	if v.Intact || len(v.Mismatched) == 0 {
		t.Errorf("tampered verification = %+v", v)
	}

	if _, err := svc.Verify(ctx, fingerprint.Of([]byte("other")).String(), data); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown fingerprint err = %v", err)
	}
}

func TestStatsAndListArtifacts(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()
	uid, _ := svc.Register(ctx, "Jon", "jon@example.com", "")
	if _, err := svc.IssueBatch(ctx, uid, testutil.SolidPNG(t, 8, 8, green), "s.png", []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Issuances != 3 || st.Artifacts != 3 {
		t.Errorf("stats = %+v", st)
	}

	arts, err := svc.ListArtifacts("s_images")
	if err != nil || len(arts) != 3 {
		t.Fatalf("list = %v, %v", arts, err)
	}
	if _, err := svc.ListArtifacts("missing_images"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing dir err = %v", err)
	}
	if _, err := svc.ListArtifacts("../escape"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("escape err = %v", err)
	}
}

func TestIssue_SourceOverPixelCap(t *testing.T) {
	db := testutil.TestDB(t)
	_, store := testutil.TestStore(t)
	svc := NewService(store, db, db, testutil.Rand(3), WithEmbedOptions(embed.WithMaxPixels(64)))
	ctx := context.Background()
	uid, _ := svc.Register(ctx, "Kim", "kim@example.com", "")

	_, err := svc.Issue(ctx, IssueRequest{
		IdentityID: uid, Source: testutil.SolidPNG(t, 9, 9, green),
		SourceName: "big.png", ConnectedName: "Lee",
	})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if n, _ := db.Count(ctx); n != 0 {
		t.Errorf("ledger rows = %d, want 0", n)
	}

	if _, err := svc.Verify(ctx, strings.Repeat("a", 64), testutil.SolidPNG(t, 9, 9, green)); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("verify of unknown fingerprint err = %v", err)
	}
}
