// Package issuance coordinates marker generation, embedding, artifact
// storage and the ledger for watermark issuance and leak attribution.
package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/starford/tracemark/internal/apperr"
	"github.com/starford/tracemark/internal/attribution"
	"github.com/starford/tracemark/internal/embed"
	"github.com/starford/tracemark/internal/fingerprint"
	"github.com/starford/tracemark/internal/imaging"
	"github.com/starford/tracemark/internal/ledger"
	"github.com/starford/tracemark/internal/marker"
	"github.com/starford/tracemark/internal/models"
	"github.com/starford/tracemark/internal/sse"
	"github.com/starford/tracemark/internal/storage"
)

// pathAttempts bounds the retries for an unused artifact name.
const pathAttempts = 8

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Publisher receives ledger events. *sse.Broker satisfies it.
type Publisher interface {
	PublishLedgerEvent(kind string, data any)
}

// IssueRequest describes one watermarked copy.
type IssueRequest struct {
	IdentityID    int64
	Source        []byte
	SourceName    string
	ConnectedName string
}

// Service coordinates issuance and attribution.
type Service struct {
	store      storage.Provider
	identities ledger.IdentityStore
	ledger     ledger.Ledger
	scanner    *attribution.Scanner
	logger     *slog.Logger
	events     Publisher

	// mu guards the components that share the random source.
	mu      sync.Mutex
	engine  *embed.Engine
	markers *marker.Generator

	embedOpts []embed.Option
	suffixLen int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithPublisher sets the event sink for issuance and scan events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithEmbedOptions passes options through to the embedding engine.
func WithEmbedOptions(opts ...embed.Option) Option {
	return func(s *Service) { s.embedOpts = append(s.embedOpts, opts...) }
}

// WithMarkerSuffixLen sets the marker token suffix width.
func WithMarkerSuffixLen(n int) Option {
	return func(s *Service) { s.suffixLen = n }
}

// NewService creates a new issuance service. rnd drives site selection,
// perturbation, marker suffixes and artifact names; pass a seeded source
// for reproducible output.
func NewService(store storage.Provider, identities ledger.IdentityStore, l ledger.Ledger, rnd *rand.Rand, opts ...Option) *Service {
	s := &Service{
		store:      store,
		identities: identities,
		ledger:     l,
		scanner:    attribution.NewScanner(l),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = embed.NewEngine(rnd, s.embedOpts...)
	s.markers = marker.NewGenerator(rnd, s.suffixLen)
	return s
}

// Register creates a recipient identity.
func (s *Service) Register(ctx context.Context, name, email, phone string) (int64, error) {
	id, err := s.identities.CreateIdentity(ctx, name, email, phone)
	if err != nil {
		return 0, err
	}
	s.logger.Info("identity registered", slog.Int64("identity_id", id))
	return id, nil
}

// Login resolves an email to its identity id.
func (s *Service) Login(ctx context.Context, email string) (int64, error) {
	id, ok, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("identity %s: %w", email, apperr.ErrNotFound)
	}
	return id, nil
}

// Identity returns the identity with the given id.
func (s *Service) Identity(ctx context.Context, id int64) (*models.Identity, error) {
	return s.identities.GetIdentity(ctx, id)
}

// Issue embeds a fresh watermark into req.Source for the identity, stores
// the artifact and records it in the ledger.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.LedgerEntry, error) {
	connected := strings.TrimSpace(req.ConnectedName)
	if connected == "" {
		return nil, fmt.Errorf("issue: connected name is required: %w", apperr.ErrInvalidInput)
	}
	if len(req.Source) == 0 {
		return nil, fmt.Errorf("issue: source image is empty: %w", apperr.ErrInvalidInput)
	}
	ident, err := s.identities.GetIdentity(ctx, req.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}

	s.mu.Lock()
	token := s.markers.Generate(ident.Name, ident.Email)
	art, err := s.engine.EmbedBytes(req.Source, token)
	var artifactPath string
	if err == nil {
		artifactPath, err = s.freePath(req.SourceName, connected)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("issue: %w", err)
	}

	if err := s.store.Write(artifactPath, art.Bytes); err != nil {
		return nil, fmt.Errorf("issue: %w: %w", apperr.ErrIO, err)
	}

	entry := models.LedgerEntry{
		IdentityID:    ident.ID,
		ArtifactRef:   artifactPath,
		Token:         token,
		Fingerprint:   fingerprint.Of(art.Bytes).String(),
		Perturbation:  art.Record,
		ConnectedName: connected,
	}
	id, err := s.ledger.Record(ctx, entry)
	if err != nil {
		if delErr := s.store.Delete(artifactPath); delErr != nil {
			s.logger.Warn("orphaned artifact", slog.String("path", artifactPath), slog.String("error", delErr.Error()))
		}
		return nil, fmt.Errorf("issue: %w", err)
	}
	entry.ID = id

	s.logger.Info("artifact issued",
		slog.Int64("identity_id", ident.ID),
		slog.String("artifact", artifactPath),
		slog.String("fingerprint", entry.Fingerprint),
		slog.String("connected_name", connected))
	s.publish(sse.EventIssuanceCreated, map[string]any{
		"identity_id":    ident.ID,
		"artifact":       artifactPath,
		"fingerprint":    entry.Fingerprint,
		"connected_name": connected,
	})
	return &entry, nil
}

// IssueBatch issues one copy per connected name. It stops at the first
// failure and returns the entries issued before it.
func (s *Service) IssueBatch(ctx context.Context, identityID int64, source []byte, sourceName string, connectedNames []string) ([]models.LedgerEntry, error) {
	if len(connectedNames) == 0 {
		return nil, fmt.Errorf("issue: at least one connected name is required: %w", apperr.ErrInvalidInput)
	}
	out := make([]models.LedgerEntry, 0, len(connectedNames))
	for _, name := range connectedNames {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		e, err := s.Issue(ctx, IssueRequest{
			IdentityID:    identityID,
			Source:        source,
			SourceName:    sourceName,
			ConnectedName: name,
		})
		if err != nil {
			return out, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// Scan attributes a suspect artifact.
func (s *Service) Scan(ctx context.Context, data []byte) (attribution.Result, error) {
	res, err := s.scanner.Scan(ctx, data)
	if err != nil {
		return res, err
	}
	s.reportScan("", res)
	return res, nil
}

// ScanPath attributes the file at p.
func (s *Service) ScanPath(ctx context.Context, p string) (attribution.Result, error) {
	res, err := s.scanner.ScanFile(ctx, p)
	if err != nil {
		return res, err
	}
	s.reportScan(p, res)
	return res, nil
}

// LookupFingerprint returns the ledger entry for a hex fingerprint.
func (s *Service) LookupFingerprint(ctx context.Context, fp string) (*models.LedgerEntry, bool, error) {
	parsed, err := fingerprint.Parse(strings.TrimSpace(fp))
	if err != nil {
		return nil, false, err
	}
	return s.ledger.Lookup(ctx, parsed.String())
}

// ListIssuances returns every entry issued to identityID.
func (s *Service) ListIssuances(ctx context.Context, identityID int64) ([]models.LedgerEntry, error) {
	if _, err := s.identities.GetIdentity(ctx, identityID); err != nil {
		return nil, err
	}
	entries, err := s.ledger.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(entries), nil
}

// Verification compares a suspect image with one ledger entry's recorded
// perturbations.
type Verification struct {
	Fingerprint string        `json:"fingerprint"`
	Sites       int           `json:"sites"`
	Mismatched  []models.Site `json:"mismatched"`
	// Intact is true when every recorded site still carries its colour.
	Intact bool `json:"intact"`
}

// Verify checks data pixel by pixel against the entry recorded for fp.
// It is a forensic aid for copies whose bytes changed while their pixels
// did not (for example a lossless re-save); attribution itself never
// depends on it.
func (s *Service) Verify(ctx context.Context, fp string, data []byte) (*Verification, error) {
	entry, ok, err := s.LookupFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("issuance %s: %w", fp, apperr.ErrNotFound)
	}
	img, _, err := imaging.DecodeLimit(data, s.engine.MaxPixels())
	if err != nil {
		return nil, err
	}
	mismatched := embed.Verify(img, entry.Perturbation)
	return &Verification{
		Fingerprint: entry.Fingerprint,
		Sites:       len(entry.Perturbation),
		Mismatched:  nonNilSlice(mismatched),
		Intact:      len(mismatched) == 0,
	}, nil
}

// Stats summarises the ledger and the artifact store.
type Stats struct {
	Issuances int `json:"issuances"`
	Artifacts int `json:"artifacts"`
}

// Stats counts recorded issuances and stored artifacts. The two differ when
// artifacts were removed from disk after issue.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	n, err := s.ledger.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	arts, err := s.store.List("")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %w", apperr.ErrIO, err)
	}
	return Stats{Issuances: n, Artifacts: len(arts)}, nil
}

// ListArtifacts returns metadata for the artifacts stored under dir.
func (s *Service) ListArtifacts(dir string) ([]models.ArtifactMetadata, error) {
	arts, err := s.store.List(dir)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("artifact dir %s: %w", dir, apperr.ErrNotFound)
		case errors.Is(err, apperr.ErrInvalidInput):
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", apperr.ErrIO, err)
	}
	return nonNilSlice(arts), nil
}

// ReadArtifact returns the stored bytes of an issued artifact.
func (s *Service) ReadArtifact(p string) ([]byte, error) {
	data, err := s.store.Read(p)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("artifact %s: %w", p, apperr.ErrNotFound)
		case errors.Is(err, apperr.ErrInvalidInput):
			return nil, err
		}
		return nil, fmt.Errorf("artifact %s: %w: %w", p, apperr.ErrIO, err)
	}
	return data, nil
}

func (s *Service) reportScan(source string, res attribution.Result) {
	attrs := []any{slog.String("fingerprint", res.Fingerprint)}
	if source != "" {
		attrs = append(attrs, slog.String("source", source))
	}
	if !res.Found {
		s.logger.Info("scan: no watermark found", attrs...)
		s.publish(sse.EventLeakUnknown, map[string]any{"fingerprint": res.Fingerprint, "source": source})
		return
	}
	attrs = append(attrs,
		slog.Int64("identity_id", res.IdentityID),
		slog.String("connected_name", res.ConnectedName))
	s.logger.Warn("scan: leak attributed", attrs...)
	s.publish(sse.EventLeakDetected, map[string]any{
		"fingerprint":    res.Fingerprint,
		"source":         source,
		"identity_id":    res.IdentityID,
		"connected_name": res.ConnectedName,
	})
}

func (s *Service) publish(kind string, data any) {
	if s.events != nil {
		s.events.PublishLedgerEvent(kind, data)
	}
}

// freePath picks an unused "{stem}_images/{name}_{suffix}.png" path.
// Callers hold s.mu.
func (s *Service) freePath(sourceName, connected string) (string, error) {
	base := path.Base(filepathToSlash(sourceName))
	stem := sanitize(strings.TrimSuffix(base, path.Ext(base)))
	if stem == "" {
		stem = "source"
	}
	dir := stem + "_images"
	name := sanitize(connected)
	if name == "" {
		name = "copy"
	}

	for range pathAttempts {
		p := path.Join(dir, fmt.Sprintf("%s_%s.png", name, s.markers.Suffix()))
		exists, err := s.store.Exists(p)
		if err != nil {
			return "", fmt.Errorf("%w: %w", apperr.ErrIO, err)
		}
		if !exists {
			return p, nil
		}
	}
	return "", fmt.Errorf("no free artifact name under %s after %d attempts: %w", dir, pathAttempts, apperr.ErrIO)
}

func sanitize(s string) string {
	return strings.Trim(unsafeNameRe.ReplaceAllString(s, "_"), "._")
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
