package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/starford/tracemark/internal/embed"
	"github.com/starford/tracemark/internal/issuance"
	"github.com/starford/tracemark/internal/ledger"
	"github.com/starford/tracemark/internal/storage"
)

// Stack is the set of long-lived components shared by every entry point.
type Stack struct {
	DB      *ledger.DB
	Store   *storage.FS
	Service *issuance.Service
}

// NewLogger returns a JSON logger writing to w at level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenStack opens the ledger and artifact store described by cfg and wires
// the issuance service over them. pub may be nil.
func OpenStack(cfg *Config, logger *slog.Logger, pub issuance.Publisher) (*Stack, error) {
	if err := os.MkdirAll(cfg.Artifacts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Artifacts.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := ledger.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	opts := []issuance.Option{
		issuance.WithLogger(logger),
		issuance.WithMarkerSuffixLen(cfg.Embedding.MarkerSuffixLen),
		issuance.WithEmbedOptions(
			embed.WithSites(cfg.Embedding.Sites),
			embed.WithMaxDelta(cfg.Embedding.MaxDelta),
			embed.WithMaxPixels(cfg.Embedding.MaxPixels),
		),
	}
	if pub != nil {
		opts = append(opts, issuance.WithPublisher(pub))
	}
	svc := issuance.NewService(store, db, db, newRand(cfg.Embedding.Seed), opts...)

	return &Stack{DB: db, Store: store, Service: svc}, nil
}

// Close releases the ledger handle.
func (s *Stack) Close() error {
	return s.DB.Close()
}

// newRand returns a PCG source seeded from seed, or from the runtime's
// entropy when seed is nil.
func newRand(seed *uint64) *rand.Rand {
	if seed != nil {
		return rand.New(rand.NewPCG(*seed, *seed^0x9e3779b97f4a7c15))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func (a *application) validate() error {
	if a.config == nil {
		return errors.New("config is required")
	}
	if a.logger == nil {
		a.logger = NewLogger(os.Stdout, a.config.App.LogLevel)
	}
	return nil
}
