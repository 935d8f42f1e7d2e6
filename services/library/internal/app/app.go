package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"pocketbook/pkg/covercache"
	"pocketbook/pkg/epub"
	"pocketbook/pkg/queue"
	"pocketbook/pkg/sessiontoken"
	"pocketbook/pkg/storage"
	"pocketbook/pkg/store"
)

// CoverCache memoizes extracted covers by book id.
type CoverCache interface {
	Get(ctx context.Context, bookID string) (epub.Cover, bool, error)
	Set(ctx context.Context, bookID string, cover epub.Cover) error
	Invalidate(ctx context.Context, bookID string) error
}

// CoverQueue carries book ids whose covers should be extracted ahead of
// the first listing.
type CoverQueue interface {
	Enqueue(ctx context.Context, bookID string) error
	Run(ctx context.Context, workers int, handle queue.Handler) error
}

// Config holds runtime configuration for the core application. Injected
// collaborators (Store, Objects, Tokens, Revoker, Covers) take precedence
// over the connection settings next to them.
type Config struct {
	DatabaseURL string
	Store       store.Store

	StorageBackend string
	BooksDir       string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	Objects        storage.ObjectStore

	// Redis enables token revocation and the cover cache when set.
	Redis         *redis.Client
	CoverCacheTTL time.Duration
	Covers        CoverCache
	Revoker       store.TokenRevoker
	// CoverQueue defers cover extraction of new uploads to RunCoverWarmer.
	CoverQueue CoverQueue

	SigningKey   []byte
	KeyID        string
	PreviousKeys map[string][]byte
	Tokens       *sessiontoken.Service

	SessionTTL       time.Duration
	MaxUploadBytes   int64
	CoverConcurrency int
	Demo             bool

	OpenLibraryURL string
	HTTPClient     *http.Client

	Now func() time.Time
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store    store.Store
	objects  storage.ObjectStore
	covers   CoverCache
	warmer   CoverQueue
	sessions *store.SessionStore

	sessionTTL       time.Duration
	maxUploadBytes   int64
	coverConcurrency int
	demo             bool

	openLibrary *openLibraryClient
	now         func() time.Time

	// closeStore is set when New opened the store itself.
	closeStore func() error
}

// New constructs the application.
func New(cfg Config) (*App, error) {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if cfg.SessionTTL <= 0 || cfg.SessionTTL > sessiontoken.Lifetime {
		cfg.SessionTTL = sessiontoken.Lifetime
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 << 20
	}
	if cfg.CoverConcurrency <= 0 {
		cfg.CoverConcurrency = 4
	}

	dataStore := cfg.Store
	var closeStore func() error
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		gs, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		dataStore, closeStore = gs, gs.Close
	}

	objects, err := newObjectStore(cfg)
	if err != nil {
		if closeStore != nil {
			_ = closeStore()
		}
		return nil, err
	}

	tokens := cfg.Tokens
	if tokens == nil {
		tokens, err = sessiontoken.New(sessiontoken.Config{
			Key:          cfg.SigningKey,
			KeyID:        cfg.KeyID,
			PreviousKeys: cfg.PreviousKeys,
		})
		if err != nil {
			return nil, fmt.Errorf("init token service: %w", err)
		}
	}

	revoker := cfg.Revoker
	if revoker == nil {
		if cfg.Redis != nil {
			revoker = store.NewRedisTokenRevoker(cfg.Redis)
		} else {
			revoker = store.NewMemoryTokenRevoker()
		}
	}

	covers := cfg.Covers
	if covers == nil && cfg.Redis != nil {
		rc, err := covercache.New(cfg.Redis, "", cfg.CoverCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("init cover cache: %w", err)
		}
		covers = rc
	}

	return &App{
		store:            dataStore,
		objects:          objects,
		covers:           covers,
		warmer:           cfg.CoverQueue,
		sessions:         store.NewSessionStore(tokens, revoker, now),
		sessionTTL:       cfg.SessionTTL,
		maxUploadBytes:   cfg.MaxUploadBytes,
		coverConcurrency: cfg.CoverConcurrency,
		demo:             cfg.Demo,
		openLibrary:      newOpenLibraryClient(cfg.OpenLibraryURL, cfg.HTTPClient),
		now:              now,
		closeStore:       closeStore,
	}, nil
}

// Close releases the database pool opened by New. Injected stores are left
// to their owner.
func (a *App) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

func newObjectStore(cfg Config) (storage.ObjectStore, error) {
	if cfg.Objects != nil {
		return cfg.Objects, nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StorageBackend)) {
	case "", "local":
		if cfg.BooksDir == "" {
			return nil, errors.New("books directory required")
		}
		fs, err := storage.NewFileStore(cfg.BooksDir)
		if err != nil {
			return nil, fmt.Errorf("init file store: %w", err)
		}
		return fs, nil
	case "minio":
		ms, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init minio store: %w", err)
		}
		return ms, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// MaxUploadBytes is the per-file upload limit.
func (a *App) MaxUploadBytes() int64 {
	return a.maxUploadBytes
}

// Demo reports whether demo mode restrictions apply.
func (a *App) Demo() bool {
	return a.demo
}
