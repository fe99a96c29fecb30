package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/pointid/mission-gateway/internal/graphql"
	"github.com/pointid/mission-gateway/internal/session"
	"go.uber.org/zap"
)

// TokenProvider hands out the bearer token source of a browser session
type TokenProvider interface {
	TokenSource(sessionID string) graphql.TokenSource
}

// RegistryConfig holds what every session's transport shares
type RegistryConfig struct {
	GraphQLURL   string
	GraphQLWSURL string
	KeepAlive    time.Duration
	HTTPClient   *http.Client
	ToastLimit   int

	// IdleTTL evicts stores unused for that long unless a chat relay is
	// attached. Zero only evicts stores whose session has ended.
	IdleTTL time.Duration
}

// Stores is the state kept for one browser session.
type Stores struct {
	Identity  Identity
	Missions  *MissionStore
	Chat      *ChatStore
	Toasts    *ToastQueue
	Downloads *Downloader

	ws       *graphql.WSClient
	tokens   graphql.TokenSource
	lastUsed time.Time
}

func (s *Stores) close() {
	s.Chat.Close()
	_ = s.ws.Close()
}

// Registry owns the per-session stores. Each session gets its own
// transport whose token source reads the session on every request.
type Registry struct {
	cfg    RegistryConfig
	tokens TokenProvider
	ledger Ledger
	logger *zap.SugaredLogger

	mu     sync.Mutex
	stores map[string]*Stores
	now    func() time.Time
}

// NewRegistry creates an empty registry
func NewRegistry(cfg RegistryConfig, tokens TokenProvider, ledger Ledger, logger *zap.SugaredLogger) *Registry {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Registry{
		cfg:    cfg,
		tokens: tokens,
		ledger: ledger,
		logger: logger,
		stores: make(map[string]*Stores),
		now:    time.Now,
	}
}

// For returns the stores of a session, creating them on first use. Stores
// built for another identity are replaced.
func (r *Registry) For(sessionID string, identity Identity) *Stores {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.stores[sessionID]; ok {
		if s.Identity == identity {
			s.lastUsed = r.now()
			return s
		}
		go s.close()
	}

	s := r.build(sessionID, identity)
	s.lastUsed = r.now()
	r.stores[sessionID] = s
	r.logger.Debugw("Session stores created", "account", identity.AccountID, "role", identity.Role)
	return s
}

func (r *Registry) build(sessionID string, identity Identity) *Stores {
	tokens := r.tokens.TokenSource(sessionID)
	log := r.logger.With("account", identity.AccountID)

	httpClient := graphql.NewClient(r.cfg.GraphQLURL, tokens,
		graphql.WithHTTPClient(r.cfg.HTTPClient), graphql.WithLogger(log))
	ws := graphql.NewWSClient(graphql.WSConfig{
		URL:       r.cfg.GraphQLWSURL,
		Tokens:    tokens,
		KeepAlive: r.cfg.KeepAlive,
		Logger:    log,
	})
	link := graphql.NewLink(httpClient, ws)
	uploader := graphql.NewMultipartUploader(r.cfg.GraphQLURL, tokens,
		graphql.WithHTTPClient(r.cfg.HTTPClient), graphql.WithLogger(log))

	toasts := NewToastQueue(r.cfg.ToastLimit, log)
	return &Stores{
		Identity:  identity,
		Missions:  NewMissionStore(link, uploader, r.ledger, identity, toasts, log),
		Chat:      NewChatStore(link, identity, toasts, log),
		Toasts:    toasts,
		Downloads: NewDownloader(r.cfg.HTTPClient, r.cfg.GraphQLURL, tokens),
		ws:        ws,
		tokens:    tokens,
	}
}

// Drop closes and forgets the stores of a session
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	s, ok := r.stores[sessionID]
	delete(r.stores, sessionID)
	r.mu.Unlock()

	if ok {
		s.close()
	}
}

// Sweep evicts the stores of ended sessions and, with IdleTTL set, of
// sessions idle for longer than that. It returns how many were evicted.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.Lock()
	now := r.now()
	type candidate struct {
		stores   *Stores
		lastUsed time.Time
	}
	candidates := make(map[string]candidate, len(r.stores))
	for id, s := range r.stores {
		candidates[id] = candidate{s, s.lastUsed}
	}
	r.mu.Unlock()

	evicted := 0
	for id, c := range candidates {
		s := c.stores
		reason := ""
		if r.cfg.IdleTTL > 0 && now.Sub(c.lastUsed) > r.cfg.IdleTTL && !s.Chat.Listening() {
			reason = "idle"
		} else if _, err := s.tokens.Token(ctx); errors.Is(err, session.ErrNoSession) {
			reason = "session ended"
		}
		if reason == "" {
			continue
		}

		r.mu.Lock()
		current, ok := r.stores[id]
		if ok && current == s {
			delete(r.stores, id)
		}
		r.mu.Unlock()
		if ok && current == s {
			s.close()
			evicted++
			r.logger.Debugw("Session stores evicted", "account", s.Identity.AccountID, "reason", reason)
		}
	}
	return evicted
}

// Run sweeps the registry every interval until ctx is done
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if n := r.Sweep(ctx); n > 0 {
			r.logger.Infow("Evicted session stores", "count", n, "live", r.Len())
		}
	}
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

// Close closes every session's stores
func (r *Registry) Close() {
	r.mu.Lock()
	stores := r.stores
	r.stores = make(map[string]*Stores)
	r.mu.Unlock()

	for _, s := range stores {
		s.close()
	}
}
