package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/abbyhq/abby/pkg/classifier"
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/events"
	"github.com/abbyhq/abby/pkg/observability"
	"github.com/abbyhq/abby/pkg/store"
)

// Classifier turns text into an intent.
type Classifier interface {
	Classify(ctx context.Context, req classifier.Request) (classifier.Outcome, error)
}

// ProposalBuilder turns intents and direct requests into proposals.
type ProposalBuilder interface {
	FromIntent(in contracts.ActionIntent) (contracts.ActionProposal, error)
	FromRequest(action contracts.ActionType, entity contracts.EntityType, params map[string]any) (contracts.ActionProposal, error)
}

// Queue is the part of the approval queue the API touches directly.
type Queue interface {
	Enqueue(cmd contracts.ActionCommand) error
	Get(commandID string) (contracts.ActionCommand, bool)
	Pending() []contracts.ActionCommand
}

// Decider applies the user's approve or reject decision.
type Decider interface {
	OnApprove(ctx context.Context, commandID string) (contracts.ApprovalToken, contracts.ExecutionResult, error)
	OnReject(ctx context.Context, commandID string) error
}

// Executor runs a command presented with its approval token.
type Executor interface {
	ExecuteCommand(ctx context.Context, cmd contracts.ActionCommand, token contracts.ApprovalToken) contracts.ExecutionResult
}

// Collections reads persisted household records.
type Collections interface {
	Load(ctx context.Context, name string) ([]store.Record, error)
}

// Deps are the collaborators behind the routes. Events and Telemetry may be
// nil.
type Deps struct {
	Classifier  Classifier
	Proposals   ProposalBuilder
	Queue       Queue
	Decider     Decider
	Executor    Executor
	Collections Collections
	Events      *events.Hub
	Telemetry   *observability.Provider

	RateLimitRPS   float64
	RateLimitBurst int
}

// Server is the HTTP surface.
type Server struct {
	deps    Deps
	limiter *RateLimiter
	logger  *slog.Logger
	handler http.Handler
}

// NewServer wires the routes. Close releases the rate limiter.
func NewServer(deps Deps) *Server {
	if deps.Telemetry == nil {
		// A disabled provider never fails.
		deps.Telemetry, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	if deps.RateLimitRPS <= 0 {
		deps.RateLimitRPS = 5
	}
	if deps.RateLimitBurst <= 0 {
		deps.RateLimitBurst = 10
	}
	s := &Server{
		deps:    deps,
		limiter: NewRateLimiter(deps.RateLimitRPS, deps.RateLimitBurst),
		logger:  slog.Default().With("component", "api"),
	}

	mux := http.NewServeMux()
	ai := s.limiter.Middleware
	mux.Handle("POST /api/ai/classify", ai(http.HandlerFunc(s.handleClassify)))
	mux.Handle("POST /api/ai/propose", ai(http.HandlerFunc(s.handlePropose)))
	mux.HandleFunc("POST /api/proposals", s.handleCreateProposal)
	mux.HandleFunc("GET /api/proposals", s.handleListProposals)
	mux.HandleFunc("POST /api/proposals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/proposals/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /api/commands/execute", s.handleExecute)
	mux.HandleFunc("GET /api/collections/{name}", s.handleCollection)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("OK"))
	})

	s.handler = RequestID(Recover(AccessLog(s.logger)(mux)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Close() {
	s.limiter.Close()
}
