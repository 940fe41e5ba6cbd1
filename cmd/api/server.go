package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"escrowflow/auth"
	"escrowflow/authority"
	"escrowflow/escrow"
	"escrowflow/verification"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

type escrowService interface {
	Create(ctx context.Context, caller string, params escrow.CreateParams) (escrow.Escrow, error)
	Get(ctx context.Context, escrowID string) (escrow.Escrow, bool, error)
	Close(ctx context.Context, caller, escrowID string) (escrow.Escrow, error)
	Dispute(ctx context.Context, caller, escrowID string) (escrow.Escrow, error)
	Resolve(ctx context.Context, caller, escrowID string, newStatus escrow.Status) (escrow.Escrow, error)
	AddPayment(ctx context.Context, caller string, params escrow.AddPaymentParams) (escrow.Payment, error)
	GetPayment(ctx context.Context, escrowID, paymentID string) (escrow.Payment, bool, error)
	ReleasePayment(ctx context.Context, caller, escrowID, paymentID string) (escrow.Payment, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type authorityService interface {
	Current(ctx context.Context) (authority.Admin, error)
	Transfer(ctx context.Context, caller, newPrincipal string) (authority.Admin, error)
}

type factsService interface {
	GetMilestone(ctx context.Context, projectID, milestoneID string) (verification.Milestone, bool, error)
	GetInspection(ctx context.Context, projectID, inspectionID string) (verification.Inspection, bool, error)
	GetContractor(ctx context.Context, contractorID string) (verification.Contractor, bool, error)
}

// Server wires the HTTP surface over the domain services.
type Server struct {
	escrowService    escrowService
	authService      authService
	authorityService authorityService
	factsService     factsService
	logger           *slog.Logger
}

// Routes builds the chi router. Reads are public; every mutation requires an
// authenticated principal.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Get("/api/escrows/{escrowID}", s.handleGetEscrow)
	r.Get("/api/escrows/{escrowID}/payments/{paymentID}", s.handleGetPayment)
	r.Get("/api/projects/{projectID}/milestones/{milestoneID}", s.handleGetMilestone)
	r.Get("/api/projects/{projectID}/inspections/{inspectionID}", s.handleGetInspection)
	r.Get("/api/contractors/{contractorID}", s.handleGetContractor)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/api/escrows", s.handleCreateEscrow)
		r.Post("/api/escrows/{escrowID}/close", s.handleCloseEscrow)
		r.Post("/api/escrows/{escrowID}/dispute", s.handleDisputeEscrow)
		r.Post("/api/escrows/{escrowID}/resolve", s.handleResolveDispute)
		r.Post("/api/escrows/{escrowID}/payments", s.handleAddPayment)
		r.Post("/api/escrows/{escrowID}/payments/{paymentID}/release", s.handleReleasePayment)
		r.Get("/api/admin", s.handleCurrentAdmin)
		r.Post("/api/admin/transfer", s.handleTransferAdmin)
	})

	return r
}

// authenticate resolves the caller principal from the bearer token.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, role, err := s.authService.VerifyToken(token)
		if err != nil {
			writeMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

// resultEnvelope is the discriminated success/failure shape every ledger
// endpoint returns. Err carries the stable ledger code.
type resultEnvelope struct {
	OK      bool   `json:"ok"`
	Value   any    `json:"value,omitempty"`
	Err     int    `json:"err,omitempty"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeValue(w http.ResponseWriter, status int, value any) {
	writeJSON(w, status, resultEnvelope{OK: true, Value: value})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, resultEnvelope{OK: false, Message: message})
}

// writeError maps domain failures onto the envelope. Typed ledger errors keep
// their numeric code; anything else is a validation failure or a server bug.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if code, ok := escrow.CodeOf(err); ok {
		writeJSON(w, httpStatusFor(code), resultEnvelope{OK: false, Err: code, Message: err.Error()})
		return
	}
	if errors.Is(err, authority.ErrTransferDenied) {
		writeJSON(w, http.StatusForbidden, resultEnvelope{OK: false, Err: escrow.CodeUnauthorized, Message: err.Error()})
		return
	}
	if isValidationError(err) {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.ErrorContext(r.Context(), "internal error", "path", r.URL.Path, "error", err)
	writeMessage(w, http.StatusInternalServerError, "internal error")
}

func httpStatusFor(code int) int {
	switch code {
	case escrow.CodeUnauthorized:
		return http.StatusForbidden
	case escrow.CodeAlreadyExists:
		return http.StatusConflict
	case escrow.CodeNotFound:
		return http.StatusNotFound
	case escrow.CodeInsufficientFunds, escrow.CodeInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// isValidationError distinguishes caller mistakes from infrastructure
// failures: services return validation problems as unwrapped errors with a
// package prefix and no wrapped cause.
func isValidationError(err error) bool {
	return errors.Unwrap(err) == nil
}
