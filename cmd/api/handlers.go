package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"escrowflow/auth"
	"escrowflow/escrow"
)

type escrowResponse struct {
	ID             string `json:"id"`
	ProjectID      string `json:"project_id"`
	Client         string `json:"client"`
	Contractor     string `json:"contractor"`
	TotalAmount    int64  `json:"total_amount"`
	ReleasedAmount int64  `json:"released_amount"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toEscrowResponse(e escrow.Escrow) escrowResponse {
	return escrowResponse{
		ID:             e.ID,
		ProjectID:      e.ProjectID,
		Client:         e.Client,
		Contractor:     e.Contractor,
		TotalAmount:    e.TotalAmount,
		ReleasedAmount: e.ReleasedAmount,
		Status:         string(e.Status),
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.Format(time.RFC3339),
	}
}

type paymentResponse struct {
	EscrowID      string `json:"escrow_id"`
	PaymentID     string `json:"payment_id"`
	MilestoneID   string `json:"milestone_id"`
	Amount        int64  `json:"amount"`
	Status        string `json:"status"`
	ReleaseMarker *int64 `json:"release_marker,omitempty"`
	CreatedAt     string `json:"created_at"`
	ReleasedAt    string `json:"released_at,omitempty"`
}

func toPaymentResponse(p escrow.Payment) paymentResponse {
	resp := paymentResponse{
		EscrowID:      p.EscrowID,
		PaymentID:     p.PaymentID,
		MilestoneID:   p.MilestoneID,
		Amount:        p.Amount,
		Status:        string(p.Status),
		ReleaseMarker: p.ReleaseMarker,
		CreatedAt:     p.CreatedAt.Format(time.RFC3339),
	}
	if p.ReleasedAt != nil {
		resp.ReleasedAt = p.ReleasedAt.Format(time.RFC3339)
	}
	return resp
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateEmail) {
			writeMessage(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, auth.ErrWeakPassword) {
			writeMessage(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
		"role":  string(user.Role),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":    result.User.ID,
			"email": result.User.Email,
			"role":  string(result.User.Role),
		},
	})
}

type createEscrowRequest struct {
	EscrowID    string `json:"escrow_id"`
	ProjectID   string `json:"project_id"`
	Contractor  string `json:"contractor"`
	TotalAmount int64  `json:"total_amount"`
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := s.escrowService.Create(r.Context(), callerID(r), escrow.CreateParams{
		EscrowID:    req.EscrowID,
		ProjectID:   req.ProjectID,
		Contractor:  req.Contractor,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusCreated, toEscrowResponse(e))
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	e, found, err := s.escrowService.Get(r.Context(), chi.URLParam(r, "escrowID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, resultEnvelope{OK: false, Err: escrow.CodeNotFound, Message: "escrow not found"})
		return
	}
	writeValue(w, http.StatusOK, toEscrowResponse(e))
}

func (s *Server) handleCloseEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.escrowService.Close(r.Context(), callerID(r), chi.URLParam(r, "escrowID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusOK, toEscrowResponse(e))
}

func (s *Server) handleDisputeEscrow(w http.ResponseWriter, r *http.Request) {
	e, err := s.escrowService.Dispute(r.Context(), callerID(r), chi.URLParam(r, "escrowID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusOK, toEscrowResponse(e))
}

type resolveRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	e, err := s.escrowService.Resolve(r.Context(), callerID(r), chi.URLParam(r, "escrowID"), escrow.Status(req.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusOK, toEscrowResponse(e))
}

type addPaymentRequest struct {
	PaymentID   string `json:"payment_id"`
	MilestoneID string `json:"milestone_id"`
	Amount      int64  `json:"amount"`
}

func (s *Server) handleAddPayment(w http.ResponseWriter, r *http.Request) {
	var req addPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.escrowService.AddPayment(r.Context(), callerID(r), escrow.AddPaymentParams{
		EscrowID:    chi.URLParam(r, "escrowID"),
		PaymentID:   req.PaymentID,
		MilestoneID: req.MilestoneID,
		Amount:      req.Amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusCreated, toPaymentResponse(p))
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, found, err := s.escrowService.GetPayment(r.Context(), chi.URLParam(r, "escrowID"), chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, resultEnvelope{OK: false, Err: escrow.CodeNotFound, Message: "payment not found"})
		return
	}
	writeValue(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) handleReleasePayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.escrowService.ReleasePayment(r.Context(), callerID(r), chi.URLParam(r, "escrowID"), chi.URLParam(r, "paymentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusOK, toPaymentResponse(p))
}

func (s *Server) handleCurrentAdmin(w http.ResponseWriter, r *http.Request) {
	admin, err := s.authorityService.Current(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusOK, map[string]any{"principal": admin.Principal})
}

type transferAdminRequest struct {
	NewAdmin string `json:"new_admin"`
}

func (s *Server) handleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	var req transferAdminRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	admin, err := s.authorityService.Transfer(r.Context(), callerID(r), req.NewAdmin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeValue(w, http.StatusOK, map[string]any{"principal": admin.Principal})
}

func (s *Server) handleGetMilestone(w http.ResponseWriter, r *http.Request) {
	m, found, err := s.factsService.GetMilestone(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "milestoneID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "milestone not found")
		return
	}
	writeValue(w, http.StatusOK, map[string]any{
		"project_id":         m.ProjectID,
		"milestone_id":       m.MilestoneID,
		"completed":          m.Completed,
		"verified":           m.Verified,
		"payment_percentage": m.PaymentPercentage,
	})
}

func (s *Server) handleGetInspection(w http.ResponseWriter, r *http.Request) {
	i, found, err := s.factsService.GetInspection(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "inspectionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "inspection not found")
		return
	}
	writeValue(w, http.StatusOK, map[string]any{
		"project_id":    i.ProjectID,
		"inspection_id": i.InspectionID,
		"status":        i.Status,
		"passed":        i.Passed,
	})
}

func (s *Server) handleGetContractor(w http.ResponseWriter, r *http.Request) {
	c, found, err := s.factsService.GetContractor(r.Context(), chi.URLParam(r, "contractorID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "contractor not found")
		return
	}
	writeValue(w, http.StatusOK, map[string]any{
		"id":          c.ID,
		"name":        c.Name,
		"is_verified": c.IsVerified,
		"rating":      c.Rating,
	})
}
