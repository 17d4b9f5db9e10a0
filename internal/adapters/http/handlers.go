package httpadapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"foodrescue/internal/domain"
	"foodrescue/internal/ports"
	"foodrescue/internal/services/claims"
	"foodrescue/internal/validation"
	"foodrescue/internal/workers/auditrunner"
)

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type auditRequest struct {
	ImageBase64 string              `json:"imageBase64"`
	Context     domain.AuditContext `json:"context"`
}

func decodeImage(b64 string) ([]byte, error) {
	if b64 == "" {
		return nil, nil
	}
	// tolerate data URLs
	if i := strings.Index(b64, ","); strings.HasPrefix(b64, "data:") && i > 0 {
		b64 = b64[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &badRequest{msg: "imageBase64 is not valid base64"}
	}
	return img, nil
}

// postAudit runs an audit without publishing anything.
func (s *Server) postAudit(w http.ResponseWriter, r *http.Request) {
	var req auditRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	img, err := decodeImage(req.ImageBase64)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Auditor.Audit(r.Context(), img, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type submissionRequest struct {
	ProviderID      string                  `json:"providerId" validate:"required"`
	Description     string                  `json:"description"`
	ImageBase64     string                  `json:"imageBase64"`
	Context         domain.AuditContext     `json:"context"`
	DeliveryMethods []domain.DeliveryMethod `json:"deliveryMethods" validate:"dive,oneof=pickup delivery"`
	DistributionEnd *time.Time              `json:"distributionEnd"`
}

// submissionParams is the query of POST /submissions.
type submissionParams struct {
	Wait    *bool
	Timeout *int
}

type submissionAccepted struct {
	SubmissionID string `json:"submissionId"`
}

// postSubmission queues a submission. With wait=true the audit runs inline,
// bounded by timeout seconds, and the final state is returned.
func (s *Server) postSubmission(w http.ResponseWriter, r *http.Request) {
	var req submissionRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		s.writeError(w, r, invalidRequest(err))
		return
	}
	var params submissionParams
	if err := bindQuery(r, "wait", &params.Wait); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := bindQuery(r, "timeout", &params.Timeout); err != nil {
		s.writeError(w, r, err)
		return
	}
	img, err := decodeImage(req.ImageBase64)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.Submissions.Submit(r.Context(), ports.Submission{
		ProviderID:      req.ProviderID,
		Description:     req.Description,
		Image:           img,
		Context:         req.Context,
		DeliveryMethods: req.DeliveryMethods,
		DistributionEnd: req.DistributionEnd,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if params.Wait == nil || !*params.Wait {
		writeJSON(w, http.StatusAccepted, submissionAccepted{SubmissionID: id})
		return
	}
	timeout := defaultWaitTimeout
	if params.Timeout != nil && *params.Timeout > 0 {
		timeout = *params.Timeout
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeout)*time.Second)
	defer cancel()
	// a failed job is reported through its state below
	_ = auditrunner.ProcessInline(ctx, s.Jobs, s.Processor, id)
	st, err := s.Submissions.Status(context.WithoutCancel(ctx), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	st, err := s.Submissions.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listDonations(w http.ResponseWriter, r *http.Request) {
	var available *bool
	if err := bindQuery(r, "available", &available); err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.Donations.List(r.Context(), ports.InventoryFilter{
		ProviderID:    r.URL.Query().Get("providerId"),
		OnlyClaimable: available != nil && *available,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getDonation(w http.ResponseWriter, r *http.Request) {
	d, err := s.Donations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// flexQuantity accepts a JSON number or a free-text string.
type flexQuantity string

func (q *flexQuantity) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*q = flexQuantity(str)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*q = ""
		return nil
	}
	*q = flexQuantity(b)
	return nil
}

type claimRequest struct {
	Quantity       flexQuantity          `json:"quantity"`
	DeliveryMethod domain.DeliveryMethod `json:"deliveryMethod"`
}

func (s *Server) postClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	qty, err := claims.ParseQuantity(string(req.Quantity), s.StrictQuantity)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Claims.Claim(r.Context(), ports.ClaimRequest{
		DonationID:     chi.URLParam(r, "id"),
		RequesterID:    r.Header.Get(RequesterHeader),
		Quantity:       qty,
		DeliveryMethod: req.DeliveryMethod,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) listClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.Claims.List(r.Context(), ports.ClaimFilter{
		DonationID:  q.Get("donationId"),
		RequesterID: q.Get("requesterId"),
		ProviderID:  q.Get("providerId"),
		Status:      domain.ClaimStatus(q.Get("status")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type verifyRequest struct {
	Code string `json:"code"`
}

func (s *Server) verifyClaim(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.Claims.Verify(r.Context(), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) cancelClaim(w http.ResponseWriter, r *http.Request) {
	requester := r.Header.Get(RequesterHeader)
	if requester == "" {
		s.writeError(w, r, claims.ErrMissingRequester)
		return
	}
	rec, err := s.Claims.Cancel(r.Context(), chi.URLParam(r, "id"), requester)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) advanceCourier(w http.ResponseWriter, r *http.Request) {
	courier := r.Header.Get(CourierHeader)
	if courier == "" {
		s.writeError(w, r, &badRequest{msg: CourierHeader + " header is required"})
		return
	}
	rec, err := s.Claims.AdvanceCourier(r.Context(), chi.URLParam(r, "id"), courier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) requesterImpact(w http.ResponseWriter, r *http.Request) {
	res, err := s.Claims.RequesterImpact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
