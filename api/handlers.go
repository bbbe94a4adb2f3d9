/*
handlers.go - HTTP API handlers for the wallet ledger

PURPOSE:
  Exposes the wallet service, recharge reconciler and revenue allocator via
  a REST API. Handles HTTP request/response and JSON serialization and
  delegates everything else to the domain packages.

ENDPOINTS:
  User (X-User-ID required):
    POST   /api/wallet                       Create the caller's wallet
    GET    /api/wallet                       Wallet snapshot
    GET    /api/wallet/transactions          Paginated history, newest first
    GET    /api/wallet/recharge-code         Current recharge code
    POST   /api/wallet/recharge              Redeem a paid recharge code

  Internal (job lifecycle service):
    POST   /api/internal/users/{userID}/deduct      Charge a job posting
    POST   /api/internal/users/{userID}/refund      Refund a job posting
    POST   /api/internal/users/{userID}/activate    Re-enable a wallet
    POST   /api/internal/users/{userID}/deactivate  Freeze a wallet
    GET    /api/internal/users/{userID}/audit       Ledger consistency check
    POST   /api/internal/jobs/{jobID}/complete      Fee split + payout
    GET    /api/internal/revenue                    Revenue rows
    GET    /api/internal/revenue/summary            Revenue totals

ERROR HANDLING:
  Errors are returned as JSON {"error", "details"}:
  - 400: Validation errors, bad recharge code
  - 401: Missing X-User-ID
  - 402: Insufficient funds
  - 403: Wallet inactive
  - 404: Wallet not found
  - 409: Duplicate wallet, entry or allocation
  - 502: Payment gateway rejected or unreachable
  - 503: Storage conflict after retries
  - 500: Internal errors (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/recharge"
	"github.com/warp/wallet-ledger/revenue"
	"github.com/warp/wallet-ledger/wallet"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Wallets   *wallet.Service
	Recharge  *recharge.Reconciler
	Allocator *revenue.Allocator
	Logger    *zap.Logger
}

func NewHandler(wallets *wallet.Service, rec *recharge.Reconciler, alloc *revenue.Allocator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Wallets:   wallets,
		Recharge:  rec,
		Allocator: alloc,
		Logger:    logger,
	}
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// CreateWallet creates the caller's wallet.
// POST /api/wallet
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var currency wallet.Currency
	if req.Currency != "" {
		c, err := wallet.ParseCurrency(req.Currency)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		currency = c
	}

	res, err := h.Wallets.CreateWallet(r.Context(), userFrom(r), currency, req.InitialBalance)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMutationResponse(res))
}

// GetWallet returns the caller's wallet.
// GET /api/wallet
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wal, err := h.Wallets.GetWallet(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wal))
}

// ListTransactions returns one page of history.
// GET /api/wallet/transactions?kind=&status=&reference_id=&from=&to=&page=&page_size=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEntryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	wal, page, err := h.Wallets.ListTransactions(r.Context(), userFrom(r), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]EntryDTO, len(page.Entries))
	for i, e := range page.Entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{
		Wallet:       toWalletDTO(*wal),
		Transactions: dtos,
		Total:        page.Total,
		Page:         page.Page,
		PageSize:     page.PageSize,
	})
}

// GetRechargeCode returns the code the user pays against.
// GET /api/wallet/recharge-code
func (h *Handler) GetRechargeCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.Recharge.Code(r.Context(), userFrom(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RechargeCodeDTO{Code: code})
}

// RedeemRechargeCode credits a paid recharge code.
// POST /api/wallet/recharge
func (h *Handler) RedeemRechargeCode(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.Recharge.Redeem(r.Context(), userFrom(r), req.Code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

// =============================================================================
// INTERNAL ENDPOINTS
// =============================================================================

// Deduct charges a job posting.
// POST /api/internal/users/{userID}/deduct
func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	var req DeductRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.Wallets.Deduct(r.Context(), pathUser(r), req.Amount, req.JobID, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

// Refund returns money for a job.
// POST /api/internal/users/{userID}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.Wallets.Refund(r.Context(), pathUser(r), req.Amount, req.JobID, req.Reason, idempotencyKey(r, req.IdempotencyKey))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMutationResponse(res))
}

// ActivateWallet re-enables a frozen wallet.
// POST /api/internal/users/{userID}/activate
func (h *Handler) ActivateWallet(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivateWallet freezes a wallet; reads keep working.
// POST /api/internal/users/{userID}/deactivate
func (h *Handler) DeactivateWallet(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	wal, err := h.Wallets.SetActive(r.Context(), pathUser(r), active)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wal))
}

// AuditWallet replays the ledger and compares it with the balance.
// GET /api/internal/users/{userID}/audit
func (h *Handler) AuditWallet(w http.ResponseWriter, r *http.Request) {
	report, err := h.Wallets.Audit(r.Context(), pathUser(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(report))
}

// CompleteJob splits a finished job's budget.
// POST /api/internal/jobs/{jobID}/complete
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var req CompleteJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.Allocator.AllocateJobCompletion(r.Context(), chi.URLParam(r, "jobID"),
		req.GrossAmount, req.FeePercentage, wallet.UserID(req.EmployerID), wallet.UserID(req.FreelancerID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAllocationResponse(res))
}

// ListRevenue returns revenue rows, newest first.
// GET /api/internal/revenue?employer_id=&freelancer_id=&from=&to=&limit=&offset=
func (h *Handler) ListRevenue(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRevenueFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid query", err)
		return
	}

	rows, err := h.Allocator.ListRevenue(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]RevenueDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toRevenueDTO(row)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RevenueSummary totals all allocations.
// GET /api/internal/revenue/summary
func (h *Handler) RevenueSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Allocator.Summary(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RevenueSummaryDTO{
		Jobs:    sum.Jobs,
		Gross:   wallet.FormatMoney(sum.Gross),
		Fees:    wallet.FormatMoney(sum.Fees),
		Payouts: wallet.FormatMoney(sum.Payouts),
	})
}

// =============================================================================
// QUERY PARSING
// =============================================================================

func parseEntryFilter(r *http.Request) (wallet.EntryFilter, error) {
	q := r.URL.Query()
	var f wallet.EntryFilter

	for _, raw := range q["kind"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			k, err := wallet.ParseEntryKind(part)
			if err != nil {
				return f, err
			}
			f.Kinds = append(f.Kinds, k)
		}
	}
	if s := q.Get("status"); s != "" {
		st := wallet.EntryStatus(strings.ToLower(s))
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %q", s)
		}
		f.Status = st
	}
	f.ReferenceID = q.Get("reference_id")

	var err error
	if f.From, err = parseTimeParam(q.Get("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTimeParam(q.Get("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if f.Page, err = parseIntParam(q.Get("page")); err != nil {
		return f, fmt.Errorf("page: %w", err)
	}
	if f.PageSize, err = parseIntParam(q.Get("page_size")); err != nil {
		return f, fmt.Errorf("page_size: %w", err)
	}
	return f, nil
}

func parseRevenueFilter(r *http.Request) (wallet.RevenueFilter, error) {
	q := r.URL.Query()
	f := wallet.RevenueFilter{
		EmployerID:   wallet.UserID(q.Get("employer_id")),
		FreelancerID: wallet.UserID(q.Get("freelancer_id")),
	}

	var err error
	if f.From, err = parseTimeParam(q.Get("from"), false); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTimeParam(q.Get("to"), true); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if f.Limit, err = parseIntParam(q.Get("limit")); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = parseIntParam(q.Get("offset")); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	return f, nil
}

// parseTimeParam accepts RFC 3339 or a plain date. A plain "to" date covers
// the whole day.
func parseTimeParam(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("use RFC 3339 or YYYY-MM-DD, got %q", s)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func parseIntParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", s)
	}
	return n, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func pathUser(r *http.Request) wallet.UserID {
	return wallet.UserID(chi.URLParam(r, "userID"))
}

// idempotencyKey prefers the Idempotency-Key header over the body field.
func idempotencyKey(r *http.Request, fromBody string) string {
	if k := strings.TrimSpace(r.Header.Get("Idempotency-Key")); k != "" {
		return k
	}
	return strings.TrimSpace(fromBody)
}

// MaxBodyBytes caps every JSON request body.
const MaxBodyBytes = 64 << 10

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", err)
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "Insufficient funds"
	case errors.Is(err, wallet.ErrWalletInactive):
		return http.StatusForbidden, "Wallet is inactive"
	case errors.Is(err, wallet.ErrWalletNotFound):
		return http.StatusNotFound, "Wallet not found"
	case errors.Is(err, wallet.ErrCodeMismatch):
		return http.StatusBadRequest, "Recharge code does not match"
	case errors.Is(err, wallet.ErrWalletExists),
		errors.Is(err, wallet.ErrDuplicateEntry),
		errors.Is(err, wallet.ErrAlreadyAllocated):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, wallet.ErrGatewayRejected):
		return http.StatusBadGateway, "Payment gateway rejected the request"
	case errors.Is(err, wallet.ErrStorageConflict):
		return http.StatusServiceUnavailable, "Wallet is busy, retry later"
	case wallet.IsClientError(err):
		return http.StatusBadRequest, "Invalid request"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// fail writes the mapped error. Server-side failures are logged with the
// request ID and their details are withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.Logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			err = nil
		}
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
