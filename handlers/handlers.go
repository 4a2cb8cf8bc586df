package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"chain-gateway/fees"
	"chain-gateway/logger"
	"chain-gateway/models"

	"go.uber.org/zap"
)

type BlockService interface {
	GetBlocks(ctx context.Context, p models.BlockParams) (models.Result[models.Block], error)
}

type AccountService interface {
	GetAccounts(ctx context.Context, p models.AccountParams) (models.Result[models.Account], error)
	GetTopAccounts(ctx context.Context, page models.Page) (models.Result[models.Account], error)
}

type DelegateService interface {
	GetDelegates(p models.DelegateParams) (models.Result[models.Delegate], error)
	GetNextForgers(page models.Page) models.Result[models.Delegate]
}

type NetworkService interface {
	GetNetworkStatus(ctx context.Context) (models.NetworkStatus, error)
	GetFinalizedHeight() int64
	GetPeers(ctx context.Context, p models.PeerParams) models.Result[models.Peer]
}

type FeeService interface {
	Latest() (models.FeeEstimate, bool)
	Calculate(ctx context.Context) (models.FeeEstimate, error)
}

// Handler contains the HTTP handlers for the gateway API endpoints
type Handler struct {
	Blocks    BlockService
	Accounts  AccountService
	Delegates DelegateService
	Network   NetworkService
	Fees      FeeService
}

// errBadParam marks query parameters that could not be parsed.
var errBadParam = errors.New("invalid query parameter")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Logger.Warn("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// fail maps service errors onto status codes.
func fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, errBadParam):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeError(w, http.StatusNotFound, op+": not found")
	case errors.Is(err, fees.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		logger.Logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	}
}

// query reads typed values from the URL query, remembering the first parse error.
type query struct {
	r   *http.Request
	err error
}

func (q *query) str(name string) string { return q.r.URL.Query().Get(name) }

func (q *query) list(name string) []string {
	v := q.str(name)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func (q *query) i64(name string) int64 {
	v := q.str(name)
	if v == "" || q.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		q.err = fmt.Errorf("%w: %s", errBadParam, name)
		return 0
	}
	return n
}

func (q *query) num(name string) int { return int(q.i64(name)) }

func (q *query) flag(name string) bool {
	v := q.str(name)
	if v == "" || q.err != nil {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.err = fmt.Errorf("%w: %s", errBadParam, name)
	}
	return b
}

func (q *query) page() models.Page {
	return models.Page{Offset: q.num("offset"), Limit: q.num("limit")}
}

// GetBlocks handles GET /blocks
func (h *Handler) GetBlocks(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	page := q.page()
	p := models.BlockParams{
		ID:            q.str("id"),
		IDs:           q.list("ids"),
		Height:        q.i64("height"),
		HeightFrom:    q.i64("heightFrom"),
		HeightTo:      q.i64("heightTo"),
		FromTimestamp: q.i64("from"),
		ToTimestamp:   q.i64("to"),
		GeneratorKey:  q.str("generatorPublicKey"),
		Sort:          q.str("sort"),
		Offset:        page.Offset,
		Limit:         page.Limit,
	}
	if q.err != nil {
		fail(w, "blocks", q.err)
		return
	}
	res, err := h.Blocks.GetBlocks(r.Context(), p)
	if err != nil {
		fail(w, "blocks", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetAccounts handles GET /accounts
func (h *Handler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	page := q.page()
	p := models.AccountParams{
		Address:         q.str("address"),
		Addresses:       q.list("addresses"),
		PublicKey:       q.str("publicKey"),
		SecondPublicKey: q.str("secondPublicKey"),
		Username:        q.str("username"),
		IsDelegate:      q.flag("isDelegate"),
		Sort:            q.str("sort"),
		Offset:          page.Offset,
		Limit:           page.Limit,
	}
	if q.err != nil {
		fail(w, "accounts", q.err)
		return
	}
	res, err := h.Accounts.GetAccounts(r.Context(), p)
	if err != nil {
		fail(w, "accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetTopAccounts handles GET /accounts/top
func (h *Handler) GetTopAccounts(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	page := q.page()
	if q.err != nil {
		fail(w, "accounts", q.err)
		return
	}
	res, err := h.Accounts.GetTopAccounts(r.Context(), page)
	if err != nil {
		fail(w, "accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetDelegates handles GET /delegates
func (h *Handler) GetDelegates(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	page := q.page()
	p := models.DelegateParams{
		Address:         q.str("address"),
		PublicKey:       q.str("publicKey"),
		SecondPublicKey: q.str("secondPublicKey"),
		Username:        q.str("username"),
		Search:          q.str("search"),
		Sort:            q.str("sort"),
		Offset:          page.Offset,
		Limit:           page.Limit,
	}
	if q.err != nil {
		fail(w, "delegates", q.err)
		return
	}
	res, err := h.Delegates.GetDelegates(p)
	if err != nil {
		fail(w, "delegates", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetNextForgers handles GET /forgers
func (h *Handler) GetNextForgers(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	page := q.page()
	if q.err != nil {
		fail(w, "forgers", q.err)
		return
	}
	writeJSON(w, http.StatusOK, h.Delegates.GetNextForgers(page))
}

// GetPeers handles GET /peers
func (h *Handler) GetPeers(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	page := q.page()
	p := models.PeerParams{
		State:          q.str("state"),
		IP:             q.str("ip"),
		NetworkVersion: q.str("networkVersion"),
		Height:         q.i64("height"),
		Sort:           q.str("sort"),
		Offset:         page.Offset,
		Limit:          page.Limit,
	}
	if q.err != nil {
		fail(w, "peers", q.err)
		return
	}
	writeJSON(w, http.StatusOK, h.Network.GetPeers(r.Context(), p))
}

// GetNetworkStatus handles GET /network/status
func (h *Handler) GetNetworkStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.Network.GetNetworkStatus(r.Context())
	if err != nil {
		fail(w, "network status", err)
		return
	}
	if status.FinalizedHeight == 0 {
		status.FinalizedHeight = h.Network.GetFinalizedHeight()
	}
	writeJSON(w, http.StatusOK, status)
}

// GetFeeEstimates handles GET /fees. The last estimate is served when there is one.
func (h *Handler) GetFeeEstimates(w http.ResponseWriter, r *http.Request) {
	if est, ok := h.Fees.Latest(); ok {
		writeJSON(w, http.StatusOK, est)
		return
	}
	est, err := h.Fees.Calculate(r.Context())
	if err != nil {
		fail(w, "fee estimates", err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}
