package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/cochintraders/tally-bridge/internal/core/domain"
	"github.com/cochintraders/tally-bridge/internal/core/service"
)

// HTTPHandler exposes the bridge over JSON. Success bodies carry
// {"success":true,...}; failures {"success":false,"error":reason} with
// the reason string only, never internals.
type HTTPHandler struct {
	syncService  *service.SyncService
	orderService *service.OrderService
	validate     *validator.Validate
	log          *logrus.Logger
	backend      string
}

func NewHTTPHandler(syncService *service.SyncService, orderService *service.OrderService, log *logrus.Logger, backend string) *HTTPHandler {
	return &HTTPHandler{
		syncService:  syncService,
		orderService: orderService,
		validate:     validator.New(),
		log:          log,
		backend:      backend,
	}
}

// Register wires all routes onto mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.Health)
	mux.HandleFunc("GET /api/tally-odbc-check", h.SourceCheck)
	mux.HandleFunc("GET /api/active-company", h.ActiveCompany)
	mux.HandleFunc("GET /api/tally-companies", h.SourceCompanies)
	mux.HandleFunc("POST /api/sync-tally/{companyName}", h.SyncCompany)
	mux.HandleFunc("POST /api/sync-active-company", h.SyncActiveCompany)
	mux.HandleFunc("GET /api/companies", h.ListCompanies)
	mux.HandleFunc("GET /api/company/{companyName}", h.GetCompany)
	mux.HandleFunc("GET /api/company/{companyName}/ledgers", h.CompanyLedgers)
	mux.HandleFunc("GET /api/company/{companyName}/stocks", h.CompanyStocksStored)
	mux.HandleFunc("GET /api/company/{companyName}/parties", h.CompanyPartiesStored)
	mux.HandleFunc("DELETE /api/company/{companyName}", h.DeleteCompany)
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /api/stocks/{companyName}", h.CompanyStocks)
	mux.HandleFunc("GET /api/parties/{companyName}", h.CompanyParties)
	mux.HandleFunc("GET /api/stocks-with-batch/{companyName}", h.StocksWithBatches)
	mux.HandleFunc("POST /api/add-batches", h.AddBatches)
	mux.HandleFunc("GET /api/batches/{companyName}/{stockItem}", h.GetBatches)
	mux.HandleFunc("POST /api/orders/{companyName}/{shopName}", h.PlaceOrder)
}

func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"backend": h.backend,
	})
}

func (h *HTTPHandler) SourceCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.syncService.CheckSource(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":   false,
			"connected": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"connected": true,
	})
}

func (h *HTTPHandler) ActiveCompany(w http.ResponseWriter, r *http.Request) {
	company, err := h.syncService.ResolveActiveCompany(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successData(company))
}

func (h *HTTPHandler) SourceCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.syncService.ListSourceCompanies(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, companies)
}

type syncRequest struct {
	CompanyDetails *domain.Company `json:"companyDetails"`
}

func (h *HTTPHandler) SyncCompany(w http.ResponseWriter, r *http.Request) {
	companyName := r.PathValue("companyName")

	var req syncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, domain.Invalidf("invalid request body"))
			return
		}
	}

	result, err := h.syncService.SyncCompany(r.Context(), companyName, req.CompanyDetails)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSyncResult(w, result)
}

func (h *HTTPHandler) SyncActiveCompany(w http.ResponseWriter, r *http.Request) {
	result, err := h.syncService.SyncActiveCompany(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeSyncResult(w, result)
}

func (h *HTTPHandler) writeSyncResult(w http.ResponseWriter, result *service.SyncResult) {
	message := "sync completed"
	if result.SavedLimited {
		message = "company saved but no data could be fetched; make sure it is open in Tally Prime"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"data":         result,
		"savedLimited": result.SavedLimited,
		"message":      message,
	})
}

func (h *HTTPHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.syncService.ListCompanies(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, companies)
}

func (h *HTTPHandler) GetCompany(w http.ResponseWriter, r *http.Request) {
	snap, err := h.syncService.GetCompany(r.Context(), r.PathValue("companyName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successData(snap))
}

func (h *HTTPHandler) CompanyLedgers(w http.ResponseWriter, r *http.Request) {
	snap, err := h.syncService.GetCompany(r.Context(), r.PathValue("companyName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, snap.Ledgers)
}

func (h *HTTPHandler) CompanyStocksStored(w http.ResponseWriter, r *http.Request) {
	snap, err := h.syncService.GetCompany(r.Context(), r.PathValue("companyName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, snap.Stocks)
}

func (h *HTTPHandler) CompanyPartiesStored(w http.ResponseWriter, r *http.Request) {
	snap, err := h.syncService.GetCompany(r.Context(), r.PathValue("companyName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, snap.Parties)
}

func (h *HTTPHandler) DeleteCompany(w http.ResponseWriter, r *http.Request) {
	companyName := r.PathValue("companyName")
	if err := h.syncService.DeleteCompany(r.Context(), companyName); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"deletedCompany": companyName,
	})
}

func (h *HTTPHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.syncService.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successData(stats))
}

func (h *HTTPHandler) CompanyStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.syncService.CompanyStocks(r.Context(), r.PathValue("companyName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, stocks)
}

func (h *HTTPHandler) CompanyParties(w http.ResponseWriter, r *http.Request) {
	parties, err := h.syncService.CompanyParties(r.Context(), r.PathValue("companyName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, parties)
}

func (h *HTTPHandler) StocksWithBatches(w http.ResponseWriter, r *http.Request) {
	stocks, err := h.orderService.StocksWithBatches(r.Context(), r.PathValue("companyName"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeList(w, stocks)
}

type batchInput struct {
	Name     string `json:"name"`
	Size     int    `json:"size" validate:"required"`
	Quantity int    `json:"quantity" validate:"required"`
}

type addBatchesRequest struct {
	CompanyName string       `json:"companyName" validate:"required"`
	StockItem   string       `json:"stockItem" validate:"required"`
	Batches     []batchInput `json:"batches" validate:"required,min=1"`
}

func (h *HTTPHandler) AddBatches(w http.ResponseWriter, r *http.Request) {
	var req addBatchesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, domain.Invalidf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, domain.Invalidf("%s", validationMessage(err)))
		return
	}

	batches := make([]domain.Batch, len(req.Batches))
	for i, b := range req.Batches {
		batches[i] = domain.Batch{Name: b.Name, Size: b.Size, Quantity: b.Quantity}
	}

	rec, err := h.orderService.AddBatches(r.Context(), req.CompanyName, req.StockItem, batches)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       "batches for " + rec.StockItem + " saved successfully",
		"companyName":   rec.CompanyName,
		"stockItem":     rec.StockItem,
		"batchCount":    len(rec.Batches),
		"totalQuantity": rec.TotalQuantity,
		"upserted":      true,
	})
}

func (h *HTTPHandler) GetBatches(w http.ResponseWriter, r *http.Request) {
	companyName := r.PathValue("companyName")
	stockItem := r.PathValue("stockItem")

	rec, found, err := h.orderService.GetBatches(r.Context(), companyName, stockItem)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !found {
		// Absence is a success envelope, not a 404: clients poll this
		// before the first add-batches call.
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"found":         false,
			"companyName":   companyName,
			"stockItem":     stockItem,
			"batches":       []domain.Batch{},
			"totalQuantity": 0,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"found":         true,
		"companyName":   rec.CompanyName,
		"stockItem":     rec.StockItem,
		"batches":       rec.Batches,
		"totalQuantity": rec.TotalQuantity,
		"updatedAt":     rec.UpdatedAt,
	})
}

type orderItemInput struct {
	StockItem string         `json:"stockItem" validate:"required"`
	Pieces    map[string]int `json:"pieces" validate:"required,min=1"`
}

func (h *HTTPHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	companyName := r.PathValue("companyName")
	shopName := r.PathValue("shopName")

	var inputs []orderItemInput
	if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
		h.writeError(w, domain.Invalidf("invalid request body: expected an array of order items"))
		return
	}

	items := make([]domain.OrderItemRequest, len(inputs))
	for i, in := range inputs {
		if err := h.validate.Struct(in); err != nil {
			h.writeError(w, domain.Invalidf("items[%d]: %s", i, validationMessage(err)))
			return
		}
		pieces := make(map[int]int, len(in.Pieces))
		for rawSize, qty := range in.Pieces {
			size, err := strconv.Atoi(rawSize)
			if err != nil {
				h.writeError(w, domain.Invalidf("items[%d]: invalid batch size %q", i, rawSize))
				return
			}
			pieces[size] = qty
		}
		items[i] = domain.OrderItemRequest{StockItem: in.StockItem, Pieces: pieces}
	}

	order, err := h.orderService.PlaceOrder(r.Context(), companyName, shopName, items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"orderId":     order.ID,
			"companyName": order.CompanyName,
			"shopName":    order.ShopName,
			"items":       order.Items,
			"totalPieces": order.TotalPieces,
		},
	})
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case domain.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoActiveCompany):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// validationMessage flattens validator output into the offending field
// names; raw validator errors leak struct paths.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		if f.Tag() == "required" {
			return f.Field() + " is required"
		}
		return f.Field() + " is invalid"
	}
	return "invalid request"
}

func successData(data any) map[string]any {
	return map[string]any{"success": true, "data": data}
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"count":   len(items),
		"data":    items,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
