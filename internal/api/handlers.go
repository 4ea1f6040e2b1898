package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/example/bookstore/internal/api/middleware"
	"github.com/example/bookstore/internal/cart"
	"github.com/example/bookstore/internal/catalog"
	"github.com/example/bookstore/internal/checkout"
	"github.com/example/bookstore/internal/domain"
	"github.com/example/bookstore/internal/order"
)

type Handlers struct {
	catalog  *catalog.Service
	carts    *cart.Manager
	checkout *checkout.Engine
	orders   *order.Service
}

func NewHandlers(cat *catalog.Service, carts *cart.Manager, engine *checkout.Engine, orders *order.Service) *Handlers {
	return &Handlers{
		catalog:  cat,
		carts:    carts,
		checkout: engine,
		orders:   orders,
	}
}

// Book Handlers

func (h *Handlers) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req catalog.NewBook
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	book, err := h.catalog.CreateBook(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, book)
}

func (h *Handlers) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.catalog.ListBooks(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, books)
}

func (h *Handlers) GetBook(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r.URL.Path, "/books/")
	if !ok {
		return
	}
	book, err := h.catalog.GetBook(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (h *Handlers) UpdateStock(w http.ResponseWriter, r *http.Request) {
	idPart := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/books/"), "/stock")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		respondJSONError(w, "Invalid book id", http.StatusBadRequest)
		return
	}

	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	book, err := h.catalog.UpdateStock(r.Context(), id, req.Delta)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, book)
}

func (h *Handlers) CheckISBN(w http.ResponseWriter, r *http.Request) {
	isbn := r.URL.Query().Get("isbn")
	if isbn == "" {
		respondJSONError(w, "isbn query parameter is required", http.StatusBadRequest)
		return
	}

	check, err := h.catalog.CheckISBN(r.Context(), isbn)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, check)
}

// Author Handlers

func (h *Handlers) CreateAuthor(w http.ResponseWriter, r *http.Request) {
	var author domain.Author
	if err := json.NewDecoder(r.Body).Decode(&author); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(author.Name) == "" {
		respondJSONError(w, "Author name is required", http.StatusBadRequest)
		return
	}

	if err := h.catalog.CreateAuthor(r.Context(), &author); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, author)
}

func (h *Handlers) ListAuthors(w http.ResponseWriter, r *http.Request) {
	authors, err := h.catalog.ListAuthors(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, authors)
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	c, err := h.carts.GetOrCreateActive(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ReplaceCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req struct {
		Lines []cart.Line `json:"lines"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	c, err := h.carts.Edit(r.Context(), userID, req.Lines)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) RemoveCartLine(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	lineID, ok := pathID(w, r.URL.Path, "/cart/lines/")
	if !ok {
		return
	}

	c, err := h.carts.RemoveLine(r.Context(), userID, lineID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.carts.Clear(r.Context(), userID); err != nil {
		respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Checkout Handler

func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	o, err := h.checkout.Checkout(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, o)
}

// Order Handlers

func (h *Handlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListByUser(r.Context(), userID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orders)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	number := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/orders/"), "/cancel")

	o, err := h.orders.GetByNumber(r.Context(), number)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if o.UserID != userID {
		respondJSONError(w, "Forbidden", http.StatusForbidden)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	number := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/orders/"), "/cancel")

	existing, err := h.orders.GetByNumber(r.Context(), number)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if existing.UserID != userID {
		respondJSONError(w, "Forbidden", http.StatusForbidden)
		return
	}

	o, err := h.orders.Cancel(r.Context(), number)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondServiceError maps domain errors onto HTTP statuses: absence is
// 404, violated business rules are 409, exhausted conflict retries are 503.
func respondServiceError(w http.ResponseWriter, err error) {
	var stockErr *domain.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":     "insufficient stock",
			"book_id":   stockErr.BookID,
			"title":     stockErr.Title,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		})
	case errors.Is(err, domain.ErrBookNotFound),
		errors.Is(err, domain.ErrAuthorNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrNoActiveCart):
		respondJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrDuplicateISBN),
		errors.Is(err, domain.ErrOrderNotCancellable):
		respondJSONError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrCheckoutConflict),
		errors.Is(err, domain.ErrConcurrentModification):
		respondJSONError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		respondJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, path, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(path, prefix), 10, 64)
	if err != nil {
		respondJSONError(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// requireUser resolves the caller's user ID from the JWT context, falling
// back to the X-User-ID header for unauthenticated tooling.
func requireUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if userID := middleware.GetUserID(r.Context()); userID != 0 {
		return userID, true
	}
	if header := r.Header.Get("X-User-ID"); header != "" {
		if userID, err := strconv.ParseInt(header, 10, 64); err == nil && userID > 0 {
			return userID, true
		}
	}
	respondJSONError(w, "unauthorized", http.StatusUnauthorized)
	return 0, false
}
