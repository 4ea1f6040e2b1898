package api

import (
	"log"
	"net/http"
	"strings"

	"github.com/example/bookstore/internal/api/middleware"
	"github.com/example/bookstore/internal/auth"
)

func NewRouter(handlers *Handlers, authHandlers *AuthHandlers, jwtService *auth.JWTService) http.Handler {
	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("/auth/register", methodOnly(http.MethodPost, authHandlers.Register))
	mux.HandleFunc("/auth/login", methodOnly(http.MethodPost, authHandlers.Login))
	mux.HandleFunc("/auth/refresh", methodOnly(http.MethodPost, authHandlers.Refresh))
	mux.HandleFunc("/auth/logout", methodOnly(http.MethodPost, authHandlers.Logout))

	// Books
	mux.HandleFunc("/books", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.ListBooks(w, r)
		case http.MethodPost:
			handlers.CreateBook(w, r)
		default:
			respondJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/books/isbn/check", methodOnly(http.MethodGet, handlers.CheckISBN))

	mux.HandleFunc("/books/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/stock") && r.Method == http.MethodPatch:
			handlers.UpdateStock(w, r)
		case r.Method == http.MethodGet:
			handlers.GetBook(w, r)
		default:
			respondJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Authors
	mux.HandleFunc("/authors", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.ListAuthors(w, r)
		case http.MethodPost:
			handlers.CreateAuthor(w, r)
		default:
			respondJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// Cart
	mux.HandleFunc("/cart", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handlers.GetCart(w, r)
		case http.MethodPut:
			handlers.ReplaceCart(w, r)
		case http.MethodDelete:
			handlers.ClearCart(w, r)
		default:
			respondJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/cart/lines/", methodOnly(http.MethodDelete, handlers.RemoveCartLine))

	// Checkout
	mux.HandleFunc("/checkout", methodOnly(http.MethodPost, handlers.Checkout))

	// Orders
	mux.HandleFunc("/orders", methodOnly(http.MethodGet, handlers.ListOrders))

	mux.HandleFunc("/orders/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/cancel") && r.Method == http.MethodPost:
			handlers.CancelOrder(w, r)
		case r.Method == http.MethodGet:
			handlers.GetOrder(w, r)
		default:
			respondJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	optionalAuth := middleware.OptionalAuth(jwtService)
	return withLogging(optionalAuth(mux))
}

func methodOnly(method string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			respondJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[API] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
