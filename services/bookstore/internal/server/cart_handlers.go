package server

import (
	"net/http"
	"strconv"
	"strings"

	"bookhaven/pkg/auth"
)

type addToCartRequest struct {
	BookID   string `json:"bookId"`
	Quantity *int   `json:"quantity"`
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	items, err := s.app.Cart(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddToCart(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req addToCartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	item, err := s.app.AddToCart(r.Context(), id, req.BookID, req.Quantity)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateCartItem(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	quantity, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("quantity")))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "quantity must be an integer")
		return
	}
	item, removed, err := s.app.UpdateCartItem(r.Context(), id, r.PathValue("bookId"), quantity)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if removed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRemoveFromCart(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := s.app.RemoveFromCart(r.Context(), id, r.PathValue("bookId")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	removed, err := s.app.ClearCart(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	res, err := s.app.Checkout(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": res.Message,
		"total":   res.Total.StringFixed(2),
	})
}

func (s *Server) handleCartCount(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	count, err := s.app.CartItemCount(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleCartTotal(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	total, err := s.app.CartTotal(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"total": total.StringFixed(2)})
}
