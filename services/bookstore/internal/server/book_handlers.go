package server

import (
	"net/http"

	"github.com/shopspring/decimal"

	"bookhaven/pkg/auth"
	"bookhaven/pkg/domain"
	"bookhaven/services/bookstore/internal/app"
)

type bookRequest struct {
	Title           string          `json:"title"`
	Author          string          `json:"author"`
	PublicationDate domain.Date     `json:"publicationDate"`
	Genre           string          `json:"genre"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	Image           string          `json:"image"`
	Stock           *int            `json:"stock"`
}

func (req bookRequest) input() app.BookInput {
	return app.BookInput{
		Title:           req.Title,
		Author:          req.Author,
		PublicationDate: req.PublicationDate,
		Genre:           req.Genre,
		Description:     req.Description,
		Price:           req.Price,
		Image:           req.Image,
		Stock:           req.Stock,
	}
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := s.app.ListBooks(r.Context(), app.BookQuery{
		Search:    q.Get("search"),
		Genre:     q.Get("genre"),
		SortBy:    q.Get("sortBy"),
		SortOrder: q.Get("sortOrder"),
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.app.Book(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleFeaturedBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.FeaturedBooks(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleTopRatedBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.TopRatedBooks(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleRelatedBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.app.RelatedBooks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	genres, err := s.app.Genres(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, genres)
}

func (s *Server) handleMyBooks(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	books, err := s.app.MyBooks(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	book, err := s.app.CreateBook(r.Context(), id, req.input())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req bookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	book, err := s.app.UpdateBook(r.Context(), id, r.PathValue("id"), req.input())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := s.app.DeleteBook(r.Context(), id, r.PathValue("id")); err != nil {
		writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
