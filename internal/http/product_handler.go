package http

import (
	"context"
	"net/http"

	"github.com/KimDog-Studios/kimdog-modding-main/internal/domain"
)

type ProductLister interface {
	ListProducts(ctx context.Context) ([]*domain.Product, error)
}

type ProductHandler struct {
	products ProductLister
}

func NewProductHandler(products ProductLister) *ProductHandler {
	return &ProductHandler{products: products}
}

// ProductDTO leaves out the download link; files are served to owners only.
type ProductDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
	ImageRef    string `json:"image_ref"`
	Author      string `json:"author"`
	Game        string `json:"game,omitempty"`
}

type ProductsResponseDTO struct {
	Products []ProductDTO `json:"products"`
}

func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListProducts(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	resp := ProductsResponseDTO{Products: make([]ProductDTO, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, ProductDTO{
			ID:          p.ID,
			Name:        p.Name,
			Price:       p.Price,
			Description: p.Description,
			ImageRef:    p.ImageRef,
			Author:      p.Author,
			Game:        p.Game,
		})
	}
	respondJSON(w, r, http.StatusOK, resp)
}
