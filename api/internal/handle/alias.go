package handle

import (
	"errors"
	"net/http"

	"invoice-bot/api/internal/catalog"
	"invoice-bot/api/internal/errs"
)

type AliasRequest struct {
	Alias     string `json:"alias" validate:"required"`
	ProductID int64  `json:"product_id" validate:"omitempty,gt=0"`
}

// Alias: PUT привязывает алиас к товару, DELETE удаляет ошибочно выученный.
func (h *Handle) Alias(w http.ResponseWriter, r *http.Request) {
	var req AliasRequest
	switch r.Method {
	case http.MethodPut:
		if !h.decode(w, r, &req) {
			return
		}
		if req.ProductID == 0 {
			http.Error(w, "product_id is required", http.StatusBadRequest)
			return
		}
		if _, err := h.Catalog.Product(r.Context(), req.ProductID); err != nil {
			var nf *errs.NotFoundError
			if errors.As(err, &nf) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			http.Error(w, "catalog: "+err.Error(), http.StatusBadGateway)
			return
		}
		if err := h.Aliases.Upsert(r.Context(), req.Alias, req.ProductID); err != nil {
			http.Error(w, "alias upsert: "+err.Error(), http.StatusBadGateway)
			return
		}
		h.logger().WithField("alias", catalog.AliasKey(req.Alias)).WithField("product_id", req.ProductID).Info("alias set via api")
		writeJSON(w, http.StatusOK, map[string]any{"alias": catalog.AliasKey(req.Alias), "product_id": req.ProductID})

	case http.MethodDelete:
		if !h.decode(w, r, &req) {
			return
		}
		removed, err := h.Aliases.Remove(r.Context(), req.Alias)
		if err != nil {
			http.Error(w, "alias remove: "+err.Error(), http.StatusBadGateway)
			return
		}
		h.logger().WithField("alias", catalog.AliasKey(req.Alias)).WithField("removed", removed).Info("alias removed via api")
		writeJSON(w, http.StatusOK, map[string]any{"alias": catalog.AliasKey(req.Alias), "removed": removed})

	default:
		http.Error(w, "PUT or DELETE only", http.StatusMethodNotAllowed)
	}
}
