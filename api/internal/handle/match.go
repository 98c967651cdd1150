package handle

import (
	"net/http"

	"invoice-bot/api/internal/matcher"
)

type MatchRequest struct {
	Name      string  `json:"name" validate:"required"`
	Limit     int     `json:"limit" validate:"omitempty,min=1,max=50"`
	Threshold float64 `json:"threshold" validate:"omitempty,gt=0,lte=1"`
}

type MatchResponse struct {
	AliasProductID *int64              `json:"alias_product_id,omitempty"`
	Candidates     []matcher.Candidate `json:"candidates"`
}

// Match показывает, как имя из накладной сопоставится со справочником.
func (h *Handle) Match(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req MatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Limit == 0 {
		req.Limit = 5
	}
	if req.Threshold == 0 {
		req.Threshold = h.Detector.CandidateThreshold
	}

	var out MatchResponse
	id, err := h.Aliases.Lookup(r.Context(), req.Name)
	if err != nil {
		http.Error(w, "alias lookup: "+err.Error(), http.StatusBadGateway)
		return
	}
	out.AliasProductID = id

	products, err := h.Catalog.Products(r.Context())
	if err != nil {
		http.Error(w, "catalog: "+err.Error(), http.StatusBadGateway)
		return
	}
	out.Candidates = matcher.FindSimilar(req.Name, matcher.WithoutSemifinished(products), req.Limit, req.Threshold)
	if out.Candidates == nil {
		out.Candidates = []matcher.Candidate{}
	}
	writeJSON(w, http.StatusOK, out)
}
