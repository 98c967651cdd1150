package handle

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"invoice-bot/api/internal/invoice"
	"invoice-bot/api/internal/ocr"
)

type ParseRequest struct {
	ImageB64 string `json:"image_b64" validate:"required"`
	Mime     string `json:"mime,omitempty"`
}

type ParseResponse struct {
	ImageHash     string          `json:"image_hash"`
	Cached        bool            `json:"cached"`
	NeedsRescan   bool            `json:"needs_rescan"`
	RescanReason  string          `json:"rescan_reason,omitempty"`
	Draft         invoice.Draft   `json:"draft"`
	Issues        []invoice.Issue `json:"issues"`
	InvoiceIssues []invoice.Issue `json:"invoice_issues"`
}

// Parse распознаёт накладную и прогоняет детектор, как это делает бот перед сверкой.
func (h *Handle) Parse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req ParseRequest
	if !h.decode(w, r, &req) {
		return
	}
	img, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.ImageB64))
	if err != nil || len(img) == 0 {
		http.Error(w, "bad image_b64", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 180*time.Second)
	defer cancel()

	pr, hash, cached, err := h.OCR.Recognize(ctx, ocr.Meta{}, img, req.Mime)
	if err != nil {
		h.logger().WithError(err).Warn("api parse failed")
		http.Error(w, "parse error: "+err.Error(), http.StatusBadGateway)
		return
	}
	out := ParseResponse{
		ImageHash:    hash,
		Cached:       cached,
		NeedsRescan:  pr.NeedsRescan,
		RescanReason: pr.RescanReason,
		Draft:        pr.ToDraft(hash),
	}
	if !pr.NeedsRescan {
		res, err := h.Detector.Detect(ctx, &out.Draft)
		if err != nil {
			http.Error(w, "detect error: "+err.Error(), http.StatusBadGateway)
			return
		}
		out.Issues, out.InvoiceIssues = res.Positions, res.Invoice
	}
	writeJSON(w, http.StatusOK, out)
}
