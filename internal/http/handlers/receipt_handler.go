package handlers

import (
	"io"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/splitbuddy/internal/receipt"
)

// ScanReceiptResponse lists the candidate items read from a receipt. Nothing
// is persisted; the client edits the list and submits it with CreateTable.
type ScanReceiptResponse struct {
	Items []receipt.CandidateItem `json:"items"`
}

// ScanReceipt godoc
// @ID          scanReceipt
// @Summary     Extract candidate items from a receipt photo
// @Tags        Receipts
// @Accept      multipart/form-data
// @Produce     json
// @Param       image  formData  file  true  "Receipt image (image/*, up to 8 MiB)"
// @Success     200  {object}  handlers.ScanReceiptResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Missing, oversized or non-image upload"
// @Failure     502  {object}  handlers.ErrorResponse  "OCR service failed"
// @Router      /receipts/scan [post]
func (h *Handlers) ScanReceipt(c *gin.Context) {
	if _, okUser := currentUser(c); !okUser {
		return
	}
	if h.receipts == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "receipt scanning is not configured")
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "multipart field \"image\" required")
		return
	}
	if h.MaxUploadBytes > 0 && fh.Size > h.MaxUploadBytes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
		return
	}
	defer f.Close()

	limit := h.MaxUploadBytes
	if limit <= 0 {
		limit = fh.Size
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable upload")
		return
	}
	if int64(len(data)) > limit {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image too large")
		return
	}

	items, err := h.receipts.Scan(c.Request.Context(), data, uploadType(fh.Header.Get("Content-Type"), data))
	if err != nil {
		failErr(c, err)
		return
	}
	if items == nil {
		items = []receipt.CandidateItem{}
	}
	ok(c, http.StatusOK, ScanReceiptResponse{Items: items})
}

// uploadType trusts the part's declared media type unless it is missing or
// generic, in which case the bytes are sniffed.
func uploadType(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
