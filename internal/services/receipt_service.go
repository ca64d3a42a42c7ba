package services

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/splitbuddy/internal/receipt"
)

// ReceiptService turns a receipt photo into candidate table items.
type ReceiptService struct {
	Parser   receipt.Parser
	MaxBytes int64
}

// Scan validates the upload, asks the OCR service for lines, and sanitizes
// them. OCR failures are reported as ErrExternalService.
func (s *ReceiptService) Scan(ctx context.Context, image []byte, mimeType string) ([]receipt.CandidateItem, error) {
	ctx, span := otel.Tracer("services/ReceiptService").Start(ctx, "Scan",
		trace.WithAttributes(attribute.Int("image.bytes", len(image)), attribute.String("image.type", mimeType)),
	)
	defer span.End()

	if len(image) == 0 {
		return nil, invalid("image is empty")
	}
	if s.MaxBytes > 0 && int64(len(image)) > s.MaxBytes {
		return nil, invalid("image exceeds %d bytes", s.MaxBytes)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, invalid("unsupported content type %q", mimeType)
	}

	raw, err := s.Parser.Parse(ctx, image, mimeType)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	return receipt.Sanitize(raw), nil
}
