package handlers

import (
	"fmt"
	"mime"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/koios/qr-decoder/internal/config"
	apperrors "github.com/koios/qr-decoder/internal/errors"
	"github.com/koios/qr-decoder/internal/scanner"
	"github.com/koios/qr-decoder/pkg/models"
)

const (
	msgNoFile        = "No image file provided"
	msgInvalidType   = "Invalid file type"
	msgFileTooLarge  = "File too large"
	msgInvalidDim    = "Invalid image dimensions"
	msgInvalidLog    = "Invalid log entry"
	msgInvalidLimit  = "limit must be an integer between 1 and 100"
	maxRecentLimit   = 100
	defaultRecentLim = 10
)

// UploadValidator enforces the content-type allow-list and size ceiling.
type UploadValidator struct {
	maxSize int64
	allowed map[string]struct{}
}

// NewUploadValidator creates a validator from the upload settings.
func NewUploadValidator(cfg config.UploadConfig) *UploadValidator {
	allowed := make(map[string]struct{}, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &UploadValidator{maxSize: cfg.MaxFileSize, allowed: allowed}
}

// MaxSize is the largest accepted upload in bytes.
func (v *UploadValidator) MaxSize() int64 {
	return v.maxSize
}

// ContentType returns the declared media type of a part without parameters.
func ContentType(header *multipart.FileHeader) string {
	raw := header.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}

// Validate checks the declared type and the byte length. The bytes themselves
// are not inspected, so a valid image with a disallowed type is still rejected.
func (v *UploadValidator) Validate(header *multipart.FileHeader) error {
	if header == nil {
		return apperrors.New(apperrors.KindValidation, "handlers.Validate", msgNoFile)
	}

	if _, ok := v.allowed[ContentType(header)]; !ok {
		return apperrors.New(apperrors.KindValidation, "handlers.Validate", msgInvalidType)
	}

	if header.Size > v.maxSize {
		return apperrors.New(apperrors.KindValidation, "handlers.Validate", msgFileTooLarge)
	}
	return nil
}

// parseDimensions reads the optional width and height form values.
func parseDimensions(width, height string) (scanner.Dimensions, error) {
	var dims scanner.Dimensions
	for _, field := range []struct {
		raw string
		dst *int
	}{{width, &dims.Width}, {height, &dims.Height}} {
		if field.raw == "" {
			continue
		}
		n, err := strconv.Atoi(field.raw)
		if err != nil || n <= 0 {
			return scanner.Dimensions{}, apperrors.New(apperrors.KindValidation, "handlers.parseDimensions", msgInvalidDim)
		}
		*field.dst = n
	}
	return dims, nil
}

// parseLimit reads the limit query parameter for recent entries.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultRecentLim, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxRecentLimit {
		return 0, apperrors.New(apperrors.KindValidation, "handlers.parseLimit", msgInvalidLimit)
	}
	return n, nil
}

// LogRequest is the body accepted by POST /log.
type LogRequest struct {
	FileName       string  `json:"fileName" validate:"required,max=255"`
	FileSize       int64   `json:"fileSize" validate:"gte=0"`
	FileType       string  `json:"fileType" validate:"required,max=64"`
	ProcessingTime float64 `json:"processingTime" validate:"gte=0"`
	Success        *bool   `json:"success" validate:"required"`
	ErrorMessage   string  `json:"errorMessage" validate:"max=1024"`
	Content        string  `json:"qrCodeContent" validate:"max=8192"`
}

var logValidator = validator.New()

// Validate checks the request shape.
func (r *LogRequest) Validate() error {
	if err := logValidator.Struct(r); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
		}
		return apperrors.Wrap(apperrors.KindValidation, "handlers.LogRequest",
			fmt.Sprintf("%s: %s", msgInvalidLog, strings.Join(fields, ", ")), err)
	}
	return nil
}

// Entry converts the request into a log entry attributed to clientID.
func (r *LogRequest) Entry(clientID string) models.ProcessingLog {
	return models.ProcessingLog{
		FileName:         r.FileName,
		FileSize:         r.FileSize,
		FileType:         r.FileType,
		ProcessingTimeMs: r.ProcessingTime,
		Success:          *r.Success,
		ErrorMessage:     r.ErrorMessage,
		Content:          r.Content,
		ClientID:         clientID,
	}
}
