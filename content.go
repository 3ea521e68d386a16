package x402

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentInput holds the fields a creator supplies when publishing content.
type ContentInput struct {
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	ContentType    ContentType `json:"contentType"`
	EmbedURL       string      `json:"embedUrl"`
	ArticleBody    string      `json:"articleBody"`
	ThumbnailURL   string      `json:"thumbnailUrl"`
	PriceInSTX     float64     `json:"priceInSTX"`
	CreatorAddress string      `json:"creatorAddress"`
	CreatorName    string      `json:"creatorName"`
	Category       string      `json:"category"`
}

// Validate checks the input and fills the default content type.
func (in *ContentInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" ||
		strings.TrimSpace(in.Description) == "" ||
		strings.TrimSpace(in.ThumbnailURL) == "" ||
		in.PriceInSTX == 0 ||
		strings.TrimSpace(in.CreatorAddress) == "" ||
		strings.TrimSpace(in.CreatorName) == "" {
		return NewPaymentError(ErrCodeValidation, "Missing required fields", nil)
	}

	if in.PriceInSTX < 0 || math.IsNaN(in.PriceInSTX) || math.IsInf(in.PriceInSTX, 0) {
		return NewPaymentError(ErrCodeValidation, "Price must be greater than 0", nil)
	}
	if STXToMicroSTX(in.PriceInSTX).IsZero() {
		return NewPaymentError(ErrCodeValidation, "Price must be at least 1 micro-STX", nil)
	}

	if in.ContentType == "" {
		in.ContentType = ContentTypeVideo
	}

	switch in.ContentType {
	case ContentTypeVideo:
		if strings.TrimSpace(in.EmbedURL) == "" {
			return NewPaymentError(ErrCodeValidation, "Video URL is required for video content", nil)
		}
	case ContentTypeArticle:
		if strings.TrimSpace(in.ArticleBody) == "" {
			return NewPaymentError(ErrCodeValidation, "Article body is required for article content", nil)
		}
	default:
		return NewPaymentError(ErrCodeValidation, "Content type must be video or article", nil)
	}

	return nil
}

// Build turns validated input into a new Content record with a fresh id.
// Only the locked field matching the content type is kept.
func (in ContentInput) Build(now time.Time) Content {
	c := Content{
		ID:             uuid.NewString(),
		Title:          in.Title,
		Description:    in.Description,
		ContentType:    in.ContentType,
		ThumbnailURL:   in.ThumbnailURL,
		PriceInSTX:     in.PriceInSTX,
		CreatorAddress: in.CreatorAddress,
		CreatorName:    in.CreatorName,
		Category:       in.Category,
		CreatedAt:      now.UnixMilli(),
	}
	if in.ContentType == ContentTypeArticle {
		c.ArticleBody = in.ArticleBody
	} else {
		c.EmbedURL = in.EmbedURL
	}
	return c
}

// ListContent returns every record with locked fields stripped.
func (e *Engine) ListContent(ctx context.Context) *Decision {
	items, err := e.cfg.Repository.List(ctx)
	if err != nil {
		e.log.Error("list content failed", "error", err)
		return errorDecision(http.StatusInternalServerError, msgFetchFailed)
	}

	previews := make([]Content, 0, len(items))
	for _, item := range items {
		previews = append(previews, item.Preview())
	}
	return &Decision{Status: http.StatusOK, Body: previews}
}

// CreateContent validates input and stores a new record.
func (e *Engine) CreateContent(ctx context.Context, input ContentInput) *Decision {
	if err := input.Validate(); err != nil {
		var msg string
		if pe, ok := err.(*PaymentError); ok {
			msg = pe.Message
		} else {
			msg = err.Error()
		}
		return errorDecision(http.StatusBadRequest, msg)
	}

	created, err := e.cfg.Repository.Create(ctx, input)
	if err != nil {
		e.log.Error("create content failed", "error", err)
		return errorDecision(http.StatusInternalServerError, "Failed to create content")
	}

	e.log.Info("content created", "content_id", created.ID, "creator", created.CreatorAddress, "price_stx", created.PriceInSTX)
	return &Decision{Status: http.StatusCreated, Body: created}
}
