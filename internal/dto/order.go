package dto

import (
	"time"

	"github.com/Additional-Code/printshop/internal/entity"
)

// Attachment is a PDF reference as exchanged with clients.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	PublicID string `json:"publicId"`
	Pages    int    `json:"pages"`
}

// OrderResponse represents an order as exposed via transport layers.
type OrderResponse struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Email           string                 `json:"email"`
	ContactNo       string                 `json:"contactNo"`
	PrintType       string                 `json:"printType"`
	SpecialFeatures entity.SpecialFeatures `json:"specialFeatures"`
	TotalPages      int                    `json:"totalPages"`
	Price           int                    `json:"price"`
	PricingVersion  string                 `json:"pricingVersion"`
	Status          string                 `json:"status"`
	Timestamp       time.Time              `json:"timestamp"`
	PDFFiles        []Attachment           `json:"pdfFiles"`
	Version         int64                  `json:"version"`
	UpdatedAt       *time.Time             `json:"updatedAt,omitempty"`
}

// QuoteRequest asks for a price without creating an order.
type QuoteRequest struct {
	PrintType       entity.PrintType       `json:"printType"`
	SpecialFeatures entity.SpecialFeatures `json:"specialFeatures"`
	PDFFiles        []Attachment           `json:"pdfFiles"`
}

// CreateOrderRequest is the customer submission. Price and page totals are
// computed server side.
type CreateOrderRequest struct {
	Name            string                 `json:"name"`
	Email           string                 `json:"email"`
	ContactNo       string                 `json:"contactNo"`
	PrintType       entity.PrintType       `json:"printType"`
	SpecialFeatures entity.SpecialFeatures `json:"specialFeatures"`
	PDFFiles        []Attachment           `json:"pdfFiles"`
}

// StatusRequest changes an order's status.
type StatusRequest struct {
	Status entity.Status `json:"status"`
}

// AttachRequest registers an already uploaded file on an order.
type AttachRequest struct {
	Attachment
}

// AttachmentsResponse lists an order's files after a change.
type AttachmentsResponse struct {
	OrderID  string       `json:"orderId"`
	PDFFiles []Attachment `json:"pdfFiles"`
}

// SignInRequest carries staff credentials.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// FeedCommand is sent by feed clients to change their view.
type FeedCommand struct {
	Search *string `json:"search,omitempty"`
	Status *string `json:"status,omitempty"`
}

// FeedMessage is pushed to feed clients on every view change.
type FeedMessage struct {
	Type   string          `json:"type"`
	Filter string          `json:"filter,omitempty"`
	Search string          `json:"search,omitempty"`
	Total  int             `json:"total"`
	Orders []OrderResponse `json:"orders"`
	Error  *FeedError      `json:"error,omitempty"`
	Seq    uint64          `json:"seq,omitempty"`
}

// FeedError describes a failure delivered on the feed.
type FeedError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// FromOrder maps an entity to its response shape.
func FromOrder(o *entity.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID,
		Name:            o.Name,
		Email:           o.Email,
		ContactNo:       o.ContactNo,
		PrintType:       string(o.PrintType),
		SpecialFeatures: o.SpecialFeatures,
		TotalPages:      o.TotalPages,
		Price:           o.Price,
		PricingVersion:  o.PricingVersion,
		Status:          string(o.Status),
		Timestamp:       o.Timestamp,
		PDFFiles:        FromAttachments(o.PDFFiles),
		Version:         o.Version,
	}
	if !o.UpdatedAt.IsZero() {
		t := o.UpdatedAt
		resp.UpdatedAt = &t
	}
	return resp
}

// FromOrders maps a slice of entities.
func FromOrders(orders []entity.Order) []OrderResponse {
	out := make([]OrderResponse, len(orders))
	for i := range orders {
		out[i] = FromOrder(&orders[i])
	}
	return out
}

// FromAttachments maps attachment entities.
func FromAttachments(files []entity.Attachment) []Attachment {
	out := make([]Attachment, len(files))
	for i, f := range files {
		out[i] = Attachment(f)
	}
	return out
}

// ToAttachments maps client attachments to entities.
func ToAttachments(files []Attachment) []entity.Attachment {
	out := make([]entity.Attachment, len(files))
	for i, f := range files {
		out[i] = entity.Attachment(f)
	}
	return out
}
