package entity

import (
	"sort"
	"time"

	"github.com/uptrace/bun"
)

const (
	// MaxAttachments caps the number of PDF files referenced by one order.
	MaxAttachments = 5
	// MaxAttachmentPages caps the page count claimed for a single PDF.
	MaxAttachmentPages = 10000
	// MaxTotalPages is the largest totalPages an order can reach.
	MaxTotalPages = MaxAttachments * MaxAttachmentPages
)

// PrintType selects the print process and therefore the per-page rate.
type PrintType string

const (
	PrintBW    PrintType = "bw"
	PrintColor PrintType = "color"
)

// Valid reports whether the print type is recognised.
func (p PrintType) Valid() bool {
	return p == PrintBW || p == PrintColor
}

// SpecialFeatures are finishing options chosen at intake.
type SpecialFeatures struct {
	StickFile     bool `json:"stickFile"`
	SpiralBinding bool `json:"spiralBinding"`
	Glue          bool `json:"glue"`
}

// Attachment references a PDF hosted by the external object store.
type Attachment struct {
	Name     string `json:"name" validate:"required"`
	URL      string `json:"url" validate:"required"`
	PublicID string `json:"publicId" validate:"required"`
	Pages    int    `json:"pages" validate:"min=1,max=10000"`
}

// Order represents a customer print request stored in the relational database.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID              string          `bun:"id,pk" json:"id"`
	Name            string          `bun:"name,notnull" json:"name"`
	Email           string          `bun:"email,notnull" json:"email"`
	ContactNo       string          `bun:"contact_no,notnull" json:"contactNo"`
	PrintType       PrintType       `bun:"print_type,notnull" json:"printType"`
	SpecialFeatures SpecialFeatures `bun:"special_features,type:jsonb" json:"specialFeatures"`
	TotalPages      int             `bun:"total_pages,notnull" json:"totalPages"`
	Price           int             `bun:"price,notnull" json:"price"`
	PricingVersion  string          `bun:"pricing_version,notnull" json:"pricingVersion"`
	Status          Status          `bun:"status,notnull" json:"status"`
	Timestamp       time.Time       `bun:"timestamp,notnull" json:"timestamp"`
	PDFFiles        []Attachment    `bun:"pdf_files,type:jsonb" json:"pdfFiles"`
	Version         int64           `bun:"version,notnull" json:"version"`
	UpdatedAt       time.Time       `bun:"updated_at,nullzero" json:"updatedAt"`
}

// Clone returns a deep copy so callers never share the attachment slice.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.PDFFiles != nil {
		c.PDFFiles = append([]Attachment(nil), o.PDFFiles...)
	}
	return &c
}

// HasAttachment reports whether publicID is already referenced.
func (o *Order) HasAttachment(publicID string) bool {
	return o.AttachmentIndex(publicID) >= 0
}

// AttachmentIndex returns the position of publicID in PDFFiles, or -1.
func (o *Order) AttachmentIndex(publicID string) int {
	for i, f := range o.PDFFiles {
		if f.PublicID == publicID {
			return i
		}
	}
	return -1
}

// Draft carries the fields supplied when an order is first created.
type Draft struct {
	Name            string          `json:"name" validate:"required"`
	Email           string          `json:"email" validate:"required,email"`
	ContactNo       string          `json:"contactNo" validate:"required"`
	PrintType       PrintType       `json:"printType" validate:"required,oneof=bw color"`
	SpecialFeatures SpecialFeatures `json:"specialFeatures" validate:"-"`
	TotalPages      int             `json:"totalPages" validate:"min=1,max=50000"`
	Price           int             `json:"price" validate:"min=0"`
	PricingVersion  string          `json:"pricingVersion"`
	PDFFiles        []Attachment    `json:"pdfFiles" validate:"max=5,unique=PublicID,dive"`
}

// Filter selects orders by exact status; FilterAll matches every order.
type Filter string

// FilterAll is the sentinel matching orders of any status.
const FilterAll Filter = "all"

// FilterFor returns the filter matching a single status.
func FilterFor(s Status) Filter {
	return Filter(s)
}

// Valid reports whether the filter is "all" or a recognised status.
func (f Filter) Valid() bool {
	return f == FilterAll || Status(f).Valid()
}

// Matches reports whether the order belongs to the filter's result set.
func (f Filter) Matches(o *Order) bool {
	if f == FilterAll {
		return true
	}
	return o != nil && o.Status == Status(f)
}

// SortOrders orders by timestamp descending, breaking ties by id ascending.
func SortOrders(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return Less(&orders[i], &orders[j])
	})
}

// Less reports whether a sorts before b in snapshot order.
func Less(a, b *Order) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID < b.ID
}
