package order

import (
	"time"

	"github.com/Additional-Code/printshop/internal/entity"
	"github.com/Additional-Code/printshop/internal/validation"
	"github.com/Additional-Code/printshop/pkg/errorbank"
)

// Patch is a partial update. Nil fields are left unchanged.
//
// ID, Timestamp, Price, TotalPages and PrintType are write-once; a patch
// setting any of them is rejected.
type Patch struct {
	Name            *string                 `json:"name,omitempty"`
	Email           *string                 `json:"email,omitempty"`
	ContactNo       *string                 `json:"contactNo,omitempty"`
	SpecialFeatures *entity.SpecialFeatures `json:"specialFeatures,omitempty"`
	Status          *entity.Status          `json:"status,omitempty"`
	PDFFiles        *[]entity.Attachment    `json:"pdfFiles,omitempty"`

	// ExpectedVersion turns the write into a compare-and-swap.
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`

	ID         *string           `json:"id,omitempty"`
	Timestamp  *time.Time        `json:"timestamp,omitempty"`
	Price      *int              `json:"price,omitempty"`
	TotalPages *int              `json:"totalPages,omitempty"`
	PrintType  *entity.PrintType `json:"printType,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.ContactNo == nil &&
		p.SpecialFeatures == nil && p.Status == nil && p.PDFFiles == nil
}

type patchFields struct {
	Name      *string              `json:"name" validate:"omitnil,min=1"`
	Email     *string              `json:"email" validate:"omitnil,email"`
	ContactNo *string              `json:"contactNo" validate:"omitnil,min=1"`
	PDFFiles  *[]entity.Attachment `json:"pdfFiles" validate:"omitnil,max=5,unique=PublicID,dive"`
}

func (p Patch) validate() error {
	immutable := []struct {
		field string
		set   bool
	}{
		{"id", p.ID != nil},
		{"timestamp", p.Timestamp != nil},
		{"price", p.Price != nil},
		{"totalPages", p.TotalPages != nil},
		{"printType", p.PrintType != nil},
	}
	for _, f := range immutable {
		if f.set {
			return errorbank.Validation(f.field+" cannot be changed after creation", errorbank.WithField(f.field))
		}
	}

	if p.Status != nil && !p.Status.Valid() {
		return errorbank.Validation("unknown status "+string(*p.Status), errorbank.WithField("status"))
	}

	return validation.Struct(patchFields{
		Name:      p.Name,
		Email:     p.Email,
		ContactNo: p.ContactNo,
		PDFFiles:  p.PDFFiles,
	})
}

func (p Patch) apply(o *entity.Order) {
	if p.Name != nil {
		o.Name = *p.Name
	}
	if p.Email != nil {
		o.Email = *p.Email
	}
	if p.ContactNo != nil {
		o.ContactNo = *p.ContactNo
	}
	if p.SpecialFeatures != nil {
		o.SpecialFeatures = *p.SpecialFeatures
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.PDFFiles != nil {
		files := make([]entity.Attachment, len(*p.PDFFiles))
		copy(files, *p.PDFFiles)
		o.PDFFiles = files
	}
}
