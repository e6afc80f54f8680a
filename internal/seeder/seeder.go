package seeder

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/printshop/internal/entity"
	serviceorder "github.com/Additional-Code/printshop/internal/service/order"
	"github.com/Additional-Code/printshop/internal/service/workflow"
)

// Module provides the Seeder.
var Module = fx.Provide(New)

// Seeder submits sample orders for local/dev setups.
type Seeder struct {
	orders   *serviceorder.Service
	workflow *workflow.Service
	logger   *zap.Logger
}

// Params defines dependencies for constructing Seeder.
type Params struct {
	fx.In

	Orders   *serviceorder.Service
	Workflow *workflow.Service
	Logger   *zap.Logger `optional:"true"`
}

// New constructs a Seeder that goes through the intake service, so seeded
// orders are priced and announced exactly like real ones.
func New(p Params) *Seeder {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{orders: p.Orders, workflow: p.Workflow, logger: logger}
}

type sample struct {
	intake serviceorder.Intake
	status entity.Status
}

func samples() []sample {
	return []sample{
		{
			intake: serviceorder.Intake{
				Name:      "Asha Rao",
				Email:     "asha@example.com",
				ContactNo: "9800000001",
				PrintType: entity.PrintBW,
				PDFFiles: []entity.Attachment{
					{Name: "thesis.pdf", URL: "https://files.example.com/orders/seed-thesis.pdf", PublicID: "orders/seed-thesis", Pages: 3},
					{Name: "cover.pdf", URL: "https://files.example.com/orders/seed-cover.pdf", PublicID: "orders/seed-cover", Pages: 1},
				},
			},
			status: entity.StatusPending,
		},
		{
			intake: serviceorder.Intake{
				Name:            "Ben Okafor",
				Email:           "ben@example.com",
				ContactNo:       "9800000002",
				PrintType:       entity.PrintColor,
				SpecialFeatures: entity.SpecialFeatures{SpiralBinding: true},
				PDFFiles: []entity.Attachment{
					{Name: "poster.pdf", URL: "https://files.example.com/orders/seed-poster.pdf", PublicID: "orders/seed-poster", Pages: 2},
				},
			},
			status: entity.StatusCompleted,
		},
		{
			intake: serviceorder.Intake{
				Name:      "Chen Li",
				Email:     "chen@example.com",
				ContactNo: "9800000003",
				PrintType: entity.PrintBW,
				PDFFiles: []entity.Attachment{
					{Name: "notes.pdf", URL: "https://files.example.com/orders/seed-notes.pdf", PublicID: "orders/seed-notes", Pages: 10},
				},
			},
			status: entity.StatusCancelled,
		},
	}
}

// Orders seeds example orders when the store holds none. It returns the
// number of orders created.
func (s *Seeder) Orders(ctx context.Context) (int, error) {
	existing, err := s.orders.List(ctx, entity.FilterAll)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		s.logger.Info("orders already present; skipping seed", zap.Int("count", len(existing)))
		return 0, nil
	}

	created := 0
	for _, sm := range samples() {
		order, err := s.orders.Submit(ctx, sm.intake)
		if err != nil {
			return created, fmt.Errorf("seed order for %s: %w", sm.intake.Email, err)
		}
		created++
		if sm.status == entity.StatusPending {
			continue
		}
		if _, err := s.workflow.Transition(ctx, order.ID, sm.status); err != nil {
			return created, fmt.Errorf("seed status for %s: %w", order.ID, err)
		}
	}

	s.logger.Info("seeded orders", zap.Int("count", created))
	return created, nil
}
