package pricing

import (
	"testing"

	"github.com/mariko-app/cart-system/internal/model"
)

func TestRecalculate(t *testing.T) {
	tests := []struct {
		name      string
		items     []model.OrderItem
		orderType model.OrderType
		want      Quote
	}{
		{
			name:      "empty cart pickup",
			items:     nil,
			orderType: model.OrderTypePickup,
			want: Quote{
				Subtotal:  0,
				Total:     0,
				MinOrder:  500,
				CanSubmit: false,
			},
		},
		{
			name: "delivery below free threshold",
			items: []model.OrderItem{
				{Price: 600, Amount: 1},
			},
			orderType: model.OrderTypeDelivery,
			want: Quote{
				Subtotal:    600,
				DeliveryFee: 199,
				Total:       799,
				MinOrder:    500,
				CanSubmit:   true,
			},
		},
		{
			name: "delivery above free threshold",
			items: []model.OrderItem{
				{Price: 2500, Amount: 1},
			},
			orderType: model.OrderTypeDelivery,
			want: Quote{
				Subtotal: 2500,
				Total:    2500,
				MinOrder: 500,
				CanSubmit: true,
			},
		},
		{
			name: "pickup never charges delivery",
			items: []model.OrderItem{
				{Price: 600, Amount: 2},
			},
			orderType: model.OrderTypePickup,
			want: Quote{
				Subtotal:  1200,
				Total:     1200,
				MinOrder:  500,
				CanSubmit: true,
			},
		},
		{
			name: "zero price and amount treated as zero",
			items: []model.OrderItem{
				{Price: 0, Amount: 3},
				{Price: 350, Amount: 0},
			},
			orderType: model.OrderTypeDelivery,
			want: Quote{
				Subtotal:    0,
				DeliveryFee: 199,
				Total:       199,
				MinOrder:    500,
				CanSubmit:   false,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Recalculate(tt.items, tt.orderType)

			if got.Subtotal != tt.want.Subtotal {
				t.Fatalf("Subtotal = %v, want %v", got.Subtotal, tt.want.Subtotal)
			}
			if got.DeliveryFee != tt.want.DeliveryFee {
				t.Fatalf("DeliveryFee = %v, want %v", got.DeliveryFee, tt.want.DeliveryFee)
			}
			if got.Total != tt.want.Total {
				t.Fatalf("Total = %v, want %v", got.Total, tt.want.Total)
			}
			if got.Total != got.Subtotal+got.DeliveryFee {
				t.Fatalf("invariant total = subtotal + deliveryFee violated: %+v", got)
			}
			if got.CanSubmit != tt.want.CanSubmit {
				t.Fatalf("CanSubmit = %v, want %v", got.CanSubmit, tt.want.CanSubmit)
			}
			if tt.want.CanSubmit && len(got.Warnings) != 0 {
				t.Fatalf("unexpected warnings: %v", got.Warnings)
			}
			if !tt.want.CanSubmit && len(got.Warnings) != 1 {
				t.Fatalf("expected exactly one warning, got %v", got.Warnings)
			}
		})
	}
}

func TestRecalculateDeterministic(t *testing.T) {
	items := []model.OrderItem{
		{Price: 450, Amount: 2},
		{Price: 199.5, Amount: 1},
	}

	a := Recalculate(items, model.OrderTypeDelivery)
	b := Recalculate(items, model.OrderTypeDelivery)

	if a.Total != b.Total || a.Subtotal != b.Subtotal || a.DeliveryFee != b.DeliveryFee {
		t.Fatalf("Recalculate must be deterministic: %+v vs %+v", a, b)
	}
}
