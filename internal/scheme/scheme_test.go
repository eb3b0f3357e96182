package scheme

import (
	"context"
	"errors"
	"testing"
)

func TestTemplateValidate(t *testing.T) {
	cases := []struct {
		name string
		tmpl Template
		ok   bool
	}{
		{"single full tranche", Template{{Percentage: 100, Days: 0}}, true},
		{"three tranches", Template{{40, 0}, {40, 30}, {20, 90}}, true},
		{"sum below 100", Template{{40, 0}, {40, 30}}, false},
		{"sum above 100", Template{{60, 0}, {60, 30}}, false},
		{"zero percentage", Template{{0, 0}, {100, 30}}, false},
		{"negative percentage", Template{{-10, 0}, {110, 30}}, false},
		{"negative day offset", Template{{100, -1}}, false},
		{"decreasing day offsets", Template{{50, 30}, {50, 0}}, false},
		{"empty template", Template{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tmpl.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
			if !tc.ok {
				if !errors.Is(err, ErrInvalidTemplate) {
					t.Fatalf("Validate() = %v, want ErrInvalidTemplate", err)
				}
			}
		})
	}
}

func TestTemplateAmountsConserveTotal(t *testing.T) {
	tmpl := Template{{33, 0}, {33, 30}, {34, 60}}
	cases := []int64{100, 101, 999, 1000000, 7}
	for _, total := range cases {
		amounts := tmpl.Amounts(total)
		var sum int64
		for _, a := range amounts {
			sum += a
		}
		if sum != total {
			t.Fatalf("Amounts(%d) sum = %d, want %d", total, sum, total)
		}
	}
	// Remainder folds into the last tranche.
	amounts := Template{{50, 0}, {50, 30}}.Amounts(101)
	if amounts[0] != 50 || amounts[1] != 51 {
		t.Fatalf("Amounts(101) = %v, want [50 51]", amounts)
	}
}

func TestPublishRejectsInvalidTemplate(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(NewInMemory())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	sch, err := svc.Create(ctx, "pmay", "Housing Assistance", true, 5000000, Template{{60, 0}, {30, 30}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Publish(ctx, sch.ID); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("Publish = %v, want ErrInvalidTemplate", err)
	}
	got, err := svc.Scheme(ctx, sch.ID)
	if err != nil {
		t.Fatalf("Scheme: %v", err)
	}
	if got.Published {
		t.Fatal("scheme must stay unpublished after a failed Publish")
	}
}

func TestPublishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewService(NewInMemory())
	sch, err := svc.Create(ctx, "snp", "Nutrition Support", false, 100000, Template{{100, 0}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	first, err := svc.Publish(ctx, sch.ID)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	second, err := svc.Publish(ctx, sch.ID)
	if err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if !first.Published || !second.Published {
		t.Fatal("both publish calls must report a published scheme")
	}
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	ctx := context.Background()
	svc, _ := NewService(NewInMemory())
	if _, err := svc.Create(ctx, "pmay", "Housing", true, 0, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := svc.Create(ctx, "PMAY", "Housing Again", true, 0, nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Create = %v, want ErrConflict", err)
	}
}
