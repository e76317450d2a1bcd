package firestore

import (
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/automation/internal/domain"
)

func TestToDomainOrder_UserVariants(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("id reference", func(t *testing.T) {
		order := toDomainOrder("doc-1", orderDocument{OrderID: "ORD-1001", User: "user-1"}, created)
		if order.UserID != "user-1" || order.User != nil {
			t.Fatalf("expected user reference, got %+v", order)
		}
		if !order.CreatedAt.Equal(created) {
			t.Fatalf("expected create time fallback, got %v", order.CreatedAt)
		}
	})

	t.Run("document reference", func(t *testing.T) {
		ref := &firestore.DocumentRef{ID: "user-2"}
		order := toDomainOrder("doc-2", orderDocument{User: ref}, created)
		if order.UserID != "user-2" {
			t.Fatalf("expected user id from document ref, got %q", order.UserID)
		}
	})

	t.Run("embedded customer", func(t *testing.T) {
		order := toDomainOrder("doc-3", orderDocument{
			User: map[string]any{
				"id":       "user-3",
				"name":     " Jane Doe ",
				"email":    "jane@example.com",
				"phone":    "+81 90 0000 0000",
				"isActive": true,
				"wishlist": []any{"p-1", "p-2"},
			},
			Items: []orderItemDocument{{ProductID: "p-1", Name: "Serum", Quantity: 2, Price: 1200}},
		}, created)
		if order.User == nil {
			t.Fatalf("expected embedded user")
		}
		if order.UserID != "user-3" || order.User.Name != "Jane Doe" || !order.User.IsActive {
			t.Fatalf("unexpected embedded user %+v", order.User)
		}
		if len(order.User.Wishlist) != 2 {
			t.Fatalf("expected wishlist carried over, got %v", order.User.Wishlist)
		}
		if len(order.Items) != 1 || order.Items[0].Quantity != 2 {
			t.Fatalf("unexpected items %+v", order.Items)
		}
	})

	t.Run("explicit user id wins", func(t *testing.T) {
		order := toDomainOrder("doc-4", orderDocument{UserID: "user-4", User: "other"}, created)
		if order.UserID != "user-4" {
			t.Fatalf("expected userId field to win, got %q", order.UserID)
		}
	})
}

func TestFromDomainPromoCode_DefaultsAndRoundTrip(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	doc := fromDomainPromoCode(domain.PromoCode{
		Code:       "WELCOME10AB12",
		Type:       domain.PromoCodeTypePercentage,
		Value:      10,
		ValidFrom:  now,
		ValidUntil: now.Add(30 * 24 * time.Hour),
		Status:     domain.PromoCodeStatusActive,
		CreatedAt:  now,
	})
	if doc.ApplicableUsers == nil {
		t.Fatalf("expected empty applicable users slice, got nil")
	}
	if doc.Source != promoCodeSource {
		t.Fatalf("expected source %q, got %q", promoCodeSource, doc.Source)
	}

	promo := toDomainPromoCode("WELCOME10AB12", doc, time.Time{})
	if promo.Value != 10 || promo.Status != domain.PromoCodeStatusActive {
		t.Fatalf("unexpected promo %+v", promo)
	}
}

func TestNormaliseRoles(t *testing.T) {
	got := normaliseRoles([]string{" Admin", "admin", "", "super-admin"})
	if len(got) != 2 || got[0] != "admin" || got[1] != "super-admin" {
		t.Fatalf("unexpected roles %v", got)
	}
	if normaliseCode(" cart8ab12 ") != "CART8AB12" {
		t.Fatalf("expected upper-cased code")
	}
}

func TestRoleCasings(t *testing.T) {
	got := roleCasings(normaliseRoles([]string{"ADMIN", "super-admin"}))
	want := []string{"admin", "ADMIN", "Admin", "super-admin", "SUPER-ADMIN", "Super-Admin"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestOrderUserFilterCoversUserShapes(t *testing.T) {
	ref := &firestore.DocumentRef{ID: "u-jane", Path: "projects/p/databases/(default)/documents/users/u-jane"}
	filter := orderUserFilter("u-jane", ref)

	paths := map[string]int{}
	var sawRef bool
	for _, f := range filter.Filters {
		pf, ok := f.(firestore.PropertyFilter)
		if !ok {
			t.Fatalf("unexpected filter type %T", f)
		}
		if pf.Operator != "==" {
			t.Fatalf("expected equality filter, got %q", pf.Operator)
		}
		paths[pf.Path]++
		switch v := pf.Value.(type) {
		case string:
			if v != "u-jane" {
				t.Fatalf("unexpected value %q on %s", v, pf.Path)
			}
		case *firestore.DocumentRef:
			sawRef = v == ref
		default:
			t.Fatalf("unexpected value %T on %s", pf.Value, pf.Path)
		}
	}
	if !sawRef {
		t.Fatalf("expected a document reference filter")
	}
	want := map[string]int{"userId": 1, "user": 2, "user.id": 1, "user._id": 1, "user.uid": 1}
	for path, n := range want {
		if paths[path] != n {
			t.Fatalf("expected %d filters on %s, got %v", n, path, paths)
		}
	}

	if got := orderUserFilter("u-jane", nil); len(got.Filters) != len(filter.Filters)-1 {
		t.Fatalf("expected ref filter to be skipped without a reference")
	}
}
