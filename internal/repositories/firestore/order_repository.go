package firestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/automation/internal/domain"
	pfirestore "github.com/hanko-field/automation/internal/platform/firestore"
	"github.com/hanko-field/automation/internal/repositories"
)

const orderCollection = "orders"

// embeddedUserIDFields mirror the id keys embeddedUser accepts.
var embeddedUserIDFields = []string{"user.id", "user._id", "user.uid"}

// OrderRepository reads placed orders.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, orderCollection),
	}, nil
}

// FindByID loads the order by document id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, errors.New("order id is required")
	}
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data, doc.CreateTime), nil
}

// FindByOrderID looks the order up by its human-readable number.
func (r *OrderRepository) FindByOrderID(ctx context.Context, humanID string) (domain.Order, error) {
	if r == nil || r.base == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	humanID = strings.TrimSpace(humanID)
	if humanID == "" {
		return domain.Order{}, errors.New("order number is required")
	}
	doc, err := r.base.First(ctx, "find_by_order_id", func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", humanID)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data, doc.CreateTime), nil
}

// CountByUser counts every order referencing the user, including the current one. Orders
// match on userId or on any user shape toDomainOrder reads; each order counts once.
func (r *OrderRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	if r == nil || r.base == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, errors.New("user id is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.count", err)
	}
	filter := orderUserFilter(userID, client.Collection(userCollection).Doc(userID))
	return r.base.Count(ctx, func(q firestore.Query) firestore.Query {
		return q.WhereEntity(filter)
	})
}

func orderUserFilter(userID string, userRef *firestore.DocumentRef) firestore.OrFilter {
	filters := []firestore.EntityFilter{
		firestore.PropertyFilter{Path: "userId", Operator: "==", Value: userID},
		firestore.PropertyFilter{Path: "user", Operator: "==", Value: userID},
	}
	if userRef != nil {
		filters = append(filters, firestore.PropertyFilter{Path: "user", Operator: "==", Value: userRef})
	}
	for _, path := range embeddedUserIDFields {
		filters = append(filters, firestore.PropertyFilter{Path: path, Operator: "==", Value: userID})
	}
	return firestore.OrFilter{Filters: filters}
}

type orderDocument struct {
	OrderID   string              `firestore:"orderId"`
	UserID    string              `firestore:"userId"`
	User      any                 `firestore:"user"`
	Shipping  orderShippingDoc    `firestore:"shipping"`
	Pricing   orderPricingDoc     `firestore:"pricing"`
	Items     []orderItemDocument `firestore:"items"`
	CreatedAt time.Time           `firestore:"createdAt"`
}

type orderShippingDoc struct {
	Email    string `firestore:"email"`
	FullName string `firestore:"fullName"`
	Phone    string `firestore:"phone"`
}

type orderPricingDoc struct {
	Total float64 `firestore:"total"`
}

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	Name      string  `firestore:"name"`
	Quantity  int     `firestore:"quantity"`
	Price     float64 `firestore:"price"`
}

func toDomainOrder(id string, doc orderDocument, created time.Time) domain.Order {
	order := domain.Order{
		ID:      id,
		OrderID: strings.TrimSpace(doc.OrderID),
		UserID:  strings.TrimSpace(doc.UserID),
		Shipping: domain.OrderShipping{
			Email:    strings.TrimSpace(doc.Shipping.Email),
			FullName: strings.TrimSpace(doc.Shipping.FullName),
			Phone:    strings.TrimSpace(doc.Shipping.Phone),
		},
		Pricing:   domain.OrderPricing{Total: doc.Pricing.Total},
		CreatedAt: doc.CreatedAt,
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = created
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Name:      strings.TrimSpace(item.Name),
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	// user is either a reference (id string or document ref) or an embedded customer map.
	switch v := doc.User.(type) {
	case string:
		if order.UserID == "" {
			order.UserID = strings.TrimSpace(v)
		}
	case *firestore.DocumentRef:
		if v != nil && order.UserID == "" {
			order.UserID = v.ID
		}
	case map[string]any:
		embedded := embeddedUser(v)
		if embedded.ID == "" {
			embedded.ID = order.UserID
		}
		if order.UserID == "" {
			order.UserID = embedded.ID
		}
		order.User = &embedded
	}
	return order
}

func embeddedUser(fields map[string]any) domain.User {
	str := func(keys ...string) string {
		for _, key := range keys {
			switch v := fields[key].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case int64:
				return strconv.FormatInt(v, 10)
			}
		}
		return ""
	}
	user := domain.User{
		ID:    str("id", "_id", "uid"),
		Name:  str("name", "fullName", "displayName"),
		Email: str("email"),
		Phone: str("phone", "phoneNumber"),
		Role:  strings.ToLower(str("role")),
	}
	if active, ok := fields["isActive"].(bool); ok {
		user.IsActive = active
	}
	if list, ok := fields["wishlist"].([]any); ok {
		for _, item := range list {
			user.Wishlist = append(user.Wishlist, strings.TrimSpace(fmt.Sprint(item)))
		}
	}
	return user
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
