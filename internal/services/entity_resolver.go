package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/platform/textutil"
	"github.com/hanko-field/automation/internal/repositories"
)

const defaultCustomerName = "there"

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// EntityResolverDeps bundles collaborators for the resolver.
type EntityResolverDeps struct {
	Users    repositories.UserRepository
	Products repositories.ProductRepository
	Orders   repositories.OrderRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type entityResolver struct {
	users    repositories.UserRepository
	products repositories.ProductRepository
	orders   repositories.OrderRepository
	logger   func(context.Context, string, map[string]any)
}

var _ EntityResolver = (*entityResolver)(nil)

// NewEntityResolver constructs the resolver.
func NewEntityResolver(deps EntityResolverDeps) (EntityResolver, error) {
	if deps.Users == nil {
		return nil, errors.New("entity resolver: user repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("entity resolver: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("entity resolver: order repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &entityResolver{
		users:    deps.Users,
		products: deps.Products,
		orders:   deps.Orders,
		logger:   logger,
	}, nil
}

// IsValidIdentifier reports whether id can be used as a document id.
func IsValidIdentifier(id string) bool {
	return identifierPattern.MatchString(id)
}

// Resolve returns whatever entities could be found. Only an unavailable store is an error.
func (r *entityResolver) Resolve(ctx context.Context, event domain.NormalizedEvent) (domain.ResolvedContext, error) {
	var resolved domain.ResolvedContext
	additional := event.AdditionalData
	if additional == nil {
		additional = map[string]any{}
	}

	user, err := r.resolveUser(ctx, event.UserID, additional)
	if err != nil {
		return domain.ResolvedContext{}, err
	}
	resolved.User = user

	product, err := r.resolveProduct(ctx, event.ProductID, additional)
	if err != nil {
		return domain.ResolvedContext{}, err
	}
	resolved.Product = product

	order, err := r.resolveOrder(ctx, event.OrderID, additional)
	if err != nil {
		return domain.ResolvedContext{}, err
	}
	resolved.Order = order

	if resolved.User == nil && order != nil {
		if order.User != nil {
			embedded := *order.User
			resolved.User = &embedded
		} else if IsValidIdentifier(order.UserID) {
			found, err := r.lookupUser(ctx, "user_by_order", order.UserID, r.users.FindByID)
			if err != nil {
				return domain.ResolvedContext{}, err
			}
			resolved.User = found
		}
	}

	resolved.UserName, resolved.UserEmail, resolved.UserPhone = contactFields(resolved, additional)
	return resolved, nil
}

func (r *entityResolver) resolveUser(ctx context.Context, userID string, additional map[string]any) (*domain.User, error) {
	switch {
	case IsValidIdentifier(userID):
		return r.lookupUser(ctx, "user_by_id", userID, r.users.FindByID)
	case strings.Contains(userID, "@"):
		return r.lookupUser(ctx, "user_by_email", userID, r.users.FindByEmail)
	}
	if inline := mapField(additional, "userData", "user_data"); inline != nil {
		user := userFromMap(inline)
		return &user, nil
	}
	if userID != "" {
		r.logger(ctx, "automation.resolve_skipped", map[string]any{"entity": "user", "reason": "invalid identifier"})
	}
	return nil, nil
}

func (r *entityResolver) resolveProduct(ctx context.Context, productID string, additional map[string]any) (*domain.Product, error) {
	if inline := mapField(additional, "productData", "product_data"); inline != nil {
		product := productFromMap(inline)
		if product.ID == "" {
			product.ID = productID
		}
		return &product, nil
	}
	if !IsValidIdentifier(productID) {
		if productID != "" {
			r.logger(ctx, "automation.resolve_skipped", map[string]any{"entity": "product", "reason": "invalid identifier"})
		}
		return nil, nil
	}
	product, err := r.products.FindByID(ctx, productID)
	if err != nil {
		return nil, r.lookupFailure(ctx, "product_by_id", err)
	}
	return &product, nil
}

func (r *entityResolver) resolveOrder(ctx context.Context, orderID string, additional map[string]any) (*domain.Order, error) {
	if inline := mapField(additional, "orderData", "order_data"); inline != nil {
		order := orderFromMap(inline)
		if order.ID == "" && order.OrderID == "" {
			order.OrderID = orderID
		}
		return &order, nil
	}
	if orderID == "" {
		return nil, nil
	}
	if IsValidIdentifier(orderID) {
		order, err := r.orders.FindByID(ctx, orderID)
		if err == nil {
			return &order, nil
		}
		if failure := r.lookupFailure(ctx, "order_by_id", err); failure != nil {
			return nil, failure
		}
	}
	order, err := r.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, r.lookupFailure(ctx, "order_by_number", err)
	}
	return &order, nil
}

func (r *entityResolver) lookupUser(ctx context.Context, op, key string, find func(context.Context, string) (domain.User, error)) (*domain.User, error) {
	user, err := find(ctx, key)
	if err != nil {
		return nil, r.lookupFailure(ctx, op, err)
	}
	return &user, nil
}

// lookupFailure logs a failed lookup and returns an error only when the store is unavailable.
func (r *entityResolver) lookupFailure(ctx context.Context, op string, err error) error {
	if storeUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", ErrAutomationStoreUnavailable, op, err)
	}
	fields := map[string]any{"lookup": op, "error": err.Error()}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		fields["notFound"] = true
	}
	r.logger(ctx, "automation.resolve_miss", fields)
	return nil
}

func storeUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}

func contactFields(resolved domain.ResolvedContext, additional map[string]any) (name, email, phone string) {
	pick := func(fromUser, fromOrder string, camel []string, snake []string, fallback string) string {
		if v := strings.TrimSpace(fromUser); v != "" {
			return v
		}
		if v := strings.TrimSpace(fromOrder); v != "" {
			return v
		}
		if v := stringField(additional, camel...); v != "" {
			return v
		}
		if v := stringField(additional, snake...); v != "" {
			return v
		}
		return fallback
	}

	var user domain.User
	if resolved.User != nil {
		user = *resolved.User
	}
	var shipping domain.OrderShipping
	if resolved.Order != nil {
		shipping = resolved.Order.Shipping
	}

	name = textutil.NormalizeName(pick(user.Name, shipping.FullName,
		[]string{"userName", "customerName", "name"}, []string{"user_name", "customer_name"}, defaultCustomerName))
	email = pick(user.Email, shipping.Email,
		[]string{"userEmail", "customerEmail", "email"}, []string{"user_email", "customer_email"}, "")
	phone = pick(user.Phone, shipping.Phone,
		[]string{"userPhone", "customerPhone", "phone"}, []string{"user_phone", "customer_phone"}, "")
	return name, email, phone
}

func userFromMap(m map[string]any) domain.User {
	user := domain.User{
		ID:    stringField(m, "id", "_id", "userId", "user_id"),
		Name:  stringField(m, "name", "fullName", "full_name"),
		Email: stringField(m, "email"),
		Phone: stringField(m, "phone"),
		Role:  strings.ToLower(stringField(m, "role")),
	}
	user.IsActive = boolField(m, "isActive", "is_active")
	user.Wishlist = stringSlice(sliceField(m, "wishlist"))
	return user
}

func productFromMap(m map[string]any) domain.Product {
	product := domain.Product{
		ID:          stringField(m, "id", "_id", "productId", "product_id"),
		Name:        stringField(m, "name"),
		CategoryID:  stringField(m, "categoryId", "category_id"),
		BrandID:     stringField(m, "brandId", "brand_id"),
		SkinType:    stringSlice(sliceField(m, "skinType", "skin_type")),
		SkinConcern: stringSlice(sliceField(m, "skinConcern", "skin_concern")),
		Images:      stringSlice(sliceField(m, "images")),
	}
	if category := mapField(m, "category"); category != nil {
		product.Category = stringField(category, "name")
		if product.CategoryID == "" {
			product.CategoryID = stringField(category, "id", "_id")
		}
	} else {
		product.Category = stringField(m, "category")
	}
	if brand := mapField(m, "brand"); brand != nil {
		product.Brand = stringField(brand, "name")
		if product.BrandID == "" {
			product.BrandID = stringField(brand, "id", "_id")
		}
	} else {
		product.Brand = stringField(m, "brand")
	}
	product.Stock, _ = intField(m, "stock")
	product.Price, _ = floatField(m, "price")
	product.SalePrice, _ = floatField(m, "salePrice", "sale_price")
	product.SalesCount, _ = intField(m, "salesCount", "sales_count")
	return product
}

func orderFromMap(m map[string]any) domain.Order {
	order := domain.Order{
		ID:      stringField(m, "id", "_id"),
		OrderID: stringField(m, "orderId", "order_id"),
		UserID:  stringField(m, "userId", "user_id"),
	}
	if embedded := mapField(m, "user"); embedded != nil {
		user := userFromMap(embedded)
		if order.UserID == "" {
			order.UserID = user.ID
		}
		order.User = &user
	} else if order.UserID == "" {
		order.UserID = stringField(m, "user")
	}
	if shipping := mapField(m, "shipping", "shippingAddress", "shipping_address"); shipping != nil {
		order.Shipping = domain.OrderShipping{
			Email:    stringField(shipping, "email"),
			FullName: stringField(shipping, "fullName", "full_name", "name"),
			Phone:    stringField(shipping, "phone"),
		}
	}
	if pricing := mapField(m, "pricing"); pricing != nil {
		order.Pricing.Total, _ = floatField(pricing, "total")
	} else {
		order.Pricing.Total, _ = floatField(m, "total", "orderTotal", "order_total")
	}
	for _, raw := range sliceField(m, "items") {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		line := domain.OrderItem{
			ProductID: stringField(item, "productId", "product_id", "product"),
			Name:      stringField(item, "name"),
		}
		if product := mapField(item, "product"); product != nil {
			line.ProductID = stringField(product, "id", "_id")
			if line.Name == "" {
				line.Name = stringField(product, "name")
			}
		}
		line.Quantity, _ = intField(item, "quantity")
		line.Price, _ = floatField(item, "price")
		order.Items = append(order.Items, line)
	}
	return order
}
