package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/repositories"
)

const (
	defaultLowStockThreshold   = 10
	defaultCartValueThreshold  = 2000
	defaultRecommendationLimit = 4
	productViewThreshold       = 3

	vipDiscountPercentage     = 15
	reviewDiscountPercentage  = 5
	welcomeDiscountPercentage = 10
	cartDiscountPercentage    = 8
)

// EventClassifierDeps bundles collaborators and thresholds for the classifier.
type EventClassifierDeps struct {
	Users               repositories.UserRepository
	Products            repositories.ProductRepository
	Orders              repositories.OrderRepository
	Issuer              DiscountCodeIssuer
	Images              ImageURLSigner
	Cache               ProductListCache
	LowStockThreshold   int
	CartValueThreshold  float64
	RecommendationLimit int
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

type eventClassifier struct {
	users               repositories.UserRepository
	products            repositories.ProductRepository
	orders              repositories.OrderRepository
	issuer              DiscountCodeIssuer
	images              ImageURLSigner
	cache               ProductListCache
	lowStockThreshold   int
	cartValueThreshold  float64
	recommendationLimit int
	logger              func(context.Context, string, map[string]any)
}

var _ EventClassifier = (*eventClassifier)(nil)

// NewEventClassifier constructs the classifier. Images and Cache are optional.
func NewEventClassifier(deps EventClassifierDeps) (EventClassifier, error) {
	if deps.Users == nil || deps.Products == nil || deps.Orders == nil {
		return nil, errors.New("event classifier: user, product and order repositories are required")
	}
	if deps.Issuer == nil {
		return nil, errors.New("event classifier: discount code issuer is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	c := &eventClassifier{
		users:               deps.Users,
		products:            deps.Products,
		orders:              deps.Orders,
		issuer:              deps.Issuer,
		images:              deps.Images,
		cache:               deps.Cache,
		lowStockThreshold:   deps.LowStockThreshold,
		cartValueThreshold:  deps.CartValueThreshold,
		recommendationLimit: deps.RecommendationLimit,
		logger:              logger,
	}
	if c.lowStockThreshold <= 0 {
		c.lowStockThreshold = defaultLowStockThreshold
	}
	if c.cartValueThreshold <= 0 {
		c.cartValueThreshold = defaultCartValueThreshold
	}
	if c.recommendationLimit <= 0 {
		c.recommendationLimit = defaultRecommendationLimit
	}
	return c, nil
}

// decisionBuilder accumulates one decision.
type decisionBuilder struct {
	actions []domain.Action
	data    map[string]any
}

func newDecision(event domain.EventType, resolved domain.ResolvedContext) *decisionBuilder {
	data := map[string]any{"event_type": string(event)}
	if resolved.User != nil {
		data["user_id"] = resolved.User.ID
		data["customer_name"] = resolved.UserName
		data["customer_email"] = resolved.UserEmail
		data["customer_phone"] = resolved.UserPhone
	}
	return &decisionBuilder{data: data}
}

func (b *decisionBuilder) act(tag string, actions ...domain.Action) domain.ActionDecision {
	b.actions = append(b.actions, actions...)
	b.data["context"] = tag
	return domain.ActionDecision{Actions: b.actions, Message: "", Data: b.data}
}

func (c *eventClassifier) Classify(ctx context.Context, event domain.NormalizedEvent, resolved domain.ResolvedContext) (domain.ActionDecision, error) {
	additional := event.AdditionalData
	if additional == nil {
		additional = map[string]any{}
	}
	b := newDecision(event.Event, resolved)

	switch event.Event {
	case domain.EventProductView:
		return c.productView(ctx, b, resolved, additional)
	case domain.EventAddToCart:
		return c.addToCart(b, resolved, additional), nil
	case domain.EventCheckoutStarted:
		b.data["cart_value"], _ = floatField(additional, "cartValue", "cart_value", "cartTotal", "cart_total")
		b.data["item_count"], _ = intField(additional, "itemCount", "item_count")
		if resolved.User == nil {
			return b.act("checkout_started_no_user", domain.ActionNothing), nil
		}
		return b.act("checkout_started", domain.ActionStoreEvent), nil
	case domain.EventOrderSuccess:
		return c.orderSuccess(ctx, b, event, resolved)
	case domain.EventOrderDelivered:
		if resolved.User == nil || resolved.Order == nil {
			return b.act("order_delivered_missing_entities", domain.ActionNothing), nil
		}
		addOrderData(b.data, resolved.Order, event.OrderID)
		return b.act("order_delivered_review_request", domain.ActionSendEmail), nil
	case domain.EventReviewSubmitted:
		return c.reviewSubmitted(ctx, b, resolved, additional)
	case domain.EventPageVisit:
		b.data["page"] = stringField(additional, "page", "pageUrl", "page_url", "url")
		return b.act("page_visit", domain.ActionStoreEvent), nil
	case domain.EventLowStock:
		if resolved.Product == nil {
			return b.act("low_stock_unknown_product", domain.ActionNothing), nil
		}
		threshold, ok := intField(additional, "threshold")
		if !ok || threshold <= 0 {
			threshold = c.lowStockThreshold
		}
		b.data["product_id"] = resolved.Product.ID
		b.data["product_name"] = resolved.Product.Name
		b.data["current_stock"] = resolved.Product.Stock
		b.data["threshold"] = threshold
		return b.act("low_stock_alert", domain.ActionLowStockAlert), nil
	case domain.EventRestock:
		return c.restock(ctx, b, resolved)
	case domain.EventNewUser:
		if resolved.User == nil {
			return b.act("new_user_unknown", domain.ActionNothing), nil
		}
		if err := c.issueInto(ctx, b, welcomeDiscountPercentage, "WELCOME", resolved.User.ID, "WELCOME new user signup", "discount"); err != nil {
			return domain.ActionDecision{}, err
		}
		return b.act("new_user_welcome", domain.ActionSendEmail), nil
	case domain.EventReturnRequest:
		if resolved.User == nil || resolved.Order == nil {
			return b.act("return_request_missing_entities", domain.ActionNothing), nil
		}
		b.data["order_id"] = orderReference(resolved.Order, event.OrderID)
		b.data["reason"] = stringField(additional, "reason", "returnReason", "return_reason")
		return b.act("return_request", domain.ActionStartReturnProcess), nil
	case domain.EventCartAbandoned:
		b.data["cart_value"], _ = floatField(additional, "cartValue", "cart_value", "cartTotal", "cart_total")
		b.data["cart_items"] = sliceField(additional, "cartItems", "cart_items")
		if resolved.User == nil {
			return b.act("cart_abandoned_no_user", domain.ActionNothing), nil
		}
		if err := c.issueInto(ctx, b, cartDiscountPercentage, "CART", resolved.User.ID, "CART abandonment recovery", "discount"); err != nil {
			return domain.ActionDecision{}, err
		}
		return b.act("cart_abandoned_recovery", domain.ActionTriggerCartRecovery), nil
	}
	return b.act("unsupported_event", domain.ActionNothing), nil
}

func (c *eventClassifier) productView(ctx context.Context, b *decisionBuilder, resolved domain.ResolvedContext, additional map[string]any) (domain.ActionDecision, error) {
	viewCount, _ := intField(additional, "viewCount", "view_count")
	b.data["view_count"] = viewCount
	if resolved.Product != nil {
		b.data["product_id"] = resolved.Product.ID
		b.data["product_name"] = resolved.Product.Name
		if url := c.firstImageURL(ctx, resolved.Product); url != "" {
			b.data["product_image_url"] = url
		}
	}
	if viewCount < productViewThreshold || resolved.User == nil {
		return b.act("product_view_tracking", domain.ActionStoreEvent), nil
	}

	recommended, err := c.recommendations(ctx, resolved.Product)
	if err != nil {
		return domain.ActionDecision{}, err
	}
	summaries := make([]map[string]any, 0, len(recommended))
	for i := range recommended {
		summaries = append(summaries, c.productSummary(ctx, &recommended[i]))
	}
	b.data["recommended_products"] = summaries
	return b.act("product_view_recommendation", domain.ActionRecommendProducts), nil
}

// recommendations returns in-stock products from the viewed product's category, topped up
// with best sellers, never including the viewed product.
func (c *eventClassifier) recommendations(ctx context.Context, viewed *domain.Product) ([]domain.Product, error) {
	limit := c.recommendationLimit
	excludeID := ""
	if viewed != nil {
		excludeID = viewed.ID
	}
	seen := map[string]struct{}{}
	if excludeID != "" {
		seen[excludeID] = struct{}{}
	}
	out := make([]domain.Product, 0, limit)
	appendFrom := func(list []domain.Product) {
		for _, product := range list {
			if len(out) == limit {
				return
			}
			if _, dup := seen[product.ID]; dup {
				continue
			}
			seen[product.ID] = struct{}{}
			out = append(out, product)
		}
	}

	if viewed != nil && viewed.CategoryID != "" {
		similar, err := c.cachedProducts(ctx, "similar:"+viewed.CategoryID, repositories.ProductFilter{
			CategoryID:  viewed.CategoryID,
			InStockOnly: true,
			Limit:       limit + 1,
		})
		if err != nil {
			return nil, err
		}
		appendFrom(similar)
	}
	if len(out) < limit {
		best, err := c.cachedProducts(ctx, "bestsellers", repositories.ProductFilter{
			InStockOnly: true,
			Limit:       limit * 2,
		})
		if err != nil {
			return nil, err
		}
		appendFrom(best)
	}
	return out, nil
}

func (c *eventClassifier) cachedProducts(ctx context.Context, key string, filter repositories.ProductFilter) ([]domain.Product, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached, nil
		}
	}
	products, err := c.products.FindProducts(ctx, filter)
	if err != nil {
		if storeUnavailable(err) {
			return nil, fmt.Errorf("%w: recommendations: %v", ErrAutomationStoreUnavailable, err)
		}
		c.logger(ctx, "automation.recommendations_failed", map[string]any{"key": key, "error": err.Error()})
		return nil, nil
	}
	if c.cache != nil {
		c.cache.Set(key, products)
	}
	return products, nil
}

func (c *eventClassifier) productSummary(ctx context.Context, product *domain.Product) map[string]any {
	summary := map[string]any{
		"id":         product.ID,
		"name":       product.Name,
		"price":      product.Price,
		"sale_price": product.SalePrice,
		"category":   product.Category,
		"brand":      product.Brand,
	}
	if url := c.firstImageURL(ctx, product); url != "" {
		summary["image_url"] = url
	}
	return summary
}

func (c *eventClassifier) firstImageURL(ctx context.Context, product *domain.Product) string {
	if product == nil || len(product.Images) == 0 {
		return ""
	}
	ref := strings.TrimSpace(product.Images[0])
	if c.images == nil || ref == "" {
		return ref
	}
	url, err := c.images.SignImageURL(ctx, ref)
	if err != nil {
		c.logger(ctx, "automation.image_sign_failed", map[string]any{"productId": product.ID, "error": err.Error()})
		return ""
	}
	return url
}

func (c *eventClassifier) addToCart(b *decisionBuilder, resolved domain.ResolvedContext, additional map[string]any) domain.ActionDecision {
	cartValue, _ := floatField(additional, "cartValue", "cart_value", "cartTotal", "cart_total")
	firstTime := boolField(additional, "isFirstTime", "is_first_time", "firstTime")
	b.data["cart_value"] = cartValue
	b.data["is_first_time"] = firstTime
	if resolved.User == nil {
		return b.act("add_to_cart_no_user", domain.ActionNothing)
	}
	if firstTime && cartValue > c.cartValueThreshold {
		return b.act("add_to_cart_first_time_high_value", domain.ActionSendEmail)
	}
	return b.act("add_to_cart_tracking", domain.ActionStoreEvent)
}

func (c *eventClassifier) orderSuccess(ctx context.Context, b *decisionBuilder, event domain.NormalizedEvent, resolved domain.ResolvedContext) (domain.ActionDecision, error) {
	addOrderData(b.data, resolved.Order, event.OrderID)

	var orderCount int64
	if resolved.User != nil && resolved.User.ID != "" {
		count, err := c.orders.CountByUser(ctx, resolved.User.ID)
		switch {
		case err == nil:
			orderCount = count
		case storeUnavailable(err):
			return domain.ActionDecision{}, fmt.Errorf("%w: count orders: %v", ErrAutomationStoreUnavailable, err)
		default:
			c.logger(ctx, "automation.order_count_failed", map[string]any{"userId": resolved.User.ID, "error": err.Error()})
		}
	}
	repeat := orderCount > 1
	validEmail := strings.Contains(resolved.UserEmail, "@")

	b.data["order_count"] = orderCount
	b.data["is_repeat_customer"] = repeat
	b.data["has_valid_email"] = validEmail
	b.data["send_invoice"] = validEmail
	b.data["send_vip_offer"] = validEmail && repeat

	if repeat {
		code, err := c.issuer.Issue(ctx, IssueDiscountCommand{
			Percentage: vipDiscountPercentage,
			Prefix:     "VIP",
			UserID:     resolved.User.ID,
			Context:    "VIP repeat customer order",
		})
		if err != nil {
			return domain.ActionDecision{}, err
		}
		b.data["vip_discount_code"] = code
		b.data["vip_discount_percentage"] = vipDiscountPercentage
	}

	if !validEmail {
		return b.act("order_success_missing_email", domain.ActionStoreEvent), nil
	}
	if repeat {
		return b.act("order_success_repeat_customer", domain.ActionSendInvoice, domain.ActionSendVIPOffer), nil
	}
	return b.act("order_success_first_order", domain.ActionSendInvoice), nil
}

func (c *eventClassifier) reviewSubmitted(ctx context.Context, b *decisionBuilder, resolved domain.ResolvedContext, additional map[string]any) (domain.ActionDecision, error) {
	rating, _ := floatField(additional, "rating")
	b.data["rating"] = rating
	b.data["review_text"] = stringField(additional, "reviewText", "review_text", "review")
	if resolved.Product != nil {
		b.data["product_id"] = resolved.Product.ID
		b.data["product_name"] = resolved.Product.Name
	}
	if resolved.User == nil || resolved.Product == nil {
		return b.act("review_stored", domain.ActionStoreEvent), nil
	}
	if err := c.issueInto(ctx, b, reviewDiscountPercentage, "REVIEW", resolved.User.ID, "REVIEW thank you", "discount"); err != nil {
		return domain.ActionDecision{}, err
	}
	return b.act("review_thank_you", domain.ActionSendEmail), nil
}

func (c *eventClassifier) restock(ctx context.Context, b *decisionBuilder, resolved domain.ResolvedContext) (domain.ActionDecision, error) {
	if resolved.Product == nil {
		return b.act("restock_unknown_product", domain.ActionNothing), nil
	}
	b.data["product_id"] = resolved.Product.ID
	b.data["product_name"] = resolved.Product.Name
	b.data["current_stock"] = resolved.Product.Stock

	users, err := c.users.FindUsers(ctx, repositories.UserFilter{WishlistProductID: resolved.Product.ID})
	if err != nil {
		if storeUnavailable(err) {
			return domain.ActionDecision{}, fmt.Errorf("%w: wishlist users: %v", ErrAutomationStoreUnavailable, err)
		}
		c.logger(ctx, "automation.wishlist_lookup_failed", map[string]any{"productId": resolved.Product.ID, "error": err.Error()})
		users = nil
	}
	interested := make([]map[string]any, 0, len(users))
	for _, user := range users {
		interested = append(interested, map[string]any{
			"user_id": user.ID,
			"name":    user.Name,
			"email":   user.Email,
		})
	}
	b.data["interested_users"] = interested
	b.data["interested_count"] = len(interested)
	if len(interested) == 0 {
		return b.act("restock_no_interest", domain.ActionNotifyAdmin), nil
	}
	return b.act("restock_wishlist_alert", domain.ActionSendRestockAlert), nil
}

// issueInto mints a code and records it under <key>_code and <key>_percentage.
func (c *eventClassifier) issueInto(ctx context.Context, b *decisionBuilder, percentage int, prefix, userID, issueContext, key string) error {
	code, err := c.issuer.Issue(ctx, IssueDiscountCommand{
		Percentage: percentage,
		Prefix:     prefix,
		UserID:     userID,
		Context:    issueContext,
	})
	if err != nil {
		return err
	}
	b.data[key+"_code"] = code
	b.data[key+"_percentage"] = percentage
	return nil
}

func addOrderData(data map[string]any, order *domain.Order, fallbackID string) {
	data["order_id"] = orderReference(order, fallbackID)
	if order == nil {
		return
	}
	data["order_total"] = order.Pricing.Total
	items := make([]map[string]any, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, map[string]any{
			"product_id": item.ProductID,
			"name":       item.Name,
			"quantity":   item.Quantity,
			"price":      item.Price,
		})
	}
	data["items"] = items
}

func orderReference(order *domain.Order, fallbackID string) string {
	if order != nil {
		if order.OrderID != "" {
			return order.OrderID
		}
		if order.ID != "" {
			return order.ID
		}
	}
	return fallbackID
}
