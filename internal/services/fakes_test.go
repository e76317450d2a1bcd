package services

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hanko-field/automation/internal/domain"
	"github.com/hanko-field/automation/internal/repositories"
)

type fakeRepositoryError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e fakeRepositoryError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	case e.unavailable:
		return "unavailable"
	}
	return "repository error"
}

func (e fakeRepositoryError) IsNotFound() bool    { return e.notFound }
func (e fakeRepositoryError) IsConflict() bool    { return e.conflict }
func (e fakeRepositoryError) IsUnavailable() bool { return e.unavailable }

type memoryUsers struct {
	users   map[string]domain.User
	err     error
	filters []repositories.UserFilter
}

func newMemoryUsers(users ...domain.User) *memoryUsers {
	m := &memoryUsers{users: map[string]domain.User{}}
	for _, user := range users {
		m.users[user.ID] = user
	}
	return m
}

func (m *memoryUsers) FindByID(_ context.Context, id string) (domain.User, error) {
	if m.err != nil {
		return domain.User{}, m.err
	}
	user, ok := m.users[id]
	if !ok {
		return domain.User{}, fakeRepositoryError{notFound: true}
	}
	return user, nil
}

func (m *memoryUsers) FindByEmail(_ context.Context, email string) (domain.User, error) {
	if m.err != nil {
		return domain.User{}, m.err
	}
	for _, candidate := range []string{email, strings.ToLower(email)} {
		for _, user := range m.sorted() {
			if user.Email == candidate {
				return user, nil
			}
		}
	}
	return domain.User{}, fakeRepositoryError{notFound: true}
}

func (m *memoryUsers) FindUsers(_ context.Context, filter repositories.UserFilter) ([]domain.User, error) {
	m.filters = append(m.filters, filter)
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.User
	for _, user := range m.sorted() {
		if len(filter.Roles) > 0 && !containsString(filter.Roles, user.Role) {
			continue
		}
		if filter.ActiveOnly && !user.IsActive {
			continue
		}
		if filter.WishlistProductID != "" && !containsString(user.Wishlist, filter.WishlistProductID) {
			continue
		}
		out = append(out, user)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *memoryUsers) sorted() []domain.User {
	out := make([]domain.User, 0, len(m.users))
	for _, user := range m.users {
		out = append(out, user)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type memoryProducts struct {
	products map[string]domain.Product
	err      error
	queries  int
}

func newMemoryProducts(products ...domain.Product) *memoryProducts {
	m := &memoryProducts{products: map[string]domain.Product{}}
	for _, product := range products {
		m.products[product.ID] = product
	}
	return m
}

func (m *memoryProducts) FindByID(_ context.Context, id string) (domain.Product, error) {
	if m.err != nil {
		return domain.Product{}, m.err
	}
	product, ok := m.products[id]
	if !ok {
		return domain.Product{}, fakeRepositoryError{notFound: true}
	}
	return product, nil
}

func (m *memoryProducts) FindProducts(_ context.Context, filter repositories.ProductFilter) ([]domain.Product, error) {
	m.queries++
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Product
	for _, product := range m.products {
		if filter.CategoryID != "" && product.CategoryID != filter.CategoryID {
			continue
		}
		if filter.ExcludeID != "" && product.ID == filter.ExcludeID {
			continue
		}
		if filter.InStockOnly && product.Stock <= 0 {
			continue
		}
		out = append(out, product)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SalesCount != out[j].SalesCount {
			return out[i].SalesCount > out[j].SalesCount
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type memoryOrders struct {
	orders   map[string]domain.Order
	counts   map[string]int64
	err      error
	countErr error
}

func newMemoryOrders(orders ...domain.Order) *memoryOrders {
	m := &memoryOrders{orders: map[string]domain.Order{}, counts: map[string]int64{}}
	for _, order := range orders {
		m.orders[order.ID] = order
	}
	return m
}

func (m *memoryOrders) FindByID(_ context.Context, id string) (domain.Order, error) {
	if m.err != nil {
		return domain.Order{}, m.err
	}
	order, ok := m.orders[id]
	if !ok {
		return domain.Order{}, fakeRepositoryError{notFound: true}
	}
	return order, nil
}

func (m *memoryOrders) FindByOrderID(_ context.Context, humanID string) (domain.Order, error) {
	if m.err != nil {
		return domain.Order{}, m.err
	}
	for _, order := range m.orders {
		if order.OrderID == humanID {
			return order, nil
		}
	}
	return domain.Order{}, fakeRepositoryError{notFound: true}
}

func (m *memoryOrders) CountByUser(_ context.Context, userID string) (int64, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return m.counts[userID], nil
}

type memoryPromoCodes struct {
	mu        sync.Mutex
	codes     map[string]domain.PromoCode
	createErr error
	findErr   error
	marked    []string
}

func newMemoryPromoCodes() *memoryPromoCodes {
	return &memoryPromoCodes{codes: map[string]domain.PromoCode{}}
}

func (m *memoryPromoCodes) FindByCode(_ context.Context, code string) (domain.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return domain.PromoCode{}, m.findErr
	}
	promo, ok := m.codes[code]
	if !ok {
		return domain.PromoCode{}, fakeRepositoryError{notFound: true}
	}
	return promo, nil
}

func (m *memoryPromoCodes) Create(_ context.Context, promo domain.PromoCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.codes[promo.Code]; exists {
		return fakeRepositoryError{conflict: true}
	}
	m.codes[promo.Code] = promo
	return nil
}

func (m *memoryPromoCodes) ListByUser(_ context.Context, userID string, limit int) ([]domain.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []domain.PromoCode
	for _, promo := range m.codes {
		if containsString(promo.ApplicableUsers, userID) {
			out = append(out, promo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryPromoCodes) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PromoCode
	for _, promo := range m.codes {
		if promo.Status == domain.PromoCodeStatusActive && !promo.ValidUntil.After(now) {
			out = append(out, promo)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryPromoCodes) MarkExpired(_ context.Context, codes []string, _ time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, code := range codes {
		promo := m.codes[code]
		promo.Status = domain.PromoCodeStatusExpired
		m.codes[code] = promo
		m.marked = append(m.marked, code)
	}
	return len(codes), nil
}

func (m *memoryPromoCodes) only() domain.PromoCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, promo := range m.codes {
		return promo
	}
	return domain.PromoCode{}
}

type memoryDecisions struct {
	records []domain.DecisionRecord
	err     error
}

func (m *memoryDecisions) Append(_ context.Context, record domain.DecisionRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, record)
	return nil
}

type recordingPublisher struct {
	messages []DecisionMessage
	err      error
}

func (p *recordingPublisher) PublishDecision(_ context.Context, message DecisionMessage) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, message)
	return "msg-1", nil
}

type recordingMetrics struct {
	decisions []string
	codes     []string
	failures  []string
}

func (m *recordingMetrics) RecordDecision(_ context.Context, event, action string) {
	m.decisions = append(m.decisions, event+":"+action)
}

func (m *recordingMetrics) RecordCodeIssued(_ context.Context, prefix string, persisted bool) {
	if persisted {
		m.codes = append(m.codes, prefix)
		return
	}
	m.codes = append(m.codes, prefix+":unsaved")
}

func (m *recordingMetrics) RecordFailure(_ context.Context, event string) {
	m.failures = append(m.failures, event)
}

type recordingLogger struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingLogger) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return containsString(l.events, event)
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
