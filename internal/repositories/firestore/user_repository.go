package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/hanko-field/automation/internal/domain"
	pfirestore "github.com/hanko-field/automation/internal/platform/firestore"
	"github.com/hanko-field/automation/internal/repositories"
)

const (
	userCollection   = "users"
	defaultUserLimit = 100
	maxRolesPerQuery = 30
)

// UserRepository reads storefront accounts from Firestore.
type UserRepository struct {
	base *pfirestore.BaseRepository[userDocument]
}

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	return &UserRepository{base: pfirestore.NewBaseRepository[userDocument](provider, userCollection)}, nil
}

// FindByID loads the user by document id.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.User{}, errors.New("user id is required")
	}
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc.ID, doc.Data, doc.CreateTime), nil
}

// FindByEmail matches the stored address exactly and then its lower-cased form.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if r == nil || r.base == nil {
		return domain.User{}, errors.New("user repository not initialised")
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}

	candidates := []string{email}
	if lower := strings.ToLower(email); lower != email {
		candidates = append(candidates, lower)
	}
	var lastErr error
	for _, candidate := range candidates {
		doc, err := r.base.First(ctx, "find_by_email", func(q firestore.Query) firestore.Query {
			return q.Where("email", "==", candidate)
		})
		if err == nil {
			return toDomainUser(doc.ID, doc.Data, doc.CreateTime), nil
		}
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return domain.User{}, err
		}
		lastErr = err
	}
	return domain.User{}, lastErr
}

// FindUsers lists users matching the filter in document id order.
func (r *UserRepository) FindUsers(ctx context.Context, filter repositories.UserFilter) ([]domain.User, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("user repository not initialised")
	}
	roles := roleCasings(normaliseRoles(filter.Roles))
	if len(roles) > maxRolesPerQuery {
		return nil, errors.New("user repository: too many roles in filter")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultUserLimit
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		switch len(roles) {
		case 0:
		case 1:
			q = q.Where("role", "==", roles[0])
		default:
			q = q.Where("role", "in", roles)
		}
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		if productID := strings.TrimSpace(filter.WishlistProductID); productID != "" {
			q = q.Where("wishlist", "array-contains", productID)
		}
		return q.Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, toDomainUser(doc.ID, doc.Data, doc.CreateTime))
	}
	return users, nil
}

type userDocument struct {
	Name      string    `firestore:"name"`
	Email     string    `firestore:"email"`
	Phone     string    `firestore:"phone"`
	Role      string    `firestore:"role"`
	IsActive  bool      `firestore:"isActive"`
	Wishlist  []string  `firestore:"wishlist"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func toDomainUser(id string, doc userDocument, created time.Time) domain.User {
	user := domain.User{
		ID:        id,
		Name:      strings.TrimSpace(doc.Name),
		Email:     strings.TrimSpace(doc.Email),
		Phone:     strings.TrimSpace(doc.Phone),
		Role:      strings.ToLower(strings.TrimSpace(doc.Role)),
		IsActive:  doc.IsActive,
		Wishlist:  append([]string(nil), doc.Wishlist...),
		CreatedAt: doc.CreatedAt,
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = created
	}
	return user
}

// roleCasings expands lower-cased roles into the spellings stored by older writers:
// lower, upper and title case per hyphen segment ("super-admin", "SUPER-ADMIN", "Super-Admin").
func roleCasings(roles []string) []string {
	out := make([]string, 0, len(roles)*3)
	seen := make(map[string]struct{}, len(roles)*3)
	for _, role := range roles {
		segments := strings.Split(role, "-")
		for i, segment := range segments {
			if segment != "" {
				segments[i] = strings.ToUpper(segment[:1]) + segment[1:]
			}
		}
		for _, variant := range []string{role, strings.ToUpper(role), strings.Join(segments, "-")} {
			if _, ok := seen[variant]; ok {
				continue
			}
			seen[variant] = struct{}{}
			out = append(out, variant)
		}
	}
	return out
}

func normaliseRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

var _ repositories.UserRepository = (*UserRepository)(nil)
