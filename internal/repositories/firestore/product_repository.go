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
	productCollection   = "products"
	brandCollection     = "brands"
	categoryCollection  = "categories"
	defaultProductLimit = 20
	maxProductScan      = 200
)

// ProductRepository reads catalog products and joins brand and category names.
type ProductRepository struct {
	products   *pfirestore.BaseRepository[productDocument]
	brands     *pfirestore.BaseRepository[namedDocument]
	categories *pfirestore.BaseRepository[namedDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products:   pfirestore.NewBaseRepository[productDocument](provider, productCollection),
		brands:     pfirestore.NewBaseRepository[namedDocument](provider, brandCollection),
		categories: pfirestore.NewBaseRepository[namedDocument](provider, categoryCollection),
	}, nil
}

// FindByID loads one product with brand and category names populated.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := toDomainProduct(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime)
	if err := r.populate(ctx, &product, newNameLookup()); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// FindProducts lists products ordered by sales count. Stock and exclusion filters apply
// after the query so that only an equality filter is combined with the ordering.
func (r *ProductRepository) FindProducts(ctx context.Context, filter repositories.ProductFilter) ([]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("product repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultProductLimit
	}
	scan := limit
	if filter.InStockOnly {
		scan *= 3
	}
	if filter.ExcludeID != "" {
		scan++
	}
	if scan > maxProductScan {
		scan = maxProductScan
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if categoryID := strings.TrimSpace(filter.CategoryID); categoryID != "" {
			q = q.Where("categoryId", "==", categoryID)
		}
		return q.OrderBy("salesCount", firestore.Desc).Limit(scan)
	})
	if err != nil {
		return nil, err
	}

	lookup := newNameLookup()
	products := make([]domain.Product, 0, limit)
	for _, doc := range docs {
		if len(products) == limit {
			break
		}
		if doc.ID == filter.ExcludeID {
			continue
		}
		if filter.InStockOnly && doc.Data.Stock <= 0 {
			continue
		}
		product := toDomainProduct(doc.ID, doc.Data, doc.CreateTime, doc.UpdateTime)
		if err := r.populate(ctx, &product, lookup); err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, nil
}

// populate fills joined names that were not denormalised onto the product. Missing brand
// or category documents leave the name empty.
func (r *ProductRepository) populate(ctx context.Context, product *domain.Product, lookup nameLookup) error {
	if product.Brand == "" && product.BrandID != "" {
		name, err := lookup.resolve(ctx, r.brands, product.BrandID)
		if err != nil {
			return err
		}
		product.Brand = name
	}
	if product.Category == "" && product.CategoryID != "" {
		name, err := lookup.resolve(ctx, r.categories, product.CategoryID)
		if err != nil {
			return err
		}
		product.Category = name
	}
	return nil
}

type nameLookup map[string]string

func newNameLookup() nameLookup { return make(nameLookup) }

func (l nameLookup) resolve(ctx context.Context, repo *pfirestore.BaseRepository[namedDocument], id string) (string, error) {
	key := repo.Collection() + "/" + id
	if name, ok := l[key]; ok {
		return name, nil
	}
	doc, err := repo.Get(ctx, id)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			l[key] = ""
			return "", nil
		}
		return "", err
	}
	name := strings.TrimSpace(doc.Data.Name)
	l[key] = name
	return name, nil
}

type namedDocument struct {
	Name string `firestore:"name"`
}

type productDocument struct {
	Name        string    `firestore:"name"`
	CategoryID  string    `firestore:"categoryId"`
	Category    string    `firestore:"categoryName"`
	BrandID     string    `firestore:"brandId"`
	Brand       string    `firestore:"brandName"`
	Stock       int       `firestore:"stock"`
	SkinType    []string  `firestore:"skinType"`
	SkinConcern []string  `firestore:"skinConcern"`
	Price       float64   `firestore:"price"`
	SalePrice   float64   `firestore:"salePrice"`
	Images      []string  `firestore:"images"`
	SalesCount  int       `firestore:"salesCount"`
	IsActive    bool      `firestore:"isActive"`
	CreatedAt   time.Time `firestore:"createdAt"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func toDomainProduct(id string, doc productDocument, created, updated time.Time) domain.Product {
	product := domain.Product{
		ID:          id,
		Name:        strings.TrimSpace(doc.Name),
		CategoryID:  strings.TrimSpace(doc.CategoryID),
		Category:    strings.TrimSpace(doc.Category),
		BrandID:     strings.TrimSpace(doc.BrandID),
		Brand:       strings.TrimSpace(doc.Brand),
		Stock:       doc.Stock,
		SkinType:    append([]string(nil), doc.SkinType...),
		SkinConcern: append([]string(nil), doc.SkinConcern...),
		Price:       doc.Price,
		SalePrice:   doc.SalePrice,
		Images:      append([]string(nil), doc.Images...),
		SalesCount:  doc.SalesCount,
		IsActive:    doc.IsActive,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = created
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = updated
	}
	return product
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
