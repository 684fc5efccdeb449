package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
	"look-marketplace/internal/repository"
)

var (
	ErrMissingStoreID  = errors.New("store_id is required")
	ErrMissingItems    = errors.New("items are required")
	ErrInvalidItem     = errors.New("invalid commit item")
	ErrStagingConflict = repository.ErrStagingConflict
)

// CatalogInvalidator drops cached catalog pages of a brand
type CatalogInvalidator interface {
	InvalidateBrand(ctx context.Context, brandID int64) error
}

// CommitResult reports what a commit created
type CommitResult struct {
	Imported   int     `json:"imported"`
	ProductIDs []int64 `json:"product_ids"`
	StagingIDs []int64 `json:"staging_ids"`
}

// StagingService groups draft rows for review and promotes them into products
type StagingService struct {
	repo   repository.StagingRepositoryInterface
	cache  CatalogInvalidator
	logger *logrus.Entry
}

// NewStagingService creates a new StagingService. cache may be nil.
func NewStagingService(repo repository.StagingRepositoryInterface, cache CatalogInvalidator, logger *logrus.Logger) *StagingService {
	return &StagingService{
		repo:   repo,
		cache:  cache,
		logger: logger.WithField("component", "staging_service"),
	}
}

// GetGrouped returns the store's draft rows grouped into products
func (s *StagingService) GetGrouped(ctx context.Context, storeID int64) ([]models.GroupedProduct, error) {
	if storeID <= 0 {
		return nil, ErrMissingStoreID
	}
	rows, err := s.repo.ListDraftRows(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load staging rows: %w", err)
	}
	return GroupStagingRows(rows), nil
}

// StageRows stores freshly imported rows as drafts. Rows sharing a store and
// external id collapse to the last one, and the repository refreshes an
// existing draft with that id, so importing a catalog again never doubles its
// stock.
func (s *StagingService) StageRows(ctx context.Context, rows []models.StagingRow) (int, error) {
	rows = dedupeByExternalID(rows)
	for i := range rows {
		rows[i].Status = models.StagingDraft
	}
	if err := s.repo.CreateRows(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to stage rows: %w", err)
	}
	return len(rows), nil
}

// Commit promotes edited grouped items into live products. Product insert,
// staging status update and the outbox event share one transaction; when any
// referenced staging row is no longer a draft of this store nothing is written
// and ErrStagingConflict is returned.
//
// Items without staging ids have no dedup key, so committing the same legacy
// payload twice creates duplicate products.
func (s *StagingService) Commit(ctx context.Context, storeID int64, items []models.CommitItem) (*CommitResult, error) {
	if storeID <= 0 {
		return nil, ErrMissingStoreID
	}
	if len(items) == 0 {
		return nil, ErrMissingItems
	}

	products, stagingIDs, err := buildProducts(storeID, items)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repository.StagingRepositoryInterface) error {
		if err := txRepo.CreateProducts(ctx, products); err != nil {
			return fmt.Errorf("failed to insert products: %w", err)
		}

		if len(stagingIDs) > 0 {
			moved, err := txRepo.MarkImported(ctx, storeID, stagingIDs)
			if err != nil {
				return fmt.Errorf("failed to mark staging rows imported: %w", err)
			}
			if moved != int64(len(stagingIDs)) {
				return fmt.Errorf("%w: %d of %d rows were drafts", ErrStagingConflict, moved, len(stagingIDs))
			}
		}

		return txRepo.EnqueueEvent(ctx, models.SubjectStagingCommitted, models.StagingCommittedEvent{
			StoreID:    storeID,
			ProductIDs: productIDs(products),
			StagingIDs: stagingIDs,
			Timestamp:  time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateBrand(ctx, storeID); err != nil {
			s.logger.WithError(err).WithField("store_id", storeID).Warn("failed to invalidate catalog cache")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"store_id": storeID,
		"products": len(products),
		"rows":     len(stagingIDs),
	}).Info("staging commit completed")

	return &CommitResult{
		Imported:   len(products),
		ProductIDs: productIDs(products),
		StagingIDs: stagingIDs,
	}, nil
}

type externalKey struct {
	storeID int64
	id      string
}

func dedupeByExternalID(rows []models.StagingRow) []models.StagingRow {
	index := make(map[externalKey]int, len(rows))
	out := make([]models.StagingRow, 0, len(rows))
	for _, row := range rows {
		if row.ExternalID == nil || *row.ExternalID == "" {
			out = append(out, row)
			continue
		}
		key := externalKey{storeID: row.StoreID, id: *row.ExternalID}
		if i, seen := index[key]; seen {
			out[i] = row
			continue
		}
		index[key] = len(out)
		out = append(out, row)
	}
	return out
}

func buildProducts(storeID int64, items []models.CommitItem) ([]models.Product, []int64, error) {
	products := make([]models.Product, 0, len(items))
	stagingIDs := make([]int64, 0, len(items))
	owner := make(map[int64]int)

	for i, item := range items {
		name := strings.TrimSpace(item.Name)
		if name == "" {
			return nil, nil, fmt.Errorf("%w: item %d has no name", ErrInvalidItem, i)
		}
		if item.Price.IsNegative() {
			return nil, nil, fmt.Errorf("%w: item %d has a negative price", ErrInvalidItem, i)
		}
		for _, id := range item.StagingIDs {
			if prev, ok := owner[id]; ok {
				return nil, nil, fmt.Errorf("%w: staging row %d appears in items %d and %d", ErrInvalidItem, id, prev, i)
			}
			owner[id] = i
			stagingIDs = append(stagingIDs, id)
		}

		entries, total := ResolveSizeEntries(item)
		product := models.Product{
			BrandID:          storeID,
			Name:             name,
			Description:      strings.TrimSpace(item.Description),
			Price:            item.Price.Round(2),
			Sizes:            make([]string, 0, len(entries)),
			SizeStocks:       make([]int64, 0, len(entries)),
			Stock:            total,
			PhotoURLs:        cleanURLs(item.PhotoURLs),
			ImageURL:         strings.TrimSpace(item.ImageURL),
			Category:         strings.TrimSpace(item.Category),
			Gender:           strings.TrimSpace(item.Gender),
			Subcategory:      strings.TrimSpace(item.Subcategory),
			Active:           true,
			SourceStagingIDs: item.StagingIDs,
		}
		for _, e := range entries {
			product.Sizes = append(product.Sizes, e.Size)
			product.SizeStocks = append(product.SizeStocks, int64(e.Stock))
		}
		if product.ImageURL == "" && len(product.PhotoURLs) > 0 {
			product.ImageURL = product.PhotoURLs[0]
		}
		if ext := strings.TrimSpace(item.ExternalID); ext != "" {
			product.ExternalID = &ext
		}
		products = append(products, product)
	}
	return products, stagingIDs, nil
}

func cleanURLs(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

func productIDs(products []models.Product) []int64 {
	ids := make([]int64, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}
	return ids
}
