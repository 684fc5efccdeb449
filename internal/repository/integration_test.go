//go:build integration

package repository_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"look-marketplace/internal/config"
	"look-marketplace/internal/models"
	"look-marketplace/internal/repository"
	"look-marketplace/internal/services"
)

// RepositoryIntegrationSuite runs the staging and coupon flows against postgres
type RepositoryIntegrationSuite struct {
	suite.Suite
	db       *gorm.DB
	staging  *services.StagingService
	coupons  *services.CouponService
	stagRepo *repository.StagingRepository
	outbox   *repository.OutboxRepository
	brand    models.Brand
}

func (s *RepositoryIntegrationSuite) SetupSuite() {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost user=postgres password=postgres dbname=look_test port=5432 sslmode=disable"
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		s.T().Fatalf("Failed to connect to database: %v", err)
	}
	s.db = db
	if err := config.Migrate(s.db); err != nil {
		s.T().Fatalf("Failed to run migrations: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s.stagRepo = repository.NewStagingRepository(s.db)
	s.outbox = repository.NewOutboxRepository(s.db, 3)
	s.staging = services.NewStagingService(s.stagRepo, nil, logger)
	s.coupons = services.NewCouponService(repository.NewCouponRepository(s.db), repository.NewProductRepository(s.db), logger)
}

func (s *RepositoryIntegrationSuite) SetupTest() {
	s.brand = models.Brand{Name: "Ateliê Teste", OwnerEmail: "dona@loja.com", Active: true}
	s.Require().NoError(s.db.Create(&s.brand).Error)
}

func (s *RepositoryIntegrationSuite) TearDownTest() {
	s.db.Exec("DELETE FROM coupon_applicabilities WHERE brand_id = ? OR product_id IN (SELECT id FROM products WHERE brand_id = ?)", s.brand.ID, s.brand.ID)
	s.db.Exec("DELETE FROM coupon_redemptions WHERE coupon_id IN (SELECT id FROM coupons WHERE code LIKE 'ITEST%')")
	s.db.Exec("DELETE FROM coupons WHERE code LIKE 'ITEST%'")
	s.db.Exec("DELETE FROM products WHERE brand_id = ?", s.brand.ID)
	s.db.Exec("DELETE FROM staging_products WHERE store_id = ?", s.brand.ID)
	s.db.Exec("DELETE FROM outbox_events WHERE published_at IS NULL")
	s.db.Exec("DELETE FROM brands WHERE id = ?", s.brand.ID)
}

func (s *RepositoryIntegrationSuite) stageRows(names ...string) []int64 {
	rows := make([]models.StagingRow, 0, len(names))
	for _, name := range names {
		rows = append(rows, models.StagingRow{StoreID: s.brand.ID, RawName: name, RawPrice: "99,90", RawStock: "2"})
	}
	_, err := s.staging.StageRows(context.Background(), rows)
	s.Require().NoError(err)

	drafts, err := s.stagRepo.ListDraftRows(context.Background(), s.brand.ID)
	s.Require().NoError(err)
	ids := make([]int64, 0, len(drafts))
	for _, d := range drafts {
		ids = append(ids, d.ID)
	}
	return ids
}

func (s *RepositoryIntegrationSuite) countProducts() int64 {
	var count int64
	s.db.Model(&models.Product{}).Where("brand_id = ?", s.brand.ID).Count(&count)
	return count
}

func (s *RepositoryIntegrationSuite) TestCommit_RoundTrip() {
	ctx := context.Background()
	ids := s.stageRows("Vestido Azul - P", "Vestido Azul - M", "Saia Midi")
	s.Require().Len(ids, 3)

	result, err := s.staging.Commit(ctx, s.brand.ID, []models.CommitItem{{
		Name:        "Vestido Azul",
		Price:       decimal.RequireFromString("99.90"),
		SizeEntries: []models.SizeEntry{{Size: "P", Stock: 2}, {Size: "M", Stock: 2}},
		StagingIDs:  ids[:2],
	}})
	s.Require().NoError(err)
	s.Equal(1, result.Imported)

	var rows []models.StagingRow
	s.Require().NoError(s.db.Where("id IN ?", ids).Find(&rows).Error)
	for _, row := range rows {
		if row.ID == ids[2] {
			s.Equal(models.StagingDraft, row.Status)
			continue
		}
		s.Equal(models.StagingImported, row.Status)
		s.NotNil(row.ImportedAt)
	}

	var product models.Product
	s.Require().NoError(s.db.First(&product, result.ProductIDs[0]).Error)
	s.Equal(4, product.Stock)
	s.Equal([]string{"P", "M"}, []string(product.Sizes))

	var events int64
	s.db.Model(&models.OutboxEvent{}).Where("subject = ? AND published_at IS NULL", models.SubjectStagingCommitted).Count(&events)
	s.Equal(int64(1), events)
}

func (s *RepositoryIntegrationSuite) TestCommit_SecondCommitConflicts() {
	ctx := context.Background()
	ids := s.stageRows("Blusa Linho - P")
	item := models.CommitItem{Name: "Blusa Linho", Price: decimal.NewFromInt(120), StagingIDs: ids}

	_, err := s.staging.Commit(ctx, s.brand.ID, []models.CommitItem{item})
	s.Require().NoError(err)

	_, err = s.staging.Commit(ctx, s.brand.ID, []models.CommitItem{item})
	s.True(errors.Is(err, services.ErrStagingConflict))
	s.Equal(int64(1), s.countProducts(), "the conflicting commit must not insert products")
}

func (s *RepositoryIntegrationSuite) TestCommit_ForeignStoreRowsConflict() {
	ctx := context.Background()
	ids := s.stageRows("Calça Jeans")

	other := models.Brand{Name: "Outra Loja", Active: true}
	s.Require().NoError(s.db.Create(&other).Error)
	defer s.db.Exec("DELETE FROM brands WHERE id = ?", other.ID)

	_, err := s.staging.Commit(ctx, other.ID, []models.CommitItem{{Name: "Calça Jeans", StagingIDs: ids}})

	s.True(errors.Is(err, services.ErrStagingConflict))
	var count int64
	s.db.Model(&models.Product{}).Where("brand_id = ?", other.ID).Count(&count)
	s.Zero(count)
}

// Items without staging ids carry no dedup key; this pins the known gap.
func (s *RepositoryIntegrationSuite) TestCommit_LegacyItemsDuplicate() {
	ctx := context.Background()
	legacy := []models.CommitItem{{Name: "Camisa Polo", Price: decimal.NewFromInt(80), Size: "P, M"}}

	_, err := s.staging.Commit(ctx, s.brand.ID, legacy)
	s.Require().NoError(err)
	_, err = s.staging.Commit(ctx, s.brand.ID, legacy)
	s.Require().NoError(err)

	s.Equal(int64(2), s.countProducts())
}

func (s *RepositoryIntegrationSuite) TestStageRows_ReimportRefreshesDrafts() {
	ctx := context.Background()
	catalog := func() []models.StagingRow {
		p, m := "tiny-p", "tiny-m"
		three, five := 3, 5
		return []models.StagingRow{
			{StoreID: s.brand.ID, ExternalID: &p, RawName: "Vestido Azul - P", RawStock: "3", Stock: &three},
			{StoreID: s.brand.ID, ExternalID: &m, RawName: "Vestido Azul - M", RawStock: "5", Stock: &five},
		}
	}

	_, err := s.staging.StageRows(ctx, catalog())
	s.Require().NoError(err)
	_, err = s.staging.StageRows(ctx, catalog())
	s.Require().NoError(err)

	drafts, err := s.stagRepo.ListDraftRows(ctx, s.brand.ID)
	s.Require().NoError(err)
	s.Len(drafts, 2)

	grouped, err := s.staging.GetGrouped(ctx, s.brand.ID)
	s.Require().NoError(err)
	s.Require().Len(grouped, 1)
	s.Equal(8, grouped[0].Stock)
}

func (s *RepositoryIntegrationSuite) TestCoupon_ApplyToAllClearsScope() {
	ctx := context.Background()
	products := []models.Product{
		{BrandID: s.brand.ID, Name: "Vestido", Price: decimal.NewFromInt(100), Active: true},
		{BrandID: s.brand.ID, Name: "Saia", Price: decimal.NewFromInt(80), Active: true},
	}
	s.Require().NoError(s.db.Create(&products).Error)

	req := models.SaveCouponRequest{
		Code:          "itest10",
		DiscountType:  models.DiscountPercentage,
		DiscountValue: decimal.NewFromInt(10),
		UsageKind:     models.UsageUnlimited,
		ApplicabilityScope: models.ApplicabilityScope{
			ProductIDs: []int64{products[1].ID, products[0].ID},
		},
	}
	coupon, err := s.coupons.SaveCoupon(ctx, "admin@look.com", req)
	s.Require().NoError(err)

	var rows []models.CouponApplicability
	s.Require().NoError(s.db.Where("coupon_id = ?", coupon.ID).Order("sort_order").Find(&rows).Error)
	s.Require().Len(rows, 2)
	s.Equal(products[1].ID, *rows[0].ProductID)
	s.Equal(1, rows[1].SortOrder)

	req.ApplicabilityScope = models.ApplicabilityScope{ApplyToAll: true}
	updated, err := s.coupons.SaveCoupon(ctx, "admin@look.com", req)
	s.Require().NoError(err)
	s.Equal(coupon.ID, updated.ID)

	var remaining int64
	s.db.Model(&models.CouponApplicability{}).Where("coupon_id = ?", coupon.ID).Count(&remaining)
	s.Zero(remaining)
}

func (s *RepositoryIntegrationSuite) TestCoupon_UnknownBrandRollsBack() {
	ctx := context.Background()

	_, err := s.coupons.SaveCoupon(ctx, "admin@look.com", models.SaveCouponRequest{
		Code:               "ITESTGHOST",
		DiscountType:       models.DiscountFixed,
		DiscountValue:      decimal.NewFromInt(5),
		UsageKind:          models.UsageUnlimited,
		ApplicabilityScope: models.ApplicabilityScope{BrandIDs: []int64{-42}},
	})

	s.True(errors.Is(err, services.ErrInvalidScope))
	var count int64
	s.db.Model(&models.Coupon{}).Where("code = ?", "ITESTGHOST").Count(&count)
	s.Zero(count, "the coupon row must roll back with its scope")
}

func (s *RepositoryIntegrationSuite) saveCoupon(code string, kind models.UsageKind) *models.Coupon {
	coupon, err := s.coupons.SaveCoupon(context.Background(), "admin@look.com", models.SaveCouponRequest{
		Code:               code,
		DiscountType:       models.DiscountFixed,
		DiscountValue:      decimal.NewFromInt(10),
		UsageKind:          kind,
		ApplicabilityScope: models.ApplicabilityScope{ApplyToAll: true},
	})
	s.Require().NoError(err)
	return coupon
}

func (s *RepositoryIntegrationSuite) TestRedeemCoupon_SingleUseConcurrentCheckouts() {
	ctx := context.Background()
	coupon := s.saveCoupon("ITESTONCE", models.UsageSingleUse)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.coupons.RedeemCoupon(ctx, coupon.ID, "cliente@look.com", "ord-"+coupon.Code, decimal.NewFromInt(10))
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		s.True(errors.Is(err, services.ErrCouponUnavailable), "unexpected error: %v", err)
	}
	s.Equal(1, succeeded)

	var redemptions int64
	s.db.Model(&models.CouponRedemption{}).Where("coupon_id = ?", coupon.ID).Count(&redemptions)
	s.Equal(int64(1), redemptions)

	var stored models.Coupon
	s.Require().NoError(s.db.First(&stored, "id = ?", coupon.ID).Error)
	s.Equal(1, stored.UsedCount)
}

func (s *RepositoryIntegrationSuite) TestRecordRedemption_FailedInsertKeepsUsedCount() {
	ctx := context.Background()
	coupon := s.saveCoupon("ITESTATOMIC", models.UsageUnlimited)

	err := repository.NewCouponRepository(s.db).RecordRedemption(ctx, &models.CouponRedemption{
		CouponID:       coupon.ID,
		Identity:       strings.Repeat("x", 300),
		DiscountAmount: decimal.NewFromInt(10),
	})
	s.Require().Error(err)

	var stored models.Coupon
	s.Require().NoError(s.db.First(&stored, "id = ?", coupon.ID).Error)
	s.Zero(stored.UsedCount)
}

func (s *RepositoryIntegrationSuite) TestOutbox_ProcessPending() {
	ctx := context.Background()
	ids := s.stageRows("Macacão")
	_, err := s.staging.Commit(ctx, s.brand.ID, []models.CommitItem{{Name: "Macacão", StagingIDs: ids}})
	s.Require().NoError(err)

	var subjects []string
	published, err := s.outbox.ProcessPending(ctx, 50, func(event models.OutboxEvent) error {
		subjects = append(subjects, event.Subject)
		return nil
	})
	s.Require().NoError(err)
	s.GreaterOrEqual(published, 1)
	s.Contains(subjects, models.SubjectStagingCommitted)

	again, err := s.outbox.ProcessPending(ctx, 50, func(models.OutboxEvent) error { return nil })
	s.Require().NoError(err)
	s.Zero(again)
}

func (s *RepositoryIntegrationSuite) TestOutbox_FailedPublishStaysPending() {
	ctx := context.Background()
	ids := s.stageRows("Cropped")
	_, err := s.staging.Commit(ctx, s.brand.ID, []models.CommitItem{{Name: "Cropped", StagingIDs: ids}})
	s.Require().NoError(err)

	published, err := s.outbox.ProcessPending(ctx, 50, func(models.OutboxEvent) error {
		return errors.New("nats unavailable")
	})
	s.Require().NoError(err)
	s.Zero(published)

	var pending models.OutboxEvent
	s.Require().NoError(s.db.Where("published_at IS NULL").Order("created_at DESC").First(&pending).Error)
	s.Equal(1, pending.Attempts)
	s.Equal("nats unavailable", pending.LastError)
	s.WithinDuration(time.Now(), pending.CreatedAt, time.Minute)
}

func TestRepositoryIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RepositoryIntegrationSuite))
}
