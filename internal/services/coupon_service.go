package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"look-marketplace/internal/models"
	"look-marketplace/internal/repository"
)

var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrInvalidCouponCode = errors.New("coupon code must be 3-64 letters, digits, '-' or '_'")
	ErrInvalidDiscount   = errors.New("invalid discount value")
	ErrInvalidUsageKind  = errors.New("invalid usage kind")
	ErrInvalidMaxUses    = errors.New("max_uses must be positive")
	ErrMissingScope      = errors.New("coupon scope requires apply_to_all, brand_ids or product_ids")
	ErrAmbiguousScope    = errors.New("coupon scope cannot mix brand_ids and product_ids")
	ErrInvalidScope      = errors.New("coupon scope references an unknown brand or product")
	ErrDuplicateCode     = repository.ErrDuplicateCode
	ErrCouponUnavailable = errors.New("coupon is no longer available")
	ErrMissingIdentity   = errors.New("identity is required")
)

// Reasons reported by ValidateCoupon when a code does not apply
const (
	ReasonNotFound      = "not_found"
	ReasonInactive      = "inactive"
	ReasonExpired       = "expired"
	ReasonExhausted     = "exhausted"
	ReasonAlreadyUsed   = "already_used"
	ReasonNotFirstOrder = "not_first_order"
	ReasonNotApplicable = "not_applicable"
)

var couponCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,64}$`)

// ProductBrandLookup resolves which brand sells each product
type ProductBrandLookup interface {
	BrandIDsForProducts(ctx context.Context, ids []int64) (map[int64]int64, error)
}

// CouponService manages coupons, their scoping and their redemption
type CouponService struct {
	repo     repository.CouponRepositoryInterface
	products ProductBrandLookup
	logger   *logrus.Entry
	now      func() time.Time
}

// NewCouponService creates a new CouponService
func NewCouponService(repo repository.CouponRepositoryInterface, products ProductBrandLookup, logger *logrus.Logger) *CouponService {
	return &CouponService{
		repo:     repo,
		products: products,
		logger:   logger.WithField("component", "coupon_service"),
		now:      time.Now,
	}
}

// BuildApplicability turns a scope selection into join rows. ApplyToAll yields
// no rows; product scope keeps the selection order in SortOrder. Ids are not
// checked for existence here.
func BuildApplicability(couponID uuid.UUID, scope models.ApplicabilityScope) []models.CouponApplicability {
	if scope.ApplyToAll {
		return nil
	}
	var rows []models.CouponApplicability
	seen := make(map[int64]bool)
	if len(scope.ProductIDs) > 0 {
		for _, id := range scope.ProductIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			productID := id
			rows = append(rows, models.CouponApplicability{CouponID: couponID, ProductID: &productID, SortOrder: len(rows)})
		}
		return rows
	}
	for _, id := range scope.BrandIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		brandID := id
		rows = append(rows, models.CouponApplicability{CouponID: couponID, BrandID: &brandID, SortOrder: len(rows)})
	}
	return rows
}

func validateSaveRequest(req *models.SaveCouponRequest) error {
	req.Code = models.NormalizeCouponCode(req.Code)
	if !couponCodePattern.MatchString(req.Code) {
		return ErrInvalidCouponCode
	}
	if !req.DiscountValue.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidDiscount)
	}
	switch req.DiscountType {
	case models.DiscountPercentage:
		if req.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage above 100", ErrInvalidDiscount)
		}
	case models.DiscountFixed:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDiscount, req.DiscountType)
	}
	switch req.UsageKind {
	case "":
		req.UsageKind = models.UsageUnlimited
	case models.UsageSingleUse, models.UsageFirstOrder, models.UsageUnlimited:
	default:
		return ErrInvalidUsageKind
	}
	if req.MaxUses != nil && *req.MaxUses <= 0 {
		return ErrInvalidMaxUses
	}
	if !req.ApplyToAll {
		if len(req.BrandIDs) == 0 && len(req.ProductIDs) == 0 {
			return ErrMissingScope
		}
		if len(req.BrandIDs) > 0 && len(req.ProductIDs) > 0 {
			return ErrAmbiguousScope
		}
	}
	return nil
}

// SaveCoupon creates the coupon or updates the one sharing its code, and
// rewrites its applicability rows in the same transaction.
func (s *CouponService) SaveCoupon(ctx context.Context, actorEmail string, req models.SaveCouponRequest) (*models.Coupon, error) {
	if err := validateSaveRequest(&req); err != nil {
		return nil, err
	}

	var saved *models.Coupon
	err := s.repo.WithTransaction(ctx, func(txRepo repository.CouponRepositoryInterface) error {
		coupon, err := txRepo.GetByCode(ctx, req.Code)
		creating := errors.Is(err, repository.ErrNotFound)
		if err != nil && !creating {
			return fmt.Errorf("failed to look up coupon: %w", err)
		}
		if creating {
			coupon = &models.Coupon{Code: req.Code, CreatedByEmail: actorEmail, Active: true}
		}

		coupon.Description = strings.TrimSpace(req.Description)
		coupon.DiscountType = req.DiscountType
		coupon.DiscountValue = req.DiscountValue.Round(2)
		coupon.UsageKind = req.UsageKind
		coupon.ExpiresAt = req.ExpiresAt
		coupon.MaxUses = req.MaxUses
		coupon.ApplyToAll = req.ApplyToAll
		coupon.CreatedByBrandID = req.CreatedByBrandID
		if req.Active != nil {
			coupon.Active = *req.Active
		}
		coupon.Applicabilities = nil

		if creating {
			err = txRepo.Create(ctx, coupon)
		} else {
			err = txRepo.Update(ctx, coupon)
		}
		if err != nil {
			return err
		}

		rows := BuildApplicability(coupon.ID, req.ApplicabilityScope)
		if err := txRepo.ReplaceApplicability(ctx, coupon.ID, rows); err != nil {
			if errors.Is(err, repository.ErrInvalidReference) {
				return fmt.Errorf("%w: %v", ErrInvalidScope, err)
			}
			return fmt.Errorf("failed to write applicability: %w", err)
		}
		coupon.Applicabilities = rows

		if err := txRepo.EnqueueEvent(ctx, models.SubjectCouponSaved, models.CouponEvent{
			CouponID:   coupon.ID,
			Code:       coupon.Code,
			ActorEmail: actorEmail,
			Timestamp:  s.now().UTC(),
		}); err != nil {
			return err
		}
		saved = coupon
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"coupon_id": saved.ID,
		"code":      saved.Code,
		"scoped":    len(saved.Applicabilities),
	}).Info("coupon saved")
	return saved, nil
}

// GetCoupon retrieves a coupon with its applicability rows
func (s *CouponService) GetCoupon(ctx context.Context, id uuid.UUID) (*models.Coupon, error) {
	coupon, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrCouponNotFound
	}
	return coupon, err
}

// ListCoupons returns every coupon
func (s *CouponService) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	return s.repo.List(ctx)
}

// DeleteCoupon removes a coupon and, through the cascade, its scoping
func (s *CouponService) DeleteCoupon(ctx context.Context, actorEmail string, id uuid.UUID) error {
	return s.repo.WithTransaction(ctx, func(txRepo repository.CouponRepositoryInterface) error {
		coupon, err := txRepo.GetByID(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrCouponNotFound
		}
		if err != nil {
			return err
		}
		if err := txRepo.Delete(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrCouponNotFound
			}
			return err
		}
		return txRepo.EnqueueEvent(ctx, models.SubjectCouponDeleted, models.CouponEvent{
			CouponID:   id,
			Code:       coupon.Code,
			ActorEmail: actorEmail,
			Timestamp:  s.now().UTC(),
		})
	})
}

// ValidateCoupon checks whether code applies to the cart for identity and
// computes the discount. A code that does not apply is not an error; the
// result carries the reason.
func (s *CouponService) ValidateCoupon(ctx context.Context, identity string, req models.ValidateCouponRequest) (*models.CouponValidation, error) {
	result := &models.CouponValidation{
		Code:             models.NormalizeCouponCode(req.Code),
		EligibleSubtotal: decimal.Zero,
		Discount:         decimal.Zero,
	}

	coupon, err := s.repo.GetByCode(ctx, req.Code)
	if errors.Is(err, repository.ErrNotFound) {
		result.Reason = ReasonNotFound
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load coupon: %w", err)
	}
	result.CouponID = coupon.ID

	reason, err := s.usageRejection(ctx, s.repo, coupon, identity)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		result.Reason = reason
		return result, nil
	}

	eligible, err := s.eligibleSubtotal(ctx, coupon, req.Items)
	if err != nil {
		return nil, err
	}
	if !eligible.IsPositive() {
		result.Reason = ReasonNotApplicable
		return result, nil
	}

	result.Valid = true
	result.EligibleSubtotal = eligible
	result.Discount = discountFor(coupon, eligible)
	return result, nil
}

func (s *CouponService) usageRejection(ctx context.Context, repo repository.CouponRepositoryInterface, coupon *models.Coupon, identity string) (string, error) {
	switch {
	case !coupon.Active:
		return ReasonInactive, nil
	case coupon.IsExpired(s.now()):
		return ReasonExpired, nil
	case coupon.MaxUses != nil && coupon.UsedCount >= *coupon.MaxUses:
		return ReasonExhausted, nil
	}

	switch coupon.UsageKind {
	case models.UsageSingleUse:
		if identity == "" {
			return "", ErrMissingIdentity
		}
		used, err := repo.CountRedemptions(ctx, coupon.ID, identity)
		if err != nil {
			return "", fmt.Errorf("failed to count redemptions: %w", err)
		}
		if used > 0 {
			return ReasonAlreadyUsed, nil
		}
	case models.UsageFirstOrder:
		if identity == "" {
			return "", ErrMissingIdentity
		}
		ordered, err := repo.HasAnyRedemption(ctx, identity)
		if err != nil {
			return "", fmt.Errorf("failed to check order history: %w", err)
		}
		if ordered {
			return ReasonNotFirstOrder, nil
		}
	}
	return "", nil
}

func (s *CouponService) eligibleSubtotal(ctx context.Context, coupon *models.Coupon, items []models.CartItem) (decimal.Decimal, error) {
	total := decimal.Zero
	if len(items) == 0 {
		return total, nil
	}

	if coupon.ApplyToAll {
		for _, item := range items {
			total = total.Add(lineTotal(item))
		}
		return total, nil
	}

	products := make(map[int64]bool)
	brands := make(map[int64]bool)
	for _, a := range coupon.Applicabilities {
		if a.ProductID != nil {
			products[*a.ProductID] = true
		}
		if a.BrandID != nil {
			brands[*a.BrandID] = true
		}
	}

	var owners map[int64]int64
	if len(brands) > 0 && s.products != nil {
		ids := make([]int64, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ProductID)
		}
		var err error
		if owners, err = s.products.BrandIDsForProducts(ctx, ids); err != nil {
			return total, fmt.Errorf("failed to resolve product brands: %w", err)
		}
	}

	for _, item := range items {
		brandID := item.BrandID
		if owner, ok := owners[item.ProductID]; ok {
			brandID = owner
		}
		if products[item.ProductID] || brands[brandID] {
			total = total.Add(lineTotal(item))
		}
	}
	return total, nil
}

func lineTotal(item models.CartItem) decimal.Decimal {
	if item.Quantity <= 0 || item.UnitPrice.IsNegative() {
		return decimal.Zero
	}
	return item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// discountFor never exceeds the eligible subtotal
func discountFor(coupon *models.Coupon, eligible decimal.Decimal) decimal.Decimal {
	var discount decimal.Decimal
	switch coupon.DiscountType {
	case models.DiscountPercentage:
		discount = eligible.Mul(coupon.DiscountValue).Div(decimal.NewFromInt(100))
	default:
		discount = coupon.DiscountValue
	}
	return decimal.Min(discount, eligible).Round(2)
}

// RedeemCoupon records one use of the coupon by identity. The coupon row is
// locked while its usage rules are checked again, so concurrent checkouts
// cannot both consume a single-use coupon or its last use.
func (s *CouponService) RedeemCoupon(ctx context.Context, couponID uuid.UUID, identity, orderRef string, amount decimal.Decimal) error {
	if identity == "" {
		return ErrMissingIdentity
	}
	err := s.repo.WithTransaction(ctx, func(txRepo repository.CouponRepositoryInterface) error {
		coupon, err := txRepo.LockByID(ctx, couponID)
		if err != nil {
			return err
		}
		reason, err := s.usageRejection(ctx, txRepo, coupon, identity)
		if err != nil {
			return err
		}
		if reason != "" {
			return fmt.Errorf("%w: %s", ErrCouponUnavailable, reason)
		}
		return txRepo.RecordRedemption(ctx, &models.CouponRedemption{
			CouponID:       couponID,
			Identity:       identity,
			OrderRef:       orderRef,
			DiscountAmount: amount,
		})
	})
	if errors.Is(err, repository.ErrUsageExhausted) || errors.Is(err, repository.ErrNotFound) {
		return ErrCouponUnavailable
	}
	return err
}
