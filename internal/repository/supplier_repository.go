package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"tenancy-service/internal/metrics"
	"tenancy-service/internal/models"
)

// SupplierRepository is the company-scoped repository for suppliers inside
// an activated tenant database. Reads carry the company predicate
// automatically and results are re-validated before being returned; writes
// stamp the company from the repository's context and refuse to write a
// different company's identifier.
type SupplierRepository struct {
	db        *gorm.DB
	companyID uuid.UUID
}

// NewSupplierRepository creates a supplier repository bound to the active
// tenant's database handle and the request's company context.
func NewSupplierRepository(db *gorm.DB, companyID uuid.UUID) *SupplierRepository {
	return &SupplierRepository{db: db, companyID: companyID}
}

// FindByID retrieves a supplier within the company scope, or nil
func (r *SupplierRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Supplier, error) {
	var supplier models.Supplier
	if err := r.db.WithContext(ctx).
		Scopes(CompanyScope(r.companyID)).
		Where("id = ?", id).
		First(&supplier).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil // Not found (or another company's row)
		}
		return nil, fmt.Errorf("failed to get supplier: %w", err)
	}

	if err := r.verify([]models.Supplier{supplier}); err != nil {
		return nil, err
	}
	return &supplier, nil
}

// List returns suppliers within the company scope, filtered by exact-match
// column filters.
func (r *SupplierRepository) List(ctx context.Context, filters map[string]interface{}) ([]models.Supplier, error) {
	query := r.db.WithContext(ctx).Scopes(CompanyScope(r.companyID))
	for column, value := range filters {
		query = query.Where(fmt.Sprintf("%s = ?", column), value)
	}

	var suppliers []models.Supplier
	if err := query.Order("created_at, id").Find(&suppliers).Error; err != nil {
		return nil, fmt.Errorf("failed to list suppliers: %w", err)
	}

	if err := r.verify(suppliers); err != nil {
		return nil, err
	}
	return suppliers, nil
}

// ListForCompany is the administrative cross-company path: the automatic
// scope from the request context is bypassed, so the caller must name the
// company explicitly and every returned row is asserted against it.
func (r *SupplierRepository) ListForCompany(ctx context.Context, expected uuid.UUID, filters map[string]interface{}) ([]models.Supplier, error) {
	query := r.db.WithContext(ctx).Where("company_id = ?", expected)
	for column, value := range filters {
		query = query.Where(fmt.Sprintf("%s = ?", column), value)
	}

	var suppliers []models.Supplier
	if err := query.Order("created_at, id").Find(&suppliers).Error; err != nil {
		return nil, fmt.Errorf("failed to list suppliers for company: %w", err)
	}

	if err := VerifyCompanyRows(expected, "suppliers", toScoped(suppliers)); err != nil {
		logIsolationViolation(err)
		return nil, err
	}
	return suppliers, nil
}

// Create inserts a supplier stamped with the context company. A record
// already carrying a different company's identifier is rejected.
func (r *SupplierRepository) Create(ctx context.Context, supplier *models.Supplier) error {
	if supplier.CompanyID != uuid.Nil && supplier.CompanyID != r.companyID {
		err := &IsolationError{Expected: r.companyID, Got: supplier.CompanyID, Table: "suppliers"}
		logIsolationViolation(err)
		return err
	}
	supplier.SetCompanyID(r.companyID)

	if err := r.db.WithContext(ctx).Create(supplier).Error; err != nil {
		return fmt.Errorf("failed to create supplier: %w", err)
	}
	return nil
}

// Update writes a supplier the context company owns. The company stamp is
// immutable: attempts to move a record to another company are rejected,
// and the update predicate itself carries the company so a row the caller
// does not own is never touched.
func (r *SupplierRepository) Update(ctx context.Context, supplier *models.Supplier) error {
	if supplier.CompanyID != uuid.Nil && supplier.CompanyID != r.companyID {
		err := &IsolationError{Expected: r.companyID, Got: supplier.CompanyID, Table: "suppliers"}
		logIsolationViolation(err)
		return err
	}
	supplier.SetCompanyID(r.companyID)

	result := r.db.WithContext(ctx).
		Model(&models.Supplier{}).
		Scopes(CompanyScope(r.companyID)).
		Where("id = ?", supplier.ID).
		Updates(map[string]interface{}{
			"name":   supplier.Name,
			"tax_id": supplier.TaxID,
			"status": supplier.Status,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update supplier: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("supplier %s not found in company scope", supplier.ID)
	}
	return nil
}

func (r *SupplierRepository) verify(rows []models.Supplier) error {
	if err := VerifyCompanyRows(r.companyID, "suppliers", toScoped(rows)); err != nil {
		logIsolationViolation(err)
		return err
	}
	return nil
}

func toScoped(rows []models.Supplier) []CompanyScoped {
	scoped := make([]CompanyScoped, 0, len(rows))
	for i := range rows {
		scoped = append(scoped, &rows[i])
	}
	return scoped
}

func logIsolationViolation(err error) {
	logrus.WithError(err).Error("company isolation violation detected")

	var isoErr *IsolationError
	if errors.As(err, &isoErr) {
		metrics.IsolationViolations.WithLabelValues(isoErr.Table).Inc()
	}
}
