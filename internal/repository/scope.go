package repository

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CompanyScoped is implemented by every company-scoped business model.
type CompanyScoped interface {
	GetCompanyID() uuid.UUID
	SetCompanyID(uuid.UUID)
}

// IsolationError reports a row that crossed a company boundary: a
// company-scoped query returned a record whose company_id does not match
// the expected company. This is an integrity failure, not a warning: it
// means either a scoping bug or a cross-company leak.
type IsolationError struct {
	Expected uuid.UUID
	Got      uuid.UUID
	Table    string
}

func (e *IsolationError) Error() string {
	return fmt.Sprintf("isolation violation in %s: expected company %s, got row for company %s", e.Table, e.Expected, e.Got)
}

// CompanyScope appends the company predicate to a query. Every read on a
// company-scoped table goes through this scope unless the caller takes the
// explicit administrative path.
func CompanyScope(companyID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		table := db.Statement.Table
		if table != "" {
			table += "."
		}
		return db.Where(fmt.Sprintf("%scompany_id = ?", table), companyID)
	}
}

// VerifyCompanyRows asserts that every fetched row belongs to the expected
// company. The automatic scope can be skipped when composing complex
// queries, so scoped repositories re-validate results before returning
// them to callers.
func VerifyCompanyRows[T CompanyScoped](expected uuid.UUID, table string, rows []T) error {
	for _, row := range rows {
		if row.GetCompanyID() != expected {
			return &IsolationError{Expected: expected, Got: row.GetCompanyID(), Table: table}
		}
	}
	return nil
}
