package repository

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"gorm.io/gorm"
)

// MaxPageSize is the maximum allowed page size for paginated queries
const MaxPageSize = 200

// SortOrder represents the sort direction
type SortOrder string

const (
	SortOrderAsc  SortOrder = "asc"
	SortOrderDesc SortOrder = "desc"
)

// SortConfig holds sorting configuration for list queries
type SortConfig struct {
	Field string    // The field to sort by (API field name)
	Order SortOrder // asc or desc
}

// ParseSortOrder parses a string into SortOrder, defaulting to desc
func ParseSortOrder(s string) SortOrder {
	if strings.ToLower(s) == "asc" {
		return SortOrderAsc
	}
	return SortOrderDesc
}

// BuildOrderClause builds the SQL ORDER BY clause from a whitelist of API field names.
// Unknown fields fall back to defaultColumn.
func BuildOrderClause(config SortConfig, fieldMap map[string]string, defaultColumn string) string {
	column, ok := fieldMap[config.Field]
	if !ok {
		column = defaultColumn
	}

	order := "DESC"
	if config.Order == SortOrderAsc {
		order = "ASC"
	}

	return column + " " + order
}

// NormalizePage clamps page and page size to sane bounds
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// ApplyTenantFilter scopes a query to the caller's tenant.
// Without a tenant in the context (system jobs) the query is returned unchanged.
func ApplyTenantFilter(ctx context.Context, query *gorm.DB) *gorm.DB {
	return ApplyTenantFilterWithColumn(ctx, query, "tenant_id")
}

// ApplyTenantFilterWithColumn applies the tenant filter using a specific column name
func ApplyTenantFilterWithColumn(ctx context.Context, query *gorm.DB, columnName string) *gorm.DB {
	if tenantID, ok := auth.TenantFromContext(ctx); ok {
		return query.Where(columnName+" = ?", tenantID)
	}
	return query
}

// tenantOf returns the tenant to stamp on new records
func tenantOf(ctx context.Context, current uuid.UUID) uuid.UUID {
	if current != uuid.Nil {
		return current
	}
	if tenantID, ok := auth.TenantFromContext(ctx); ok {
		return tenantID
	}
	return uuid.Nil
}
