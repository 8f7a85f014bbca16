package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/straye-as/pipeline-engine/internal/auth"
	"github.com/straye-as/pipeline-engine/internal/database"
	"github.com/straye-as/pipeline-engine/internal/domain"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SetupTestDB opens a private in-memory SQLite database with every engine table migrated.
// A single connection keeps the in-memory database alive for the life of the test.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	require.NoError(t, database.AutoMigrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// TenantContext returns a context authenticated as a sales user of the given tenant
func TenantContext(tenantID uuid.UUID) context.Context {
	return WithTenant(context.Background(), tenantID)
}

// WithTenant derives from parent so request-scoped values such as chi route params survive
func WithTenant(parent context.Context, tenantID uuid.UUID) context.Context {
	return auth.WithUserContext(parent, &auth.UserContext{
		UserID:      uuid.New(),
		DisplayName: "Test User",
		Email:       "test@example.com",
		Roles:       []domain.UserRoleType{domain.RoleSalesRep},
		TenantID:    tenantID,
	})
}

// StageSpec describes a stage for CreatePipeline
type StageSpec struct {
	Name        string
	Probability int
	DaysToRot   int
	Won         bool
	Lost        bool
}

// DefaultStages is a typical five-stage sales pipeline
var DefaultStages = []StageSpec{
	{Name: "Qualification", Probability: 10, DaysToRot: 30},
	{Name: "Proposal", Probability: 50, DaysToRot: 14},
	{Name: "Negotiation", Probability: 75, DaysToRot: 7},
	{Name: "Closed Won", Probability: 100, Won: true},
	{Name: "Closed Lost", Probability: 0, Lost: true},
}

// CreatePipeline inserts a pipeline with stages in the given order
func CreatePipeline(t *testing.T, db *gorm.DB, tenantID uuid.UUID, name string, isDefault bool, stages []StageSpec) *domain.Pipeline {
	t.Helper()

	pipeline := &domain.Pipeline{
		Name:      name,
		IsDefault: isDefault,
		Lifecycle: domain.LifecycleActive,
	}
	pipeline.TenantID = tenantID
	require.NoError(t, db.Omit(clause.Associations).Create(pipeline).Error)

	for i, def := range stages {
		stage := domain.PipelineStage{
			PipelineID:         pipeline.ID,
			Name:               def.Name,
			DisplayOrder:       i + 1,
			ProbabilityPercent: def.Probability,
			DefaultDaysToRot:   def.DaysToRot,
			IsWonStage:         def.Won,
			IsLostStage:        def.Lost,
			Lifecycle:          domain.LifecycleActive,
		}
		stage.TenantID = tenantID
		require.NoError(t, db.Create(&stage).Error)
		pipeline.Stages = append(pipeline.Stages, stage)
	}
	return pipeline
}

// StageNamed returns the stage with the given name
func StageNamed(t *testing.T, pipeline *domain.Pipeline, name string) domain.PipelineStage {
	t.Helper()
	for _, stage := range pipeline.Stages {
		if stage.Name == name {
			return stage
		}
	}
	t.Fatalf("stage %q not found in pipeline %s", name, pipeline.Name)
	return domain.PipelineStage{}
}

// CreateOpportunity inserts an open opportunity sitting in the given stage since enteredAt
func CreateOpportunity(t *testing.T, db *gorm.DB, stage domain.PipelineStage, name string, amount float64, enteredAt time.Time) *domain.Opportunity {
	t.Helper()

	opp := &domain.Opportunity{
		Name:           name,
		PipelineID:     stage.PipelineID,
		StageID:        stage.ID,
		Status:         domain.StatusForStage(&stage),
		Amount:         amount,
		Currency:       "USD",
		Probability:    stage.ProbabilityPercent,
		StageEnteredAt: enteredAt.UTC(),
		Lifecycle:      domain.LifecycleActive,
	}
	opp.TenantID = stage.TenantID
	require.NoError(t, db.Omit(clause.Associations).Create(opp).Error)
	return opp
}

// CreateContact inserts a contact at the given lifecycle stage
func CreateContact(t *testing.T, db *gorm.DB, tenantID uuid.UUID, first, last string, stage domain.LifecycleStage) *domain.Contact {
	t.Helper()

	contact := &domain.Contact{
		FirstName:      first,
		LastName:       last,
		Email:          first + "@example.com",
		LifecycleStage: stage,
		Lifecycle:      domain.LifecycleActive,
	}
	contact.TenantID = tenantID
	require.NoError(t, db.Create(contact).Error)
	return contact
}

// LinkContact links a contact to an opportunity
func LinkContact(t *testing.T, db *gorm.DB, opp *domain.Opportunity, contact *domain.Contact, primary bool) {
	t.Helper()

	link := &domain.OpportunityContact{
		OpportunityID: opp.ID,
		ContactID:     contact.ID,
		Role:          "Stakeholder",
		IsPrimary:     primary,
	}
	link.TenantID = opp.TenantID
	require.NoError(t, db.Omit(clause.Associations).Create(link).Error)
}

// CreateAccount inserts an account
func CreateAccount(t *testing.T, db *gorm.DB, tenantID uuid.UUID, name string) *domain.Account {
	t.Helper()

	account := &domain.Account{Name: name, Lifecycle: domain.LifecycleActive}
	account.TenantID = tenantID
	require.NoError(t, db.Create(account).Error)
	return account
}

// CreateLead inserts a lead with the given status
func CreateLead(t *testing.T, db *gorm.DB, tenantID uuid.UUID, status domain.LeadStatus) *domain.Lead {
	t.Helper()

	lead := &domain.Lead{
		FirstName:   "Grace",
		LastName:    "Hopper",
		Email:       "grace@example.com",
		Phone:       "+1 650 253 0000",
		CompanyName: "Compilers Inc",
		JobTitle:    "Rear Admiral",
		Address:     "1 Navy Way",
		City:        "Arlington",
		State:       "VA",
		Country:     "US",
		PostalCode:  "22201",
		Notes:       "Met at conference",
		Source:      "web",
		Status:      status,
		Score:       40,
		Lifecycle:   domain.LifecycleActive,
	}
	lead.TenantID = tenantID
	require.NoError(t, db.Create(lead).Error)
	return lead
}
