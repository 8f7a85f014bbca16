package repository

import (
	"context"

	"gorm.io/gorm"
)

// Tx bundles repositories bound to one database transaction.
// Everything issued through a Tx runs sequentially on the same connection.
type Tx struct {
	DB                  *gorm.DB
	Pipelines           *PipelineRepository
	Opportunities       *OpportunityRepository
	OpportunityContacts *OpportunityContactRepository
	Contacts            *ContactRepository
	Accounts            *AccountRepository
	Leads               *LeadRepository
	ActivityLinks       *ActivityLinkRepository
	AuditLogs           *AuditLogRepository
	StageHistory        *StageHistoryRepository
}

func newTx(db *gorm.DB) *Tx {
	return &Tx{
		DB:                  db,
		Pipelines:           NewPipelineRepository(db),
		Opportunities:       NewOpportunityRepository(db),
		OpportunityContacts: NewOpportunityContactRepository(db),
		Contacts:            NewContactRepository(db),
		Accounts:            NewAccountRepository(db),
		Leads:               NewLeadRepository(db),
		ActivityLinks:       NewActivityLinkRepository(db),
		AuditLogs:           NewAuditLogRepository(db),
		StageHistory:        NewStageHistoryRepository(db),
	}
}

// UnitOfWork runs a function inside a single commit-or-rollback transaction
type UnitOfWork struct {
	db *gorm.DB
}

func NewUnitOfWork(db *gorm.DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// Do commits when fn returns nil and rolls back on any error or panic
func (u *UnitOfWork) Do(ctx context.Context, fn func(tx *Tx) error) error {
	return u.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(newTx(db))
	})
}

// Repos returns repositories bound to the base connection, outside any transaction
func (u *UnitOfWork) Repos() *Tx {
	return newTx(u.db)
}
