package db

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
)

// Store groups the Postgres repositories. Every method accepts a context
// that may carry a transaction started by WithTx.
type Store struct {
	Transactor
	UnitsRepository
	Ledger
	BookingsRepository
	PaymentIntentsRepository
	RedemptionsRepository
	Outbox
}

func NewStore(db *sqlx.DB, logger watermill.LoggerAdapter) *Store {
	return &Store{
		Transactor:               NewTransactor(db),
		UnitsRepository:          NewUnitsRepository(db),
		Ledger:                   NewLedger(db),
		BookingsRepository:       NewBookingsRepository(db),
		PaymentIntentsRepository: NewPaymentIntentsRepository(db),
		RedemptionsRepository:    NewRedemptionsRepository(db),
		Outbox:                   NewOutbox(db, logger),
	}
}
