package repository

// Store groups the repositories that share one database handle.
type Store struct {
	DB             *DB
	Transactions   *TransactionRepo
	Customers      *CustomerRepo
	Runs           *RunRepo
	Discrepancies  *DiscrepancyRepo
	Alerts         *AlertRepo
	Investigations *InvestigationRepo
	Weights        *WeightRepo
}

func NewStore(db *DB) *Store {
	return &Store{
		DB:             db,
		Transactions:   NewTransactionRepo(db),
		Customers:      NewCustomerRepo(db),
		Runs:           NewRunRepo(db),
		Discrepancies:  NewDiscrepancyRepo(db),
		Alerts:         NewAlertRepo(db),
		Investigations: NewInvestigationRepo(db),
		Weights:        NewWeightRepo(db),
	}
}

func (s *Store) Close() error {
	return s.DB.Close()
}
