package domain

// Account is a pay-per-query user. Balance and prices share one integer unit.
type Account struct {
	User    string
	Secret  string
	Balance int64
}

// Charge is one settled query.
type Charge struct {
	User   string
	Nonce  string
	Amount int64
	FileID int64
}
