package numbering

// Scope identifies an independent counter sequence.
type Scope string

const (
	ScopeSale       Scope = "sale"
	ScopePurchase   Scope = "purchase"
	ScopeReturn     Scope = "return"
	ScopeAdjustment Scope = "adjustment"
	ScopeReceipt    Scope = "receipt"
	ScopeRefund     Scope = "refund"
)

var transactionPrefixes = map[Scope]string{
	ScopeSale:       "SAL",
	ScopePurchase:   "PUR",
	ScopeReturn:     "RET",
	ScopeAdjustment: "ADJ",
}

// TransactionPrefix returns the document prefix for a transaction scope.
func TransactionPrefix(s Scope) (string, bool) {
	p, ok := transactionPrefixes[s]
	return p, ok
}
