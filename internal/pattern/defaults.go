package pattern

import "github.com/Veraticus/spice-feedback/internal/model"

// DefaultRules returns a starter set of regex rules for merchants whose
// descriptors name the kind of transaction rather than a business.
func DefaultRules() []model.PatternRule {
	rule := func(name, regex, category string, priority int, confidence float64) model.PatternRule {
		return model.PatternRule{
			Name:            name,
			MerchantPattern: regex,
			IsRegex:         true,
			AmountCondition: string(model.AmountAny),
			Category:        category,
			Priority:        priority,
			Confidence:      confidence,
			IsActive:        true,
		}
	}

	return []model.PatternRule{
		rule("Direct Deposit", `\b(DIRECTDEP|DIRECT\s*DEP|DIR\s*DEP|PAYROLL|SALARY|WAGES)\b`, "Salary", 100, 0.95),
		rule("Tax Refund", `\b(TAX\s*REF|IRS\s*TREAS|STATE\s*TAX\s*REF|FED\s*TAX\s*REF)\b`, "Tax Refund", 95, 0.95),
		rule("Social Security", `\b(SOC\s*SEC|SOCIAL\s*SECURITY|SSA\s*TREAS)\b`, "Benefits", 95, 0.95),
		rule("Interest Income", `\b(INTEREST|INT\s*EARNED|INT\s*INCOME|DIVIDEND)\b`, "Interest", 95, 0.90),
		rule("Refund", `\b(REFUND|REIMB|REIMBURSEMENT|CASHBACK|CASH\s*BACK)\b`, "Refunds", 90, 0.85),
		rule("Wire Transfer", `\b(WIRE\s*IN|WIRE\s*OUT|WIRE\s*TRANSFER|WIRE\s*XFER)\b`, "Transfers", 85, 0.90),
		rule("Account Transfer", `\b(TRANSFER|XFER|TFR|MOVE\s*MONEY)\b`, "Transfers", 80, 0.85),
		rule("Credit Card Payment", `\b(CC\s*PAYMENT|CREDIT\s*CARD\s*PAY|CARD\s*PAYMENT)\b`, "Credit Card Payment", 75, 0.80),
		rule("Loan Payment", `\b(LOAN\s*PMT|MORTGAGE\s*PMT|AUTO\s*PMT|STUDENT\s*LOAN\s*PMT)\b`, "Loan Payment", 70, 0.75),
		rule("ATM Withdrawal", `\b(ATM|CASH\s*WITHDRAWAL)\b`, "Cash", 50, 0.80),
		rule("Fee", `\b(FEE|SERVICE\s*CHG|PENALTY)\b`, "Fees", 45, 0.75),
		rule("Bill Payment", `\b(BILL\s*PAY|AUTOPAY|SUBSCRIPTION)\b`, "Bills", 45, 0.70),
	}
}
