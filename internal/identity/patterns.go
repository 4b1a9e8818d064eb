// Package identity ranks the fields of an incoming row by how likely each is
// to uniquely identify an existing record, and resolves rows to records when
// the fingerprint lookup misses.
package identity

import "strings"

// Pattern family scores. A field name takes the score of the strongest
// family it matches; foreign-key shaped names are excluded outright.
const (
	scoreDeclaredUnique = 100
	scoreBusinessRef    = 90
	scoreNaturalKey     = 85
	scoreIdentifier     = 80
	scoreExcluded       = -100
)

// identifierPatterns mark fields that look like per-entity identifiers.
var identifierPatterns = []string{
	"_code", "_id", "_no", "_number", "sku", "barcode", "serial", "_ref",
}

// identifierExclusions are identifier-shaped names that actually reference
// other entities and must never drive identity resolution.
var identifierExclusions = []string{
	"customer_id", "supplier_id", "vendor_id", "company_id", "user_id",
	"employee_id", "owner_id", "parent_id", "account_id", "group_id",
}

// businessRefPatterns mark document-style business references.
var businessRefPatterns = []string{
	"invoice_no", "invoice_number", "po_number", "po_no", "order_no",
	"order_number", "bill_no", "receipt_no", "voucher_no", "reference_no",
}

// naturalKeyPatterns mark attributes that identify a real-world entity.
var naturalKeyPatterns = []string{
	"email", "phone", "mobile", "tax_id", "gstin", "vat", "pan",
	"ssn", "iban", "passport",
}

// foreignKeyBases combined with an _id or _name suffix shape a reference to
// another schema.
var foreignKeyBases = []string{
	"customer", "supplier", "vendor", "owner", "company", "user",
	"employee", "parent", "account", "group", "warehouse", "branch",
}

// NameScore rates a field name by its pattern family. A negative score means
// the field is foreign-key shaped and must be excluded from resolution.
func NameScore(field string) int {
	f := strings.ToLower(strings.TrimSpace(field))

	if isForeignKeyShaped(f) {
		return scoreExcluded
	}
	if matchesAny(f, businessRefPatterns) {
		return scoreBusinessRef
	}
	if matchesAny(f, naturalKeyPatterns) {
		return scoreNaturalKey
	}
	if matchesAny(f, identifierPatterns) && !matchesAny(f, identifierExclusions) {
		return scoreIdentifier
	}
	return 0
}

func isForeignKeyShaped(field string) bool {
	for _, base := range foreignKeyBases {
		if field == base ||
			strings.HasPrefix(field, base+"_id") ||
			strings.HasPrefix(field, base+"_name") {
			return true
		}
	}
	return false
}

func matchesAny(field string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(field, p) {
			return true
		}
	}
	return false
}
