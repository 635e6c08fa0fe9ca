// Package records defines the shared record vocabulary: the record
// types whose digests the ledger tracks and the key scheme addressing
// them.
package records

import (
	"fmt"
	"strings"

	"github.com/tessera-health/ledgerseal/internal/apperr"
)

// Type identifies one kind of tracked record.
type Type string

const (
	Patient      Type = "PATIENT"
	Visit        Type = "VISIT"
	Prescription Type = "PRESCRIPTION"
	Report       Type = "REPORT"
	Invoice      Type = "INVOICE"
	Appointment  Type = "APPOINTMENT"
)

// All lists every valid record type.
var All = []Type{Patient, Visit, Prescription, Report, Invoice, Appointment}

// Parse maps a caller-supplied type string (any case) to a Type.
func Parse(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range All {
		if t == v {
			return v, nil
		}
	}
	return "", fmt.Errorf("record type %q: %w", s, apperr.ErrInvalid)
}

// Key builds the ledger key for a record, e.g. "patient_42". Key format
// is part of the ledger contract and never changes.
func (t Type) Key(id string) string {
	return strings.ToLower(string(t)) + "_" + id
}

// String implements fmt.Stringer.
func (t Type) String() string { return string(t) }
