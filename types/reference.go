package types

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Reference prefixes for system-generated tokens.
const (
	RefWalletCredit   = "WLT"
	RefWalletDebit    = "WDB"
	RefWalletPayment  = "WPAY"
	RefGatewayPayment = "GW"
	RefManualPayment  = "MAN"
	RefTopUp          = "TOPUP"
	RefWithdrawal     = "WDR"
	RefPayout         = "PO"
	RefInvoice        = "INV"
)

// NewReference returns a human-readable, time-sortable token such as
// "WLT-01J9ZK3S6X8Y4Q2M5N7P0R1T3V".
func NewReference(prefix string) string {
	return NewReferenceAt(prefix, time.Now())
}

// NewReferenceAt is NewReference with an explicit timestamp component.
func NewReferenceAt(prefix string, at time.Time) string {
	u := ulid.MustNew(ulid.Timestamp(at), rand.Reader)
	return prefix + "-" + u.String()
}

// DerivedReference builds a deterministic reference from a prefix and a
// stable key, used where replays must land on the same token.
func DerivedReference(prefix, key string) string {
	return prefix + "-" + strings.ToUpper(key)
}
