package kardex

import (
	"fmt"
	"strconv"
	"strings"
)

const groupKeySeparator = "|"

// GroupKey partitions all costing state. Groups never interact.
type GroupKey struct {
	CompanyID    int64  `json:"company_id"`
	Account      string `json:"account"`
	CustodianID  int64  `json:"custodian_id"`
	InstrumentID int64  `json:"instrument_id"`
}

// String renders the interchange form "{companyId}|{account}|{custodianId}|{instrumentId}".
func (k GroupKey) String() string {
	return fmt.Sprintf("%d|%s|%d|%d", k.CompanyID, k.Account, k.CustodianID, k.InstrumentID)
}

func (k GroupKey) Validate() error {
	if strings.TrimSpace(k.Account) == "" {
		return fmt.Errorf("%w: account is required", ErrInvalidGroupKey)
	}
	if strings.Contains(k.Account, groupKeySeparator) {
		return fmt.Errorf("%w: account must not contain %q", ErrInvalidGroupKey, groupKeySeparator)
	}
	return nil
}

// Less orders keys by company, account, custodian, instrument.
func (k GroupKey) Less(o GroupKey) bool {
	if k.CompanyID != o.CompanyID {
		return k.CompanyID < o.CompanyID
	}
	if k.Account != o.Account {
		return k.Account < o.Account
	}
	if k.CustodianID != o.CustodianID {
		return k.CustodianID < o.CustodianID
	}
	return k.InstrumentID < o.InstrumentID
}

// ParseGroupKey parses the interchange form. Exactly four fields are accepted.
func ParseGroupKey(s string) (GroupKey, error) {
	parts := strings.Split(s, groupKeySeparator)
	if len(parts) != 4 {
		return GroupKey{}, fmt.Errorf("%w: expected 4 fields, got %d in %q", ErrInvalidGroupKey, len(parts), s)
	}
	companyID, err := parseKeyID("companyId", parts[0])
	if err != nil {
		return GroupKey{}, err
	}
	custodianID, err := parseKeyID("custodianId", parts[2])
	if err != nil {
		return GroupKey{}, err
	}
	instrumentID, err := parseKeyID("instrumentId", parts[3])
	if err != nil {
		return GroupKey{}, err
	}
	key := GroupKey{
		CompanyID:    companyID,
		Account:      strings.TrimSpace(parts[1]),
		CustodianID:  custodianID,
		InstrumentID: instrumentID,
	}
	if err := key.Validate(); err != nil {
		return GroupKey{}, err
	}
	return key, nil
}

func parseKeyID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not an integer", ErrInvalidGroupKey, field, raw)
	}
	return id, nil
}
