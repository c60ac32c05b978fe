package ingester

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/colinzhu/limit-monitoring-sub000/internal/apperr"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

// Request is the JSON body of POST /api/settlements.
type Request struct {
	SettlementID      string          `json:"settlementId"`
	SettlementVersion int64           `json:"settlementVersion"`
	PTS               string          `json:"pts"`
	ProcessingEntity  string          `json:"processingEntity"`
	CounterpartyID    string          `json:"counterpartyId"`
	ValueDate         string          `json:"valueDate"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	BusinessStatus    string          `json:"businessStatus"`
	Direction         string          `json:"direction"`
	SettlementType    string          `json:"settlementType"`
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// Validate checks the request and converts it into a settlement row. On
// failure it returns a validation error carrying one message per bad field
// and no settlement; nothing is written.
func (r *Request) Validate() (*models.Settlement, error) {
	var problems []string

	if strings.TrimSpace(r.SettlementID) == "" {
		problems = append(problems, "settlementId must not be empty")
	}
	if r.SettlementVersion <= 0 {
		problems = append(problems, "settlementVersion must be a positive integer")
	}
	if strings.TrimSpace(r.PTS) == "" {
		problems = append(problems, "pts must not be empty")
	}
	if strings.TrimSpace(r.ProcessingEntity) == "" {
		problems = append(problems, "processingEntity must not be empty")
	}
	if strings.TrimSpace(r.CounterpartyID) == "" {
		problems = append(problems, "counterpartyId must not be empty")
	}

	var valueDate time.Time
	if strings.TrimSpace(r.ValueDate) == "" {
		problems = append(problems, "valueDate must not be empty")
	} else {
		var err error
		valueDate, err = time.ParseInLocation(models.DateOnly, r.ValueDate, time.UTC)
		if err != nil {
			problems = append(problems, "valueDate must be an ISO date (YYYY-MM-DD)")
		}
	}

	if !currencyPattern.MatchString(r.Currency) {
		problems = append(problems, "currency must be a 3-letter ISO 4217 code")
	}
	if r.Amount.IsNegative() {
		problems = append(problems, "amount must not be negative")
	}
	if !models.ValidBusinessStatus(r.BusinessStatus) {
		problems = append(problems, "businessStatus must be one of PENDING, INVALID, VERIFIED, CANCELLED")
	}
	if !models.ValidDirection(r.Direction) {
		problems = append(problems, "direction must be one of PAY, RECEIVE")
	}
	if !models.ValidSettlementType(r.SettlementType) {
		problems = append(problems, "settlementType must be one of GROSS, NET")
	}

	if len(problems) > 0 {
		return nil, apperr.Validation("invalid settlement", problems...)
	}

	return &models.Settlement{
		SettlementID:      strings.TrimSpace(r.SettlementID),
		SettlementVersion: r.SettlementVersion,
		PTS:               strings.TrimSpace(r.PTS),
		ProcessingEntity:  strings.TrimSpace(r.ProcessingEntity),
		CounterpartyID:    strings.TrimSpace(r.CounterpartyID),
		ValueDate:         valueDate,
		Currency:          r.Currency,
		Amount:            r.Amount,
		BusinessStatus:    models.BusinessStatus(r.BusinessStatus),
		Direction:         models.Direction(r.Direction),
		SettlementType:    models.SettlementType(r.SettlementType),
	}, nil
}
