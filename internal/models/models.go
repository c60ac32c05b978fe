package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BusinessStatus string

const (
	StatusPending   BusinessStatus = "PENDING"
	StatusInvalid   BusinessStatus = "INVALID"
	StatusVerified  BusinessStatus = "VERIFIED"
	StatusCancelled BusinessStatus = "CANCELLED"
)

type Direction string

const (
	DirectionPay     Direction = "PAY"
	DirectionReceive Direction = "RECEIVE"
)

type SettlementType string

const (
	TypeGross SettlementType = "GROSS"
	TypeNet   SettlementType = "NET"
)

// ApprovalStatus is derived on demand and never stored.
type ApprovalStatus string

const (
	ApprovalCreated          ApprovalStatus = "CREATED"
	ApprovalBlocked          ApprovalStatus = "BLOCKED"
	ApprovalPendingAuthorise ApprovalStatus = "PENDING_AUTHORISE"
	ApprovalAuthorised       ApprovalStatus = "AUTHORISED"
)

type ActivityAction string

const (
	ActionRequestRelease ActivityAction = "REQUEST_RELEASE"
	ActionAuthorise      ActivityAction = "AUTHORISE"
)

func ValidBusinessStatus(s string) bool {
	switch BusinessStatus(s) {
	case StatusPending, StatusInvalid, StatusVerified, StatusCancelled:
		return true
	}
	return false
}

func ValidDirection(s string) bool {
	switch Direction(s) {
	case DirectionPay, DirectionReceive:
		return true
	}
	return false
}

func ValidSettlementType(s string) bool {
	switch SettlementType(s) {
	case TypeGross, TypeNet:
		return true
	}
	return false
}

// Settlement represents one row of the append-only 'settlement' table.
// RefID is the auto-sequence primary key used as the cross-transaction
// ordering token.
type Settlement struct {
	RefID             int64           `json:"refId"`
	SettlementID      string          `json:"settlementId"`
	SettlementVersion int64           `json:"settlementVersion"`
	PTS               string          `json:"pts"`
	ProcessingEntity  string          `json:"processingEntity"`
	CounterpartyID    string          `json:"counterpartyId"`
	ValueDate         time.Time       `json:"-"`
	Currency          string          `json:"currency"`
	Amount            decimal.Decimal `json:"amount"`
	BusinessStatus    BusinessStatus  `json:"businessStatus"`
	Direction         Direction       `json:"direction"`
	SettlementType    SettlementType  `json:"settlementType"`
	IsOld             bool            `json:"isOld"`
	CreateTime        time.Time       `json:"createTime"`
	UpdateTime        time.Time       `json:"updateTime"`
}

// GroupKey identifies one exposure group: all settlements of a counterparty
// within a (pts, processing entity) settling on the same value date.
type GroupKey struct {
	PTS              string    `json:"pts"`
	ProcessingEntity string    `json:"processingEntity"`
	CounterpartyID   string    `json:"counterpartyId"`
	ValueDate        time.Time `json:"-"`
}

func (s *Settlement) GroupKey() GroupKey {
	return GroupKey{
		PTS:              s.PTS,
		ProcessingEntity: s.ProcessingEntity,
		CounterpartyID:   s.CounterpartyID,
		ValueDate:        s.ValueDate,
	}
}

// GroupTotal is the materialized USD subtotal for one group. RefID is the
// highest settlement ref_id reflected in RunningTotal.
type GroupTotal struct {
	GroupKey
	RunningTotal    decimal.Decimal `json:"runningTotal"`
	SettlementCount int64           `json:"settlementCount"`
	RefID           int64           `json:"refId"`
	CreateTime      time.Time       `json:"createTime"`
	UpdateTime      time.Time       `json:"updateTime"`
}

// CalcRule decides which settlements of a (pts, processing entity) contribute
// to group subtotals.
type CalcRule struct {
	PTS                      string           `json:"pts"`
	ProcessingEntity         string           `json:"processingEntity"`
	IncludedBusinessStatuses []BusinessStatus `json:"includedBusinessStatuses"`
	IncludedDirections       []Direction      `json:"includedDirections"`
	IncludedSettlementTypes  []SettlementType `json:"includedSettlementTypes"`
}

// DefaultRule is applied when no rule is cached for a (pts, pe) key:
// unknown combinations are monitored rather than silently ignored.
func DefaultRule(pts, pe string) CalcRule {
	return CalcRule{
		PTS:                      pts,
		ProcessingEntity:         pe,
		IncludedBusinessStatuses: []BusinessStatus{StatusPending, StatusInvalid, StatusVerified},
		IncludedDirections:       []Direction{DirectionPay},
		IncludedSettlementTypes:  []SettlementType{TypeGross, TypeNet},
	}
}

func RuleKey(pts, pe string) string {
	return pts + ":" + pe
}

func (r CalcRule) Key() string {
	return RuleKey(r.PTS, r.ProcessingEntity)
}

// StatusStrings, DirectionStrings and TypeStrings expand the allowed-value
// sets for use as text[] parameters in SQL.
func (r CalcRule) StatusStrings() []string {
	out := make([]string, len(r.IncludedBusinessStatuses))
	for i, v := range r.IncludedBusinessStatuses {
		out[i] = string(v)
	}
	return out
}

func (r CalcRule) DirectionStrings() []string {
	out := make([]string, len(r.IncludedDirections))
	for i, v := range r.IncludedDirections {
		out[i] = string(v)
	}
	return out
}

func (r CalcRule) TypeStrings() []string {
	out := make([]string, len(r.IncludedSettlementTypes))
	for i, v := range r.IncludedSettlementTypes {
		out[i] = string(v)
	}
	return out
}

// Includes reports whether a settlement passes the rule's three filters.
// The SQL projection in the subtotal MERGE applies the same predicate.
func (r CalcRule) Includes(s *Settlement) bool {
	return containsStatus(r.IncludedBusinessStatuses, s.BusinessStatus) &&
		containsDirection(r.IncludedDirections, s.Direction) &&
		containsType(r.IncludedSettlementTypes, s.SettlementType)
}

func containsStatus(set []BusinessStatus, v BusinessStatus) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsDirection(set []Direction, v Direction) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func containsType(set []SettlementType, v SettlementType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Activity is one row of the append-only approval ledger.
type Activity struct {
	ID                string         `json:"id"`
	PTS               string         `json:"pts"`
	ProcessingEntity  string         `json:"processingEntity"`
	SettlementID      string         `json:"settlementId"`
	SettlementVersion int64          `json:"settlementVersion"`
	UserID            string         `json:"userId"`
	UserName          string         `json:"userName"`
	Action            ActivityAction `json:"action"`
	Comment           string         `json:"comment,omitempty"`
	CreateTime        time.Time      `json:"createTime"`
}

type ExchangeRate struct {
	Currency   string          `json:"currency"`
	RateToUSD  decimal.Decimal `json:"rateToUsd"`
	UpdateTime time.Time       `json:"updateTime"`
}

// WorkflowInfo is the read model over the activity ledger for one
// (settlement_id, settlement_version).
type WorkflowInfo struct {
	Requesters  []string `json:"requesters"`
	Authorisers []string `json:"authorisers"`
}

// DateOnly is the wire and storage format for value dates.
const DateOnly = "2006-01-02"
