package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/colinzhu/limit-monitoring-sub000/internal/config"
	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

// Provider fetches the full rule set. Called once at startup (blocking) and
// on every periodic refresh.
type Provider interface {
	Fetch(ctx context.Context) ([]models.CalcRule, error)
}

// HTTPProvider pulls rules from an endpoint returning a JSON array of
// {pts, processingEntity, includedBusinessStatuses[], includedDirections[],
// includedSettlementTypes[]}.
type HTTPProvider struct {
	url    string
	client *http.Client
}

func NewHTTPProvider(url string) *HTTPProvider {
	return &HTTPProvider{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

func (p *HTTPProvider) Fetch(ctx context.Context) ([]models.CalcRule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch rules: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rule provider status: %s", resp.Status)
	}

	var payload []struct {
		PTS                      string   `json:"pts"`
		ProcessingEntity         string   `json:"processingEntity"`
		IncludedBusinessStatuses []string `json:"includedBusinessStatuses"`
		IncludedDirections       []string `json:"includedDirections"`
		IncludedSettlementTypes  []string `json:"includedSettlementTypes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	rules := make([]models.CalcRule, 0, len(payload))
	for _, row := range payload {
		if row.PTS == "" || row.ProcessingEntity == "" {
			return nil, fmt.Errorf("rule with empty pts or processingEntity")
		}
		rules = append(rules, models.CalcRule{
			PTS:                      row.PTS,
			ProcessingEntity:         row.ProcessingEntity,
			IncludedBusinessStatuses: toStatuses(row.IncludedBusinessStatuses),
			IncludedDirections:       toDirections(row.IncludedDirections),
			IncludedSettlementTypes:  toTypes(row.IncludedSettlementTypes),
		})
	}
	return rules, nil
}

// StaticProvider serves rules inlined in the config file. Useful for
// single-tenant deployments with no rule service.
type StaticProvider struct {
	rules []models.CalcRule
}

func NewStaticProvider(entries []config.StaticRule) *StaticProvider {
	rules := make([]models.CalcRule, 0, len(entries))
	for _, e := range entries {
		rules = append(rules, models.CalcRule{
			PTS:                      e.PTS,
			ProcessingEntity:         e.ProcessingEntity,
			IncludedBusinessStatuses: toStatuses(e.IncludedBusinessStatuses),
			IncludedDirections:       toDirections(e.IncludedDirections),
			IncludedSettlementTypes:  toTypes(e.IncludedSettlementTypes),
		})
	}
	return &StaticProvider{rules: rules}
}

func (p *StaticProvider) Fetch(ctx context.Context) ([]models.CalcRule, error) {
	out := make([]models.CalcRule, len(p.rules))
	copy(out, p.rules)
	return out, nil
}

func toStatuses(in []string) []models.BusinessStatus {
	out := make([]models.BusinessStatus, 0, len(in))
	for _, s := range in {
		out = append(out, models.BusinessStatus(s))
	}
	return out
}

func toDirections(in []string) []models.Direction {
	out := make([]models.Direction, 0, len(in))
	for _, s := range in {
		out = append(out, models.Direction(s))
	}
	return out
}

func toTypes(in []string) []models.SettlementType {
	out := make([]models.SettlementType, 0, len(in))
	for _, s := range in {
		out = append(out, models.SettlementType(s))
	}
	return out
}
