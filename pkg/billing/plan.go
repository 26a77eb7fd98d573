package billing

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Plan describes a purchasable subscription tier. Plan.PriceID must match
// the provider's price identifier; Artifacts maps each platform to the
// object key of the downloadable build the plan unlocks.
type Plan struct {
	ID        string              `yaml:"id"`
	Name      string              `yaml:"name"`
	PriceID   string              `yaml:"price_id"`
	Amount    int64               `yaml:"amount"`
	Currency  string              `yaml:"currency"`
	Interval  string              `yaml:"interval"` // monthly or annual
	Artifacts map[Platform]string `yaml:"artifacts"`
}

// Price returns the plan price as Money.
func (p Plan) Price() Money {
	return Money{Amount: p.Amount, Currency: p.Currency}
}

// PlansSource defines how the plan catalog is loaded.
type PlansSource interface {
	Load(ctx context.Context) (map[string]Plan, error)
}

// FilePlansSource loads the plan catalog from a YAML file:
//
//	plans:
//	  - id: standard
//	    name: Standard
//	    price_id: price_123
//	    amount: 4900
//	    currency: USD
//	    interval: annual
//	    artifacts:
//	      windows: builds/standard-win.zip
//	      mac: builds/standard-mac.dmg
type FilePlansSource struct {
	Path string
}

func (s FilePlansSource) Load(_ context.Context) (map[string]Plan, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	var doc struct {
		Plans []Plan `yaml:"plans"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Join(ErrInvalidPlanConfiguration, err)
	}

	plans := make(map[string]Plan, len(doc.Plans))
	for _, p := range doc.Plans {
		plans[p.ID] = p
	}

	if err := ValidatePlans(plans); err != nil {
		return nil, err
	}
	return plans, nil
}

// StaticPlansSource serves a fixed catalog, mainly for tests and the dev
// profile.
type StaticPlansSource map[string]Plan

func (s StaticPlansSource) Load(_ context.Context) (map[string]Plan, error) {
	if err := ValidatePlans(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ValidatePlans checks the catalog for configuration mistakes that would
// otherwise only surface mid-checkout.
func ValidatePlans(plans map[string]Plan) error {
	if len(plans) == 0 {
		return errors.Join(ErrInvalidPlanConfiguration, errors.New("no plans configured"))
	}
	for id, p := range plans {
		if p.ID != id {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan ID mismatch: map key %s != plan.ID %s", id, p.ID))
		}
		if p.PriceID == "" {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has no provider price ID", id))
		}
		if p.Amount < 0 {
			return errors.Join(ErrInvalidPlanConfiguration,
				fmt.Errorf("plan %s has negative amount: %d", id, p.Amount))
		}
		for platform := range p.Artifacts {
			if _, err := ParsePlatform(string(platform)); err != nil {
				return errors.Join(ErrInvalidPlanConfiguration,
					fmt.Errorf("plan %s references unknown platform %q", id, platform))
			}
		}
	}
	return nil
}
