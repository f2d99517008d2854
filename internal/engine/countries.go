package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"releasedesk/internal/domain"
	"releasedesk/internal/store"
)

// ListCountries returns the configured countries, seeding the defaults on
// first use.
func (e Engine) ListCountries(ctx context.Context) ([]domain.CountryConfig, error) {
	countries, _, err := e.loadCountries(ctx)
	return countries, err
}

// AddCountry appends a country. A code that already exists is left as is.
func (e Engine) AddCountry(ctx context.Context, c domain.CountryConfig) ([]domain.CountryConfig, error) {
	c = normalizeCountry(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	countries, entryID, err := e.loadCountries(ctx)
	if err != nil {
		return nil, err
	}
	if indexOfCountry(countries, c.Code) >= 0 {
		e.Logger.Debug("country already configured", zap.String("country", c.Code))
		return countries, nil
	}
	return e.saveCountries(ctx, entryID, append(countries, c))
}

// UpdateCountry replaces the country stored under code.
func (e Engine) UpdateCountry(ctx context.Context, code string, c domain.CountryConfig) ([]domain.CountryConfig, error) {
	c.Code = code
	c = normalizeCountry(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	countries, entryID, err := e.loadCountries(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOfCountry(countries, c.Code)
	if idx < 0 {
		return nil, fmt.Errorf("country %s: %w", c.Code, domain.ErrNotFound)
	}
	countries[idx] = c
	return e.saveCountries(ctx, entryID, countries)
}

func (e Engine) RemoveCountry(ctx context.Context, code string) ([]domain.CountryConfig, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	countries, entryID, err := e.loadCountries(ctx)
	if err != nil {
		return nil, err
	}
	idx := indexOfCountry(countries, code)
	if idx < 0 {
		return nil, fmt.Errorf("country %s: %w", code, domain.ErrNotFound)
	}
	return e.saveCountries(ctx, entryID, append(countries[:idx:idx], countries[idx+1:]...))
}

func (e Engine) loadCountries(ctx context.Context) ([]domain.CountryConfig, string, error) {
	entry, ok, err := store.FindByKey(ctx, e.Store.AppConfig(), domain.ConfigKeyCountries)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return e.seedCountries(ctx)
	}
	return decodeCountries(entry)
}

// seedCountries stores the default list the first time it is needed. Callers
// in one process are serialized; a concurrent seed from another process
// surfaces as a failed create and the stored entry is used instead.
func (e Engine) seedCountries(ctx context.Context) ([]domain.CountryConfig, string, error) {
	if e.seeding != nil {
		e.seeding.Lock()
		defer e.seeding.Unlock()
	}
	entry, ok, err := store.FindByKey(ctx, e.Store.AppConfig(), domain.ConfigKeyCountries)
	if err != nil {
		return nil, "", err
	}
	if ok {
		return decodeCountries(entry)
	}
	defaults := domain.DefaultCountries()
	data, err := json.Marshal(defaults)
	if err != nil {
		return nil, "", err
	}
	created, err := e.Store.AppConfig().Create(ctx, domain.AppConfigEntry{Key: domain.ConfigKeyCountries, Value: string(data)})
	if err != nil {
		if entry, ok, findErr := store.FindByKey(ctx, e.Store.AppConfig(), domain.ConfigKeyCountries); findErr == nil && ok {
			return decodeCountries(entry)
		}
		return nil, "", err
	}
	e.Logger.Info("seeded default countries", zap.Int("count", len(defaults)))
	return defaults, created.ID, nil
}

func decodeCountries(entry domain.AppConfigEntry) ([]domain.CountryConfig, string, error) {
	var countries []domain.CountryConfig
	if err := json.Unmarshal([]byte(entry.Value), &countries); err != nil {
		return nil, "", fmt.Errorf("decode %s: %w", domain.ConfigKeyCountries, err)
	}
	return countries, entry.ID, nil
}

func (e Engine) saveCountries(ctx context.Context, entryID string, countries []domain.CountryConfig) ([]domain.CountryConfig, error) {
	data, err := json.Marshal(countries)
	if err != nil {
		return nil, err
	}
	if _, err := e.Store.AppConfig().Update(ctx, entryID, store.Patch{"value": string(data)}); err != nil {
		return nil, err
	}
	return countries, nil
}

func normalizeCountry(c domain.CountryConfig) domain.CountryConfig {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	c.Name = strings.TrimSpace(c.Name)
	return c
}

func indexOfCountry(countries []domain.CountryConfig, code string) int {
	for i, c := range countries {
		if c.Code == code {
			return i
		}
	}
	return -1
}
