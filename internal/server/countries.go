package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"releasedesk/internal/domain"
	"releasedesk/internal/engine"
)

func registerCountries(api huma.API, e engine.Engine) {
	errs := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable}

	huma.Register(api, huma.Operation{
		OperationID: "list-countries",
		Method:      http.MethodGet,
		Path:        "/countries",
		Summary:     "List countries",
		Tags:        []string{"countries"},
		Errors:      errs,
	}, func(ctx context.Context, _ *struct{}) (*out[[]domain.CountryConfig], error) {
		return countriesResult(e.ListCountries(ctx))
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-country",
		Method:      http.MethodPost,
		Path:        "/countries",
		Summary:     "Add a country; an existing code is left unchanged",
		Tags:        []string{"countries"},
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Body domain.CountryConfig `json:"body"`
	}) (*out[[]domain.CountryConfig], error) {
		return countriesResult(e.AddCountry(ctx, input.Body))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-country",
		Method:      http.MethodPut,
		Path:        "/countries/{code}",
		Summary:     "Update a country",
		Tags:        []string{"countries"},
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Code string               `path:"code"`
		Body UpdateCountryRequest `json:"body"`
	}) (*out[[]domain.CountryConfig], error) {
		return countriesResult(e.UpdateCountry(ctx, input.Code, domain.CountryConfig{
			Name:     input.Body.Name,
			Segments: input.Body.Segments,
		}))
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-country",
		Method:      http.MethodDelete,
		Path:        "/countries/{code}",
		Summary:     "Remove a country",
		Tags:        []string{"countries"},
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*out[[]domain.CountryConfig], error) {
		return countriesResult(e.RemoveCountry(ctx, input.Code))
	})
}

func countriesResult(items []domain.CountryConfig, err error) (*out[[]domain.CountryConfig], error) {
	if err != nil {
		return nil, handleError(err)
	}
	if items == nil {
		items = []domain.CountryConfig{}
	}
	return reply(items), nil
}
