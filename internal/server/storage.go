package server

import (
	"context"
	"mime"
	"net/http"
	"path"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"releasedesk/internal/objstore"
)

type fileOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func registerStorage(api huma.API, objects objstore.Browser) {
	errs := []int{http.StatusBadRequest, http.StatusNotFound, http.StatusServiceUnavailable}

	huma.Register(api, huma.Operation{
		OperationID: "list-objects",
		Method:      http.MethodGet,
		Path:        "/storage/list",
		Summary:     "List folders and files under a path",
		Tags:        []string{"storage"},
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Path string `query:"path"`
	}) (*out[[]objstore.Entry], error) {
		entries, err := objects.List(ctx, input.Path)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []objstore.Entry{}
		}
		return reply(entries), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fetch-object",
		Method:      http.MethodGet,
		Path:        "/storage/file",
		Summary:     "Download a file",
		Tags:        []string{"storage"},
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Path string `query:"path" required:"true"`
	}) (*fileOutput, error) {
		data, err := objects.Fetch(ctx, input.Path)
		if err != nil {
			return nil, handleError(err)
		}
		ct := mime.TypeByExtension(path.Ext(input.Path))
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &fileOutput{
			ContentType:        ct,
			ContentDisposition: `attachment; filename="` + path.Base(input.Path) + `"`,
			Body:               data,
		}, nil
	})

	put := huma.Operation{
		OperationID:   "put-object",
		Method:        http.MethodPut,
		Path:          "/storage/file",
		Summary:       "Upload a file",
		Tags:          []string{"storage"},
		Errors:        errs,
		DefaultStatus: http.StatusNoContent,
	}
	huma.Register(api, put, func(ctx context.Context, input *struct {
		Path    string `query:"path" required:"true"`
		RawBody []byte `contentType:"application/octet-stream"`
	}) (*struct{}, error) {
		if err := objects.Put(ctx, input.Path, input.RawBody); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "object-url",
		Method:      http.MethodGet,
		Path:        "/storage/url",
		Summary:     "Time-limited download link",
		Tags:        []string{"storage"},
		Errors:      errs,
	}, func(ctx context.Context, input *struct {
		Path string `query:"path" required:"true"`
		TTL  int    `query:"ttl_seconds" minimum:"1" maximum:"604800" default:"900"`
	}) (*out[URLResponse], error) {
		u, err := objects.URL(ctx, input.Path, time.Duration(input.TTL)*time.Second)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(URLResponse{URL: u}), nil
	})
}
