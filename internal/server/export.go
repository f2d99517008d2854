package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"releasedesk/internal/engine"
	"releasedesk/internal/export"
)

func registerExport(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "export",
		Method:      http.MethodGet,
		Path:        "/export/{kind}",
		Summary:     "Export projects, releases or countries",
		Tags:        []string{"export"},
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Kind   string `path:"kind" enum:"projects,releases,countries"`
		Format string `query:"format" enum:"csv,markdown,md,html,text" default:"csv"`
	}) (*fileOutput, error) {
		kind, err := export.ParseKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		format, err := export.ParseFormat(input.Format)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := export.Load(ctx, e, kind)
		if err != nil {
			return nil, handleError(err)
		}
		var buf bytes.Buffer
		if err := export.Write(&buf, kind, format, snap); err != nil {
			return nil, handleError(err)
		}
		return &fileOutput{
			ContentType:        format.ContentType(),
			ContentDisposition: fmt.Sprintf(`attachment; filename="%s.%s"`, kind, format.Extension()),
			Body:               buf.Bytes(),
		}, nil
	})
}
