package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/hlsrelay/internal/api/models"
	"github.com/smazurov/hlsrelay/internal/streams"
)

func (s *Server) registerConfigRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "export-config",
		Method:      http.MethodGet,
		Path:        "/api/config/export",
		Summary:     "Export Configuration",
		Description: "Download every stream record as a backup document",
		Tags:        []string{"config"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.ExportResponse, error) {
		doc := s.streamService.Export(ctx)
		name := "hlsrelay-backup-" + time.Now().Format("20060102-150405") + ".json"
		return &models.ExportResponse{
			ContentDisposition: `attachment; filename="` + name + `"`,
			Body:               doc,
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "import-config",
		Method:      http.MethodPost,
		Path:        "/api/config/import",
		Summary:     "Import Configuration",
		Description: "Load a backup document. Imported streams are created stopped.",
		Tags:        []string{"config"},
		Errors:      []int{400, 401, 500},
		Security:    withAuth(),
		// Older backups may lack fields; the supervisor normalizes records.
		SkipValidateBody: true,
	}, func(ctx context.Context, input *models.ImportRequest) (*models.ImportResponse, error) {
		res, err := s.streamService.Import(ctx, input.Body, streams.ImportMode(input.Mode))
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.ImportResponse{Body: res}, nil
	})
}
