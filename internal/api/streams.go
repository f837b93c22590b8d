package api

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/hlsrelay/internal/api/models"
	"github.com/smazurov/hlsrelay/internal/streams"
)

func (s *Server) registerStreamRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-streams",
		Method:      http.MethodGet,
		Path:        "/api/streams",
		Summary:     "List Streams",
		Description: "Get every configured stream with its status, health and diagnostics",
		Tags:        []string{"streams"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.StreamListResponse, error) {
		list := s.streamService.List(ctx)
		return &models.StreamListResponse{
			Body: models.StreamListData{Streams: list, Count: len(list)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-stream",
		Method:        http.MethodPost,
		Path:          "/api/streams",
		Summary:       "Create Stream",
		Description:   "Register a new source. The stream is created stopped.",
		Tags:          []string{"streams"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 500},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.StreamCreateRequest) (*models.StreamResponse, error) {
		rec, err := s.streamService.Create(ctx, streams.CreateParams{Name: input.Body.Name, URL: input.Body.URL})
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.StreamResponse{Body: *rec}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream",
		Method:      http.MethodGet,
		Path:        "/api/streams/{stream_id}",
		Summary:     "Get Stream",
		Description: "Get details of a specific stream",
		Tags:        []string{"streams"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StreamIDInput) (*models.StreamResponse, error) {
		rec, err := s.streamService.Get(ctx, input.StreamID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.StreamResponse{Body: *rec}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-stream",
		Method:      http.MethodPatch,
		Path:        "/api/streams/{stream_id}",
		Summary:     "Update Stream",
		Description: "Rename a stream or change its source. A running stream whose source changed is restarted.",
		Tags:        []string{"streams"},
		Errors:      []int{400, 401, 404, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StreamUpdateRequest) (*models.StreamResponse, error) {
		rec, err := s.streamService.Update(ctx, input.StreamID, streams.UpdateParams{
			Name: input.Body.Name,
			URL:  input.Body.URL,
		})
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.StreamResponse{Body: *rec}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-stream",
		Method:        http.MethodDelete,
		Path:          "/api/streams/{stream_id}",
		Summary:       "Delete Stream",
		Description:   "Stop the stream and remove its configuration, segments and preview",
		Tags:          []string{"streams"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 500},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.StreamIDInput) (*struct{}, error) {
		if err := s.streamService.Delete(ctx, input.StreamID); err != nil {
			return nil, s.mapStreamError(err)
		}
		return &struct{}{}, nil
	})

	s.registerAction("start-stream", "start", "Start Stream",
		"Launch the transcoder. Starting a running stream is a no-op.", s.streamService.Start)
	s.registerAction("stop-stream", "stop", "Stop Stream",
		"Terminate the transcoder and cancel pending reconnects. Segments are kept.", s.streamService.Stop)
	s.registerAction("restart-stream", "restart", "Restart Stream",
		"Stop, wait for the transcoder to exit, and start again. Resets the restart counter.", s.streamService.Restart)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream-diagnostics",
		Method:      http.MethodGet,
		Path:        "/api/streams/{stream_id}/diagnostics",
		Summary:     "Stream Diagnostics",
		Description: "Point-in-time snapshot of the record, process and segment output",
		Tags:        []string{"streams"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StreamIDInput) (*models.DiagnosticsResponse, error) {
		snap, err := s.streamService.Diagnostics(ctx, input.StreamID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.DiagnosticsResponse{Body: *snap}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "analyze-stream",
		Method:      http.MethodPost,
		Path:        "/api/streams/{stream_id}/analyze",
		Summary:     "Analyze Stream",
		Description: "Refresh resolution, codecs, bitrate and frame rate from the produced output",
		Tags:        []string{"streams"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StreamIDInput) (*models.AnalyzeResponse, error) {
		ok, err := s.streamService.Analyze(ctx, input.StreamID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		rec, err := s.streamService.Get(ctx, input.StreamID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.AnalyzeResponse{Body: models.AnalyzeData{Analyzed: ok, StreamInfo: rec.StreamInfo}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "capture-stream-preview",
		Method:      http.MethodPost,
		Path:        "/api/streams/{stream_id}/preview",
		Summary:     "Capture Preview",
		Description: "Grab a still image from a running stream now",
		Tags:        []string{"streams"},
		Errors:      []int{400, 401, 404, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StreamIDInput) (*models.PreviewResponse, error) {
		if _, err := s.streamService.CapturePreview(ctx, input.StreamID); err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.PreviewResponse{Body: models.PreviewData{
			StreamID: input.StreamID,
			URL:      "/api/streams/" + input.StreamID + "/preview",
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-stream-preview",
		Method:      http.MethodGet,
		Path:        "/api/streams/{stream_id}/preview",
		Summary:     "Get Preview",
		Description: "The most recent preview image (JPEG)",
		Tags:        []string{"streams"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StreamIDInput) (*models.PreviewImageResponse, error) {
		if _, err := s.streamService.Get(ctx, input.StreamID); err != nil {
			return nil, s.mapStreamError(err)
		}
		data, err := os.ReadFile(s.streamService.PreviewPath(input.StreamID))
		if errors.Is(err, os.ErrNotExist) {
			return nil, huma.Error404NotFound("no preview captured yet")
		}
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to read preview", err)
		}
		return &models.PreviewImageResponse{ContentType: "image/jpeg", CacheControl: "no-cache", Body: data}, nil
	})
}

// registerAction registers POST /api/streams/{stream_id}/{action}, responding
// with the record after the action.
func (s *Server) registerAction(operationID, action, summary, description string, fn func(context.Context, string) error) {
	huma.Register(s.api, huma.Operation{
		OperationID: operationID,
		Method:      http.MethodPost,
		Path:        "/api/streams/{stream_id}/" + action,
		Summary:     summary,
		Description: description,
		Tags:        []string{"streams"},
		Errors:      []int{401, 404, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StreamIDInput) (*models.StreamResponse, error) {
		if err := fn(ctx, input.StreamID); err != nil {
			return nil, s.mapStreamError(err)
		}
		rec, err := s.streamService.Get(ctx, input.StreamID)
		if err != nil {
			return nil, s.mapStreamError(err)
		}
		return &models.StreamResponse{Body: *rec}, nil
	})
}

// mapStreamError maps domain errors to HTTP errors
func (s *Server) mapStreamError(err error) error {
	var streamErr *streams.StreamError
	if !errors.As(err, &streamErr) {
		s.logger.Error("Unexpected error", "error", err)
		return huma.Error500InternalServerError("internal server error", err)
	}
	switch streamErr.Code {
	case streams.ErrCodeStreamNotFound:
		return huma.Error404NotFound(streamErr.Message, err)
	case streams.ErrCodeInvalidInput:
		return huma.Error400BadRequest(streamErr.Message, err)
	default:
		s.logger.Error("Stream operation failed", "error", err)
		return huma.Error500InternalServerError(streamErr.Message, err)
	}
}
