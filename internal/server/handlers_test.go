package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clipfuse/internal/compose"
	"github.com/maauso/clipfuse/internal/media"
	"github.com/maauso/clipfuse/internal/run"
	"github.com/maauso/clipfuse/internal/storage"
)

// mockProber implements media.Prober for testing.
type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, path string) (media.Info, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(media.Info), args.Error(1)
}

// mockEncoder implements media.Encoder for testing.
type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Encode(ctx context.Context, out compose.CompositedOutput, dstPath string) error {
	args := m.Called(ctx, out, dstPath)
	return args.Error(0)
}

func (m *mockEncoder) CutClip(ctx context.Context, src, dst string, r compose.TimeRange) error {
	args := m.Called(ctx, src, dst, r)
	return args.Error(0)
}

// mockNormalizer implements audio.Normalizer for testing.
type mockNormalizer struct {
	mock.Mock
}

func (m *mockNormalizer) Normalize(ctx context.Context, src string) (string, error) {
	args := m.Called(ctx, src)
	if args.String(0) == "" {
		return src, args.Error(1)
	}
	return args.String(0), args.Error(1)
}

func newTestHandlers(t *testing.T) (*Handlers, *run.ComposeService, *run.MemoryRepository) {
	t.Helper()

	repo := run.NewMemoryRepository()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	normalizer := &mockNormalizer{}
	normalizer.On("Normalize", mock.Anything, mock.Anything).Return("", nil).Maybe()

	svc := run.NewComposeService(repo, &mockProber{}, &mockEncoder{}, normalizer, store,
		run.WithLogger(logger),
	)

	// Async processing is disabled so tests control the run lifecycle.
	handlers := NewHandlers(svc, logger, WithAsyncProcessing(false))
	return handlers, svc, repo
}

func validRequest() CreateCompositionRequest {
	return CreateCompositionRequest{
		AudioBase64:     base64.StdEncoding.EncodeToString([]byte("audio bytes")),
		AudioFilename:   "track.mp3",
		AudioRange:      TimeRangeDTO{Start: 2, End: 10},
		OverlayBase64:   base64.StdEncoding.EncodeToString([]byte("video bytes")),
		OverlayFilename: "clip.mp4",
		OverlayKind:     "moving",
		Geometry:        "portrait",
	}
}

func postComposition(t *testing.T, h *Handlers, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/compositions", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.CreateComposition(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateComposition_Success(t *testing.T) {
	h, _, repo := newTestHandlers(t)

	rec := postComposition(t, h, validRequest())

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateCompositionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, string(run.PhaseIdle), resp.Phase)

	saved, err := repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, compose.OverlayMoving, saved.Plan.Kind)
	assert.Equal(t, &compose.Geometry{Width: 1080, Height: 1920}, saved.Plan.Target)
}

func TestCreateComposition_StillWithHold(t *testing.T) {
	h, _, repo := newTestHandlers(t)

	body := validRequest()
	body.OverlayFilename = "photo.png"
	body.OverlayKind = "still"
	body.StillSeconds = 3
	body.Geometry = ""

	rec := postComposition(t, h, body)

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp CreateCompositionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	saved, err := repo.FindByID(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, compose.OverlayStill, saved.Plan.Kind)
	assert.Nil(t, saved.Plan.Target)
	assert.InDelta(t, 3.0, saved.Plan.StillSeconds, 1e-9)
}

func TestCreateComposition_InvalidJSON(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPost, "/compositions", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.CreateComposition(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assertErrorCode(t, rec, "INVALID_JSON")
}

func TestCreateComposition_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateCompositionRequest)
	}{
		{"missing audio", func(r *CreateCompositionRequest) { r.AudioBase64 = "" }},
		{"missing overlay filename", func(r *CreateCompositionRequest) { r.OverlayFilename = "" }},
		{"unknown overlay kind", func(r *CreateCompositionRequest) { r.OverlayKind = "gif" }},
		{"audio range end before start", func(r *CreateCompositionRequest) {
			r.AudioRange = TimeRangeDTO{Start: 10, End: 2}
		}},
		{"not base64", func(r *CreateCompositionRequest) { r.AudioBase64 = "!!not-base64!!" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandlers(t)

			body := validRequest()
			tt.mutate(&body)

			rec := postComposition(t, h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assertErrorCode(t, rec, "VALIDATION_ERROR")
		})
	}
}

func TestCreateComposition_InvalidPlan(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CreateCompositionRequest)
	}{
		{"unknown geometry preset", func(r *CreateCompositionRequest) { r.Geometry = "cinema" }},
		{"overlay range on still", func(r *CreateCompositionRequest) {
			r.OverlayKind = "still"
			r.StillSeconds = 2
			r.OverlayRange = &TimeRangeDTO{Start: 0, End: 2}
		}},
		{"still without display duration", func(r *CreateCompositionRequest) {
			r.OverlayKind = "still"
			r.StillSeconds = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandlers(t)

			body := validRequest()
			tt.mutate(&body)

			rec := postComposition(t, h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assertErrorCode(t, rec, "INVALID_PLAN")
		})
	}
}

func TestGetComposition_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/compositions/run-unknown", nil)
	req.SetPathValue("id", "run-unknown")
	rec := httptest.NewRecorder()
	h.GetComposition(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assertErrorCode(t, rec, "RUN_NOT_FOUND")
}

func TestGetComposition_InFlight(t *testing.T) {
	h, _, repo := newTestHandlers(t)

	rec := postComposition(t, h, validRequest())
	var created CreateCompositionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	r, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.NoError(t, r.TransitionTo(run.PhaseTimelineResolved))
	require.NoError(t, repo.Save(context.Background(), r))

	getRec := getComposition(t, h, created.ID)
	assert.Equal(t, http.StatusOK, getRec.Code)

	var resp CompositionResponse
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&resp))
	assert.Equal(t, string(run.PhaseTimelineResolved), resp.Phase)
	assert.Empty(t, resp.VideoBase64)
	assert.Empty(t, resp.VideoURL)
}

func TestGetComposition_EmittedInline(t *testing.T) {
	h, _, repo := newTestHandlers(t)

	rec := postComposition(t, h, validRequest())
	var created CreateCompositionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	outputPath := filepath.Join(t.TempDir(), "output.mp4")
	require.NoError(t, os.WriteFile(outputPath, []byte("video bytes"), 0640))
	emitRun(t, repo, created.ID, outputPath, "")

	getRec := getComposition(t, h, created.ID)
	assert.Equal(t, http.StatusOK, getRec.Code)

	var resp CompositionResponse
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&resp))
	assert.Equal(t, string(run.PhaseEmitted), resp.Phase)
	assert.InDelta(t, 8.0, resp.DurationSeconds, 1e-9)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("video bytes")), resp.VideoBase64)
	assert.Empty(t, resp.VideoURL)
}

func TestGetComposition_EmittedDelivered(t *testing.T) {
	h, _, repo := newTestHandlers(t)

	body := validRequest()
	body.Deliver = true
	rec := postComposition(t, h, body)
	var created CreateCompositionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	emitRun(t, repo, created.ID, "/gone/output.mp4", "https://bucket.s3.us-east-1.amazonaws.com/runs/x/output.mp4")

	getRec := getComposition(t, h, created.ID)
	assert.Equal(t, http.StatusOK, getRec.Code)

	var resp CompositionResponse
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&resp))
	assert.Equal(t, "https://bucket.s3.us-east-1.amazonaws.com/runs/x/output.mp4", resp.VideoURL)
	assert.Empty(t, resp.VideoBase64)
}

func TestDeleteComposition(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	rec := postComposition(t, h, validRequest())
	var created CreateCompositionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	req := httptest.NewRequest(http.MethodDelete, "/compositions/"+created.ID, nil)
	req.SetPathValue("id", created.ID)
	delRec := httptest.NewRecorder()
	h.DeleteComposition(delRec, req)

	assert.Equal(t, http.StatusNoContent, delRec.Code)

	getRec := getComposition(t, h, created.ID)
	assert.Equal(t, http.StatusNotFound, getRec.Code)
}

func TestDeleteComposition_NotFound(t *testing.T) {
	h, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodDelete, "/compositions/run-unknown", nil)
	req.SetPathValue("id", "run-unknown")
	rec := httptest.NewRecorder()
	h.DeleteComposition(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assertErrorCode(t, rec, "RUN_NOT_FOUND")
}

func TestRouter(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	router := NewRouter(h, logger, DefaultConfig())

	t.Run("health route", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/compositions", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("unknown composition", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/compositions/run-x", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cors preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/compositions", nil)
		req.Header.Set("Origin", "https://example.com")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func getComposition(t *testing.T, h *Handlers, id string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/compositions/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.GetComposition(rec, req)
	return rec
}

// emitRun walks a stored run to EMITTED with the given output.
func emitRun(t *testing.T, repo *run.MemoryRepository, id, outputPath, videoURL string) {
	t.Helper()

	ctx := context.Background()
	r, err := repo.FindByID(ctx, id)
	require.NoError(t, err)

	for _, phase := range []run.Phase{
		run.PhaseTimelineResolved,
		run.PhaseGeometryResolved,
		run.PhaseComposited,
	} {
		require.NoError(t, r.TransitionTo(phase))
	}
	r.SetOutput(outputPath, 8.0, videoURL)
	require.NoError(t, r.TransitionTo(run.PhaseEmitted))
	require.NoError(t, repo.Save(ctx, r))
}

func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, code string) {
	t.Helper()

	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, code, resp.Code)
}
