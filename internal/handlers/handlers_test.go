package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/spoof-check/internal/auth"
	"github.com/example/spoof-check/internal/inference"
	"github.com/example/spoof-check/internal/metrics"
	"github.com/example/spoof-check/internal/usecase"
)

const testJWTSecret = "test-secret"

type stubService struct {
	predictErr error
	batchFiles []string
	calls      int
}

func (s *stubService) Predict(ctx context.Context, filename string, data []byte) (*usecase.Prediction, error) {
	s.calls++
	if s.predictErr != nil {
		return nil, s.predictErr
	}
	return &usecase.Prediction{
		RequestID:     "req-1",
		Filename:      filename,
		Label:         inference.LabelSpoof,
		Confidence:    0.75,
		Probabilities: []float64{0.25, 0.75},
		Details:       map[string]any{},
	}, nil
}

func (s *stubService) PredictBatch(ctx context.Context, uploads []usecase.Upload) *usecase.BatchReport {
	report := &usecase.BatchReport{}
	for _, up := range uploads {
		s.batchFiles = append(s.batchFiles, up.Filename)
		report.Items = append(report.Items, usecase.BatchItem{
			Filename:   up.Filename,
			Prediction: &usecase.Prediction{Filename: up.Filename, Label: inference.LabelReal},
		})
	}
	report.Summary = usecase.BatchSummary{Total: len(uploads), Real: len(uploads)}
	return report
}

type part struct {
	field       string
	filename    string
	contentType string
	payload     []byte
}

func newRouter(svc PredictionService, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, svc, opts)
	return router
}

func post(t *testing.T, router *gin.Engine, path, token string, parts ...part) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := buildMultipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestPredictReturnsPrediction(t *testing.T) {
	router := newRouter(&stubService{}, Options{})

	resp := post(t, router, "/predict", "", part{"image", "face.png", "image/png", []byte("png")})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	for _, key := range []string{"request_id", "filename", "label", "confidence", "probabilities", "details", "cached"} {
		if _, ok := got[key]; !ok {
			t.Fatalf("expected key %q in response %v", key, got)
		}
	}
	if got["filename"] != "face.png" || got["label"] != "spoof" {
		t.Fatalf("unexpected response %v", got)
	}
}

func TestPredictRejectsLargeUpload(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, Options{MaxUploadBytes: 1024})

	resp := post(t, router, "/predict", "", part{"image", "upload", "image/png", bytes.Repeat([]byte("a"), 1025)})

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("expected no prediction, got %d calls", svc.calls)
	}
}

func TestPredictRejectsUnsupportedContentType(t *testing.T) {
	router := newRouter(&stubService{}, Options{})

	resp := post(t, router, "/predict", "", part{"image", "notes.txt", "text/plain", []byte("hello")})

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestPredictRequiresImageField(t *testing.T) {
	router := newRouter(&stubService{}, Options{})

	resp := post(t, router, "/predict", "", part{"file", "face.png", "image/png", []byte("png")})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestPredictMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"decode", fmt.Errorf("usecase: %w", &inference.DecodeError{Filename: "x", Err: errors.New("bad")}), http.StatusUnprocessableEntity},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newRouter(&stubService{predictErr: tt.err}, Options{})
			resp := post(t, router, "/predict", "", part{"image", "x", "image/jpeg", []byte("x")})
			if resp.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, resp.Code)
			}
		})
	}
}

func TestPredictBatchKeepsOrder(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, Options{})

	resp := post(t, router, "/predict/batch", "",
		part{"images", "a.png", "image/png", []byte("a")},
		part{"images", "b.jpg", "image/jpeg", []byte("b")},
		part{"images", "c.webp", "", []byte("c")},
	)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	var report usecase.BatchReport
	if err := json.Unmarshal(resp.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if strings.Join(svc.batchFiles, ",") != "a.png,b.jpg,c.webp" {
		t.Fatalf("unexpected upload order %v", svc.batchFiles)
	}
	if report.Summary.Total != 3 || len(report.Items) != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestPredictBatchRejectsEmptyAndOversized(t *testing.T) {
	router := newRouter(&stubService{}, Options{})
	resp := post(t, router, "/predict/batch", "", part{"other", "a.png", "image/png", []byte("a")})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for empty batch, got %d", http.StatusBadRequest, resp.Code)
	}

	parts := make([]part, MaxBatchFiles+1)
	for i := range parts {
		parts[i] = part{"images", fmt.Sprintf("%d.png", i), "image/png", []byte{1}}
	}
	resp = post(t, router, "/predict/batch", "", parts...)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d for oversized batch, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestPredictBatchRejectsNonImagePart(t *testing.T) {
	svc := &stubService{}
	router := newRouter(svc, Options{})

	resp := post(t, router, "/predict/batch", "",
		part{"images", "a.png", "image/png", []byte("a")},
		part{"images", "b.pdf", "application/pdf", []byte("b")},
	)

	if resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected status %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
	if len(svc.batchFiles) != 0 {
		t.Fatalf("expected no batch to run, got %v", svc.batchFiles)
	}
}

func TestPredictRoutesRequireTokenWhenAuthEnabled(t *testing.T) {
	router := newRouter(&stubService{}, Options{Auth: auth.JWTMiddleware(testJWTSecret, "")})
	img := part{"image", "face.png", "image/png", []byte("png")}

	if resp := post(t, router, "/predict", "", img); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d without token, got %d", http.StatusUnauthorized, resp.Code)
	}
	if resp := post(t, router, "/predict", buildTestToken(t, "client-1"), img); resp.Code != http.StatusOK {
		t.Fatalf("expected status %d with token, got %d", http.StatusOK, resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected open health route, got %d", resp.Code)
	}
}

func TestMetricsRouteCountsRequests(t *testing.T) {
	recorder := metrics.New()
	router := newRouter(&stubService{}, Options{Metrics: recorder})

	post(t, router, "/predict", "", part{"image", "face.png", "image/png", []byte("png")})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	want := `spoofcheck_http_requests_total{route="/predict",status="200"} 1`
	if !strings.Contains(resp.Body.String(), want) {
		t.Fatalf("expected metrics output to contain %q", want)
	}
}

func buildMultipartBody(t *testing.T, parts ...part) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.filename))
		if p.contentType != "" {
			header.Set("Content-Type", p.contentType)
		}

		w, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := w.Write(p.payload); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
