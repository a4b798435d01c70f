package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/facegate/facegate/internal/identify"
	"github.com/facegate/facegate/internal/model"
)

const testTenant = "4f9c1b2a-8d3e-4a5b-9c7d-1e2f3a4b5c6d"

// fakeRecognizer stubs the pipeline for handler tests.
type fakeRecognizer struct {
	identifyFn func(ctx context.Context, data []byte, tenantID string) (*identify.Outcome, error)
	enrollFn   func(ctx context.Context, data []byte, tenantID, label string) (*identify.EnrollReceipt, error)
	status     model.Status
}

func (f *fakeRecognizer) Identify(ctx context.Context, data []byte, tenantID string) (*identify.Outcome, error) {
	return f.identifyFn(ctx, data, tenantID)
}

func (f *fakeRecognizer) Enroll(ctx context.Context, data []byte, tenantID, label string) (*identify.EnrollReceipt, error) {
	return f.enrollFn(ctx, data, tenantID, label)
}

func (f *fakeRecognizer) ModelStatus() model.Status {
	return f.status
}

// multipartRequest builds a multipart POST with an image part and extra
// form values.
func multipartRequest(t *testing.T, path string, image []byte, fields map[string]string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if image != nil {
		part, err := writer.CreateFormFile("image", "face.jpg")
		if err != nil {
			t.Fatalf("creating form file: %v", err)
		}
		if _, err := io.Copy(part, bytes.NewReader(image)); err != nil {
			t.Fatalf("writing form file: %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("writing form field %s: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}

func testLogger() *zap.Logger {
	return zap.NewNop()
}
