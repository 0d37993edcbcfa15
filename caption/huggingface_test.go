package caption

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHuggingFaceCaption(t *testing.T) {
	var gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"generated_text":"  a black   backpack on a bench "}]`))
	}))
	defer srv.Close()

	hf := NewHuggingFace(srv.URL, "hf_token").WithHTTPClient(srv.Client())
	text, err := hf.Caption(context.Background(), []byte("jpeg-bytes"))
	require.NoError(t, err)

	assert.Equal(t, "a black backpack on a bench", text)
	assert.Equal(t, "Bearer hf_token", gotAuth)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, []byte("jpeg-bytes"), gotBody)
}

func TestHuggingFaceCaption_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "empty list", status: http.StatusOK, body: `[]`, wantErr: ErrNoCaption},
		{name: "blank text", status: http.StatusOK, body: `[{"generated_text":"   "}]`, wantErr: ErrNoCaption},
		{name: "model loading", status: http.StatusServiceUnavailable, body: `{"error":"loading"}`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewHuggingFace(srv.URL, "").WithHTTPClient(srv.Client()).Caption(context.Background(), []byte("img"))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCaptionRejectsEmptyImage(t *testing.T) {
	_, err := NewHuggingFace("http://127.0.0.1:1", "").Caption(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = Disabled{}.Caption(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrDisabled)
}
