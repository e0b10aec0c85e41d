package compute

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatalf("NewHTTPClient: %v", err)
	}
	return c
}

func TestBuildVenueModelDecodesPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != buildModelPath {
			t.Errorf("path = %q, want %q", r.URL.Path, buildModelPath)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		var req buildModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.VenueID != "venue-1" || len(req.Sections) != 1 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(buildModelResponse{
			BlendFileB64: base64.StdEncoding.EncodeToString([]byte("blend")),
			PreviewB64:   base64.StdEncoding.EncodeToString([]byte("png")),
		})
	})

	res, err := c.BuildVenueModel(context.Background(), "venue-1",
		[]domain.SectionSpec{{Tier: "lower", Rows: 10, InnerRadius: 18}},
		domain.SurfaceConfig{SurfaceType: "rink"},
	)
	if err != nil {
		t.Fatalf("BuildVenueModel: %v", err)
	}
	if string(res.BlendFile) != "blend" || string(res.Preview) != "png" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRenderDepthMapsKeysBySeat(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req renderDepthsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Seats) != 2 {
			t.Errorf("got %d seats, want 2", len(req.Seats))
		}
		json.NewEncoder(w).Encode(renderDepthsResponse{
			DepthMapsB64: map[string]string{
				"100_Front_1": base64.StdEncoding.EncodeToString([]byte("d1")),
				"100_Back_1":  base64.StdEncoding.EncodeToString([]byte("d2")),
			},
		})
	})

	maps, err := c.RenderDepthMaps(context.Background(), []byte("blend"), []domain.Seat{
		{ID: "100_Front_1"}, {ID: "100_Back_1"},
	})
	if err != nil {
		t.Fatalf("RenderDepthMaps: %v", err)
	}
	if string(maps["100_Front_1"]) != "d1" || string(maps["100_Back_1"]) != "d2" {
		t.Fatalf("unexpected maps: %v", maps)
	}
}

func TestGenerateImageStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   errkind.Kind
	}{
		{"rate limited", http.StatusTooManyRequests, errkind.RateLimited},
		{"auth", http.StatusUnauthorized, errkind.NonRetryable},
		{"forbidden", http.StatusForbidden, errkind.NonRetryable},
		{"bad request", http.StatusBadRequest, errkind.NonRetryable},
		{"server error", http.StatusInternalServerError, errkind.Transient},
		{"bad gateway", http.StatusBadGateway, errkind.Transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tc.status)
			})
			_, err := c.GenerateImage(context.Background(), ImageRequest{
				SeatID: "100_Front_1", DepthMap: []byte("d"), Prompt: "p", Model: "flux",
			})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errkind.KindOf(err); got != tc.want {
				t.Fatalf("kind = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestGenerateImageCancellation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GenerateImage(ctx, ImageRequest{SeatID: "s", DepthMap: []byte("d")})
	if got := errkind.KindOf(err); got != errkind.Cancelled {
		t.Fatalf("kind = %s, want cancelled", got)
	}
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(HTTPConfig{}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
