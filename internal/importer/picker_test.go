package importer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	apperrors "github.com/photark/photark-backend/pkg/errors"
)

func newPicker(t *testing.T, handler http.Handler) *PickerClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewPickerClient(config.PickerConfig{BaseURL: server.URL, PageSize: 2})
	if err != nil {
		t.Fatalf("NewPickerClient: %v", err)
	}
	return client
}

func remoteSession(token string) *models.ImportSession {
	return &models.ImportSession{
		ID:            uuid.New(),
		Origin:        enums.ImportOriginRemote,
		ExternalToken: &token,
	}
}

func TestPickerEnumerate_followsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sessions/sess-1/items", func(w http.ResponseWriter, r *http.Request) {
		page := pickerPage{}
		switch r.URL.Query().Get("page_token") {
		case "":
			page.Items = []pickerItem{{ID: "a", FetchToken: "ta"}, {ID: "b", FetchToken: "tb"}}
			page.NextPageToken = "page-2"
		case "page-2":
			page.Items = []pickerItem{{ID: "c", FetchToken: "tc"}}
		default:
			http.Error(w, "bad token", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(page)
	})

	client := newPicker(t, mux)
	var ids []string
	err := client.Enumerate(context.Background(), remoteSession("sess-1"), func(c Candidate) error {
		ids = append(ids, c.ExternalID)
		return nil
	})
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Fatalf("ids = %v, want [a b c]", ids)
	}
}

func TestPickerEnumerate_requiresExternalToken(t *testing.T) {
	client := newPicker(t, http.NewServeMux())
	session := &models.ImportSession{ID: uuid.New(), Origin: enums.ImportOriginRemote}

	err := client.Enumerate(context.Background(), session, func(Candidate) error { return nil })
	if err == nil {
		t.Fatal("expected validation error")
	}
	if apperrors.CategoryOf(err) != apperrors.CategoryValidation {
		t.Fatalf("category = %s, want validation", apperrors.CategoryOf(err))
	}
}

func TestPickerFetch_combinesMetadataAndContent(t *testing.T) {
	durationMS := int64(4200)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/items/item-1", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(pickerMetadata{
			MimeType:   "video/mp4",
			Width:      1920,
			Height:     1080,
			DurationMS: &durationMS,
		})
	})
	mux.HandleFunc("/v1/items/item-1/content", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fetch_token") != "tok-1" {
			http.Error(w, "missing token", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("mp4 bytes"))
	})

	client := newPicker(t, mux)
	extID, token := "item-1", "tok-1"
	item := &models.SelectionItem{ID: uuid.New(), ExternalItemID: &extID, FetchToken: &token}

	data, meta, err := client.Fetch(context.Background(), item)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(data) != "mp4 bytes" {
		t.Fatalf("data = %q", data)
	}
	if meta.Width != 1920 || meta.Height != 1080 {
		t.Fatalf("dimensions = %dx%d, want 1920x1080", meta.Width, meta.Height)
	}
	if meta.Duration == nil || meta.Duration.Milliseconds() != durationMS {
		t.Fatalf("duration = %v, want %dms", meta.Duration, durationMS)
	}
}

func TestPickerFetch_statusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   apperrors.Category
	}{
		{"gone item", http.StatusGone, apperrors.CategoryNotFound},
		{"missing item", http.StatusNotFound, apperrors.CategoryNotFound},
		{"expired credentials", http.StatusForbidden, apperrors.CategoryPermission},
		{"server outage", http.StatusBadGateway, apperrors.CategoryConnectivity},
		{"bad request", http.StatusBadRequest, apperrors.CategoryValidation},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newPicker(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tc.status)
			}))
			extID := "item-x"
			item := &models.SelectionItem{ID: uuid.New(), ExternalItemID: &extID}

			_, _, err := client.Fetch(context.Background(), item)
			if err == nil {
				t.Fatal("expected fetch error")
			}
			if got := apperrors.CategoryOf(err); got != tc.want {
				t.Fatalf("category = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPickerFetch_networkFailureIsConnectivity(t *testing.T) {
	client, err := NewPickerClient(config.PickerConfig{BaseURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewPickerClient: %v", err)
	}
	extID := "item-x"
	item := &models.SelectionItem{ID: uuid.New(), ExternalItemID: &extID}

	_, _, err = client.Fetch(context.Background(), item)
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if apperrors.CategoryOf(err) != apperrors.CategoryConnectivity {
		t.Fatalf("category = %s, want connectivity", apperrors.CategoryOf(err))
	}
}
