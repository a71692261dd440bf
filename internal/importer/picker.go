package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/photark/photark-backend/internal/signature"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db/models"
	apperrors "github.com/photark/photark-backend/pkg/errors"
)

// PickerClient talks to the remote picker API: paginated item listing per
// session token, plus metadata and content download per item.
type PickerClient struct {
	baseURL  string
	pageSize int
	http     *http.Client
}

func NewPickerClient(cfg config.PickerConfig) (*PickerClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("picker client: base url is required")
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PickerClient{
		baseURL:  cfg.BaseURL,
		pageSize: pageSize,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

type pickerItem struct {
	ID         string `json:"id"`
	FetchToken string `json:"fetch_token"`
}

type pickerPage struct {
	Items         []pickerItem `json:"items"`
	NextPageToken string       `json:"next_page_token"`
}

type pickerMetadata struct {
	MimeType    string     `json:"mime_type"`
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	DurationMS  *int64     `json:"duration_ms"`
	CaptureTime *time.Time `json:"capture_time"`
}

// Enumerate walks the session's pages lazily, one API call per page.
func (c *PickerClient) Enumerate(ctx context.Context, session *models.ImportSession, fn func(Candidate) error) error {
	if session.ExternalToken == nil || *session.ExternalToken == "" {
		return apperrors.New(apperrors.CategoryValidation, "remote session has no external token")
	}

	pageToken := ""
	for {
		page, err := c.listPage(ctx, *session.ExternalToken, pageToken)
		if err != nil {
			return err
		}
		for _, item := range page.Items {
			if err := fn(Candidate{ExternalID: item.ID, FetchToken: item.FetchToken}); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

func (c *PickerClient) listPage(ctx context.Context, sessionToken, pageToken string) (*pickerPage, error) {
	endpoint := fmt.Sprintf("%s/v1/sessions/%s/items", c.baseURL, url.PathEscape(sessionToken))
	query := url.Values{}
	query.Set("page_size", fmt.Sprintf("%d", c.pageSize))
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}

	body, err := c.get(ctx, endpoint+"?"+query.Encode())
	if err != nil {
		return nil, err
	}

	var page pickerPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryValidation, err, "malformed picker listing response")
	}
	return &page, nil
}

// Fetch downloads the item's probe metadata and raw content.
func (c *PickerClient) Fetch(ctx context.Context, item *models.SelectionItem) ([]byte, signature.FileMeta, error) {
	if item.ExternalItemID == nil || *item.ExternalItemID == "" {
		return nil, signature.FileMeta{}, apperrors.New(apperrors.CategoryValidation, "remote item has no external id")
	}
	itemPath := url.PathEscape(*item.ExternalItemID)

	metaBody, err := c.get(ctx, fmt.Sprintf("%s/v1/items/%s", c.baseURL, itemPath))
	if err != nil {
		return nil, signature.FileMeta{}, err
	}
	var meta pickerMetadata
	if err := json.Unmarshal(metaBody, &meta); err != nil {
		return nil, signature.FileMeta{}, apperrors.Wrap(apperrors.CategoryValidation, err, "malformed picker metadata response")
	}

	contentURL := fmt.Sprintf("%s/v1/items/%s/content", c.baseURL, itemPath)
	if item.FetchToken != nil && *item.FetchToken != "" {
		contentURL += "?fetch_token=" + url.QueryEscape(*item.FetchToken)
	}
	data, err := c.get(ctx, contentURL)
	if err != nil {
		return nil, signature.FileMeta{}, err
	}

	fileMeta := signature.FileMeta{
		MimeType:    meta.MimeType,
		Width:       meta.Width,
		Height:      meta.Height,
		CaptureTime: meta.CaptureTime,
	}
	if meta.DurationMS != nil {
		duration := time.Duration(*meta.DurationMS) * time.Millisecond
		fileMeta.Duration = &duration
	}
	return data, fileMeta, nil
}

func (c *PickerClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryInternal, err, "building picker request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConnectivity, err, "picker request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pickerStatusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryConnectivity, err, "reading picker response")
	}
	return body, nil
}

func pickerStatusError(code int) error {
	switch {
	case code == http.StatusNotFound || code == http.StatusGone:
		return apperrors.New(apperrors.CategoryNotFound, fmt.Sprintf("picker returned %d", code))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperrors.New(apperrors.CategoryPermission, fmt.Sprintf("picker returned %d", code))
	case code >= 500:
		return apperrors.New(apperrors.CategoryConnectivity, fmt.Sprintf("picker returned %d", code))
	default:
		return apperrors.New(apperrors.CategoryValidation, fmt.Sprintf("picker returned %d", code))
	}
}
