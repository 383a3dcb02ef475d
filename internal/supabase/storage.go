package supabase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Davelummy/taxagent/internal/objectstore"
)

type listRequest struct {
	Prefix string     `json:"prefix"`
	Limit  int        `json:"limit"`
	Offset int        `json:"offset"`
	SortBy listSortBy `json:"sortBy"`
}

type listSortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

type listItem struct {
	Name      string  `json:"name"`
	ID        *string `json:"id"`
	CreatedAt string  `json:"created_at"`
	Metadata  *struct {
		Size     int64  `json:"size"`
		MimeType string `json:"mimetype"`
	} `json:"metadata"`
}

// Put uploads to the configured bucket without upsert.
func (c *Client) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if !c.StorageConfigured() {
		return ErrNotConfigured
	}
	resp, err := c.service(ctx).
		SetHeader("Content-Type", contentType).
		SetHeader("x-upsert", "false").
		SetBody(data).
		SetError(&errorBody{}).
		Post("/storage/v1/object/" + c.cfg.Bucket + "/" + path)
	if err := check(resp, err, "supabase: upload object"); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			return objectstore.ErrExists
		}
		return errors.Join(objectstore.ErrUnavailable, err)
	}
	return nil
}

// List returns the files directly under prefix, newest first.
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]objectstore.Object, error) {
	if !c.StorageConfigured() {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = objectstore.DefaultListLimit
	}
	prefix = strings.TrimSuffix(prefix, "/")
	var items []listItem
	resp, err := c.service(ctx).
		SetBody(listRequest{
			Prefix: prefix,
			Limit:  limit,
			SortBy: listSortBy{Column: "created_at", Order: "desc"},
		}).
		SetResult(&items).
		SetError(&errorBody{}).
		Post("/storage/v1/object/list/" + c.cfg.Bucket)
	if err := check(resp, err, "supabase: list objects"); err != nil {
		return nil, errors.Join(objectstore.ErrUnavailable, err)
	}
	out := make([]objectstore.Object, 0, len(items))
	for _, it := range items {
		// Folder placeholders come back without an id.
		if it.Name == "" || it.ID == nil {
			continue
		}
		obj := objectstore.Object{Name: it.Name, Path: prefix + "/" + it.Name}
		if it.Metadata != nil {
			obj.Size = it.Metadata.Size
			obj.ContentType = it.Metadata.MimeType
		}
		if ts, err := time.Parse(time.RFC3339Nano, it.CreatedAt); err == nil {
			obj.CreatedAt = ts.UTC()
		}
		out = append(out, obj)
	}
	return out, nil
}

var _ objectstore.Store = (*Client)(nil)
