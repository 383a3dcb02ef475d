package supabase

import (
	"context"
	"time"
)

type visibilityRow struct {
	UserID    string    `json:"user_id,omitempty"`
	Path      string    `json:"path"`
	Hidden    bool      `json:"hidden"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (c *Client) tablePath() string { return "/rest/v1/" + c.cfg.HiddenTable }

// HiddenPaths returns the paths a preparer hid for one client.
func (c *Client) HiddenPaths(ctx context.Context, userID string) (map[string]bool, error) {
	out := make(map[string]bool)
	if !c.StorageConfigured() || c.cfg.HiddenTable == "" || userID == "" {
		return out, nil
	}
	var rows []visibilityRow
	resp, err := c.service(ctx).
		SetQueryParam("user_id", "eq."+userID).
		SetQueryParam("select", "path,hidden").
		SetResult(&rows).
		SetError(&errorBody{}).
		Get(c.tablePath())
	if err := check(resp, err, "supabase: hidden paths"); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.Path != "" && r.Hidden {
			out[r.Path] = true
		}
	}
	return out, nil
}

// SetHidden upserts the row when hidden and deletes it otherwise.
func (c *Client) SetHidden(ctx context.Context, userID, path string, hidden bool, at time.Time) error {
	if !c.StorageConfigured() || c.cfg.HiddenTable == "" {
		return ErrNotConfigured
	}
	if !hidden {
		resp, err := c.service(ctx).
			SetQueryParam("user_id", "eq."+userID).
			SetQueryParam("path", "eq."+path).
			SetError(&errorBody{}).
			Delete(c.tablePath())
		return check(resp, err, "supabase: unhide")
	}
	resp, err := c.service(ctx).
		SetQueryParam("on_conflict", "user_id,path").
		SetHeader("Prefer", "resolution=merge-duplicates").
		SetBody([]visibilityRow{{UserID: userID, Path: path, Hidden: true, UpdatedAt: at.UTC()}}).
		SetError(&errorBody{}).
		Post(c.tablePath())
	return check(resp, err, "supabase: hide")
}
