package gdrive

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"github.com/samuelrizzo/github-unwrapped/internal/ports"
)

// Client implements ports.StorageProvider backed by Google Drive. The object
// key is stored as the Drive file name; lookups resolve the name to the
// newest matching file id inside the configured folder.
type Client struct {
	srv      *drive.Service
	folderID string
}

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) PutObject(ctx context.Context, in ports.PutObjectInput) (ports.PutObjectOutput, error) {
	if in.ObjectKey == "" {
		return ports.PutObjectOutput{}, fmt.Errorf("object_key is required")
	}

	var opts []googleapi.MediaOption
	if in.ContentType != "" {
		opts = append(opts, googleapi.ContentType(in.ContentType))
	}

	existing, err := c.findID(ctx, in.ObjectKey)
	if err != nil {
		return ports.PutObjectOutput{}, err
	}

	if existing != "" {
		_, err = c.srv.Files.Update(existing, &drive.File{}).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	} else {
		file := &drive.File{Name: in.ObjectKey}
		if c.folderID != "" {
			file.Parents = []string{c.folderID}
		}
		_, err = c.srv.Files.Create(file).
			Media(in.Reader, opts...).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	}
	if err != nil {
		return ports.PutObjectOutput{}, fmt.Errorf("gdrive upload failed: %w", err)
	}

	return ports.PutObjectOutput{ObjectKey: in.ObjectKey, Size: in.Size}, nil
}

func (c *Client) GetObject(ctx context.Context, objectKey string) (rc io.ReadCloser, contentType string, size int64, err error) {
	id, err := c.findID(ctx, objectKey)
	if err != nil {
		return nil, "", 0, err
	}
	if id == "" {
		return nil, "", 0, ports.ErrObjectNotFound
	}

	resp, err := c.srv.Files.Get(id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", 0, err
	}

	return resp.Body, resp.Header.Get("Content-Type"), resp.ContentLength, nil
}

func (c *Client) DeleteObject(ctx context.Context, objectKey string) error {
	id, err := c.findID(ctx, objectKey)
	if err != nil || id == "" {
		return err
	}
	return c.srv.Files.Delete(id).
		SupportsAllDrives(true).
		Context(ctx).
		Do()
}

func (c *Client) Ping(ctx context.Context) error {
	_, err := c.srv.About.Get().Fields("user").Context(ctx).Do()
	return err
}

// findID returns the id of the newest non-trashed file named key, or "".
func (c *Client) findID(ctx context.Context, key string) (string, error) {
	list, err := c.srv.Files.List().
		Q(c.query(key)).
		OrderBy("modifiedTime desc").
		PageSize(1).
		Fields("files(id)").
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("gdrive lookup failed: %w", err)
	}
	if len(list.Files) == 0 {
		return "", nil
	}
	return list.Files[0].Id, nil
}

func (c *Client) query(key string) string {
	q := fmt.Sprintf("name = '%s' and trashed = false", escapeQuery(key))
	if c.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escapeQuery(c.folderID))
	}
	return q
}

func escapeQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
