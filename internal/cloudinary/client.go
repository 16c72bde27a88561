package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"studx/internal/objectstore"
)

// Client uploads images to Cloudinary using their REST API. Buckets map to
// sub-folders below Folder.
type Client struct {
	CloudName    string
	APIKey       string
	APISecret    string
	Folder       string
	APIBase      string
	DeliveryBase string
	HTTP         *http.Client
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName:    cloudName,
		APIKey:       apiKey,
		APISecret:    apiSecret,
		Folder:       strings.Trim(folder, "/"),
		APIBase:      "https://api.cloudinary.com",
		DeliveryBase: "https://res.cloudinary.com",
		HTTP:         &http.Client{Timeout: 30 * time.Second},
	}
}

// UploadResult holds the response from Cloudinary after a successful upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Bytes     int    `json:"bytes"`
	Existing  bool   `json:"existing"`
}

var _ objectstore.Store = (*Client)(nil)

// Upload sends data as public id <folder>/<bucket>/<name without extension>.
// With Overwrite unset Cloudinary keeps the existing asset and reports
// existing=true, which is surfaced as objectstore.ErrObjectExists.
func (c *Client) Upload(ctx context.Context, bucket, name string, data []byte, opts objectstore.UploadOptions) error {
	params := map[string]string{
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"public_id": strings.TrimSuffix(name, path.Ext(name)),
		"folder":    c.folder(bucket),
		"overwrite": strconv.FormatBool(opts.Overwrite),
	}
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", name)
	if err != nil {
		return fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()

	url := fmt.Sprintf("%s/v1_1/%s/image/upload", c.APIBase, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	if result.Existing && !opts.Overwrite {
		return objectstore.ErrObjectExists
	}
	return nil
}

// PublicURL returns the delivery URL of an uploaded object.
func (c *Client) PublicURL(bucket, name string) string {
	return fmt.Sprintf("%s/%s/image/upload/%s/%s", c.DeliveryBase, c.CloudName, c.folder(bucket), name)
}

func (c *Client) folder(bucket string) string {
	if c.Folder == "" {
		return bucket
	}
	return c.Folder + "/" + bucket
}

// sign computes the Cloudinary API signature from the given params.
// api_key and file are excluded from the signature as Cloudinary requires.
func (c *Client) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true, "signature": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}
