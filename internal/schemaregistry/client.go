// Package schemaregistry talks to a Confluent-compatible schema registry so
// that Avro values can be framed with the id consumers use to decode them.
package schemaregistry

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const contentType = "application/vnd.schemaregistry.v1+json"

// ErrNotRegistered is returned by LookupID when the subject does not contain the schema.
var ErrNotRegistered = errors.New("schema not registered under subject")

// Metadata describes one registered schema version.
type Metadata struct {
	ID      int    `json:"id"`
	Version int    `json:"version"`
	Schema  string `json:"schema"`
	Subject string `json:"subject"`
}

type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is safe for concurrent use; ids are cached per subject and schema text.
type Client struct {
	url        string
	httpClient *http.Client
	username   string
	password   string

	mu      sync.RWMutex
	idCache map[string]int
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("schema registry URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		username:   cfg.Username,
		password:   cfg.Password,
		idCache:    make(map[string]int),
	}, nil
}

// LookupID returns the id of schema under subject without registering it.
func (c *Client) LookupID(ctx context.Context, subject, schema string) (int, error) {
	key := "lookup:" + subject + ":" + schema
	if id, ok := c.cached(key); ok {
		return id, nil
	}

	var meta Metadata
	status, err := c.post(ctx, "/subjects/"+url.PathEscape(subject), schema, &meta)
	if err != nil {
		if status == http.StatusNotFound {
			return 0, fmt.Errorf("%w %s", ErrNotRegistered, subject)
		}
		return 0, err
	}

	c.store(key, meta.ID)
	return meta.ID, nil
}

// RegisterSchema registers schema under subject and returns its id. Registering
// an already known schema returns the existing id.
func (c *Client) RegisterSchema(ctx context.Context, subject, schema string) (int, error) {
	key := "register:" + subject + ":" + schema
	if id, ok := c.cached(key); ok {
		return id, nil
	}

	var result struct {
		ID int `json:"id"`
	}
	if _, err := c.post(ctx, "/subjects/"+url.PathEscape(subject)+"/versions", schema, &result); err != nil {
		return 0, err
	}

	c.store(key, result.ID)
	return result.ID, nil
}

// GetLatestSchema retrieves the latest version registered for subject.
func (c *Client) GetLatestSchema(ctx context.Context, subject string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/subjects/"+url.PathEscape(subject)+"/versions/latest", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", contentType)

	var meta Metadata
	if _, err := c.do(req, &meta); err != nil {
		return nil, err
	}
	meta.Subject = subject
	return &meta, nil
}

func (c *Client) post(ctx context.Context, path, schema string, out any) (int, error) {
	body, err := json.Marshal(map[string]string{"schema": schema})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) (int, error) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("schema registry request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return resp.StatusCode, fmt.Errorf("schema registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) cached(key string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.idCache[key]
	return id, ok
}

func (c *Client) store(key string, id int) {
	c.mu.Lock()
	c.idCache[key] = id
	c.mu.Unlock()
}

// EncodeSchemaID encodes a schema ID in the Confluent wire format:
// magic byte 0x0 followed by the id as 4 big-endian bytes.
func EncodeSchemaID(schemaID int) []byte {
	buf := make([]byte, 5)
	buf[0] = 0x0
	binary.BigEndian.PutUint32(buf[1:], uint32(schemaID))
	return buf
}

// DecodeSchemaID splits a framed value into the schema id and the Avro payload.
func DecodeSchemaID(data []byte) (int, []byte, error) {
	if len(data) < 5 {
		return 0, nil, fmt.Errorf("data too short: expected at least 5 bytes, got %d", len(data))
	}
	if data[0] != 0x0 {
		return 0, nil, fmt.Errorf("invalid magic byte: expected 0x0, got 0x%x", data[0])
	}
	return int(binary.BigEndian.Uint32(data[1:5])), data[5:], nil
}
