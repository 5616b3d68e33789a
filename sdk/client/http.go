package client

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"

	sdk "github.com/sqlxray/sqlxray/sdk"
)

// Connection is the wire form of a target database.
type Connection struct {
	Host     string `json:"host"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user"`
	Password string `json:"password,omitempty"`
	Database string `json:"database"`
	TLS      bool   `json:"tls,omitempty"`
}

// JobAccepted acknowledges an asynchronous job launch.
type JobAccepted struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// ScanResults pairs a scan id with its per-table results.
type ScanResults struct {
	ScanID string            `json:"scan_id"`
	Tables []sdk.TableResult `json:"tables"`
}

// Client provides REST access to the SQLXray API.
type Client interface {
	StartScan(ctx context.Context, conn Connection, scanType string) (JobAccepted, error)
	ScanStatus(ctx context.Context, id string) (*sdk.ScanJob, error)
	ScanResults(ctx context.Context, id string) (*ScanResults, error)
	CancelScan(ctx context.Context, id string) (JobAccepted, error)
	ResumeScan(ctx context.Context, id string, conn Connection) (JobAccepted, error)
	StartWorkload(ctx context.Context, conn Connection) (JobAccepted, error)
	WorkloadStatus(ctx context.Context, id string) (*sdk.WorkloadJob, error)
	CancelWorkload(ctx context.Context, id string) (JobAccepted, error)
	Tables(ctx context.Context, conn Connection) (*sdk.TablesReport, error)
}

type httpClient struct {
	base string
	http *resty.Client
}

type Option func(*httpClient)

// WithToken sets the Authorization token
func WithToken(tok string) Option {
	return func(c *httpClient) {
		c.http.SetAuthToken(tok)
	}
}

// NewHTTP returns a new Client for the given base URL.
func NewHTTP(base string, opts ...Option) Client {
	c := &httpClient{base: base, http: resty.New()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) StartScan(ctx context.Context, conn Connection, scanType string) (JobAccepted, error) {
	var out JobAccepted
	body := map[string]any{
		"host": conn.Host, "port": conn.Port, "user": conn.User,
		"password": conn.Password, "database": conn.Database, "tls": conn.TLS,
		"scan_type": scanType,
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post(c.base + "/v1/scans")
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, restyErr(resp)
	}
	return out, nil
}

func (c *httpClient) ScanStatus(ctx context.Context, id string) (*sdk.ScanJob, error) {
	var out sdk.ScanJob
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(c.base + "/v1/scans/" + id)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, restyErr(resp)
	}
	return &out, nil
}

func (c *httpClient) ScanResults(ctx context.Context, id string) (*ScanResults, error) {
	var out ScanResults
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(c.base + "/v1/scans/" + id + "/results")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, restyErr(resp)
	}
	return &out, nil
}

func (c *httpClient) CancelScan(ctx context.Context, id string) (JobAccepted, error) {
	var out JobAccepted
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Post(c.base + "/v1/scans/" + id + "/cancel")
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, restyErr(resp)
	}
	return out, nil
}

func (c *httpClient) ResumeScan(ctx context.Context, id string, conn Connection) (JobAccepted, error) {
	var out JobAccepted
	resp, err := c.http.R().SetContext(ctx).SetBody(conn).SetResult(&out).Post(c.base + "/v1/scans/" + id + "/resume")
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, restyErr(resp)
	}
	return out, nil
}

func (c *httpClient) StartWorkload(ctx context.Context, conn Connection) (JobAccepted, error) {
	var out JobAccepted
	resp, err := c.http.R().SetContext(ctx).SetBody(conn).SetResult(&out).Post(c.base + "/v1/workload-analyses")
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, restyErr(resp)
	}
	return out, nil
}

func (c *httpClient) WorkloadStatus(ctx context.Context, id string) (*sdk.WorkloadJob, error) {
	var out sdk.WorkloadJob
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(c.base + "/v1/workload-analyses/" + id)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, restyErr(resp)
	}
	return &out, nil
}

func (c *httpClient) CancelWorkload(ctx context.Context, id string) (JobAccepted, error) {
	var out JobAccepted
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Post(c.base + "/v1/workload-analyses/" + id + "/cancel")
	if err != nil {
		return out, err
	}
	if resp.IsError() {
		return out, restyErr(resp)
	}
	return out, nil
}

func (c *httpClient) Tables(ctx context.Context, conn Connection) (*sdk.TablesReport, error) {
	var out sdk.TablesReport
	resp, err := c.http.R().SetContext(ctx).SetBody(conn).SetResult(&out).Post(c.base + "/v1/tables")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, restyErr(resp)
	}
	return &out, nil
}

func restyErr(resp *resty.Response) error {
	return fmt.Errorf("%s: %s", resp.Status(), resp.String())
}
