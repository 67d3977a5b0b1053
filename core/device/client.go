package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lpr-manager/core/metrics"
	"lpr-manager/core/store"
	"lpr-manager/core/utils"

	"github.com/google/uuid"
	"github.com/icholy/digest"
)

const maxReplyBytes = 4 << 20

// Protocol is the set of list operations one device supports.
type Protocol interface {
	FetchAll(ctx context.Context) ([]Entry, error)
	Upsert(ctx context.Context, subject string) error
	Remove(ctx context.Context, subject string) error
	ClearAll(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Connector hands out a protocol client for a device.
type Connector interface {
	Connect(d store.Device) Protocol
}

// Factory builds clients that share one connection pool.
type Factory struct {
	cfg       Config
	metrics   *metrics.Metrics
	transport http.RoundTripper
	now       func() time.Time
}

// NewFactory creates a factory. m may be nil.
func NewFactory(cfg Config, m *metrics.Metrics) *Factory {
	cfg = cfg.withDefaults()
	connect := time.Duration(cfg.ConnectTimeoutSeconds) * time.Second
	request := time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	return &Factory{
		cfg:     cfg,
		metrics: m,
		transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   connect,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       60 * time.Second,
			TLSHandshakeTimeout:   connect,
			ResponseHeaderTimeout: request,
		},
		now: time.Now,
	}
}

// Connect binds a client to d.
func (f *Factory) Connect(d store.Device) Protocol {
	return f.Client(d)
}

// Client binds a client to d and returns the concrete type.
func (f *Factory) Client(d store.Device) *Client {
	rt := f.transport
	if d.AuthScheme == store.AuthDigest && d.Username != "" {
		rt = &digest.Transport{
			Username:  d.Username,
			Password:  d.Password,
			Transport: f.transport,
		}
	}

	return &Client{
		cfg:     f.cfg,
		device:  d,
		baseURL: baseURL(d.Address),
		http: &http.Client{
			Transport: rt,
			Timeout:   time.Duration(f.cfg.RequestTimeoutSeconds) * time.Second,
		},
		metrics: f.metrics,
		now:     f.now,
	}
}

func baseURL(address string) string {
	address = strings.TrimRight(strings.TrimSpace(address), "/")
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return address
}

// Client talks to one device. It never retries; callers decide.
type Client struct {
	cfg     Config
	device  store.Device
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
	now     func() time.Time
}

func (c *Client) path(endpoint string) string {
	return fmt.Sprintf("%s/ISAPI/Traffic/channels/%d/%s?format=json", c.baseURL, c.cfg.Channel, endpoint)
}

func (c *Client) label() string {
	if c.device.Name != "" {
		return c.device.Name
	}
	return fmt.Sprintf("#%d", c.device.ID)
}

// FetchAll pages through the device list until a short page arrives.
func (c *Client) FetchAll(ctx context.Context) ([]Entry, error) {
	entries, err := c.search(ctx, c.cfg.PageSize, true)
	c.observe("fetch_all", err)
	return entries, err
}

// Ping requests a single entry to validate connectivity and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.search(ctx, 1, false)
	c.observe("ping", err)
	return err
}

func (c *Client) search(ctx context.Context, pageSize int, all bool) ([]Entry, error) {
	searchID := uuid.NewString()
	var entries []Entry

	for page := 0; ; page++ {
		if page >= c.cfg.MaxPages {
			return nil, &Error{
				Op:           "search",
				Device:       c.label(),
				Kind:         ErrRejected,
				StatusString: fmt.Sprintf("no short page after %d pages", page),
			}
		}

		req := searchRequest{Description: searchDescription{
			SearchID:   searchID,
			Position:   len(entries),
			MaxResults: pageSize,
		}}
		var resp searchResponse
		if err := c.do(ctx, "search", http.MethodPost, c.path("searchLPListAudit"), req, &resp); err != nil {
			return nil, err
		}
		if resp.hasStatus() && !resp.ok() {
			return nil, c.statusError("search", http.StatusOK, resp.statusReply)
		}
		if resp.Result == nil {
			return nil, &Error{
				Op:           "search",
				Device:       c.label(),
				Kind:         ErrRejected,
				HTTPStatus:   http.StatusOK,
				StatusString: "reply holds no search result",
			}
		}

		entries = append(entries, resp.Result.Entries...)
		if !all || len(resp.Result.Entries) < pageSize || strings.EqualFold(resp.Result.ResponseStatus, "NO MATCH") {
			return entries, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Upsert ensures subject is on the device with a validity window from today to
// the configured end date.
func (c *Client) Upsert(ctx context.Context, subject string) error {
	now := c.now()
	req := recordRequest{Entries: []Entry{{
		Plate:              subject,
		ListType:           listTypeAllow,
		CreateTime:         now.Format("2006-01-02T15:04:05"),
		EffectiveStartDate: now.Format("2006-01-02"),
		EffectiveTime:      c.cfg.ValidityEnd,
	}}}

	err := c.do(ctx, "upsert", http.MethodPut, c.path("licensePlateAuditData/record"), req, nil)
	var de *Error
	if errors.As(err, &de) && isSubStatus(de, "recordExist", "deviceUserAlreadyExist") {
		err = nil
	}
	c.observe("upsert", err)
	return err
}

// Remove deletes subject. A record the device does not hold counts as removed.
func (c *Client) Remove(ctx context.Context, subject string) error {
	req := deleteRequest{Entries: []plateRef{{Plate: subject}}}

	err := c.do(ctx, "remove", http.MethodPut, c.path("DelLicensePlateAuditData"), req, nil)
	var de *Error
	if errors.As(err, &de) && errors.Is(err, ErrRejected) &&
		(de.HTTPStatus == http.StatusNotFound || isSubStatus(de, "noRecord", "recordNotExist")) {
		err = nil
	}
	c.observe("remove", err)
	return err
}

// ClearAll deletes every entry on the device. It cannot be undone.
func (c *Client) ClearAll(ctx context.Context) error {
	err := c.do(ctx, "clear_all", http.MethodPut, c.path("DelLicensePlateAuditData"), deleteRequest{DeleteAll: true}, nil)
	c.observe("clear_all", err)
	return err
}

func isSubStatus(e *Error, codes ...string) bool {
	for _, code := range codes {
		if strings.EqualFold(e.SubStatusCode, code) {
			return true
		}
	}
	return false
}

// do sends one JSON request. With out == nil the reply must be a success status;
// otherwise a 2xx body is decoded into out.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.device.AuthScheme == store.AuthBasic && c.device.Username != "" {
		req.SetBasicAuth(c.device.Username, c.device.Password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Device: c.label(), Kind: ErrUnreachable, Err: stripURL(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return &Error{Op: op, Device: c.label(), Kind: ErrUnreachable, HTTPStatus: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.rejected(op, resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Op: op, Device: c.label(), Kind: ErrRejected, HTTPStatus: resp.StatusCode,
				StatusString: "malformed reply", Err: err}
		}
		return nil
	}

	var status statusReply
	if err := json.Unmarshal(raw, &status); err != nil {
		return &Error{Op: op, Device: c.label(), Kind: ErrRejected, HTTPStatus: resp.StatusCode,
			StatusString: "malformed reply", Err: err}
	}
	if !status.ok() {
		return c.statusError(op, resp.StatusCode, status)
	}
	return nil
}

func (s statusReply) hasStatus() bool {
	return s.StatusCode != nil || s.StatusString != ""
}

func (s statusReply) ok() bool {
	code := utils.ToInt(s.StatusCode)
	if code != 0 {
		return code == 1
	}
	return strings.EqualFold(s.StatusString, "OK")
}

func (c *Client) rejected(op string, httpStatus int, raw []byte) error {
	var status statusReply
	if err := json.Unmarshal(raw, &status); err != nil || !status.hasStatus() {
		return &Error{Op: op, Device: c.label(), Kind: ErrRejected, HTTPStatus: httpStatus,
			StatusString: http.StatusText(httpStatus)}
	}
	return c.statusError(op, httpStatus, status)
}

func (c *Client) statusError(op string, httpStatus int, s statusReply) error {
	msg := s.ErrorMsg
	if msg == "" && s.ErrorCode != nil && utils.ToInt(s.ErrorCode) != 0 {
		msg = "errorCode " + utils.ToString(s.ErrorCode)
	}
	return &Error{
		Op:            op,
		Device:        c.label(),
		Kind:          ErrRejected,
		HTTPStatus:    httpStatus,
		StatusCode:    utils.ToInt(s.StatusCode),
		StatusString:  s.StatusString,
		SubStatusCode: s.SubStatusCode,
		ErrorMsg:      msg,
	}
}

// stripURL drops the request URL from transport errors so reports show the
// cause without repeating endpoints.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Err != nil {
		return ue.Err
	}
	return err
}

func (c *Client) observe(op string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrUnreachable):
		outcome = "unreachable"
	case errors.Is(err, ErrRejected):
		outcome = "rejected"
	default:
		outcome = "error"
	}
	c.metrics.DeviceCall(op, outcome)
}
