package countdown

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// HTTPPoller polls the pass status endpoint of the public API.
type HTTPPoller struct {
	BaseURL string
	PassID  string
	Client  *http.Client
}

func NewHTTPPoller(baseURL, passID string) *HTTPPoller {
	return &HTTPPoller{
		BaseURL: strings.TrimRight(baseURL, "/"),
		PassID:  passID,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPPoller) Poll(ctx context.Context) (*Status, error) {
	body, code, err := p.do(ctx, http.MethodGet, "/passes/"+p.PassID+"/status")
	if err != nil {
		return nil, err
	}
	res := gjson.ParseBytes(body)
	switch {
	case code == http.StatusOK:
		return &Status{
			Code:       res.Get("code").String(),
			BackupCode: res.Get("backupCode").String(),
			PinSource:  PinSource(res.Get("pinSource").String()),
		}, nil
	case code == http.StatusConflict:
		return &Status{
			BackupCode:     res.Get("backupCode").String(),
			PaymentPending: res.Get("paymentStatus").String() == "pending",
		}, nil
	}
	return nil, fmt.Errorf("status endpoint returned %d: %s", code, res.Get("error").String())
}

func (p *HTTPPoller) Sync(ctx context.Context) error {
	body, code, err := p.do(ctx, http.MethodPost, "/passes/"+p.PassID+"/sync")
	if err != nil {
		return err
	}
	if code >= 300 {
		return fmt.Errorf("sync returned %d: %s", code, gjson.GetBytes(body, "error").String())
	}
	return nil
}

func (p *HTTPPoller) do(ctx context.Context, method, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.BaseURL+path, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
