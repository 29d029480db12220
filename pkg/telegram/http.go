package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

func newHTTPDoer(timeout time.Duration) httpDoer {
	return &http.Client{Timeout: timeout}
}

// call posts a Bot API method and unwraps the {ok, result} envelope.
func (c *Client) call(ctx context.Context, method string, data url.Values) (gjson.Result, error) {
	var body io.Reader
	if data != nil {
		body = strings.NewReader(data.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/"+method, body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("couldn't create request: %v", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("couldn't send request to the telegram Bot API: %v", err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("couldn't read response body: %v", err)
	}

	parsed := gjson.ParseBytes(resBody)
	if !parsed.Get("ok").Bool() {
		return gjson.Result{}, &APIError{
			Code:        int(parsed.Get("error_code").Int()),
			Description: parsed.Get("description").String(),
		}
	}
	return parsed.Get("result"), nil
}
