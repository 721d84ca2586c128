// Package appliance implements the client side of the asset appliance's
// export contract: obtain a bearer token, submit a PDQL query to the assets
// grid, then stream the CSV export.
package appliance

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	kitlog "github.com/go-kit/log"

	"github.com/vriskhq/vrisk/pkg/vriskhttp"
	"github.com/vriskhq/vrisk/server/config"
	"github.com/vriskhq/vrisk/server/contexts/ctxerr"
)

const (
	tokenPath      = "/connect/token"
	assetsGridPath = "/api/assets_temporal_readmodel/v1/assets_grid"
	exportPath     = assetsGridPath + "/export"
)

// Client talks to the appliance. Credentials are kept out of every error
// and log line it produces.
type Client struct {
	baseURL      string
	username     string
	password     string
	clientID     string
	clientSecret string

	// token and grid requests are quick; the export can stream for
	// minutes, so it gets its own client.
	tokenClient  *http.Client
	exportClient *http.Client

	logger kitlog.Logger
}

// NewClient builds a Client from config. The appliance address is required.
func NewClient(conf config.ApplianceConfig, logger kitlog.Logger) (*Client, error) {
	if conf.Address == "" {
		return nil, ctxerr.New(context.Background(), "appliance address not configured")
	}

	var clientOpts []vriskhttp.ClientOpt
	if conf.TLSSkipVerify {
		clientOpts = append(clientOpts, vriskhttp.WithTLSClientConfig(&tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // explicit operator opt-in
		}))
	}

	return &Client{
		baseURL:      strings.TrimRight(conf.Address, "/"),
		username:     conf.Username,
		password:     conf.Password,
		clientID:     conf.ClientID,
		clientSecret: conf.ClientSecret,
		tokenClient:  vriskhttp.NewClient(append(clientOpts, vriskhttp.WithTimeout(conf.TokenTimeout))...),
		exportClient: vriskhttp.NewClient(append(clientOpts, vriskhttp.WithTimeout(conf.ExportTimeout))...),
		logger:       kitlog.With(logger, "component", "appliance"),
	}, nil
}

// token performs the OAuth2 password grant.
func (c *Client) token(ctx context.Context) (string, error) {
	form := url.Values{
		"username":      {c.username},
		"password":      {c.password},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"grant_type":    {"password"},
		"response_type": {"code id_token"},
		"scope":         {"offline_access mpx.api"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "build token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.tokenClient.Do(req)
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "request appliance token")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ctxerr.Errorf(ctx, "appliance token request: status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", ctxerr.Wrap(ctx, err, "decode token response")
	}
	if body.AccessToken == "" {
		return "", ctxerr.New(ctx, "appliance token response missing access_token")
	}
	return body.AccessToken, nil
}

// pdqlToken submits the PDQL query to the assets grid and returns the
// opaque export token.
func (c *Client) pdqlToken(ctx context.Context, token, pdql string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"pdql":                pdql,
		"includeNestedGroups": false,
	})
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "marshal pdql request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+assetsGridPath,
		strings.NewReader(string(payload)))
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "build assets grid request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.tokenClient.Do(req)
	if err != nil {
		return "", ctxerr.Wrap(ctx, err, "submit pdql query")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", ctxerr.Errorf(ctx, "assets grid request: status %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", ctxerr.Wrap(ctx, err, "decode assets grid response")
	}
	if body.Token == "" {
		return "", ctxerr.New(ctx, "assets grid response missing token")
	}
	return body.Token, nil
}

// ExportCSV runs the full token/query/export dance and returns the CSV
// stream. The caller owns the returned body.
func (c *Client) ExportCSV(ctx context.Context, pdql string) (io.ReadCloser, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	exportToken, err := c.pdqlToken(ctx, token, pdql)
	if err != nil {
		return nil, err
	}

	exportURL := fmt.Sprintf("%s%s?pdqlToken=%s", c.baseURL, exportPath, url.QueryEscape(exportToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, nil)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "build export request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.exportClient.Do(req)
	if err != nil {
		return nil, ctxerr.Wrap(ctx, err, "download export")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, ctxerr.Errorf(ctx, "export request: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// BuildPDQL assembles the assets-grid query, folding in the OS exclusion
// filter and row limit before the query is sent.
func BuildPDQL(osExclude []string, limit int) string {
	var b strings.Builder
	b.WriteString("select(@Host, Host.@Vulners.CVEs, Host.UF_Criticality, Host.UF_Zone, Host.OsName, Host.UF_Confidential, Host.UF_InternetAccess)")
	if len(osExclude) > 0 {
		quoted := make([]string, len(osExclude))
		for i, os := range osExclude {
			quoted[i] = `"` + strings.ReplaceAll(os, `"`, ``) + `"`
		}
		fmt.Fprintf(&b, " | filter(not (Host.OsName in [%s]))", strings.Join(quoted, ", "))
	}
	if limit > 0 {
		fmt.Fprintf(&b, " | limit(%d)", limit)
	}
	return b.String()
}
