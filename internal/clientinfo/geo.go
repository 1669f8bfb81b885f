package clientinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/proposal-wizard/pkg/logging"
)

const defaultLookupTimeout = 3 * time.Second

// GeoLookup resolves an IP address to a coarse "City, Country" label.
type GeoLookup interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// HTTPGeoLookup queries an ip-api.com compatible JSON endpoint.
type HTTPGeoLookup struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGeoLookup creates a lookup against baseURL; the IP is appended to it.
func NewHTTPGeoLookup(baseURL string, client *http.Client) *HTTPGeoLookup {
	if client == nil {
		client = &http.Client{Timeout: defaultLookupTimeout}
	}
	return &HTTPGeoLookup{baseURL: baseURL, client: client}
}

type geoResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	City    string `json:"city"`
	Message string `json:"message"`
}

// Lookup implements GeoLookup.
func (g *HTTPGeoLookup) Lookup(ctx context.Context, ip string) (string, error) {
	if g == nil || g.baseURL == "" {
		return "", fmt.Errorf("clientinfo: geo lookup not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+ip, nil)
	if err != nil {
		return "", fmt.Errorf("clientinfo: build request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("clientinfo: geo request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("clientinfo: geo status %d", resp.StatusCode)
	}
	var body geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("clientinfo: decode geo: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return "", fmt.Errorf("clientinfo: geo lookup failed: %s", body.Message)
	}
	parts := make([]string, 0, 2)
	for _, p := range []string{body.City, body.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return Unknown, nil
	}
	return strings.Join(parts, ", "), nil
}

// Collector assembles Metadata for a request.
type Collector struct {
	geo    GeoLookup
	logger *logging.Logger
}

// NewCollector creates a collector; geo may be nil to skip geolocation.
func NewCollector(geo GeoLookup, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Default()
	}
	return &Collector{geo: geo, logger: logger}
}

// FromRequest never fails: lookup errors are logged and reported as Unknown.
func (c *Collector) FromRequest(ctx context.Context, r *http.Request, newSession bool) Metadata {
	ua := r.UserAgent()
	meta := Metadata{
		IP:         ClientIP(r),
		UserAgent:  ua,
		Device:     Classify(ua),
		NewSession: newSession,
		PageURL:    r.Header.Get("X-Page-URL"),
		Referrer:   r.Referer(),
	}
	if meta.UserAgent == "" {
		meta.UserAgent = Unknown
	}
	if c == nil || c.geo == nil || !isPublicIP(meta.IP) {
		return meta
	}
	geo, err := c.geo.Lookup(ctx, meta.IP)
	if err != nil {
		c.logger.Debug("geo lookup failed", "ip", meta.IP, "error", err)
		meta.Geo = Unknown
		return meta
	}
	meta.Geo = geo
	return meta
}

func isPublicIP(raw string) bool {
	ip := net.ParseIP(raw)
	if ip == nil {
		return false
	}
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsLinkLocalUnicast())
}
