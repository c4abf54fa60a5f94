package handler

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/web3-frozen/chain-tvl/internal/metrics"
)

const maxImageBytes = 5 << 20

var (
	errDisallowedRedirect = errors.New("redirect to disallowed host")
	errImageTooLarge      = errors.New("image exceeds size limit")
)

// ImageProxy relays an image from one of hosts or their subdomains so the
// frontend can load logos from a single origin. It installs a redirect
// policy on client so every hop must also be allowed. Images larger than
// maxImageBytes are rejected.
func ImageProxy(client *resty.Client, hosts []string, logger *slog.Logger) http.HandlerFunc {
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
		if len(via) >= 5 {
			return errors.New("too many redirects")
		}
		if _, ok := proxyTarget(req.URL.String(), hosts); !ok {
			return errDisallowedRedirect
		}
		return nil
	}))

	return func(w http.ResponseWriter, r *http.Request) {
		target, ok := proxyTarget(r.URL.Query().Get("url"), hosts)
		if !ok {
			http.Error(w, `{"error":"invalid or disallowed url"}`, http.StatusBadRequest)
			return
		}

		resp, err := client.R().
			SetContext(r.Context()).
			SetDoNotParseResponse(true).
			Get(target.String())
		if err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues("image", "error").Inc()
			logger.Warn("image fetch failed", "host", target.Host, "error", err)
			http.Error(w, `{"error":"upstream fetch failed"}`, http.StatusBadGateway)
			return
		}
		body := resp.RawBody()
		defer body.Close()

		ct := resp.Header().Get("Content-Type")
		if resp.StatusCode() != http.StatusOK || !strings.HasPrefix(ct, "image/") {
			metrics.UpstreamRequestsTotal.WithLabelValues("image", "error").Inc()
			logger.Warn("image upstream rejected", "host", target.Host, "status", resp.StatusCode(), "content_type", ct)
			http.Error(w, `{"error":"upstream returned no image"}`, http.StatusBadGateway)
			return
		}
		img, err := readImage(body, resp.RawResponse.ContentLength)
		if err != nil {
			metrics.UpstreamRequestsTotal.WithLabelValues("image", "error").Inc()
			logger.Warn("image read failed", "host", target.Host, "error", err)
			http.Error(w, `{"error":"upstream returned no image"}`, http.StatusBadGateway)
			return
		}
		metrics.UpstreamRequestsTotal.WithLabelValues("image", "ok").Inc()

		w.Header().Set("Content-Type", ct)
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(img)
	}
}

// readImage reads the whole body, failing once it passes maxImageBytes.
// A declared length over the limit fails before reading.
func readImage(body io.Reader, declared int64) ([]byte, error) {
	if declared > maxImageBytes {
		return nil, errImageTooLarge
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if n > maxImageBytes {
		return nil, errImageTooLarge
	}
	return buf.Bytes(), nil
}

func proxyTarget(raw string, hosts []string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range hosts {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return u, true
		}
	}
	return nil, false
}
