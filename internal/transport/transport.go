// Package transport implements a secure HTTP transport that connects to a
// pinned IP rather than a hostname, so DNS rebinding between the SSRF
// guard's decision and the actual connection is structurally impossible.
package transport

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/apperr"
	"github.com/vitaliisemenov/trustcore/internal/ssrfguard"
)

// Response is the bounded result of exactly one HTTP request.
type Response struct {
	Status   int
	Headers  http.Header
	Body     []byte
	TimingMs int64
	FinalURL string
}

// Transport performs exactly one HTTP request per call, connecting to the
// IP a TransportRequirements pins rather than resolving the hostname again.
type Transport struct{}

// New constructs a Transport. It carries no state: every requirement
// (timeouts, pins, response cap) is supplied per call.
func New() *Transport { return &Transport{} }

// Do executes req against requirements, enforcing connect/read timeouts,
// SNI/Host pinning, optional SPKI pin verification, and the response
// size cap. It never follows redirects itself — that is RedirectGuard's job.
func (t *Transport) Do(ctx context.Context, method string, req ssrfguard.TransportRequirements, body io.Reader, headers http.Header) (*Response, error) {
	start := time.Now()

	dialer := &net.Dialer{
		Timeout:   time.Duration(req.ConnectTimeoutMs) * time.Millisecond,
		KeepAlive: 30 * time.Second,
	}

	pinnedAddr := net.JoinHostPort(req.ConnectToIP, strconv.Itoa(req.Port))

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			// Always dial the pinned IP, never the original hostname, even
			// if the caller somehow passes a different addr through.
			return dialer.DialContext(ctx, network, pinnedAddr)
		},
		DisableCompression:    false,
		MaxIdleConnsPerHost:   1,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   time.Duration(req.ConnectTimeoutMs) * time.Millisecond,
		ResponseHeaderTimeout: time.Duration(req.ReadTimeoutMs) * time.Millisecond,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if req.UseTLS {
		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: req.Hostname,
		}
		if len(req.CertificatePins) > 0 {
			pins := req.CertificatePins
			transport.TLSClientConfig.VerifyConnection = func(cs tls.ConnectionState) error {
				return verifySPKIPin(cs.PeerCertificates, pins)
			}
		}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   time.Duration(req.ConnectTimeoutMs+req.ReadTimeoutMs) * time.Millisecond,
	}

	scheme := "http"
	if req.UseTLS {
		scheme = "https"
	}
	targetURL := fmt.Sprintf("%s://%s%s", scheme, hostHeader(req), req.RequestPath)

	httpReq, err := http.NewRequestWithContext(ctx, method, targetURL, body)
	if err != nil {
		return nil, apperr.New(apperr.MalformedInput, "transport: build request failed").WithCause(err)
	}
	httpReq.Host = hostHeader(req)
	for k, vs := range headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, apperr.New(apperr.BackendUnavailable, "transport: request failed").WithCause(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, req.MaxResponseBytes+1)
	data, readErr := io.ReadAll(limited)
	if readErr != nil {
		return nil, apperr.New(apperr.BackendUnavailable, "transport: read failed").WithCause(readErr)
	}
	if int64(len(data)) > req.MaxResponseBytes {
		return nil, apperr.New(apperr.TooLarge, "transport: response exceeds maxResponseBytes")
	}

	return &Response{
		Status:   resp.StatusCode,
		Headers:  resp.Header,
		Body:     data,
		TimingMs: time.Since(start).Milliseconds(),
		FinalURL: targetURL,
	}, nil
}

func hostHeader(req ssrfguard.TransportRequirements) string {
	defaultPort := 80
	if req.UseTLS {
		defaultPort = 443
	}
	if req.Port == defaultPort {
		return req.Hostname
	}
	return net.JoinHostPort(req.Hostname, strconv.Itoa(req.Port))
}

// verifySPKIPin compares the leaf certificate's SPKI SHA-256 digest
// against the configured pin set. Presence of pins with no match fails
// the connection.
func verifySPKIPin(chain []*x509.Certificate, pins []string) error {
	if len(chain) == 0 {
		return apperr.New(apperr.Forbidden, "transport: no peer certificate to pin")
	}
	leaf := chain[0]
	sum := sha256.Sum256(leaf.RawSubjectPublicKeyInfo)
	digest := base64.StdEncoding.EncodeToString(sum[:])
	for _, pin := range pins {
		if pin == digest {
			return nil
		}
	}
	return apperr.New(apperr.Forbidden, "transport: certificate does not match any configured pin")
}
