package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/tracemark/internal/issuance"
)

const maxSourceSize = 20 << 20 // 20 MB

var mimeToExt = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
}

func (s *Server) issueArtifact(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	email, err := req.RequireString("email")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	source, err := req.RequireString("source")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	connected, err := req.RequireString("connected_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	filename := req.GetString("filename", "")

	var (
		data []byte
		ext  string
	)
	if strings.HasPrefix(source, "data:") {
		data, ext, err = decodeDataURI(source)
	} else {
		data, ext, err = fetchHTTP(ctx, source)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(data) > maxSourceSize {
		return mcp.NewToolResultError(fmt.Sprintf("source too large: %d bytes (max %d)", len(data), maxSourceSize)), nil
	}
	if err := checkImageContent(data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if filename == "" {
		filename = filenameFromSource(source, ext)
	}

	id, err := s.svc.Login(ctx, email)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := s.svc.Issue(ctx, issuance.IssueRequest{
		IdentityID:    id,
		Source:        data,
		SourceName:    filepath.Base(filename),
		ConnectedName: connected,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(entry)
}

// decodeDataURI parses a data:<mediatype>;base64,<data> URI.
func decodeDataURI(uri string) ([]byte, string, error) {
	meta, encoded, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, "", fmt.Errorf("invalid data URI: missing comma separator")
	}
	if !strings.Contains(meta, ";base64") {
		return nil, "", fmt.Errorf("only base64 data URIs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, "", fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	ext := mimeToExt[mime]
	if ext == "" {
		return nil, "", fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}
	return data, ext, nil
}

// fetchHTTP downloads a source image from an HTTP/HTTPS URL.
func fetchHTTP(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported scheme: %q (only data, http, https)", parsed.Scheme)
	}
	if err := checkBlockedHost(parsed.Hostname()); err != nil {
		return nil, "", err
	}

	client := &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects (max 5)")
			}
			return checkBlockedHost(req.URL.Hostname())
		},
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read body failed: %w", err)
	}
	if len(data) > maxSourceSize {
		return nil, "", fmt.Errorf("source too large: exceeds %d bytes", maxSourceSize)
	}
	return data, mimeToExt[strings.Split(resp.Header.Get("Content-Type"), ";")[0]], nil
}

// checkBlockedHost rejects loopback and cloud metadata addresses.
func checkBlockedHost(host string) error {
	if host == "metadata.google.internal" {
		return fmt.Errorf("blocked host: %s", host)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		ips, lookupErr := net.LookupIP(host)
		if lookupErr != nil || len(ips) == 0 {
			return nil //nolint:nilerr // let http.Client handle DNS failures
		}
		ip = ips[0]
	}

	if ip.IsLoopback() {
		return fmt.Errorf("blocked host: loopback address %s", host)
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return fmt.Errorf("blocked host: cloud metadata address %s", host)
	}
	return nil
}

// checkImageContent sniffs the payload and accepts only decodable raster types.
func checkImageContent(data []byte) error {
	detected := http.DetectContentType(data)
	if _, ok := mimeToExt[strings.Split(detected, ";")[0]]; !ok {
		return fmt.Errorf("source is not a PNG, JPEG or GIF image (detected: %s)", detected)
	}
	return nil
}

// filenameFromSource takes the URL's base name, or a random one for data URIs.
func filenameFromSource(source, ext string) string {
	if ext == "" {
		ext = ".png"
	}
	if !strings.HasPrefix(source, "data:") {
		if parsed, err := url.Parse(source); err == nil {
			base := path.Base(parsed.Path)
			if base != "" && base != "." && base != "/" && strings.Contains(base, ".") {
				return base
			}
		}
	}
	return uuid.New().String() + ext
}
