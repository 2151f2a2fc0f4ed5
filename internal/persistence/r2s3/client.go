package r2s3

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// Config names an S3-compatible bucket and the credentials that may write to it.
type Config struct {
	Endpoint        string // host or URL; https is assumed when no scheme is given
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Timeout         time.Duration // per upload, default 2m
}

// Client writes objects to one bucket with path-style URLs. R2 accepts the
// "auto" region for SigV4.
type Client struct {
	base   *url.URL
	bucket string
	signer signer
	http   *http.Client
}

func New(cfg Config) (*Client, error) {
	var missing []string
	for name, v := range map[string]string{
		"endpoint":          cfg.Endpoint,
		"bucket":            cfg.Bucket,
		"access key id":     cfg.AccessKeyID,
		"secret access key": cfg.SecretAccessKey,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("r2s3: missing %s", strings.Join(missing, ", "))
	}

	raw := strings.TrimSpace(cfg.Endpoint)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("r2s3: endpoint: %w", err)
	}
	if base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("r2s3: bad endpoint %q", cfg.Endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		base:   base,
		bucket: strings.TrimSpace(cfg.Bucket),
		signer: signer{
			keyID:   strings.TrimSpace(cfg.AccessKeyID),
			secret:  strings.TrimSpace(cfg.SecretAccessKey),
			region:  "auto",
			service: "s3",
			now:     time.Now,
		},
		http: &http.Client{Timeout: timeout},
	}, nil
}

// Endpoint is the normalized base URL.
func (c *Client) Endpoint() string { return c.base.String() }

// PutFile uploads the file at localPath under key.
func (c *Client) PutFile(ctx context.Context, key, localPath string) error {
	b, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	return c.PutObject(ctx, key, b, contentTypeFor(localPath))
}

func (c *Client) PutObject(ctx context.Context, key string, body []byte, contentType string) error {
	key = cleanKey(key)
	if key == "" {
		return errors.New("r2s3: empty object key")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	objPath := "/" + c.bucket + "/" + escapeKey(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.base.String()+objPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", contentType)
	c.signer.sign(req, objPath, body)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("put %s: status=%d: %s", key, resp.StatusCode, bytes.TrimSpace(detail))
}

// signer adds AWS SigV4 headers for an unsigned-query, header-signed request.
type signer struct {
	keyID, secret   string
	region, service string
	now             func() time.Time
}

const (
	sigAlgorithm  = "AWS4-HMAC-SHA256"
	signedHeaders = "host;x-amz-content-sha256;x-amz-date"
)

func (s signer) sign(req *http.Request, escapedPath string, body []byte) {
	t := s.now().UTC()
	stamp := t.Format("20060102T150405Z")
	day := stamp[:8]
	bodyHash := hexSHA256(body)

	req.Header.Set("x-amz-date", stamp)
	req.Header.Set("x-amz-content-sha256", bodyHash)

	var canon strings.Builder
	fmt.Fprintf(&canon, "%s\n%s\n\n", req.Method, escapedPath)
	fmt.Fprintf(&canon, "host:%s\nx-amz-content-sha256:%s\nx-amz-date:%s\n\n", req.URL.Host, bodyHash, stamp)
	fmt.Fprintf(&canon, "%s\n%s", signedHeaders, bodyHash)

	scope := day + "/" + s.region + "/" + s.service + "/aws4_request"
	toSign := sigAlgorithm + "\n" + stamp + "\n" + scope + "\n" + hexSHA256([]byte(canon.String()))

	key := []byte("AWS4" + s.secret)
	for _, part := range []string{day, s.region, s.service, "aws4_request"} {
		key = hmacSum(key, part)
	}
	sig := hex.EncodeToString(hmacSum(key, toSign))

	req.Header.Set("Authorization", sigAlgorithm+" Credential="+s.keyID+"/"+scope+
		", SignedHeaders="+signedHeaders+", Signature="+sig)
}

func hmacSum(key []byte, msg string) []byte {
	m := hmac.New(sha256.New, key)
	m.Write([]byte(msg))
	return m.Sum(nil)
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".zst":
		return "application/zstd"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// cleanKey turns key into a slash-separated relative path, or "" when
// nothing is left.
func cleanKey(key string) string {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	key = strings.TrimLeft(path.Clean("/"+key), "/")
	if key == "." {
		return ""
	}
	return key
}

func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
