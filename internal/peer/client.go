// Package peer is the client side of the node HTTP contract: liveness
// probes, peer-list exchange and the inference service endpoints used by
// the capability benchmark.
package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/utils"
)

const (
	VersionPath     = "/api/thalamus/version"
	NodexPath       = "/api/nodex"
	WhisperPath     = "/api/services/whisper"
	WhisperVWAVPath = "/api/services/whisper/vwav"
	SRGANPath       = "/api/services/image/srgan"
	LlamaPath       = "/api/services/llama"
	TTSPath         = "/api/services/tts"
)

// ErrUnexpectedStatus is returned for any non-2xx reply.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client talks to other nodes. Liveness probes use a short timeout;
// service calls are bounded only by their context.
type Client struct {
	probe *http.Client
	calls *http.Client
	now   func() time.Time
}

// NewClient builds a client whose liveness probes give up after probeTimeout.
func NewClient(probeTimeout time.Duration) *Client {
	return &Client{
		probe: &http.Client{
			Timeout: probeTimeout,
			Transport: &http.Transport{
				DisableKeepAlives:     true,
				ResponseHeaderTimeout: probeTimeout,
			},
		},
		calls: &http.Client{},
		now:   time.Now,
	}
}

// Version probes hostport for liveness and identity.
func (c *Client) Version(ctx context.Context, hostport string) (domain.VersionReply, error) {
	var reply domain.VersionReply
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(hostport, VersionPath), http.NoBody)
	if err != nil {
		return reply, fmt.Errorf("failed to create version request: %w", err)
	}
	if err := c.doJSON(c.probe, req, &reply); err != nil {
		return reply, fmt.Errorf("version probe %s: %w", hostport, err)
	}
	if reply.ID == "" {
		return reply, fmt.Errorf("version probe %s: %w: reply carries no id", hostport, domain.ErrMalformedReply)
	}
	return reply, nil
}

// Nodex fetches the nodes known to n, including their benchmarked stats.
func (c *Client) Nodex(ctx context.Context, n *domain.Node) ([]*domain.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(n.HostPort(), NodexPath), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create nodex request: %w", err)
	}
	var nodes []*domain.Node
	if err := c.doJSON(c.calls, req, &nodes); err != nil {
		return nil, fmt.Errorf("nodex %s: %w", n.HostPort(), err)
	}
	return nodes, nil
}

// WhisperSTT uploads an audio file for transcription with the given model size.
func (c *Client) WhisperSTT(ctx context.Context, hostport, method, audioPath string) (domain.STTReply, error) {
	var reply domain.STTReply
	req, err := c.uploadRequest(ctx, endpoint(hostport, WhisperPath),
		map[string]string{"method": method}, "speech", audioPath, filepath.Base(audioPath))
	if err != nil {
		return reply, err
	}
	if err := c.doJSON(c.calls, req, &reply); err != nil {
		return reply, fmt.Errorf("whisper %s on %s: %w", method, hostport, err)
	}
	return reply, nil
}

// WhisperVWAV uploads an audio file to the vocoder and returns the raw audio.
func (c *Client) WhisperVWAV(ctx context.Context, hostport, method, audioPath string) ([]byte, error) {
	req, err := c.uploadRequest(ctx, endpoint(hostport, WhisperVWAVPath),
		map[string]string{"method": method}, "speech", audioPath, filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	body, err := c.doBytes(c.calls, req)
	if err != nil {
		return nil, fmt.Errorf("vwav %s on %s: %w", method, hostport, err)
	}
	return body, nil
}

// SRGAN uploads an image for super-resolution under a timestamped filename.
func (c *Client) SRGAN(ctx context.Context, hostport, imagePath string) ([]byte, error) {
	ext := strings.TrimPrefix(filepath.Ext(imagePath), ".")
	name := strconv.FormatInt(c.now().UnixMilli(), 10) + "." + ext

	req, err := c.uploadRequest(ctx, endpoint(hostport, SRGANPath),
		map[string]string{"filename": name}, "input_file", imagePath, name)
	if err != nil {
		return nil, err
	}
	body, err := c.doBytes(c.calls, req)
	if err != nil {
		return nil, fmt.Errorf("srgan on %s: %w", hostport, err)
	}
	return body, nil
}

// Llama runs a text-generation prompt against the given model tier.
func (c *Client) Llama(ctx context.Context, hostport, model, prompt string) (string, error) {
	req, err := formRequest(ctx, endpoint(hostport, LlamaPath), url.Values{"model": {model}, "prompt": {prompt}})
	if err != nil {
		return "", err
	}
	body, err := c.doBytes(c.calls, req)
	if err != nil {
		return "", fmt.Errorf("llama %s on %s: %w", model, hostport, err)
	}
	return string(body), nil
}

// TTS synthesises prompt and returns the raw audio.
func (c *Client) TTS(ctx context.Context, hostport, prompt string) ([]byte, error) {
	req, err := formRequest(ctx, endpoint(hostport, TTSPath), url.Values{"prompt": {prompt}})
	if err != nil {
		return nil, err
	}
	body, err := c.doBytes(c.calls, req)
	if err != nil {
		return nil, fmt.Errorf("tts on %s: %w", hostport, err)
	}
	return body, nil
}

func endpoint(hostport, path string) string {
	hp := strings.TrimPrefix(strings.TrimPrefix(hostport, "http://"), "https://")
	return "http://" + hp + path
}

func formRequest(ctx context.Context, target string, values url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) uploadRequest(ctx context.Context, target string, fields map[string]string, fileField, filePath, fileName string) (*http.Request, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open upload %s: %w", filePath, err)
	}
	defer utils.Close(f)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := w.CreateFormFile(fileField, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to copy upload %s: %w", filePath, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req, nil
}

func (c *Client) doJSON(hc *http.Client, req *http.Request, out any) error {
	body, err := c.doBytes(hc, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode reply: %w: %w", domain.ErrMalformedReply, err)
	}
	return nil
}

func (c *Client) doBytes(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer utils.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}
	return body, nil
}
