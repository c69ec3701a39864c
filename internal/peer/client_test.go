package peer_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/thalamus/internal/domain"
	"github.com/MrSnakeDoc/thalamus/internal/peer"
	"github.com/MrSnakeDoc/thalamus/internal/peer/peertest"
)

func writeAsset(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("asset"), 0o644))
	return p
}

func TestVersion(t *testing.T) {
	srv := peertest.New("node-a", "0.3.0")
	defer srv.Close()

	c := peer.NewClient(time.Second)
	reply, err := c.Version(context.Background(), srv.HostPort())
	require.NoError(t, err)
	assert.Equal(t, "node-a", reply.ID)
	assert.Equal(t, "0.3.0", reply.Version)
}

func TestVersionUnreachable(t *testing.T) {
	srv := peertest.New("gone", "0.3.0")
	addr := srv.HostPort()
	srv.Close()

	c := peer.NewClient(200 * time.Millisecond)
	_, err := c.Version(context.Background(), addr)
	require.Error(t, err)
}

func TestVersionBadStatus(t *testing.T) {
	srv := peertest.New("node-a", "0.3.0")
	defer srv.Close()
	srv.FailPath(peer.VersionPath, http.StatusInternalServerError)

	c := peer.NewClient(time.Second)
	_, err := c.Version(context.Background(), srv.HostPort())
	require.Error(t, err)
	assert.True(t, errors.Is(err, peer.ErrUnexpectedStatus))
}

func TestMalformedReplies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "<html>hello</html>"},
		{name: "missing id", body: `{"version":"0.3.0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := peer.NewClient(time.Second)
			_, err := c.Version(context.Background(), strings.TrimPrefix(srv.URL, "http://"))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrMalformedReply)
		})
	}
}

func TestNodexUsesDefaultPort(t *testing.T) {
	srv := peertest.New("b", "0.3.0")
	defer srv.Close()

	known := domain.NewNode("c", "0.3.0", "10.9.9.9:8050", 8050, time.Unix(10, 0))
	known.Stats.SRGANScore = domain.Millis(99)
	srv.SetPeers(known)

	c := peer.NewClient(time.Second)
	nodes, err := c.Nodex(context.Background(), &domain.Node{ID: "b", Address: srv.HostPort()})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "c", nodes[0].ID)
	require.NotNil(t, nodes[0].Stats.SRGANScore)
	assert.EqualValues(t, 99, *nodes[0].Stats.SRGANScore)
	assert.Nil(t, nodes[0].Stats.Llama7B)
}

func TestServiceCalls(t *testing.T) {
	srv := peertest.New("a", "0.3.0")
	defer srv.Close()

	wav := writeAsset(t, "test.wav")
	jpg := writeAsset(t, "test.jpg")
	c := peer.NewClient(time.Second)
	ctx := context.Background()

	stt, err := c.WhisperSTT(ctx, srv.HostPort(), "medium", wav)
	require.NoError(t, err)
	assert.Equal(t, "method=medium", stt.Text)

	audio, err := c.WhisperVWAV(ctx, srv.HostPort(), "tiny", wav)
	require.NoError(t, err)
	assert.NotEmpty(t, audio)

	img, err := c.SRGAN(ctx, srv.HostPort(), jpg)
	require.NoError(t, err)
	assert.NotEmpty(t, img)

	text, err := c.Llama(ctx, srv.HostPort(), "7B", "Tell me about Abraham Lincoln.")
	require.NoError(t, err)
	assert.Contains(t, text, "Lincoln")

	speech, err := c.TTS(ctx, srv.HostPort(), "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, speech)

	assert.EqualValues(t, 5, srv.ServiceHits())
}

func TestUploadMissingAsset(t *testing.T) {
	srv := peertest.New("a", "0.3.0")
	defer srv.Close()

	c := peer.NewClient(time.Second)
	_, err := c.WhisperSTT(context.Background(), srv.HostPort(), "tiny", "/nonexistent/test.wav")
	require.Error(t, err)
	assert.EqualValues(t, 0, srv.ServiceHits())
}
