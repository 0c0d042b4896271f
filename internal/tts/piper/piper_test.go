package piper

import (
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personifai/personifai/internal/config"
	"github.com/personifai/personifai/internal/tts"
)

// fakeServer answers one synthesize request with the given events.
func fakeServer(t *testing.T, reply func(c *conn, req *event)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		c := newConn(nc)
		req, _, err := c.read()
		if err != nil {
			return
		}
		reply(c, req)
	}()
	return ln.Addr().String()
}

func TestSynthesize(t *testing.T) {
	var gotVoice any
	addr := fakeServer(t, func(c *conn, req *event) {
		gotVoice = req.Data["voice"]
		_ = c.write(event{Type: "audio-start", Data: map[string]any{"rate": 16000, "width": 2, "channels": 1}}, nil)
		_ = c.write(event{Type: "audio-chunk"}, []byte{1, 2, 3, 4})
		_ = c.write(event{Type: "audio-chunk"}, []byte{5, 6})
		_ = c.write(event{Type: "audio-stop"}, nil)
	})

	s := New(config.PiperConfig{Endpoint: "tcp://" + addr})
	res, err := s.Synthesize(context.Background(), "hello there", tts.SynthesizeOpts{Language: "fr"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "fr_FR-siwis-medium"}, gotVoice)
	assert.Equal(t, "audio/wav", res.ContentType)
	assert.Equal(t, 16000, res.SampleRate)
	require.Len(t, res.Audio, 44+6)
	assert.Equal(t, "RIFF", string(res.Audio[0:4]))
	assert.Equal(t, "WAVE", string(res.Audio[8:12]))
	assert.EqualValues(t, 16000, binary.LittleEndian.Uint32(res.Audio[24:28]))
	assert.EqualValues(t, 6, binary.LittleEndian.Uint32(res.Audio[40:44]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, res.Audio[44:])
}

func TestSynthesizeServerError(t *testing.T) {
	addr := fakeServer(t, func(c *conn, _ *event) {
		_ = c.write(event{Type: "error", Data: map[string]any{"text": "voice not found"}}, nil)
	})

	s := New(config.PiperConfig{Endpoint: addr})
	_, err := s.Synthesize(context.Background(), "hi", tts.SynthesizeOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voice not found")
}

func TestRoute(t *testing.T) {
	s := New(config.PiperConfig{
		Endpoint:  "default:10200",
		Endpoints: map[string]string{"de": "tcp://german:10200"},
		Voices:    map[string]string{"en": "en_GB-alan-low"},
	})

	voice, ep := s.route(tts.SynthesizeOpts{Language: "de"})
	assert.Equal(t, "de_DE-thorsten-medium", voice)
	assert.Equal(t, "german:10200", ep)

	voice, ep = s.route(tts.SynthesizeOpts{Language: "xx"})
	assert.Equal(t, "en_GB-alan-low", voice)
	assert.Equal(t, "default:10200", ep)

	voice, _ = s.route(tts.SynthesizeOpts{Voice: "custom"})
	assert.Equal(t, "custom", voice)
}

func TestSynthesizeEmptyText(t *testing.T) {
	_, err := New(config.PiperConfig{Endpoint: "x:1"}).Synthesize(context.Background(), "", tts.SynthesizeOpts{})
	assert.Error(t, err)
}
