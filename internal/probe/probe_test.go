package probe

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/tgwire/internal/config"
	"github.com/danmuck/tgwire/internal/logging"
	"github.com/danmuck/tgwire/internal/messenger"
	"github.com/danmuck/tgwire/internal/protocol/envelope"
	"github.com/danmuck/tgwire/internal/protocol/frame"
	"github.com/danmuck/tgwire/internal/protocol/session"
	"github.com/danmuck/tgwire/internal/protocol/tl"
	"github.com/danmuck/tgwire/internal/testutil/testlog"
	"github.com/danmuck/tgwire/internal/transport"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const serverMessageID = 0x51e57ac42770964d

var testFingerprints = []int64{-3414540481677951611, 847625836280919973}

type dcMode int

const (
	answer dcMode = iota
	silent
	staleFirst
)

// fakeDC answers req_pq_multi with a resPQ echoing the client nonce.
type fakeDC struct {
	ln       net.Listener
	mode     dcMode
	envelope string
	wg       sync.WaitGroup
}

func startFakeDC(t *testing.T, mode dcMode, envelopeName string) transport.DataCentre {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeDC{ln: ln, mode: mode, envelope: envelopeName}
	f.wg.Add(1)
	go f.serve(t)
	t.Cleanup(func() {
		_ = ln.Close()
		f.wg.Wait()
	})

	dc, err := transport.ParseDataCentre(2, ln.Addr().String())
	if err != nil {
		t.Fatalf("parse dc: %v", err)
	}
	return dc
}

func (f *fakeDC) serve(t *testing.T) {
	defer f.wg.Done()
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.handle(t, conn)
		}()
	}
}

func (f *fakeDC) handle(t *testing.T, conn net.Conn) {
	codec, err := envelope.New(f.envelope)
	if err != nil {
		t.Errorf("fake dc envelope: %v", err)
		_ = conn.Close()
		return
	}
	if p, ok := codec.(envelope.Preambler); ok {
		got := make([]byte, len(p.Preamble()))
		if _, err := io.ReadFull(conn, got); err != nil || string(got) != string(p.Preamble()) {
			_ = conn.Close()
			return
		}
	}

	cfg := session.DefaultConfig()
	cfg.ReadPollTimeout = 10 * time.Millisecond
	tr := transport.NewConn(conn, transport.DataCentre{}, codec, cfg)
	defer tr.Terminate()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		packet, err := tr.ReadPacket()
		if err != nil {
			return
		}
		if packet == nil {
			continue
		}
		req, ok := decodeRequest(codec, packet)
		if !ok || f.mode == silent {
			continue
		}
		if f.mode == staleFirst {
			stale := fakeResPQ(tl.Int128{0xFF})
			if err := tr.WriteBinary(codec.Wrap(frame.Encode(stale.ToBinary(), serverMessageID))); err != nil {
				return
			}
		}
		reply := fakeResPQ(req.Nonce)
		if err := tr.WriteBinary(codec.Wrap(frame.Encode(reply.ToBinary(), serverMessageID+4))); err != nil {
			return
		}
	}
}

func decodeRequest(codec envelope.Codec, packet []byte) (*tl.ReqPQMulti, bool) {
	payload, err := codec.Unwrap(packet)
	if err != nil {
		return nil, false
	}
	env, err := frame.DecodeEnvelope(payload)
	if err != nil {
		return nil, false
	}
	msg, err := tl.NewCodec().Deserialize(env.Body)
	if err != nil {
		return nil, false
	}
	req, ok := msg.(*tl.ReqPQMulti)
	return req, ok
}

func fakeResPQ(nonce tl.Int128) *tl.ResPQ {
	return &tl.ResPQ{
		Nonce:        nonce,
		ServerNonce:  tl.Int128{0x5E, 0x4E},
		PQ:           []byte{0x17, 0xED, 0x48, 0x94, 0x1A, 0x08, 0xF9, 0x81},
		Fingerprints: testFingerprints,
	}
}

func testProbeConfig(dc transport.DataCentre) config.Probe {
	cfg := config.Default()
	cfg.DC = dc
	cfg.Interval = 20 * time.Millisecond
	cfg.Session.ResponseTimeout = 500 * time.Millisecond
	cfg.Session.ResponsePollDelay = time.Millisecond
	cfg.Session.ReadPollTimeout = 5 * time.Millisecond
	cfg.Session.ConnectTimeout = time.Second
	cfg.Session.MaxConnectAttempts = 1
	return cfg
}

func quietDebug() logging.DebugLogger {
	return logging.Func(func(string, string) {})
}

func TestOnceSucceedsAgainstFakeDC(t *testing.T) {
	testlog.Start(t)
	dc := startFakeDC(t, answer, envelope.NameFull)
	p := New(testProbeConfig(dc), WithDebugLogger(quietDebug()))

	res := p.Once(context.Background())
	if !res.OK {
		t.Fatalf("probe failed: %s", res.Err)
	}
	if res.RunID == "" || res.DC != dc {
		t.Fatalf("unexpected result identity: %+v", res)
	}
	if len(res.Fingerprints) != len(testFingerprints) || res.Fingerprints[0] != testFingerprints[0] {
		t.Fatalf("unexpected fingerprints: %v", res.Fingerprints)
	}
	if res.Response == nil || res.Response.ServerNonce != (tl.Int128{0x5E, 0x4E}) {
		t.Fatalf("unexpected response: %+v", res.Response)
	}
	if res.Latency <= 0 {
		t.Fatalf("expected positive latency")
	}
	last, ok := p.Last(dc.ID)
	if !ok || last.RunID != res.RunID {
		t.Fatalf("result not recorded: %+v", last)
	}
}

func TestOnceSkipsResponseForOtherNonce(t *testing.T) {
	testlog.Start(t)
	dc := startFakeDC(t, staleFirst, envelope.NameFull)
	p := New(testProbeConfig(dc), WithDebugLogger(quietDebug()))

	res := p.Once(context.Background())
	if !res.OK {
		t.Fatalf("probe failed: %s", res.Err)
	}
	if res.Response.Nonce == (tl.Int128{0xFF}) {
		t.Fatalf("accepted response for another nonce")
	}
}

func TestOnceOverIntermediateEnvelope(t *testing.T) {
	testlog.Start(t)
	dc := startFakeDC(t, answer, envelope.NameIntermediate)
	cfg := testProbeConfig(dc)
	cfg.Envelope = envelope.NameIntermediate
	p := New(cfg, WithDebugLogger(quietDebug()))

	if res := p.Once(context.Background()); !res.OK {
		t.Fatalf("probe failed: %s", res.Err)
	}
}

func TestOnceTimesOutWhenDCIsSilent(t *testing.T) {
	testlog.Start(t)
	dc := startFakeDC(t, silent, envelope.NameFull)
	cfg := testProbeConfig(dc)
	cfg.Session.ResponseTimeout = 60 * time.Millisecond
	p := New(cfg, WithDebugLogger(quietDebug()))

	res := p.Once(context.Background())
	if res.OK {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(res.Err, messenger.ErrResponseTimeout.Error()) {
		t.Fatalf("expected response timeout, got %q", res.Err)
	}
	if res.Latency < cfg.Session.ResponseTimeout {
		t.Fatalf("returned before the response budget: %v", res.Latency)
	}
}

func TestOnceRecordsDialFailure(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	dc, _ := transport.ParseDataCentre(3, addr)
	p := New(testProbeConfig(dc), WithDebugLogger(quietDebug()))
	res := p.Once(context.Background())
	if res.OK || res.Err == "" {
		t.Fatalf("expected dial failure, got %+v", res)
	}
	if _, ok := p.Last(3); !ok {
		t.Fatalf("failure should be recorded")
	}
}

func TestOnceOverWebSocket(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{Subprotocols: []string{"binary"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apiws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		codec := envelope.NewIntermediate()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if typ != websocket.BinaryMessage {
				continue
			}
			req, ok := decodeRequest(codec, data)
			if !ok {
				continue
			}
			reply := codec.Wrap(frame.Encode(fakeResPQ(req.Nonce).ToBinary(), serverMessageID))
			if err := conn.WriteMessage(websocket.BinaryMessage, reply); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dc, err := transport.ParseDataCentre(2, strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("parse dc: %v", err)
	}
	cfg := testProbeConfig(dc)
	cfg.Transport = transport.KindWebSocket
	cfg.Envelope = envelope.NameIntermediate
	p := New(cfg, WithDebugLogger(quietDebug()))

	if res := p.Once(context.Background()); !res.OK {
		t.Fatalf("probe failed: %s", res.Err)
	}
}

func TestRunProbesUntilCancelled(t *testing.T) {
	testlog.Start(t)
	dc := startFakeDC(t, answer, envelope.NameFull)

	var dials atomic.Int32
	counting := func(ctx context.Context, cfg config.Probe, codec envelope.Codec) (transport.Transport, error) {
		dials.Add(1)
		return Dial(ctx, cfg, codec)
	}
	p := New(testProbeConfig(dc), WithDialer(counting), WithDebugLogger(quietDebug()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for dials.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
	if dials.Load() < 2 {
		t.Fatalf("expected repeated probes, got %d", dials.Load())
	}
	if res, ok := p.Last(dc.ID); !ok || !res.OK {
		t.Fatalf("expected recorded success, got %+v", res)
	}
}

func TestRunRejectsZeroInterval(t *testing.T) {
	testlog.Start(t)
	cfg := config.Default()
	cfg.Interval = 0
	if err := New(cfg).Run(context.Background()); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}

func TestAdminRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	dc := startFakeDC(t, answer, envelope.NameFull)
	p := New(testProbeConfig(dc), WithDebugLogger(quietDebug()))
	h := NewAdmin(p, []string{"http://localhost:3000"}).Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get("/health"); rec.Code != http.StatusOK {
		t.Fatalf("health status: %d", rec.Code)
	}
	if rec := get("/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready before any probe: %d", rec.Code)
	}

	res := p.Once(context.Background())
	if !res.OK {
		t.Fatalf("probe failed: %s", res.Err)
	}

	if rec := get("/ready"); rec.Code != http.StatusOK {
		t.Fatalf("ready after probe: %d", rec.Code)
	}

	rec := get("/probes")
	if rec.Code != http.StatusOK {
		t.Fatalf("probes status: %d", rec.Code)
	}
	var body struct {
		Probes []Result `json:"probes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode probes: %v", err)
	}
	if len(body.Probes) != 1 || body.Probes[0].RunID != res.RunID || !body.Probes[0].OK {
		t.Fatalf("unexpected probes: %+v", body.Probes)
	}

	if rec := get("/probes/2"); rec.Code != http.StatusOK {
		t.Fatalf("probe by dc: %d", rec.Code)
	}
	if rec := get("/probes/9"); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown dc: %d", rec.Code)
	}
	if rec := get("/probes/two"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad dc: %d", rec.Code)
	}

	rec = get("/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tgwire_probe_results_total") {
		t.Fatalf("metrics missing probe counter: %d", rec.Code)
	}
}

func TestAdminServeStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	a := NewAdmin(New(config.Default()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
