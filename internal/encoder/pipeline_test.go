package encoder

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/screencapture/internal/compressor"
	"github.com/smazurov/screencapture/internal/compressor/compressortest"
	"github.com/smazurov/screencapture/internal/events"
	"github.com/smazurov/screencapture/internal/media"
	"github.com/smazurov/screencapture/internal/sink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFrame(t *testing.T, width, height int) media.RawFrame {
	t.Helper()
	data := make([]byte, media.PixelFormatNV12.FrameSize(width, height))
	f, err := media.NewFrame(media.PixelFormatNV12, width, height, data)
	if err != nil {
		t.Fatal(err)
	}
	return media.RawFrame{Buffer: f, Width: width, Height: height}
}

// recordingSink keeps every write separately.
type recordingSink struct {
	mu     sync.Mutex
	writes [][]byte
}

func (s *recordingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, bytes.Clone(p))
	return len(p), nil
}

func (s *recordingSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.writes, nil)
}

func (s *recordingSink) Writes() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.writes...)
}

func newTestPipeline(t *testing.T, cfg Config, factory *compressortest.Factory, sink io.Writer) *Pipeline {
	t.Helper()
	p, err := New(cfg, Options{
		ID:      t.Name(),
		Factory: factory,
		Sink:    sink,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func h264Config() Config {
	cfg := DefaultConfig()
	cfg.Codec = CodecH264
	return cfg
}

func TestPipelineH264KeyFrameThenDelta(t *testing.T) {
	fd := compressor.NewFormatDescription(compressor.CodecTypeH264, 64, 64, testSPS, testPPS)
	factory := &compressortest.Factory{Script: compressortest.Sequence(
		compressortest.KeyFrame(fd, []byte{0x65, 0x88}),
		compressortest.DeltaFrame(fd, []byte{0x41, 0x9A}),
	)}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	want := annexB(testSPS, testPPS, []byte{0x65, 0x88}, []byte{0x41, 0x9A})
	if got := sink.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("stream = %x\nwant     %x", got, want)
	}
	if n := len(sink.Writes()); n != 2 {
		t.Errorf("writes = %d, want one per sample", n)
	}
	if !p.ParameterSetsSent() {
		t.Error("parameter sets should be marked as sent")
	}
	stats := p.Stats()
	if stats.FramesSubmitted != 2 || stats.KeyFrames != 1 || stats.DeltaFrames != 1 || stats.NALUnits != 4 {
		t.Errorf("stats = %+v", stats)
	}
	if p.State() != StateClosed {
		t.Errorf("state = %s, want closed", p.State())
	}
}

func TestPipelineHEVCParameterSetOrder(t *testing.T) {
	fd := compressor.NewFormatDescription(compressor.CodecTypeHEVC, 64, 64, testVPS, testSPS, testPPS)
	idr := []byte{0x26, 0x01, 0xAF}
	factory := &compressortest.Factory{Script: compressortest.Sequence(
		compressortest.KeyFrame(fd, idr),
	)}
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.Codec = CodecHEVC
	p := newTestPipeline(t, cfg, factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	want := annexB(testVPS, testSPS, testPPS, idr)
	if got := sink.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("stream = %x\nwant     %x", got, want)
	}
}

func TestPipelineHEVCKeyFrameThenDeltas(t *testing.T) {
	fd := compressor.NewFormatDescription(compressor.CodecTypeHEVC, 64, 64, testVPS, testSPS, testPPS)
	unit1a := []byte{0x26, 0x01, 0xA1}
	unit1b := []byte{0x26, 0x01, 0xB1}
	unit2 := []byte{0x02, 0x01, 0x02}
	unit3 := []byte{0x02, 0x01, 0x03}
	factory := &compressortest.Factory{Script: compressortest.Sequence(
		compressortest.KeyFrame(fd, unit1a, unit1b),
		compressortest.DeltaFrame(fd, unit2),
		compressortest.DeltaFrame(fd, unit3),
	)}
	sink := &recordingSink{}
	cfg := DefaultConfig()
	cfg.Codec = CodecHEVC
	p := newTestPipeline(t, cfg, factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	want := annexB(testVPS, testSPS, testPPS, unit1a, unit1b, unit2, unit3)
	if got := sink.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("stream = %x\nwant     %x", got, want)
	}
	if stats := p.Stats(); stats.NALUnits != 7 || stats.KeyFrames != 1 || stats.DeltaFrames != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPipelineParameterSetsBeforeEveryKeyFrame(t *testing.T) {
	fd := compressor.NewFormatDescription(compressor.CodecTypeH264, 64, 64, testSPS, testPPS)
	factory := &compressortest.Factory{Script: func(n int, _ media.RawFrame) compressor.Output {
		if n%3 == 0 {
			return compressortest.KeyFrame(fd, []byte{0x65, byte(n)})
		}
		return compressortest.DeltaFrame(fd, []byte{0x41, byte(n)})
	}}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	for range 9 {
		if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	writes := sink.Writes()
	if len(writes) != 9 {
		t.Fatalf("writes = %d, want 9", len(writes))
	}
	paramSets := annexB(testSPS, testPPS)
	for i, w := range writes {
		hasParams := bytes.HasPrefix(w, paramSets)
		if (i%3 == 0) != hasParams {
			t.Errorf("sample %d: parameter sets present = %v", i, hasParams)
		}
	}
}

func TestPipelineKeyFrameWithoutParameterSets(t *testing.T) {
	fd := compressor.NewFormatDescription(compressor.CodecTypeH264, 64, 64, testSPS)
	fd.AddParameterSet(nil, errors.New("unavailable"))
	factory := &compressortest.Factory{Script: compressortest.Sequence(
		compressortest.KeyFrame(fd, []byte{0x65}),
	)}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	// No partial parameter sets; the frame itself is still written.
	if got, want := sink.Bytes(), annexB([]byte{0x65}); !bytes.Equal(got, want) {
		t.Errorf("stream = %x, want %x", got, want)
	}
	if p.ParameterSetsSent() {
		t.Error("parameter sets must not be marked as sent")
	}
}

func TestPipelineSkipsFailedOutputs(t *testing.T) {
	fd := compressor.NewFormatDescription(compressor.CodecTypeH264, 64, 64, testSPS, testPPS)
	factory := &compressortest.Factory{Script: compressortest.Sequence(
		compressortest.Dropped(),
		compressortest.Failed(compressor.StatusEncodeFail),
		compressortest.DeltaFrame(fd, []byte{0x41, 0x01}),
	)}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	if got, want := sink.Bytes(), annexB([]byte{0x41, 0x01}); !bytes.Equal(got, want) {
		t.Errorf("stream = %x, want %x", got, want)
	}
	if stats := p.Stats(); stats.FramesDropped != 2 {
		t.Errorf("dropped = %d, want 2", stats.FramesDropped)
	}
}

func TestPipelineDroppedFrameBetweenDeltas(t *testing.T) {
	fd := compressor.NewFormatDescription(compressor.CodecTypeH264, 64, 64, testSPS, testPPS)
	factory := &compressortest.Factory{Script: compressortest.Sequence(
		compressortest.KeyFrame(fd, []byte{0x65, 0x01}),
		compressortest.DeltaFrame(fd, []byte{0x41, 0x02}),
		compressortest.Dropped(),
		compressortest.DeltaFrame(fd, []byte{0x41, 0x04}),
	)}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	for range 4 {
		if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	writes := sink.Writes()
	want := [][]byte{
		annexB(testSPS, testPPS, []byte{0x65, 0x01}),
		annexB([]byte{0x41, 0x02}),
		annexB([]byte{0x41, 0x04}),
	}
	if len(writes) != len(want) {
		t.Fatalf("writes = %d, want %d", len(writes), len(want))
	}
	for i := range want {
		if !bytes.Equal(writes[i], want[i]) {
			t.Errorf("write %d = %x, want %x", i, writes[i], want[i])
		}
	}
	if stats := p.Stats(); stats.FramesSubmitted != 4 || stats.FramesDropped != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPipelineStatsPerInstance(t *testing.T) {
	factory := &compressortest.Factory{Script: compressortest.Sequence()}
	first := newTestPipeline(t, h264Config(), factory, &recordingSink{})
	if err := first.Start(); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		if err := first.Submit(newTestFrame(t, 64, 64)); err != nil {
			t.Fatal(err)
		}
	}

	// Same ID, built while the first one is still running.
	second := newTestPipeline(t, h264Config(), factory, &recordingSink{})
	if err := first.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := second.Start(); err != nil {
		t.Fatal(err)
	}
	if err := second.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Fatal(err)
	}
	if err := second.Stop(); err != nil {
		t.Fatal(err)
	}

	if s := first.Stats(); s.FramesSubmitted != 5 || s.DeltaFrames != 5 || s.State != int(StateClosed) {
		t.Errorf("first stats = %+v", s)
	}
	if s := second.Stats(); s.FramesSubmitted != 1 || s.DeltaFrames != 1 {
		t.Errorf("second stats = %+v", s)
	}
}

func TestPipelineMalformedTail(t *testing.T) {
	out := compressortest.DeltaFrame(nil, []byte{0x41, 0x02})
	out.Sample.Data = append(out.Sample.Data, 0x00, 0x00, 0x00, 0x05, 0x01)
	factory := &compressortest.Factory{Script: compressortest.Sequence(out)}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	if got, want := sink.Bytes(), annexB([]byte{0x41, 0x02}); !bytes.Equal(got, want) {
		t.Errorf("stream = %x, want %x", got, want)
	}
	if stats := p.Stats(); stats.Errors != 1 {
		t.Errorf("errors = %d, want 1", stats.Errors)
	}
}

func TestPipelineStopDrainsInFlightFrames(t *testing.T) {
	factory := &compressortest.Factory{
		Script: compressortest.Sequence(),
		Delay:  5 * time.Millisecond,
	}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	const frames = 10
	for range frames {
		if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	if n := len(sink.Writes()); n != frames {
		t.Errorf("writes after Stop = %d, want %d", n, frames)
	}
	fake := factory.Sessions()[0]
	if fake.CompleteCalls() != 1 || !fake.Invalidated() {
		t.Errorf("complete calls = %d, invalidated = %v", fake.CompleteCalls(), fake.Invalidated())
	}
}

// flushingSink counts Flush calls.
type flushingSink struct {
	recordingSink
	flushes int
}

func (s *flushingSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func TestPipelineStopFlushesTeeOutputs(t *testing.T) {
	file, copyOut := &flushingSink{}, &flushingSink{}
	tee := sink.NewTee(discardLogger())
	tee.Add("file", file)
	tee.Add("copy", copyOut)

	factory := &compressortest.Factory{Script: compressortest.Sequence()}
	p := newTestPipeline(t, h264Config(), factory, tee)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	for name, out := range map[string]*flushingSink{"file": file, "copy": copyOut} {
		if out.flushes != 1 || len(out.Writes()) != 1 {
			t.Errorf("%s: flushes = %d, writes = %d", name, out.flushes, len(out.Writes()))
		}
	}
}

func TestPipelineSubmitOutsideCapture(t *testing.T) {
	factory := &compressortest.Factory{Script: compressortest.Sequence()}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)

	if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Fatalf("submit before start: %v", err)
	}
	if len(factory.Sessions()) != 0 {
		t.Fatal("frame before Start must not create a session")
	}

	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Fatalf("submit after stop: %v", err)
	}
	if len(factory.Sessions()) != 0 || len(sink.Writes()) != 0 {
		t.Error("frames outside capture must be discarded")
	}
}

func TestPipelineLifecycleErrors(t *testing.T) {
	p := newTestPipeline(t, h264Config(), &compressortest.Factory{}, &recordingSink{})

	if err := p.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop before Start = %v, want ErrNotStarted", err)
	}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := p.Stop(); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}
	if err := p.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}
}

func TestPipelineSessionCreateFailure(t *testing.T) {
	bus := events.New()
	published := make(chan events.PipelineErrorEvent, 1)
	unsub := bus.Subscribe(func(e events.PipelineErrorEvent) { published <- e })
	defer unsub()

	factory := &compressortest.Factory{CreateErr: &compressor.StatusError{Op: "create", Status: -12915}}
	p, err := New(h264Config(), Options{
		ID:      t.Name(),
		Factory: factory,
		Sink:    &recordingSink{},
		Bus:     bus,
		Logger:  discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}

	if err := p.Submit(newTestFrame(t, 64, 64)); !errors.Is(err, ErrSessionCreateFailed) {
		t.Fatalf("Submit = %v, want ErrSessionCreateFailed", err)
	}
	select {
	case err := <-p.Errors():
		if !errors.Is(err, ErrSessionCreateFailed) {
			t.Errorf("Errors() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("no fatal error reported")
	}
	select {
	case e := <-published:
		if e.Status != -12915 {
			t.Errorf("event status = %d, want -12915", e.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("no PipelineErrorEvent published")
	}

	// Capture is off: later frames are discarded without another attempt.
	if err := p.Submit(newTestFrame(t, 64, 64)); err != nil {
		t.Errorf("Submit after failure = %v, want nil", err)
	}
	if n := len(factory.Properties()); n != 1 {
		t.Errorf("session creation attempts = %d, want 1", n)
	}
	if p.State() != StateClosed {
		t.Errorf("state = %s, want closed", p.State())
	}
	if err := p.Stop(); err != nil {
		t.Errorf("Stop after failure = %v", err)
	}
}

func TestPipelineBufferLockedDuringHandOff(t *testing.T) {
	factory := &compressortest.Factory{Script: compressortest.Sequence()}
	p := newTestPipeline(t, h264Config(), factory, &recordingSink{})
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}

	frame := newTestFrame(t, 64, 64)
	for range 3 {
		if err := p.Submit(frame); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	if n := factory.Sessions()[0].LockedSubmissions(); n != 3 {
		t.Errorf("locked submissions = %d, want 3", n)
	}
	// The lock is released after each hand-off.
	if err := frame.Buffer.Lock(false); err != nil {
		t.Errorf("buffer still locked after Submit: %v", err)
	} else {
		frame.Buffer.Unlock(false)
	}
}

func TestPipelineConcurrentSubmitCreatesOneSession(t *testing.T) {
	factory := &compressortest.Factory{Script: compressortest.Sequence()}
	sink := &recordingSink{}
	p := newTestPipeline(t, h264Config(), factory, sink)
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if err := p.Submit(newTestFrame(t, 32, 32)); err != nil {
					t.Error(err)
				}
			}
		}()
	}
	wg.Wait()
	if err := p.Stop(); err != nil {
		t.Fatal(err)
	}

	if n := len(factory.Sessions()); n != 1 {
		t.Errorf("sessions = %d, want 1", n)
	}
	if n := len(sink.Writes()); n != 80 {
		t.Errorf("writes = %d, want 80", n)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		opts Options
	}{
		{"no factory", h264Config(), Options{Sink: &recordingSink{}}},
		{"no sink", h264Config(), Options{Factory: &compressortest.Factory{}}},
		{"bad codec", Config{Codec: "vp9"}, Options{Factory: &compressortest.Factory{}, Sink: &recordingSink{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}
