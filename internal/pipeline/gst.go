package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// gstSource decodes a PipeWire screen-cast stream into PNG frames.
//
// Pipeline structure:
//
//	pipewiresrc → videoconvert → capsfilter(RGB) → pngenc → appsink
//
// The appsink keeps only the latest buffer and drops older ones, so
// the encode side never builds a backlog when the consumer is slow.
type gstSource struct {
	node uint32

	mu       sync.Mutex
	pipeline *gst.Pipeline
	sink     *app.Sink
	fatalErr error
	fatal    chan struct{}
	stopc    chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

func newGstSource(node uint32) *gstSource {
	return &gstSource{
		node:  node,
		fatal: make(chan struct{}),
		stopc: make(chan struct{}),
	}
}

// Start builds the pipeline, wires emit as the new-sample callback and
// sets the pipeline PLAYING. A bus monitor goroutine watches for fatal
// pipeline messages until Stop.
func (g *gstSource) Start(emit func(Frame)) error {
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}

	src, err := gst.NewElement("pipewiresrc")
	if err != nil {
		return fmt.Errorf("create pipewiresrc: %w", err)
	}
	src.SetProperty("path", strconv.FormatUint(uint64(g.node), 10))

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return fmt.Errorf("create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0)

	// Lock the encoder input to RGB so caps negotiation cannot drift
	// into a format pngenc rejects.
	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return fmt.Errorf("create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString("video/x-raw,format=RGB"))

	encoder, err := gst.NewElement("pngenc")
	if err != nil {
		return fmt.Errorf("create pngenc: %w", err)
	}
	encoder.SetProperty("snapshot", false)

	appsink, err := app.NewAppSink()
	if err != nil {
		return fmt.Errorf("create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)
	appsink.SetProperty("max-buffers", 1)
	appsink.SetProperty("drop", true)

	pipeline.AddMany(src, converter, capsfilter, encoder, appsink.Element)
	if err := gst.ElementLinkMany(src, converter, capsfilter, encoder, appsink.Element); err != nil {
		return fmt.Errorf("link pipeline elements: %w", err)
	}

	appsink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return onNewSample(sink, emit)
		},
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("start pipeline: %w", err)
	}

	g.mu.Lock()
	g.pipeline = pipeline
	g.sink = appsink
	g.mu.Unlock()

	g.wg.Add(1)
	go g.monitor()

	slog.Info("pipeline: decode pipeline started", "node", g.node)
	return nil
}

// onNewSample copies one encoded frame out of the appsink. Corrupt or
// empty samples are skipped; a single bad frame must not kill the
// stream.
func onNewSample(sink *app.Sink, emit func(Frame)) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("pipeline: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("pipeline: sample carries no buffer, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("pipeline: empty buffer received")
		return gst.FlowOK
	}
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	frame := Frame{Data: frameData}
	frame.Width, frame.Height = sampleSize(sample)
	emit(frame)
	return gst.FlowOK
}

// sampleSize reads the negotiated dimensions from the sample caps.
// Zero values mean the caps carried no size; the channel falls back to
// the PNG header.
func sampleSize(sample *gst.Sample) (width, height int) {
	caps := sample.GetCaps()
	if caps == nil {
		return 0, 0
	}
	structure := caps.GetStructureAt(0)
	if structure == nil {
		return 0, 0
	}
	if v, err := structure.GetValue("width"); err == nil {
		width, _ = asInt(v)
	}
	if v, err := structure.GetValue("height"); err == nil {
		height, _ = asInt(v)
	}
	return width, height
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case uint32:
		return int(n), true
	default:
		return 0, false
	}
}

// monitor drains the pipeline bus until Stop. The first fatal message
// is recorded and published through the Fatal channel; the monitor
// then exits, the pipeline is already dead at that point.
func (g *gstSource) monitor() {
	defer g.wg.Done()

	g.mu.Lock()
	pipeline := g.pipeline
	g.mu.Unlock()
	bus := pipeline.GetPipelineBus()

	for {
		select {
		case <-g.stopc:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("pipeline: unexpected end of stream", "node", g.node)
			g.setFatal(errors.New("stream ended"))
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("pipeline: fatal pipeline error",
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"node", g.node,
			)
			g.setFatal(errors.New(gerr.Error()))
			return

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, next := msg.ParseStateChanged()
				slog.Debug("pipeline: state changed", "from", old, "to", next)
			}
		}
	}
}

func (g *gstSource) setFatal(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fatalErr != nil {
		return
	}
	g.fatalErr = err
	close(g.fatal)
}

// Fatal is closed on the first unrecoverable pipeline failure.
func (g *gstSource) Fatal() <-chan struct{} { return g.fatal }

// Err returns the recorded fatal error, nil while the pipeline is
// healthy.
func (g *gstSource) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fatalErr
}

// Stop sets the pipeline to NULL and waits for the bus monitor to
// exit. Idempotent and safe on a source that never started.
func (g *gstSource) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	pipeline := g.pipeline
	g.mu.Unlock()

	close(g.stopc)
	if pipeline != nil {
		if err := pipeline.SetState(gst.StateNull); err != nil {
			slog.Warn("pipeline: teardown failed", "error", err)
		}
	}
	g.wg.Wait()
	slog.Debug("pipeline: decode pipeline stopped", "node", g.node)
}
