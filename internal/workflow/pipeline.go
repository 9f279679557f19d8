package workflow

import (
	"context"
	"log/slog"
	"sync"

	"loadout/internal/detection"
	"loadout/internal/logging"
	"loadout/internal/metrics"
	"loadout/internal/offline"
	"loadout/internal/session"
)

// Pipeline is the single-consumer frame loop for one session. Frames are
// submitted from the capture side and processed strictly in arrival order;
// at most one frame is in flight per session. A frame whose sequence number
// is not newer than the last applied one is discarded so a stale capture can
// never overwrite state established by a newer frame. Frames arriving faster
// than they can be processed spill into a bounded capture backlog that evicts
// oldest-first.
type Pipeline struct {
	manager *Manager
	sess    *session.Session
	opts    ProcessOptions
	logger  *slog.Logger

	frames  chan detection.Frame
	results chan FrameResult
	backlog *offline.Ring
	cancel  context.CancelFunc
	done    chan struct{}

	// mu guards lastSeq and orders the frames channel against the backlog:
	// Submit only bypasses the backlog while it is empty.
	mu      sync.Mutex
	lastSeq uint64
}

// StartPipeline launches the processing loop for a session. The loop stops
// when ctx is cancelled or Stop is called; any frame still in flight has its
// effects discarded.
func (m *Manager) StartPipeline(ctx context.Context, sess *session.Session, opts ProcessOptions) *Pipeline {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		manager: m,
		sess:    sess,
		opts:    opts,
		logger:  logging.NewComponentLogger(m.logger, "pipeline"),
		frames:  make(chan detection.Frame, 8),
		results: make(chan FrameResult, 16),
		backlog: offline.NewRing(m.cfg.Queue.CaptureCapacity),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

// Submit offers a frame to the pipeline without blocking the capture loop.
// When the loop is saturated the frame is held in the capture backlog; at
// backlog capacity the oldest buffered capture is evicted and reported.
// Returns false only when the pipeline has stopped.
func (p *Pipeline) Submit(frame detection.Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}

	p.mu.Lock()
	if p.backlog.Len() == 0 {
		select {
		case p.frames <- frame:
			p.mu.Unlock()
			return true
		default:
		}
	}
	evicted := p.backlog.Push(offline.Capture{
		Seq:        frame.Seq,
		JobID:      p.sess.JobID,
		CapturedAt: frame.CapturedAt,
		Image:      frame.Image,
	})
	p.mu.Unlock()

	if evicted != nil {
		metrics.FramesSkipped.WithLabelValues("backlog_evicted").Inc()
		p.logger.Warn("capture backlog full, oldest frame evicted",
			logging.String(logging.FieldSessionID, p.sess.ID),
			logging.Any(logging.FieldFrameSeq, evicted.Seq),
		)
	}
	return true
}

// Backlog reports how many captures are waiting in the overflow ring.
func (p *Pipeline) Backlog() int {
	return p.backlog.Len()
}

// Results delivers one FrameResult per processed frame, in frame order. The
// channel is closed when the pipeline stops.
func (p *Pipeline) Results() <-chan FrameResult {
	return p.results
}

// Stop cancels the loop. A cloud call already on the wire may still complete
// remotely, but its result is discarded and its budget reservation released.
func (p *Pipeline) Stop() {
	p.cancel()
	<-p.done
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer close(p.results)

	var prevFrame *detection.Frame
	var prevAnalysis *detection.FrameAnalysis

	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-p.frames:
			p.refill()
			if !p.advanceSeq(frame.Seq) {
				metrics.FramesSkipped.WithLabelValues("stale_sequence").Inc()
				p.logger.Debug("stale frame discarded",
					logging.String(logging.FieldSessionID, p.sess.ID),
					logging.Any(logging.FieldFrameSeq, frame.Seq),
				)
				continue
			}

			result, err := p.manager.ProcessFrame(ctx, p.sess, frame, Previous{Frame: prevFrame, Analysis: prevAnalysis}, p.opts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.logger.Warn("frame processing failed",
					logging.String(logging.FieldSessionID, p.sess.ID),
					logging.Any(logging.FieldFrameSeq, frame.Seq),
					logging.Error(err),
				)
				continue
			}

			captured := frame
			prevFrame = &captured
			if !result.Update.Skipped {
				analysis := result.Outcome.Analysis
				prevAnalysis = &analysis
			}

			select {
			case p.results <- result:
			default:
				// A slow consumer loses intermediate results, never session
				// state: the session itself is already updated and saved.
			}
		}
	}
}

// refill moves buffered captures back onto the frames channel in arrival
// order. Runs on the consumer goroutine only, so the capacity check cannot
// race another receiver.
func (p *Pipeline) refill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.backlog.Len() > 0 && len(p.frames) < cap(p.frames) {
		capture := p.backlog.Pop()
		p.frames <- detection.Frame{
			Seq:        capture.Seq,
			CapturedAt: capture.CapturedAt,
			Image:      capture.Image,
		}
	}
}

// advanceSeq admits a frame only if it is strictly newer than every frame
// already applied.
func (p *Pipeline) advanceSeq(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.lastSeq {
		return false
	}
	p.lastSeq = seq
	return true
}
