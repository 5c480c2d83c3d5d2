package recorder

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/seqalloc"
	"github.com/hworldcom/mdrecorder/internal/writer"
)

// eventSink is the single place recv_seq is stamped for internal events and
// forwarded to the events ledger (and, for gap/mismatch kinds, the optional
// gaps stream too). It implements transport.Sink so the transport layer can
// report ws_open/ws_close/warning without depending on internal/writer
// directly. The allocator is the one piece of shared mutable state besides
// the transport->dispatch channel.
type eventSink struct {
	seq       *seqalloc.Allocator
	fabric    *writer.Fabric
	runID     string
	epochFunc func() int64
	log       zerolog.Logger

	// mu serializes event_id allocation and the ledger write: record is
	// called from both the dispatch goroutine and the transport goroutine,
	// and ledger rows must land in recv_seq order.
	mu      sync.Mutex
	eventID int64
}

func (s *eventSink) Emit(t events.Type, details string) {
	s.record(t, details)
}

func (s *eventSink) record(t events.Type, details string) events.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventID++
	rec := events.Record{
		EventID:    s.eventID,
		RecvTimeMs: time.Now().UnixMilli(),
		RecvSeq:    s.seq.Next(),
		RunID:      s.runID,
		Type:       t,
		EpochID:    s.epochFunc(),
		Details:    details,
	}
	if err := s.fabric.WriteEvent(rec); err != nil {
		s.log.Error().Err(err).Str("event", string(t)).Msg("write event failed")
	}
	if t == events.Gap || t == events.ChecksumMismatch {
		gap := events.GapRecord{
			RecvTimeMs: rec.RecvTimeMs, RecvSeq: rec.RecvSeq,
			RunID: s.runID, EpochID: rec.EpochID, Event: t, Details: details,
		}
		if err := s.fabric.WriteGap(gap); err != nil {
			s.log.Error().Err(err).Msg("write gap failed")
		}
	}
	return rec
}
