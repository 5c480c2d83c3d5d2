package recorder

import (
	"github.com/hworldcom/mdrecorder/internal/events"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
	"github.com/hworldcom/mdrecorder/internal/syncengine"
)

// snapshotInput is the exchange-agnostic container the orchestrator builds
// from either a snapshot.Snapshot (Binance REST) or an in-band book frame
// (Kraken/Bitfinex) before handing it to an engine adapter.
type snapshotInput struct {
	Bids, Asks   []orderbook.Level
	LastUpdateID int64
	Checksum     *uint32
}

// engine unifies SeqEngine and ChecksumEngine behind one call shape so the
// dispatch loop in recorder.go doesn't need to know which variant is active:
// another sum-type interface one level up from internal/syncengine.Engine
// (which already unifies State/Reset/BeginSnapshot).
type engine interface {
	syncengine.Engine
	OnUpdate(d syncengine.Diff) (syncengine.Action, error)
	OnSnapshot(in snapshotInput, epoch int64) (synced bool, err error)
}

type seqEngineAdapter struct {
	*syncengine.SeqEngine
}

func (a seqEngineAdapter) OnSnapshot(in snapshotInput, epoch int64) (bool, error) {
	return a.SeqEngine.OnSnapshot(in.Bids, in.Asks, in.LastUpdateID, epoch)
}

type checksumEngineAdapter struct {
	*syncengine.ChecksumEngine
}

func (a checksumEngineAdapter) OnSnapshot(in snapshotInput, epoch int64) (bool, error) {
	if err := a.ChecksumEngine.OnSnapshot(in.Bids, in.Asks, epoch, in.Checksum); err != nil {
		return false, err
	}
	return true, nil
}

var (
	_ engine = seqEngineAdapter{}
	_ engine = checksumEngineAdapter{}
)

// tradeFromDecode is the exchange-agnostic trade shape wire decoders
// produce; the orchestrator stamps RecvTimeMs/RecvSeq before writing it.
type tradeFromDecode = events.Trade
