package recorder

import (
	"fmt"
	"strings"
	"time"

	"github.com/hworldcom/mdrecorder/internal/config"
	"github.com/hworldcom/mdrecorder/internal/orderbook"
	"github.com/hworldcom/mdrecorder/internal/snapshot"
	"github.com/hworldcom/mdrecorder/internal/syncengine"
	"github.com/hworldcom/mdrecorder/internal/transport"
	"github.com/hworldcom/mdrecorder/internal/wire"
)

const (
	binanceWSBase   = "wss://stream.binance.com:9443"
	binanceRESTBase = "https://api.binance.com"
	krakenWSURL     = "wss://ws.kraken.com/v2"
	bitfinexWSURL   = "wss://api-pub.bitfinex.com/ws/2"
)

// bookDecode is the exchange-agnostic result of decoding one depth frame,
// snapshot or incremental.
type bookDecode struct {
	IsSnapshot bool
	Diff       syncengine.Diff
}

// exchangeAdapter bundles everything that differs by exchange: the transport
// endpoint/classifier/subscriber, frame decoding, the snapshot source, and
// the sync engine variant.
type exchangeAdapter struct {
	wsURL     string
	classify  transport.Classifier
	subscribe transport.Subscriber

	decodeBook  func(kind transport.Kind, raw []byte) (bookDecode, error)
	decodeTrade func(raw []byte) (*tradeFromDecode, error)

	// inBandSnapshot is true for Kraken/Bitfinex: the first snapshot-shaped
	// book frame off the socket is authoritative. False for Binance, which
	// fetches the snapshot over REST independently of the WS stream.
	inBandSnapshot bool
	restSnapshot   snapshot.Source // only set when !inBandSnapshot

	newEngine func(book *orderbook.Depth) (engine, error)
}

func buildExchangeAdapter(cfg *config.Config) (*exchangeAdapter, error) {
	switch cfg.Exchange {
	case config.Binance:
		return buildBinanceAdapter(cfg)
	case config.Kraken:
		return buildKrakenAdapter(cfg)
	case config.Bitfinex:
		return buildBitfinexAdapter(cfg)
	default:
		return nil, fmt.Errorf("recorder: unsupported exchange %q", cfg.Exchange)
	}
}

func buildBinanceAdapter(cfg *config.Config) (*exchangeAdapter, error) {
	streamSymbol := strings.ToLower(config.SymbolFS(cfg.Symbol))
	restSymbol := strings.ToUpper(config.SymbolFS(cfg.Symbol))

	rest := snapshot.NewRESTSource(snapshot.RESTConfig{
		BaseURL: binanceRESTBase, Symbol: restSymbol, Limit: cfg.DepthLevels,
		Timeout: 10 * time.Second, MaxRetries: 3,
		InsecureTLS: cfg.InsecureTLS,
	})

	return &exchangeAdapter{
		wsURL:          wire.BinanceStreamURL(binanceWSBase, streamSymbol),
		classify:       wire.ClassifyBinance,
		subscribe:      nil, // subscription is encoded in the stream URL itself
		inBandSnapshot: false,
		restSnapshot:   rest,
		decodeBook: func(kind transport.Kind, raw []byte) (bookDecode, error) {
			d, err := wire.DecodeBinanceDiff(raw)
			if err != nil {
				return bookDecode{}, err
			}
			return bookDecode{IsSnapshot: false, Diff: *d}, nil
		},
		decodeTrade: wire.DecodeBinanceTrade,
		newEngine: func(book *orderbook.Depth) (engine, error) {
			return seqEngineAdapter{syncengine.NewSeqEngine(book, cfg.MaxBufferWarn)}, nil
		},
	}, nil
}

func buildKrakenAdapter(cfg *config.Config) (*exchangeAdapter, error) {
	flavor, ok := syncengine.NewKrakenFlavor(cfg.DepthLevels)
	if !ok {
		return nil, fmt.Errorf("recorder: DEPTH_LEVELS %d invalid for kraken, must be one of 10/25/100/500/1000", cfg.DepthLevels)
	}
	krakenSymbol := cfg.Symbol

	return &exchangeAdapter{
		wsURL:          krakenWSURL,
		classify:       wire.ClassifyKraken,
		subscribe:      wire.SubscribeKraken(krakenSymbol, cfg.DepthLevels),
		inBandSnapshot: true,
		decodeBook: func(kind transport.Kind, raw []byte) (bookDecode, error) {
			payload, isSnap, err := wire.DecodeKrakenBook(raw)
			if err != nil {
				return bookDecode{}, err
			}
			d, err := wire.DiffFromKrakenUpdate(raw, payload)
			if err != nil {
				return bookDecode{}, err
			}
			return bookDecode{IsSnapshot: isSnap, Diff: *d}, nil
		},
		decodeTrade: func(raw []byte) (*tradeFromDecode, error) {
			price, qty, side, tradeID, eventMs, err := wire.DecodeKrakenTrade(raw)
			if err != nil {
				return nil, err
			}
			return &tradeFromDecode{
				EventTimeMs: eventMs, TradeID: wire.KrakenTradeID(tradeID),
				Price: price, Qty: qty, Side: side, Raw: raw,
			}, nil
		},
		newEngine: func(book *orderbook.Depth) (engine, error) {
			return checksumEngineAdapter{syncengine.NewChecksumEngine(book, flavor)}, nil
		},
	}, nil
}

func buildBitfinexAdapter(cfg *config.Config) (*exchangeAdapter, error) {
	bfxSymbol := "t" + strings.ToUpper(config.SymbolFS(cfg.Symbol))
	flavor := syncengine.BitfinexFlavor{}

	return &exchangeAdapter{
		wsURL:          bitfinexWSURL,
		classify:       wire.ClassifyBitfinex,
		subscribe:      wire.SubscribeBitfinex(bfxSymbol),
		inBandSnapshot: true,
		decodeBook: func(kind transport.Kind, raw []byte) (bookDecode, error) {
			if kind == transport.Snapshot {
				bids, asks, err := wire.DecodeBitfinexBookSnapshot(raw)
				if err != nil {
					return bookDecode{}, err
				}
				return bookDecode{IsSnapshot: true, Diff: syncengine.Diff{Bids: bids, Asks: asks, Raw: raw}}, nil
			}
			d, err := wire.DecodeBitfinexBookUpdate(raw)
			if err != nil {
				return bookDecode{}, err
			}
			return bookDecode{IsSnapshot: false, Diff: *d}, nil
		},
		decodeTrade: func(raw []byte) (*tradeFromDecode, error) {
			id, eventMs, price, qty, side, err := wire.DecodeBitfinexTrade(raw)
			if err != nil {
				return nil, err
			}
			return &tradeFromDecode{EventTimeMs: eventMs, TradeID: id, Price: price, Qty: qty, Side: side, Raw: raw}, nil
		},
		newEngine: func(book *orderbook.Depth) (engine, error) {
			return checksumEngineAdapter{syncengine.NewChecksumEngine(book, flavor)}, nil
		},
	}, nil
}

// checksumFrame decodes a Bitfinex out-of-band "cs" frame into a synthetic
// Diff that carries only the reported checksum, letting ChecksumEngine.OnUpdate
// re-verify the book state already built from preceding update frames.
func checksumFrame(raw []byte) (syncengine.Diff, error) {
	cs, err := wire.DecodeBitfinexChecksum(raw)
	if err != nil {
		return syncengine.Diff{}, err
	}
	return syncengine.Diff{Checksum: &cs, Raw: raw}, nil
}
