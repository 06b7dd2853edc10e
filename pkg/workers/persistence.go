package workers

import (
	"context"
	"time"

	"github.com/duskworks/coopcore/pkg/inventory"
	"github.com/duskworks/coopcore/pkg/log"
	"github.com/duskworks/coopcore/pkg/metrics"
	"github.com/duskworks/coopcore/pkg/store"
)

type PersistenceWorker struct {
	repository  store.Repository
	saveChan    <-chan inventory.SaveRequest
	txnChan     <-chan inventory.TransactionRecord
	metrics     *metrics.Registry
	flushPeriod time.Duration

	// pending coalesces save requests between flushes so a chatty peer
	// produces one write per period.
	pending map[uint32]inventory.SaveRequest
}

type NewPersistenceWorkerOptions struct {
	Repository  store.Repository
	SaveChan    <-chan inventory.SaveRequest
	TxnChan     <-chan inventory.TransactionRecord
	Metrics     *metrics.Registry
	FlushPeriod time.Duration
}

// NewPersistenceWorker creates a worker that writes inventory snapshots and
// transfer transaction records through to the repository. Snapshots are
// coalesced per peer and flushed on a timer; transaction records are
// appended immediately.
func NewPersistenceWorker(opts NewPersistenceWorkerOptions) *PersistenceWorker {
	flushPeriod := opts.FlushPeriod
	if flushPeriod == 0 {
		flushPeriod = time.Second
	}
	return &PersistenceWorker{
		repository:  opts.Repository,
		saveChan:    opts.SaveChan,
		txnChan:     opts.TxnChan,
		metrics:     opts.Metrics,
		flushPeriod: flushPeriod,
		pending:     make(map[uint32]inventory.SaveRequest),
	}
}

func (w *PersistenceWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.flushPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case saveRequest := <-w.saveChan:
			w.pending[uint32(saveRequest.PeerID)] = saveRequest
		case record := <-w.txnChan:
			w.appendTransaction(ctx, record)
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *PersistenceWorker) flush(ctx context.Context) {
	for key, saveRequest := range w.pending {
		if err := w.repository.SaveInventory(ctx, saveRequest.Snapshot); err != nil {
			log.Error("Failed to save inventory for peer %d: %v", saveRequest.PeerID, err)
			continue
		}
		w.metrics.Inc("workers.inventory_saves")
		delete(w.pending, key)
	}
}

func (w *PersistenceWorker) appendTransaction(ctx context.Context, record inventory.TransactionRecord) {
	if err := w.repository.AppendTransaction(ctx, record); err != nil {
		log.Error("Failed to append transaction record: %v", err)
		return
	}
	w.metrics.Inc("workers.transactions_logged")
}
