package masswhois

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DispatcherConfig configures a Dispatcher's slot pool and query policy.
type DispatcherConfig struct {
	Concurrency         int
	IPConfig            IPConfig
	InferTypes          bool
	InferServers        bool
	AvailabilityEnabled bool
	ExplicitServer      string
	QueryTimeout        time.Duration
}

// Dispatcher feeds queries from a QuerySupplier into a fixed-width pool of
// worker goroutines ("slots"), each running one conversation to
// completion at a time, and forwards every Result to a Handler in
// whatever order the slots finish (no ordering guarantee is made or
// needed).
type Dispatcher struct {
	cfg      DispatcherConfig
	db       *QueryDatabase
	resolver *Resolver
	supplier QuerySupplier
	handler  Handler
	metrics  *Metrics
}

// NewDispatcher wires together a query database, a resolver, a query
// source and an output handler behind the fixed-size slot pool described
// by cfg.
func NewDispatcher(cfg DispatcherConfig, db *QueryDatabase, resolver *Resolver, supplier QuerySupplier, handler Handler, metrics *Metrics) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	return &Dispatcher{cfg: cfg, db: db, resolver: resolver, supplier: supplier, handler: handler, metrics: metrics}
}

// Run starts cfg.Concurrency slots, each pulling queries from the
// supplier until it is exhausted, and blocks until every slot has drained
// and every result has been handed to the handler. It returns the first
// error the handler reports, if any; a per-query conversation failure is
// not itself a Run error, it is reported inside that query's Result.
func (d *Dispatcher) Run(ctx context.Context) error {
	queryCh := make(chan WhoisQuery, d.cfg.Concurrency)
	resultCh := make(chan Result, d.cfg.Concurrency)

	var feedWG sync.WaitGroup
	feedWG.Add(1)
	go func() {
		defer feedWG.Done()
		defer close(queryCh)
		for {
			raw, ok := d.supplier.Next()
			if !ok {
				return
			}
			query := NewWhoisQuery(raw, d.cfg.InferTypes)
			select {
			case queryCh <- query:
			case <-ctx.Done():
				return
			}
		}
	}()

	var slotWG sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		slot := &whoisSlot{
			index:               i,
			db:                  d.db,
			resolver:            d.resolver,
			ipConfig:            d.cfg.IPConfig,
			inferServers:        d.cfg.InferServers,
			availabilityEnabled: d.cfg.AvailabilityEnabled,
			explicitServer:      d.cfg.ExplicitServer,
		}
		slotWG.Add(1)
		go d.runSlot(ctx, slot, queryCh, resultCh, &slotWG)
	}

	go func() {
		slotWG.Wait()
		close(resultCh)
	}()

	var handleErr error
	for result := range resultCh {
		d.metrics.recordResult(result)
		if err := d.handler.Handle(result); err != nil && handleErr == nil {
			handleErr = err
		}
	}
	feedWG.Wait()
	return handleErr
}

func (d *Dispatcher) runSlot(ctx context.Context, slot *whoisSlot, queryCh <-chan WhoisQuery, resultCh chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case query, ok := <-queryCh:
			if !ok {
				return
			}
			d.driveOne(ctx, slot, query, resultCh)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) driveOne(ctx context.Context, slot *whoisSlot, query WhoisQuery, resultCh chan<- Result) {
	if d.metrics != nil {
		d.metrics.ActiveSlots.Inc()
		d.metrics.QueriesTotal.Inc()
		defer d.metrics.ActiveSlots.Dec()
	}

	queryCtx, cancel := context.WithTimeout(ctx, d.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	result := slot.run(queryCtx, query)
	if d.metrics != nil {
		d.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	}

	Log.WithFields(logrus.Fields{
		"slot":         slot.index,
		"query":        query.String(),
		"server":       result.Server,
		"hops":         result.Hops,
		"availability": result.Availability,
	}).Debug("query completed")

	select {
	case resultCh <- result:
	case <-ctx.Done():
	}
}
