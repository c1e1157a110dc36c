// Package pardecode runs packet decoding across a bounded worker pool while
// guaranteeing the caller always receives decoded sample batches in the
// exact order packets were submitted, regardless of which goroutine
// finishes first. Decode parallelism must never perturb the sample order
// the analyzer's windowing depends on.
package pardecode

import "sync"

// DefaultQueueCapacity bounds how many in-flight decodes the pool allows
// before AddPacket blocks, capping peak memory when one worker stalls on a
// slow packet while others race ahead.
const DefaultQueueCapacity = 128

// DefaultBatchSize is the number of packets a producer should gather
// before handing them to AddPacket in a loop; it has no effect on Decoder
// itself; it's the dispatch granularity recommended to callers (see
// decode.readAllChunks-style producers) to amortize goroutine cost.
const DefaultBatchSize = 64

// DecodeFunc decodes one raw packet into interleaved f32 samples.
type DecodeFunc func(raw []byte) ([]float32, error)

// Decoder is an ordered parallel decode pool. Each in-flight decode runs
// its own DecodeFunc instance (from newWorker), so a worker body may keep
// per-decode state without sharing it across goroutines.
type Decoder struct {
	newWorker func() DecodeFunc
	sem       chan struct{}

	mu           sync.Mutex
	cond         *sync.Cond
	reorder      map[int][]float32
	errs         map[int]error
	nextSubmit   int
	nextExpected int
	wg           sync.WaitGroup
}

// New returns a Decoder. newWorker is called once per submitted packet to
// get a fresh DecodeFunc; queueCapacity bounds outstanding decodes and
// defaults to DefaultQueueCapacity when <= 0.
func New(newWorker func() DecodeFunc, queueCapacity int) *Decoder {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	d := &Decoder{
		newWorker: newWorker,
		sem:       make(chan struct{}, queueCapacity),
		reorder:   make(map[int][]float32),
		errs:      make(map[int]error),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// AddPacket submits raw for decoding on the worker pool. It may block if
// queueCapacity decodes are already outstanding. The packet's position in
// submission order is tracked internally; NextSamples and DrainAllSamples
// return results in that order, not completion order.
func (d *Decoder) AddPacket(raw []byte) {
	d.mu.Lock()
	seq := d.nextSubmit
	d.nextSubmit++
	d.mu.Unlock()

	d.sem <- struct{}{}
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()

		worker := d.newWorker()
		samples, err := worker(raw)

		d.mu.Lock()
		if err != nil {
			d.errs[seq] = err
		} else {
			d.reorder[seq] = samples
		}
		d.cond.Broadcast()
		d.mu.Unlock()
	}()
}

// NextSamples returns the decoded batch for the next expected sequence
// position if it has already completed. ok is false when that position
// hasn't finished decoding yet (the caller should submit more packets or
// wait). A non-nil err means that position's packet failed to decode; the
// sequence counter still advances so later positions remain reachable.
func (d *Decoder) NextSamples() (samples []float32, err error, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.takeNextLocked()
}

func (d *Decoder) takeNextLocked() ([]float32, error, bool) {
	if e, found := d.errs[d.nextExpected]; found {
		delete(d.errs, d.nextExpected)
		d.nextExpected++
		return nil, e, true
	}
	if s, found := d.reorder[d.nextExpected]; found {
		delete(d.reorder, d.nextExpected)
		d.nextExpected++
		return s, nil, true
	}
	return nil, nil, false
}

// FlushRemaining blocks until every packet submitted so far has finished
// decoding (success or error), without consuming any results. Call it
// before a final NextSamples/DrainAllSamples sweep once no more packets
// will be added.
func (d *Decoder) FlushRemaining() {
	d.wg.Wait()
}

// DrainAllSamples waits for all outstanding decodes to finish, then
// concatenates every buffered batch in submission order. It stops and
// returns the first per-packet error encountered, along with whatever
// samples decoded successfully before it; callers that want to keep going
// past a bad packet should loop on NextSamples instead.
func (d *Decoder) DrainAllSamples() ([]float32, error) {
	d.FlushRemaining()

	d.mu.Lock()
	defer d.mu.Unlock()

	var out []float32
	for {
		s, err, ok := d.takeNextLocked()
		if !ok {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, s...)
	}
	return out, nil
}
