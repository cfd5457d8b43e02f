package engine

import (
	"hash/fnv"
	"sync"

	"go.uber.org/zap"
)

// Pool manages a fixed set of serialized engines. A caller key always maps
// to the same engine so that one caller's requests stay in order.
type Pool struct {
	serializers []*Serializer
	mu          sync.RWMutex
	closed      bool
	logger      *zap.Logger
}

// NewEnginePool creates size serializers sharing one engine launcher. The
// engines themselves start lazily on first use.
func NewEnginePool(start StartFunc, size int, opts Options) *Pool {
	if size <= 0 {
		size = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		serializers: make([]*Serializer, size),
		logger:      logger,
	}

	for i := range p.serializers {
		engineOpts := opts
		engineOpts.Logger = logger.With(zap.Int("engine", i))
		p.serializers[i] = NewSerializer(start, engineOpts)
	}

	p.logger.Info("Engine pool initialized", zap.Int("count", size))

	return p
}

// Get returns the serializer for a caller key
func (p *Pool) Get(key string) *Serializer {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.serializers) == 1 {
		return p.serializers[0]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return p.serializers[h.Sum32()%uint32(len(p.serializers))]
}

// Size returns the number of engines in the pool
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.serializers)
}

// States reports the state of every engine in the pool
func (p *Pool) States() []State {
	p.mu.RLock()
	defer p.mu.RUnlock()

	states := make([]State, len(p.serializers))
	for i, s := range p.serializers {
		states[i] = s.State()
	}

	return states
}

// Shutdown closes all engines in the pool
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for i, s := range p.serializers {
		if err := s.Close(); err != nil {
			p.logger.Error("Error closing engine",
				zap.Int("engine", i),
				zap.Error(err))
		}
	}

	p.logger.Info("Engine pool shut down")
}
