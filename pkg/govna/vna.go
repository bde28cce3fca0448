package govna

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DeviceLink - канал к прибору, которым владеет VNA.
type DeviceLink interface {
	Commander
	Close() error
}

// VNA - единственный владелец канала к одному прибору. Одновременно выполняется
// не более одного сканирования; параллельный запрос отклоняется с ErrLinkBusy.
type VNA struct {
	link    DeviceLink
	info    DeviceInfo
	busy    *semaphore.Weighted
	opts    []CoordinatorOption
	log     zerolog.Logger
	metrics *Metrics

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc // отмена текущего сканирования
	last   *Sweep
	tdr    map[float64]*TDRResult
}

// VNAOption настраивает VNA.
type VNAOption func(*VNA)

// WithSweepOptions задает параметры координатора для каждого сканирования.
func WithSweepOptions(opts ...CoordinatorOption) VNAOption {
	return func(v *VNA) { v.opts = append(v.opts, opts...) }
}

func WithVNALogger(log zerolog.Logger) VNAOption {
	return func(v *VNA) { v.log = log }
}

func WithVNAMetrics(m *Metrics) VNAOption {
	return func(v *VNA) { v.metrics = m }
}

func NewVNA(link DeviceLink, info DeviceInfo, opts ...VNAOption) *VNA {
	v := &VNA{
		link: link,
		info: info,
		busy: semaphore.NewWeighted(1),
		log:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.info.MaxSegmentPoints < 2 {
		v.info.MaxSegmentPoints = DefaultSegmentPoints
	}
	return v
}

func (v *VNA) Info() DeviceInfo { return v.info }

// Sweep выполняет новое сканирование. Успешный результат заменяет предыдущий
// и сбрасывает кэш TDR. Close прерывает сканирование на границе сегментов.
func (v *VNA) Sweep(ctx context.Context, cfg SweepConfig) (*Sweep, error) {
	if !v.busy.TryAcquire(1) {
		return nil, ErrLinkBusy
	}
	defer v.busy.Release(1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil, fmt.Errorf("%w: устройство закрыто", ErrLinkDisconnected)
	}
	v.cancel = cancel
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.cancel = nil
		v.mu.Unlock()
	}()

	opts := make([]CoordinatorOption, 0, len(v.opts)+3)
	opts = append(opts,
		WithMaxSegmentPoints(v.info.MaxSegmentPoints),
		WithLogger(v.log),
		WithMetrics(v.metrics),
	)
	opts = append(opts, v.opts...)

	sweep, err := NewCoordinator(v.link, opts...).Run(ctx, cfg)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.last = sweep
	v.tdr = nil
	v.mu.Unlock()
	return sweep, nil
}

// LastSweep возвращает последнее успешное сканирование или nil.
func (v *VNA) LastSweep() *Sweep {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.last
}

// TDR рассчитывает рефлектограмму по последнему сканированию. Результат
// кэшируется по коэффициенту укорочения до следующего сканирования.
func (v *VNA) TDR(velocityFactor float64, opts ...TDROption) (*TDRResult, error) {
	v.mu.RLock()
	sweep := v.last
	cached := v.tdr[velocityFactor]
	v.mu.RUnlock()

	if sweep == nil {
		return nil, fmt.Errorf("%w: сканирование еще не выполнялось", ErrInsufficientPoints)
	}
	if cached != nil && len(opts) == 0 {
		return cached, nil
	}

	res, err := ComputeTDR(sweep, velocityFactor, opts...)
	if err != nil {
		return nil, err
	}
	v.metrics.tdrPeak(res.PeakDistance)

	if len(opts) == 0 {
		v.mu.Lock()
		if v.last == sweep {
			if v.tdr == nil {
				v.tdr = make(map[float64]*TDRResult)
			}
			v.tdr[velocityFactor] = res
		}
		v.mu.Unlock()
	}
	return res, nil
}

// Close прерывает текущее сканирование, дожидается его завершения и закрывает канал.
// Повторный вызов ничего не делает.
func (v *VNA) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	if v.cancel != nil {
		v.cancel()
	}
	v.mu.Unlock()

	// Дожидаемся завершения текущего сканирования.
	if err := v.busy.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer v.busy.Release(1)
	return v.link.Close()
}
