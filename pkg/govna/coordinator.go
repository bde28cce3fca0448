package govna

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultRetryBound - сколько раз повторяется запрос сегмента после восстановимой ошибки.
const DefaultRetryBound = 2

// scanOutmask запрашивает у прибора частоту, S11 и S21 в каждой строке.
const scanOutmask = 7

// State - состояние координатора сканирования.
type State int

const (
	StateIdle State = iota
	StatePartitioning
	StateRequestingSegment
	StateAwaitingResponse
	StateMergingSegment
	StateComplete
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StatePartitioning:      "partitioning",
	StateRequestingSegment: "requesting_segment",
	StateAwaitingResponse:  "awaiting_response",
	StateMergingSegment:    "merging_segment",
	StateComplete:          "complete",
	StateFailed:            "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal сообщает, является ли состояние конечным.
func (s State) Terminal() bool { return s == StateComplete || s == StateFailed }

// Coordinator собирает одно сканирование из сегментов. Экземпляр одноразовый:
// после Complete или Failed повторный Run возвращает ErrCoordinatorUsed.
type Coordinator struct {
	link       Commander
	id         string
	maxPoints  int
	retryBound int
	retryDelay time.Duration
	limit      float64
	log        zerolog.Logger
	metrics    *Metrics

	mu       sync.Mutex
	state    State
	used     bool
	attempts []int
}

// CoordinatorOption настраивает Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxSegmentPoints задает предельное число точек в одной команде прибора.
func WithMaxSegmentPoints(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxPoints = n
		}
	}
}

// WithRetryBound задает число повторов сегмента; 0 отключает повторы.
func WithRetryBound(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n >= 0 {
			c.retryBound = n
		}
	}
}

// WithRetryDelay задает паузу перед повтором сегмента.
func WithRetryDelay(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.retryDelay = d }
}

// WithPlausibleLimit задает предел компонент S-параметров; 0 отключает проверку.
func WithPlausibleLimit(limit float64) CoordinatorOption {
	return func(c *Coordinator) { c.limit = limit }
}

func WithLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.log = log }
}

func WithMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) { c.metrics = m }
}

// WithSweepID задает идентификатор сканирования вместо случайного UUID.
func WithSweepID(id string) CoordinatorOption {
	return func(c *Coordinator) { c.id = id }
}

func NewCoordinator(link Commander, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		link:       link,
		maxPoints:  DefaultSegmentPoints,
		retryBound: DefaultRetryBound,
		limit:      DefaultPlausibleLimit,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.log = c.log.With().Str("sweep_id", c.id).Logger()
	return c
}

func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts возвращает число попыток по каждому начатому сегменту.
func (c *Coordinator) Attempts() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, len(c.attempts))
	copy(out, c.attempts)
	return out
}

// Run выполняет сканирование. Отмена ctx проверяется только между сегментами:
// команда, уже отправленная прибору, всегда дочитывается до конца.
// При любой ошибке частично собранные данные отбрасываются.
func (c *Coordinator) Run(ctx context.Context, cfg SweepConfig) (*Sweep, error) {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return nil, ErrCoordinatorUsed
	}
	c.used = true
	c.mu.Unlock()

	started := time.Now()
	c.setState(StatePartitioning)
	segments, err := Partition(cfg, c.maxPoints)
	if err != nil {
		return nil, c.fail(started, -1, 0, err)
	}
	c.log.Info().
		Uint64("start", cfg.Start).
		Uint64("stop", cfg.Stop).
		Int("points", cfg.Points).
		Int("segments", len(segments)).
		Msg("начало сканирования")

	points := make([]DataPoint, 0, cfg.Points)
	for _, seg := range segments {
		select {
		case <-ctx.Done():
			return nil, c.fail(started, seg.Index, 0, fmt.Errorf("%w: %v", ErrSweepCancelled, ctx.Err()))
		default:
		}

		data, attempts, err := c.measureSegment(seg, cfg)
		if err != nil {
			return nil, c.fail(started, seg.Index, attempts, err)
		}

		c.setState(StateMergingSegment)
		points, err = mergeSegment(points, seg, data)
		if err != nil {
			if d, ok := c.link.(interface{ MarkDirty() }); ok {
				d.MarkDirty()
			}
			return nil, c.fail(started, seg.Index, attempts, err)
		}
		c.log.Debug().Int("segment", seg.Index).Int("merged", len(points)).Msg("сегмент добавлен")
	}

	if len(points) != cfg.Points {
		return nil, c.fail(started, len(segments)-1, 0,
			fmt.Errorf("%w: собрано %d точек вместо %d", ErrSegmentMismatch, len(points), cfg.Points))
	}

	c.setState(StateComplete)
	c.metrics.observeSweep("complete", time.Since(started))
	c.log.Info().Dur("elapsed", time.Since(started)).Msg("сканирование завершено")
	return newSweep(c.id, cfg, segments, points), nil
}

// measureSegment запрашивает сегмент, повторяя восстановимые ошибки не более retryBound раз.
func (c *Coordinator) measureSegment(seg Segment, cfg SweepConfig) ([]DataPoint, int, error) {
	c.mu.Lock()
	c.attempts = append(c.attempts, 0)
	c.mu.Unlock()

	var result []DataPoint
	attempts := 0
	op := func() error {
		attempts++
		c.mu.Lock()
		c.attempts[seg.Index] = attempts
		c.mu.Unlock()

		data, err := c.readSegment(seg, cfg)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.metrics.segmentRetry(retryCause(err))
		c.log.Warn().Err(err).
			Int("segment", seg.Index).
			Int("attempt", attempts).
			Dur("wait", wait).
			Msg("повтор сегмента")
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.retryBound))
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, attempts, err
	}
	return result, attempts, nil
}

// readSegment выполняет одну попытку: Averages чтений сегмента и их усреднение.
func (c *Coordinator) readSegment(seg Segment, cfg SweepConfig) ([]DataPoint, error) {
	cmd := scanCommand(seg)
	reads := make([][]DataPoint, 0, cfg.averages())
	for i := 0; i < cfg.averages(); i++ {
		c.setState(StateRequestingSegment)
		c.metrics.segmentRead()
		c.setState(StateAwaitingResponse)
		lines, err := c.link.SendCommand(cmd)
		if err != nil {
			return nil, err
		}
		if len(lines) != seg.Points {
			return nil, fmt.Errorf("%w: сегмент %s вернул %d строк", ErrSegmentMismatch, seg, len(lines))
		}
		data, err := ParseLines(lines, c.limit)
		if err != nil {
			return nil, err
		}
		reads = append(reads, data)
	}
	return averageReads(reads, cfg.Truncates)
}

// mergeSegment добавляет точки сегмента к собранным. Повтор граничной точки
// отбрасывается, но только если его частота совпадает с последней собранной.
// Любая частота не выше последней собранной означает рассинхронизацию.
func mergeSegment(dst []DataPoint, seg Segment, data []DataPoint) ([]DataPoint, error) {
	if seg.Overlap && len(data) > 0 {
		if n := len(dst); n > 0 && data[0].Frequency != dst[n-1].Frequency {
			return dst, fmt.Errorf("%w: сегмент %d начинается с %d Гц вместо граничной %d Гц", ErrDesync, seg.Index, data[0].Frequency, dst[n-1].Frequency)
		}
		data = data[1:]
	}
	for _, p := range data {
		if n := len(dst); n > 0 && p.Frequency <= dst[n-1].Frequency {
			return dst, fmt.Errorf("%w: сегмент %d вернул %d Гц после %d Гц", ErrDesync, seg.Index, p.Frequency, dst[n-1].Frequency)
		}
		dst = append(dst, p)
	}
	return dst, nil
}

func (c *Coordinator) fail(started time.Time, segment, attempts int, err error) error {
	c.setState(StateFailed)
	result := "failed"
	if errors.Is(err, ErrSweepCancelled) {
		result = "cancelled"
	}
	c.metrics.observeSweep(result, time.Since(started))
	c.log.Error().Err(err).Int("segment", segment).Int("attempts", attempts).Msg("сканирование прервано")
	return &SweepError{SweepID: c.id, Segment: segment, Attempts: attempts, Err: err}
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func scanCommand(seg Segment) string {
	return fmt.Sprintf("scan %d %d %d %d", seg.Start, seg.Stop, seg.Points, scanOutmask)
}

func retryCause(err error) string {
	switch {
	case errors.Is(err, ErrLinkTimeout):
		return "timeout"
	case errors.Is(err, ErrSegmentMismatch):
		return "mismatch"
	case errors.Is(err, ErrMalformedLine):
		return "malformed"
	case errors.Is(err, ErrOutOfRange):
		return "out_of_range"
	}
	return "other"
}
