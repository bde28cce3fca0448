package govna

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/momentics/govna-tdr/internal/util"
)

// PortOpener открывает последовательный порт. Подменяется в тестах.
type PortOpener func(path string, opts util.PortOptions) (util.SerialPortInterface, error)

// VNAPool управляет набором устройств, по одному владельцу на порт.
type VNAPool struct {
	open     PortOpener
	portOpts util.PortOptions
	linkOpts []LinkOption
	vnaOpts  []VNAOption
	log      zerolog.Logger

	devices map[string]*VNA
	mu      sync.RWMutex
}

// PoolOption настраивает VNAPool.
type PoolOption func(*VNAPool)

func WithPortOpener(open PortOpener) PoolOption {
	return func(p *VNAPool) { p.open = open }
}

func WithPortOptions(opts util.PortOptions) PoolOption {
	return func(p *VNAPool) { p.portOpts = opts }
}

func WithLinkOptions(opts ...LinkOption) PoolOption {
	return func(p *VNAPool) { p.linkOpts = append(p.linkOpts, opts...) }
}

func WithVNAOptions(opts ...VNAOption) PoolOption {
	return func(p *VNAPool) { p.vnaOpts = append(p.vnaOpts, opts...) }
}

func WithPoolLogger(log zerolog.Logger) PoolOption {
	return func(p *VNAPool) { p.log = log }
}

func NewVNAPool(opts ...PoolOption) *VNAPool {
	p := &VNAPool{
		open:    util.OpenPort,
		log:     zerolog.Nop(),
		devices: make(map[string]*VNA),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Get возвращает устройство на порту portPath, открывая и опознавая его при первом обращении.
func (p *VNAPool) Get(portPath string) (*VNA, error) {
	p.mu.RLock()
	if vna, exists := p.devices[portPath]; exists {
		p.mu.RUnlock()
		return vna, nil
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if vna, exists := p.devices[portPath]; exists {
		return vna, nil
	}

	port, err := p.open(portPath, p.portOpts)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия порта %s: %w", portPath, err)
	}

	log := p.log.With().Str("port", portPath).Logger()
	link := NewLink(port, append([]LinkOption{WithLinkLogger(log)}, p.linkOpts...)...)
	if err := link.Resync(); err != nil {
		link.Close()
		return nil, fmt.Errorf("устройство на %s не отвечает: %w", portPath, err)
	}

	info, err := Probe(link)
	if err != nil {
		link.Close()
		return nil, fmt.Errorf("ошибка опознания устройства на %s: %w", portPath, err)
	}
	log.Info().
		Str("version", info.Version).
		Str("board", info.Board).
		Int("max_segment_points", info.MaxSegmentPoints).
		Msg("устройство опознано")

	newVNA := NewVNA(link, info, append([]VNAOption{WithVNALogger(log)}, p.vnaOpts...)...)
	p.devices[portPath] = newVNA
	return newVNA, nil
}

// Drop закрывает и забывает устройство, например после разрыва соединения.
func (p *VNAPool) Drop(portPath string) error {
	p.mu.Lock()
	vna, exists := p.devices[portPath]
	delete(p.devices, portPath)
	p.mu.Unlock()
	if !exists {
		return nil
	}
	return vna.Close()
}

func (p *VNAPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for path, vna := range p.devices {
		if err := vna.Close(); err != nil {
			p.log.Warn().Err(err).Str("port", path).Msg("ошибка закрытия устройства")
		}
		delete(p.devices, path)
	}
}
