package govna

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/govna-tdr/internal/util"
)

const (
	// prompt завершает любой ответ командной оболочки NanoVNA.
	prompt = "ch> "

	DefaultCommandTimeout = 3 * time.Second

	pollInterval = 50 * time.Millisecond
	readChunk    = 512
)

// Commander - абстракция канала запрос/ответ к прибору.
// Реализуется Link поверх последовательного порта и сценарными фейками в тестах.
type Commander interface {
	// SendCommand отправляет команду и возвращает строки ответа без эха и приглашения.
	SendCommand(cmd string) ([]string, error)
	// Resync сбрасывает входной поток до ближайшего приглашения.
	Resync() error
}

// Link реализует Commander для текстовой оболочки NanoVNA.
// Команды выполняются строго последовательно: следующая не отправляется,
// пока ответ предыдущей не вычитан полностью.
type Link struct {
	port    util.SerialPortInterface
	timeout time.Duration
	log     zerolog.Logger

	mu    sync.Mutex
	dirty bool
	// broken: транспорт отказал, команды больше не принимаются.
	broken bool
	// closed: порт уже закрыт вызовом Close.
	closed bool
}

// LinkOption настраивает Link.
type LinkOption func(*Link)

// WithCommandTimeout задает предельное время ожидания ответа на одну команду.
func WithCommandTimeout(d time.Duration) LinkOption {
	return func(l *Link) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithLinkLogger задает логгер канала.
func WithLinkLogger(log zerolog.Logger) LinkOption {
	return func(l *Link) { l.log = log }
}

func NewLink(port util.SerialPortInterface, opts ...LinkOption) *Link {
	l := &Link{port: port, timeout: DefaultCommandTimeout, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Link) SendCommand(cmd string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.broken {
		return nil, ErrLinkDisconnected
	}
	if l.dirty {
		if err := l.resync(); err != nil {
			return nil, err
		}
	}

	cmd = strings.TrimSpace(cmd)
	l.log.Debug().Str("cmd", cmd).Msg("отправка команды")
	if err := l.write(cmd + "\r"); err != nil {
		return nil, err
	}

	raw, err := l.readUntilPrompt(cmd)
	if err != nil {
		if !errors.Is(err, ErrLinkDisconnected) {
			l.dirty = true
		}
		return nil, fmt.Errorf("команда %q: %w", cmd, err)
	}
	return splitResponse(raw, cmd), nil
}

func (l *Link) Resync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.broken {
		return ErrLinkDisconnected
	}
	return l.resync()
}

// MarkDirty помечает канал как рассинхронизированный: перед следующей
// командой будет выполнена ресинхронизация.
func (l *Link) MarkDirty() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
}

// Close закрывает порт ровно один раз, в том числе после отказа транспорта.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.port.Close()
}

func (l *Link) resync() error {
	l.log.Debug().Msg("ресинхронизация канала")
	if err := l.port.ResetInputBuffer(); err != nil {
		l.broken = true
		return fmt.Errorf("%w: %v", ErrLinkDisconnected, err)
	}
	if err := l.write("\r"); err != nil {
		return err
	}
	if _, err := l.readUntilPrompt(""); err != nil {
		return fmt.Errorf("ресинхронизация: %w", err)
	}
	l.dirty = false
	return nil
}

func (l *Link) write(s string) error {
	n, err := l.port.Write([]byte(s))
	if err != nil {
		l.broken = true
		return fmt.Errorf("%w: %v", ErrLinkDisconnected, err)
	}
	if n != len(s) {
		l.broken = true
		return fmt.Errorf("%w: записано %d из %d байт", ErrLinkDisconnected, n, len(s))
	}
	return nil
}

// readUntilPrompt читает порт до приглашения или до истечения таймаута команды.
// Если задано echo, приглашение засчитывается только после эха команды:
// запоздавший хвост предыдущего ответа так не принимается за текущий.
// Ошибка чтения порта трактуется как разрыв соединения.
func (l *Link) readUntilPrompt(echo string) ([]byte, error) {
	poll := pollInterval
	if l.timeout < poll {
		poll = l.timeout
	}
	if err := l.port.SetReadTimeout(poll); err != nil {
		l.broken = true
		return nil, fmt.Errorf("%w: %v", ErrLinkDisconnected, err)
	}

	deadline := time.Now().Add(l.timeout)
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		n, err := l.port.Read(chunk)
		if err != nil {
			l.broken = true
			return nil, fmt.Errorf("%w: %v", ErrLinkDisconnected, err)
		}
		if n > 0 {
			buf.Write(chunk[:n])
			data := buf.Bytes()
			start := 0
			if echo != "" {
				start = bytes.Index(data, []byte(echo))
			}
			if start >= 0 {
				if idx := bytes.Index(data[start:], []byte(prompt)); idx >= 0 {
					return data[start : start+idx], nil
				}
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w (получено %d байт)", ErrLinkTimeout, buf.Len())
		}
	}
}

// splitResponse разбивает ответ на строки, отбрасывая эхо команды и пустые строки.
func splitResponse(raw []byte, cmd string) []string {
	lines := strings.FieldsFunc(string(raw), func(r rune) bool { return r == '\r' || r == '\n' })
	out := make([]string, 0, len(lines))
	echoSeen := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !echoSeen && line == cmd {
			echoSeen = true
			continue
		}
		out = append(out, line)
	}
	return out
}
