// Package vnasim - сценарный симулятор командной оболочки NanoVNA поверх
// util.SerialPortInterface. Используется в тестах вместо реального порта.
package vnasim

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrClosed возвращается при обращении к закрытому порту.
var ErrClosed = errors.New("vnasim: порт закрыт")

const prompt = "ch> "

// Model возвращает S11 и S21 на частоте freq.
type Model func(freq uint64) (s11, s21 complex128)

// Action определяет реакцию устройства на конкретную команду.
type Action int

const (
	// Respond - обычный ответ.
	Respond Action = iota
	// Silent - команда принята, ответа нет (таймаут на стороне хоста).
	Silent
	// Disconnect - порт закрывается.
	Disconnect
	// Custom - вместо обычного ответа выдаются строки из Lines.
	Custom
)

// Reaction - результат перехватчика команд.
type Reaction struct {
	Action Action
	Lines  []string
}

// Interceptor вызывается для каждой команды; n - порядковый номер команды с нуля.
type Interceptor func(n int, cmd string) Reaction

// Device реализует util.SerialPortInterface.
type Device struct {
	Version   string
	Info      []string
	Model     Model
	Intercept Interceptor

	mu       sync.Mutex
	in       bytes.Buffer
	out      bytes.Buffer
	closed   bool
	commands []string
}

// New создает устройство с типовыми ответами NanoVNA-H.
func New(model Model) *Device {
	if model == nil {
		model = Cable(10*time.Nanosecond, 0.8)
	}
	return &Device{
		Version: "1.2.20",
		Info: []string{
			"Board: NanoVNA-H",
			"2019-2022 Copyright @DiSlord",
			"Version: 1.2.20",
			"Parameters: sweep_points 101",
		},
		Model: model,
	}
}

// Cable моделирует линию с отражением gamma на конце и круговой задержкой delay.
func Cable(delay time.Duration, gamma float64) Model {
	tau := delay.Seconds()
	return func(freq uint64) (complex128, complex128) {
		phase := -2 * math.Pi * float64(freq) * tau
		return complex(gamma, 0) * cmplx.Exp(complex(0, phase)), complex(1-gamma, 0)
	}
}

func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	if d.out.Len() == 0 {
		d.mu.Unlock()
		// Как у настоящего порта: по истечении таймаута чтения возвращается 0 байт.
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer d.mu.Unlock()
	return d.out.Read(p)
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrClosed
	}
	d.in.Write(p)
	for {
		line, err := d.in.ReadString('\r')
		if err != nil {
			// Неполная команда остается в буфере.
			d.in.Reset()
			d.in.WriteString(line)
			break
		}
		d.handle(strings.TrimSpace(line))
		if d.closed {
			break
		}
	}
	return len(p), nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Device) SetReadTimeout(time.Duration) error { return nil }

func (d *Device) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.out.Reset()
	return nil
}

// Commands возвращает все непустые команды, полученные устройством.
func (d *Device) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.commands))
	copy(out, d.commands)
	return out
}

// ScanCommands возвращает только команды scan.
func (d *Device) ScanCommands() []string {
	var out []string
	for _, c := range d.Commands() {
		if strings.HasPrefix(c, "scan ") {
			out = append(out, c)
		}
	}
	return out
}

// Push добавляет произвольные байты в выходной поток (запоздавший ответ, шум).
func (d *Device) Push(s string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.WriteString(s)
}

func (d *Device) handle(cmd string) {
	if cmd == "" {
		d.out.WriteString("\r\n" + prompt)
		return
	}
	n := len(d.commands)
	d.commands = append(d.commands, cmd)

	var lines []string
	reaction := Reaction{Action: Respond}
	if d.Intercept != nil {
		reaction = d.Intercept(n, cmd)
	}
	switch reaction.Action {
	case Silent:
		return
	case Disconnect:
		d.closed = true
		return
	case Custom:
		lines = reaction.Lines
	default:
		lines = d.respond(cmd)
	}

	d.out.WriteString(cmd + "\r\n")
	for _, l := range lines {
		d.out.WriteString(l + "\r\n")
	}
	d.out.WriteString(prompt)
}

func (d *Device) respond(cmd string) []string {
	fields := strings.Fields(cmd)
	switch fields[0] {
	case "version":
		return []string{d.Version}
	case "info":
		return d.Info
	case "scan":
		lines, err := d.Scan(fields[1:])
		if err != nil {
			return []string{err.Error()}
		}
		return lines
	}
	return []string{fields[0] + "?"}
}

// Scan формирует строки ответа на "scan start stop points [outmask]" так же,
// как прошивка: частоты равномерно между start и stop с целочисленным шагом.
func (d *Device) Scan(args []string) ([]string, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("usage: scan {start(Hz)} {stop(Hz)} [points] [outmask]")
	}
	start, err1 := strconv.ParseUint(args[0], 10, 64)
	stop, err2 := strconv.ParseUint(args[1], 10, 64)
	points, err3 := strconv.Atoi(args[2])
	if err1 != nil || err2 != nil || err3 != nil || points < 1 || stop < start {
		return nil, fmt.Errorf("invalid scan args %v", args)
	}
	return ScanLines(d.Model, start, stop, points), nil
}

// ScanLines возвращает строки "freq s11re s11im s21re s21im" для диапазона.
func ScanLines(model Model, start, stop uint64, points int) []string {
	lines := make([]string, 0, points)
	for i := 0; i < points; i++ {
		f := start
		if points > 1 {
			f = start + (stop-start)*uint64(i)/uint64(points-1)
		}
		lines = append(lines, FormatLine(f, model))
	}
	return lines
}

// FormatLine форматирует одну строку ответа.
func FormatLine(freq uint64, model Model) string {
	s11, s21 := model(freq)
	return fmt.Sprintf("%d %.9f %.9f %.9f %.9f", freq, real(s11), imag(s11), real(s21), imag(s21))
}
