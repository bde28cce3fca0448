// Package util содержит вспомогательные утилиты, не являющиеся частью публичного API.
package util

import (
	"time"

	"go.bug.st/serial"
)

// SerialPortInterface определяет интерфейс для работы с последовательным портом.
// Реальный порт используется в production, сценарный симулятор прибора - в тестах.
type SerialPortInterface interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// realPort - обертка над go.bug.st/serial.
type realPort struct {
	port serial.Port
}

func (r *realPort) Read(p []byte) (n int, err error)     { return r.port.Read(p) }
func (r *realPort) Write(p []byte) (n int, err error)    { return r.port.Write(p) }
func (r *realPort) Close() error                         { return r.port.Close() }
func (r *realPort) SetReadTimeout(t time.Duration) error { return r.port.SetReadTimeout(t) }
func (r *realPort) ResetInputBuffer() error              { return r.port.ResetInputBuffer() }

// OpenPort открывает реальный последовательный порт с заданными параметрами.
func OpenPort(path string, opts PortOptions) (SerialPortInterface, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &realPort{port: p}, nil
}

// ListPorts возвращает список доступных последовательных портов.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
