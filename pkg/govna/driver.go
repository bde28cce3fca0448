// Package govna предоставляет API для работы с устройствами NanoVNA:
// сегментированные сканирования сверх аппаратного предела точек и расчет TDR.
package govna

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DeviceInfo - сведения об устройстве, полученные при опознании.
type DeviceInfo struct {
	Version          string
	Board            string
	MaxSegmentPoints int
}

var (
	sweepPointsRe = regexp.MustCompile(`sweep_points\s+(\d+)`)
	boardRe       = regexp.MustCompile(`(?i)board:\s*(.+)`)
)

// Probe опознает устройство с текстовой оболочкой NanoVNA и определяет,
// сколько точек оно отдает за одну команду.
func Probe(c Commander) (DeviceInfo, error) {
	version, err := c.SendCommand("version")
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("ошибка отправки команды version: %w", err)
	}
	if len(version) == 0 {
		return DeviceInfo{}, errors.New("не получен ответ на version")
	}

	infoLines, err := c.SendCommand("info")
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("ошибка отправки команды info: %w", err)
	}
	info := strings.Join(infoLines, "\n")
	if !strings.Contains(strings.ToLower(info), "nanovna") {
		return DeviceInfo{}, errors.New("не удалось идентифицировать устройство или устройство не поддерживается")
	}

	di := DeviceInfo{
		Version:          strings.TrimSpace(version[0]),
		Board:            strings.TrimSpace(infoLines[0]),
		MaxSegmentPoints: DefaultSegmentPoints,
	}
	if m := boardRe.FindStringSubmatch(info); m != nil {
		di.Board = strings.TrimSpace(m[1])
	}
	if m := sweepPointsRe.FindStringSubmatch(info); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 2 {
			di.MaxSegmentPoints = n
		}
	}
	return di, nil
}
