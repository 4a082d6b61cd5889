package pipeline

import (
	"fmt"
	"time"
)

// Stage - состояние обработки одной таблицы
type Stage int

const (
	StageIdle Stage = iota
	StageStagingCreated
	StageTruncated
	StageCreated
	StageLoaded
	StageMerged
	StageAppended
	StageCleaned
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageStagingCreated:
		return "staging_created"
	case StageTruncated:
		return "truncated"
	case StageCreated:
		return "created"
	case StageLoaded:
		return "loaded"
	case StageMerged:
		return "merged"
	case StageAppended:
		return "appended"
	case StageCleaned:
		return "cleaned"
	}
	return "unknown"
}

// MarshalText позволяет сериализовать Stage в JSON строкой
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText восстанавливает Stage по имени из String
func (s *Stage) UnmarshalText(text []byte) error {
	for st := StageIdle; st <= StageCleaned; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown stage %q", text)
}

// Статусы результата
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Режимы загрузки
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

// TableResult - итог обработки таблицы
type TableResult struct {
	TableID     string  `json:"table_id"`
	Destination string  `json:"destination"`
	Mode        string  `json:"mode"`
	Stage       Stage   `json:"stage"`
	Stages      []Stage `json:"stages"` // пройденные состояния по порядку
	Bytes       int64   `json:"bytes"`
	Checksum    string  `json:"checksum,omitempty"` // xxh3 загруженного файла
	DurationMs  int64   `json:"duration_ms"`
	Error       string  `json:"error,omitempty"`
}

func (t *TableResult) advance(s Stage) {
	t.Stage = s
	t.Stages = append(t.Stages, s)
}

// Result - итог запуска, печатается в stdout и публикуется в resultLog
type Result struct {
	Status     string        `json:"status"`
	Tables     []TableResult `json:"tables"`
	Error      *string       `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DurationMs int64         `json:"duration_ms"`
}

// finish фиксирует время окончания и статус
func (r *Result) finish(err error) {
	r.FinishedAt = time.Now()
	r.DurationMs = r.FinishedAt.Sub(r.StartedAt).Milliseconds()
	if err != nil {
		r.Status = StatusFailed
		msg := err.Error()
		r.Error = &msg
		return
	}
	r.Status = StatusSuccess
}

// BytesLoaded возвращает суммарный объем загруженных файлов
func (r *Result) BytesLoaded() int64 {
	var total int64
	for _, t := range r.Tables {
		total += t.Bytes
	}
	return total
}
