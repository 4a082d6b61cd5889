// Package pipeline выполняет запись таблиц из конфигурации в MySQL.
//
// Таблицы обрабатываются последовательно в порядке конфигурации в одной
// сессии БД. Первая ошибка прерывает запуск.
//
// Полная загрузка:        Idle → Truncated|Created → Loaded
// Инкрементальная:        Idle → StagingCreated → Loaded → Merged|Appended → Cleaned
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/mysqlwriter/pkg/adapters/mysql"
	"github.com/ruslano69/mysqlwriter/pkg/config"
	"github.com/ruslano69/mysqlwriter/pkg/failure"
	"github.com/ruslano69/mysqlwriter/pkg/source"
)

// Store - операции записи, которые использует процессор (реализуется mysql.Writer)
type Store interface {
	Create(ctx context.Context, t mysql.Table) error
	Drop(ctx context.Context, name string) error
	Truncate(ctx context.Context, name string) error
	Write(ctx context.Context, f mysql.File, t mysql.Table) error
	Upsert(ctx context.Context, staging mysql.Table, dest string) error
	TableExists(ctx context.Context, name string) (bool, error)
	ValidateTable(ctx context.Context, t mysql.Table) error
}

// Session - открытая сессия записи
type Session interface {
	Store
	Close() error
}

// Connector открывает сессию к БД
type Connector func(ctx context.Context, ep mysql.Endpoint, logger zerolog.Logger) (Session, error)

// FileOpener открывает файл таблицы
type FileOpener interface {
	Open(ctx context.Context, location string) (*source.File, error)
}

// Option настраивает Processor
type Option func(*Processor)

// WithConnector подменяет подключение к БД
func WithConnector(connect Connector) Option {
	return func(p *Processor) { p.connect = connect }
}

// WithOpener подменяет открытие файлов
func WithOpener(opener FileOpener) Option {
	return func(p *Processor) { p.opener = opener }
}

// Processor - главный процессор записи
type Processor struct {
	config  *config.Config
	logger  zerolog.Logger
	connect Connector
	opener  FileOpener
}

// NewProcessor создает процессор
func NewProcessor(cfg *config.Config, logger zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{
		config:  cfg,
		logger:  logger,
		connect: Connect,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.opener == nil {
		var getter source.ObjectGetter
		if cfg.S3 != nil {
			getter = source.NewS3Client(*cfg.S3)
		}
		p.opener = source.NewOpener(getter)
	}
	return p
}

// Connect - Connector по умолчанию: mysql.Connect + mysql.Writer
func Connect(ctx context.Context, ep mysql.Endpoint, logger zerolog.Logger) (Session, error) {
	conn, err := mysql.Connect(ctx, ep, mysql.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &writerSession{Writer: mysql.NewWriter(conn, logger), conn: conn}, nil
}

type writerSession struct {
	*mysql.Writer
	conn *mysql.Conn
}

func (s *writerSession) Close() error {
	return s.conn.Close()
}

// Run записывает все экспортируемые таблицы.
// Result возвращается всегда, в том числе вместе с ошибкой.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	result := &Result{StartedAt: time.Now(), Tables: []TableResult{}}

	err := p.run(ctx, result)
	result.finish(err)
	return result, err
}

func (p *Processor) run(ctx context.Context, result *Result) error {
	tables := p.config.ExportedTables()
	if len(tables) == 0 {
		p.logger.Info().Msg("No tables to export")
		return nil
	}

	store, err := p.connect(ctx, p.config.Endpoint(), p.logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("Unable to close connection")
		}
	}()

	for _, tc := range tables {
		tr, err := p.processTable(ctx, store, tc)
		result.Tables = append(result.Tables, tr)
		if err != nil {
			return err
		}
	}
	return nil
}

// processTable открывает файл и выполняет загрузку одной таблицы
func (p *Processor) processTable(ctx context.Context, store Store, tc config.TableConfig) (tr TableResult, err error) {
	started := time.Now()
	tr = TableResult{TableID: tc.TableID, Destination: tc.DBName, Mode: ModeFull}
	if tc.Incremental {
		tr.Mode = ModeIncremental
	}
	defer func() {
		tr.DurationMs = time.Since(started).Milliseconds()
		if err != nil {
			tr.Error = err.Error()
		}
	}()

	table, err := tc.Table()
	if err != nil {
		return tr, err
	}

	location := p.config.FileLocation(tc)
	file, err := p.opener.Open(ctx, location)
	if err != nil {
		return tr, err
	}
	defer file.Close()

	logger := p.logger.With().Str("table", tc.TableID).Str("destination", tc.DBName).Logger()
	logger.Info().Str("file", location).Msgf("Processing table %s", tc.TableID)

	if table.Incremental {
		err = p.loadIncremental(ctx, store, file, table, &tr, logger)
	} else {
		err = p.loadFull(ctx, store, file, table, &tr)
	}

	tr.Bytes = file.Size()
	if tr.Stage >= StageLoaded {
		tr.Checksum = file.Checksum()
	}
	if err != nil {
		return tr, err
	}

	logger.Info().
		Int64("bytes", tr.Bytes).
		Str("checksum", tr.Checksum).
		Str("stage", tr.Stage.String()).
		Msgf("Table %s written", tc.TableID)
	return tr, nil
}

// loadFull: существующая таблица очищается, отсутствующая создается
func (p *Processor) loadFull(ctx context.Context, store Store, file *source.File, table mysql.Table, tr *TableResult) error {
	exists, err := store.TableExists(ctx, table.Name)
	if err != nil {
		return err
	}

	if exists {
		if err := store.Truncate(ctx, table.Name); err != nil {
			return err
		}
		tr.advance(StageTruncated)
	} else {
		if err := store.Create(ctx, table); err != nil {
			return err
		}
		tr.advance(StageCreated)
	}

	if err := store.Write(ctx, file, table); err != nil {
		return err
	}
	tr.advance(StageLoaded)
	return nil
}

// loadIncremental загружает файл во временную таблицу и сливает ее с целевой
func (p *Processor) loadIncremental(ctx context.Context, store Store, file *source.File, table mysql.Table, tr *TableResult, logger zerolog.Logger) (err error) {
	staging := table.Staging()

	if err := store.Create(ctx, staging); err != nil {
		return err
	}
	tr.advance(StageStagingCreated)

	defer func() {
		if err == nil || tr.Stage == StageCleaned {
			return
		}
		if derr := store.Drop(ctx, staging.Name); derr != nil {
			logger.Warn().Err(derr).Msgf("Unable to drop staging table %s", staging.Name)
		}
	}()

	if err := store.Write(ctx, file, staging); err != nil {
		return err
	}
	tr.advance(StageLoaded)

	if err := p.ensureDestination(ctx, store, table, logger); err != nil {
		return err
	}

	if err := store.Upsert(ctx, staging, table.Name); err != nil {
		return err
	}

	// Upsert удаляет временную таблицу после слияния
	if table.HasPrimaryKey() {
		tr.advance(StageMerged)
	} else {
		tr.advance(StageAppended)
	}
	tr.advance(StageCleaned)
	return nil
}

// ensureDestination создает отсутствующую целевую таблицу (createMissingTables)
// и проверяет, что в ней есть все колонки конфигурации
func (p *Processor) ensureDestination(ctx context.Context, store Store, table mysql.Table, logger zerolog.Logger) error {
	exists, err := store.TableExists(ctx, table.Name)
	if err != nil {
		return err
	}

	if !exists {
		if !p.config.ShouldCreateMissingTables() {
			return failure.Configf("Destination table '%s' does not exist and createMissingTables is disabled", table.Name)
		}
		logger.Info().Msgf("Creating missing destination table %s", table.Name)
		if err := store.Create(ctx, table); err != nil {
			return fmt.Errorf("failed to create destination table: %w", err)
		}
	}

	return store.ValidateTable(ctx, table)
}
