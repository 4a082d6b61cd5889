// Package source открывает CSV файл таблицы: локальный путь или s3://bucket/key,
// с прозрачной распаковкой .gz и .zst.
//
// Строки данных не разбираются: из файла читается только заголовок, а сам поток
// целиком (вместе с заголовком) передается серверу. При чтении потока считаются
// размер и xxh3 отпечаток содержимого.
package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
)

// utf8BOM - метка порядка байт в начале заголовка
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Opener открывает файлы таблиц
type Opener struct {
	s3 ObjectGetter
}

// NewOpener создает Opener. s3 может быть nil, если s3:// пути не используются.
func NewOpener(s3 ObjectGetter) *Opener {
	return &Opener{s3: s3}
}

// File - открытый CSV файл
type File struct {
	name   string
	header []string
	body   io.Reader

	hasher  *xxh3.Hasher
	size    int64
	closers []io.Closer
}

// Open открывает файл и читает заголовок.
// Отсутствующий или пустой файл - ошибка конфигурации.
func (o *Opener) Open(ctx context.Context, location string) (*File, error) {
	f := &File{name: path.Base(location), hasher: xxh3.New()}

	raw, err := o.openRaw(ctx, location)
	if err != nil {
		return nil, err
	}
	f.closers = append(f.closers, raw)

	r, err := f.decompress(location, raw)
	if err != nil {
		f.Close()
		return nil, err
	}

	br := bufio.NewReader(r)
	line, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, failure.Configf("Unable to read header of %s: %v", location, err)
	}
	line = bytes.TrimPrefix(line, utf8BOM)
	if len(bytes.TrimSpace(line)) == 0 {
		f.Close()
		return nil, failure.Configf("File %s is empty", location)
	}

	header, err := csv.NewReader(bytes.NewReader(line)).Read()
	if err != nil {
		f.Close()
		return nil, failure.Configf("Invalid header in %s: %v", location, err)
	}

	f.header = header
	f.body = io.MultiReader(bytes.NewReader(line), br)
	return f, nil
}

func (o *Opener) openRaw(ctx context.Context, location string) (io.ReadCloser, error) {
	if !IsS3Path(location) {
		file, err := os.Open(location)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, failure.Configf("File %s does not exist", location)
			}
			return nil, failure.Internal(err, "open %s", location)
		}
		return file, nil
	}

	if o.s3 == nil {
		return nil, failure.Configf("S3 is not configured, cannot read %s", location)
	}

	bucket, key, err := parseS3Path(location)
	if err != nil {
		return nil, failure.Configf("%v", err)
	}

	out, err := o.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, failure.Connectivity(err, "Unable to download %s", location)
	}
	return out.Body, nil
}

func (f *File) decompress(location string, r io.Reader) (io.Reader, error) {
	name := strings.TrimPrefix(location, S3Scheme+"://")
	switch {
	case strings.HasSuffix(name, ".gz"):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, failure.Configf("Invalid gzip file %s: %v", location, err)
		}
		f.closers = append(f.closers, gz)
		f.name = strings.TrimSuffix(f.name, ".gz")
		return gz, nil

	case strings.HasSuffix(name, ".zst"):
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, failure.Configf("Invalid zstd file %s: %v", location, err)
		}
		rc := dec.IOReadCloser()
		f.closers = append(f.closers, rc)
		f.name = strings.TrimSuffix(f.name, ".zst")
		return rc, nil
	}
	return r, nil
}

// Name возвращает имя файла без пути и расширения сжатия
func (f *File) Name() string {
	return f.name
}

// Header возвращает имена колонок из первой строки
func (f *File) Header() []string {
	return f.header
}

// Reader возвращает поток файла с первой строки.
// Поток читается один раз; прочитанные байты учитываются в Size и Checksum.
func (f *File) Reader() io.Reader {
	return io.TeeReader(f.body, writerFunc(func(p []byte) (int, error) {
		f.size += int64(len(p))
		return f.hasher.Write(p)
	}))
}

// Size возвращает количество прочитанных (распакованных) байт
func (f *File) Size() int64 {
	return f.size
}

// Checksum возвращает xxh3 прочитанного содержимого в hex
func (f *File) Checksum() string {
	return fmt.Sprintf("%016x", f.hasher.Sum64())
}

// Close закрывает распаковщик и исходный поток
func (f *File) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}

type writerFunc func(p []byte) (int, error)

func (w writerFunc) Write(p []byte) (int, error) {
	return w(p)
}
