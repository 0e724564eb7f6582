package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"example.com/uploadcore/internal/records"
)

// Row is the flat Parquet layout of a record. Variant fields travel in the
// Payload JSON; Value holds the headline number of each variant.
type Row struct {
	ID               string  `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Index            int64   `parquet:"name=index, type=INT64"`
	Type             string  `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	SubType          string  `parquet:"name=sub_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time             int64   `parquet:"name=time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	DeviceTime       string  `parquet:"name=device_time, type=BYTE_ARRAY, convertedtype=UTF8"`
	TimezoneOffset   int32   `parquet:"name=timezone_offset, type=INT32"`
	ClockDriftOffset int64   `parquet:"name=clock_drift_offset, type=INT64"`
	ConversionOffset int64   `parquet:"name=conversion_offset, type=INT64"`
	UploadID         string  `parquet:"name=upload_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seq              int64   `parquet:"name=seq, type=INT64"`
	LogIndex         int64   `parquet:"name=log_index, type=INT64"`
	Value            float64 `parquet:"name=value, type=DOUBLE"`
	Payload          string  `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// RowOf flattens r.
func RowOf(r records.Record) (Row, error) {
	b := r.Header()
	payload, err := json.Marshal(r)
	if err != nil {
		return Row{}, fmt.Errorf("marshal %s: %w", b.Type, err)
	}
	row := Row{
		ID:               b.ID,
		Index:            int64(b.Index),
		Type:             b.Type,
		SubType:          b.SubType,
		Time:             b.Time.UnixMilli(),
		DeviceTime:       b.DeviceTime.String(),
		TimezoneOffset:   int32(b.TimezoneOffset),
		ClockDriftOffset: b.ClockDriftOffset,
		ConversionOffset: b.ConversionOffset,
		UploadID:         b.Identity.UploadID,
		Seq:              b.Identity.Seq,
		LogIndex:         -1,
		Value:            headline(r),
		Payload:          string(payload),
	}
	if len(b.Payload.LogIndices) > 0 {
		row.LogIndex = int64(b.Payload.LogIndices[0])
	}
	return row, nil
}

func headline(r records.Record) float64 {
	switch v := r.(type) {
	case *records.Bolus:
		return v.Normal + v.Extended
	case *records.Wizard:
		return v.Recommended.Net
	case *records.Basal:
		return v.Rate
	case *records.CBG:
		return float64(v.Value)
	case *records.SMBG:
		return float64(v.Value)
	case *records.Settings:
		return v.MaxBolus
	}
	return 0
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return parquet.CompressionCodec_SNAPPY, nil
	case "gzip":
		return parquet.CompressionCodec_GZIP, nil
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	}
	return 0, fmt.Errorf("unknown parquet compression %q", name)
}

func writeRows(pf source.ParquetFile, recs []records.Record, compression string) error {
	codec, err := compressionCodec(compression)
	if err != nil {
		return err
	}
	pw, err := writer.NewParquetWriter(pf, new(Row), 1)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = codec
	for _, r := range recs {
		row, err := RowOf(r)
		if err != nil {
			pw.WriteStop()
			return err
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write %s record: %w", row.Type, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return nil
}

// WriteParquetFile writes recs to a new Parquet file at path.
func WriteParquetFile(path string, recs []records.Record, compression string) error {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := writeRows(fw, recs, compression); err != nil {
		fw.Close()
		return err
	}
	return fw.Close()
}

type memFile struct {
	buffer *bytes.Buffer
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }

// WriteParquet encodes recs in memory and copies the file to w.
func WriteParquet(w io.Writer, recs []records.Record, compression string) (int64, error) {
	mem := &memFile{buffer: &bytes.Buffer{}}
	if err := writeRows(mem, recs, compression); err != nil {
		return 0, err
	}
	return io.Copy(w, mem.buffer)
}
