// Vigil - Real-Time Cheat Detection for Networked Game Sessions
// Copyright 2026 Vigil Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigil-ac/vigil

package spool

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/vigil-ac/vigil/internal/capture"
)

// Spool file wire format: gzip-compressed NDJSON. Line 1 is the batch
// metadata header, each following line is one record in capture order.
// The header's record_count must equal the number of record lines; a
// mismatch means truncation or corruption and fails decoding. The same
// bytes travel unchanged as the upload request body, so the server
// decodes with this package too.

// Decode errors
var (
	ErrEmptyFile     = fmt.Errorf("spool file has no header line")
	ErrCountMismatch = fmt.Errorf("record count does not match header")
	ErrTooLarge      = fmt.Errorf("decompressed payload exceeds limit")
)

// EncodeBatch serializes a batch to the spool wire format.
func EncodeBatch(batch *capture.PacketBatch) ([]byte, error) {
	if batch.RecordCount != len(batch.Records) {
		return nil, fmt.Errorf("batch %s: header count %d but %d records",
			batch.BatchID, batch.RecordCount, len(batch.Records))
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)

	header, err := batch.Header()
	if err != nil {
		return nil, fmt.Errorf("marshal batch header: %w", err)
	}
	if _, err := zw.Write(append(header, '\n')); err != nil {
		return nil, fmt.Errorf("write batch header: %w", err)
	}

	for i, rec := range batch.Records {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal record %d: %w", i, err)
		}
		if _, err := zw.Write(append(line, '\n')); err != nil {
			return nil, fmt.Errorf("write record %d: %w", i, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close gzip stream: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeBatch parses spool wire format bytes back into a batch,
// validating the header count against the record lines actually
// present. No decompressed-size bound is applied; the spool and the
// in-process dispatch path only decode bytes this package produced.
// Anything arriving over the network goes through DecodeBatchLimited.
func DecodeBatch(data []byte) (*capture.PacketBatch, error) {
	return DecodeBatchLimited(data, 0)
}

// DecodeBatchLimited decodes like DecodeBatch but fails with ErrTooLarge
// once the gzip stream yields more than maxDecompressed bytes. The
// compressed length says nothing about the decompressed length, so a
// size limit on untrusted input has to be counted on this side of the
// gzip reader. maxDecompressed <= 0 disables the bound.
func DecodeBatchLimited(data []byte, maxDecompressed int64) (*capture.PacketBatch, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close() //nolint:errcheck // read-side close

	var src io.Reader = zr
	if maxDecompressed > 0 {
		src = &boundedReader{r: zr, max: maxDecompressed}
	}

	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("read batch header: %w", err)
		}
		return nil, ErrEmptyFile
	}

	var batch capture.PacketBatch
	if err := json.Unmarshal(sc.Bytes(), &batch); err != nil {
		return nil, fmt.Errorf("unmarshal batch header: %w", err)
	}
	if batch.BatchID == "" || batch.SourceID == "" {
		return nil, fmt.Errorf("batch header missing identity fields")
	}

	for sc.Scan() {
		line := sc.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec capture.PacketRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record %d: %w", len(batch.Records), err)
		}
		batch.Records = append(batch.Records, &rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}

	if len(batch.Records) != batch.RecordCount {
		return nil, fmt.Errorf("%w: header says %d, found %d",
			ErrCountMismatch, batch.RecordCount, len(batch.Records))
	}
	return &batch, nil
}

// boundedReader fails the stream with ErrTooLarge once more than max
// bytes have passed through. It may hand out the read that crosses the
// boundary, so the overshoot is capped by the caller's buffer size, but
// the error always surfaces before the next read.
type boundedReader struct {
	r    io.Reader
	max  int64
	read int64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.max {
		return n, ErrTooLarge
	}
	return n, err
}
