package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	reportFileCreateErrorTemplate = "failed to create report file: %w"
	reportFileCloseErrorTemplate  = "failed to close report file: %w"
	reportFilePermissionsConstant = 0o644
)

// ReportWriter buffers report output and serializes concurrent writes. Close flushes the
// buffer and closes the underlying file when the writer owns one.
type ReportWriter struct {
	mutex    sync.Mutex
	buffered *bufio.Writer
	file     *os.File
}

// OpenReportWriter writes to filePath, or to fallback when the path is empty.
func OpenReportWriter(filePath string, fallback io.Writer) (*ReportWriter, error) {
	trimmedPath := strings.TrimSpace(filePath)
	if len(trimmedPath) == 0 {
		return &ReportWriter{buffered: bufio.NewWriter(fallback)}, nil
	}
	file, createError := os.OpenFile(trimmedPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, reportFilePermissionsConstant)
	if createError != nil {
		return nil, fmt.Errorf(reportFileCreateErrorTemplate, createError)
	}
	return &ReportWriter{buffered: bufio.NewWriter(file), file: file}, nil
}

// Write appends data to the buffer.
func (writer *ReportWriter) Write(data []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.buffered.Write(data)
}

// Close flushes buffered output and closes an owned file.
func (writer *ReportWriter) Close() error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()

	flushError := writer.buffered.Flush()
	if writer.file == nil {
		return flushError
	}
	closeError := writer.file.Close()
	writer.file = nil
	if flushError != nil {
		return fmt.Errorf(reportFileCloseErrorTemplate, flushError)
	}
	if closeError != nil {
		return fmt.Errorf(reportFileCloseErrorTemplate, closeError)
	}
	return nil
}
